// Package pit shares a git repository between peers without a central server.
//
// A Maintainer publishes a _drive_:
// a versioned file tree,
// signed with the Maintainer's key,
// whose content lives in a content-addressable blob store.
// The drive mirrors the repository's .git directory.
// Other peers find the Maintainer,
// and each other,
// on a discovery topic derived from the drive's public key.
// They replicate the drive and mirror it into a local checkout,
// from which an ordinary git clone is made.
//
// This package defines the shared vocabulary:
// blobs and their refs,
// the Store and AnchorStore interfaces,
// identity keys and discovery topics,
// and the layout of a Pit repository on disk.
// The drive, peer, mirror, authors, and repo subpackages build on it.
//
// Large files are stored as trees of blobs
// using the split subpackage,
// which divides content at hashsplit boundaries
// so that small changes to a file produce small changes to its tree.
package pit
