package pit

import "path/filepath"

// On-disk layout of a Pit repository,
// relative to the root of its git working tree.
const (
	// MetaDir holds all Pit state except what lives in GitDir.
	MetaDir = ".pit"

	// GitDir is git's own metadata directory.
	// Pit publishes its contents.
	GitDir = ".git"
)

var (
	// ReposDir contains replicated repository checkouts.
	ReposDir = filepath.Join(MetaDir, "repos")

	// MainDir is the mirrored checkout of the Maintainer's published tree.
	MainDir = filepath.Join(ReposDir, "main")

	// CorestoreDir backs every drive held by the repository.
	CorestoreDir = filepath.Join(MetaDir, "corestore")

	// KeysDir holds the secret keys of the drives this repository can write.
	KeysDir = filepath.Join(MetaDir, "keys")

	// ConfigFile is the optional per-repository configuration file.
	ConfigFile = filepath.Join(MetaDir, "config.toml")

	// AuthorsFile lists the identity keys of the repository's authors,
	// one hex key per line,
	// Maintainer first.
	AuthorsFile = filepath.Join(GitDir, "authors")

	// PeerFile holds the local peer's profile as JSON.
	PeerFile = filepath.Join(GitDir, "peer")

	// ExcludeFile is git's per-repository ignore list.
	ExcludeFile = filepath.Join(GitDir, "info", "exclude")
)
