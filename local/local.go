// Package local presents a directory on the local filesystem as a tree of files,
// for mirroring to and from drives.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/pit"
)

// Tree is a directory tree on the local filesystem.
// Only regular files are entries;
// directories are implied by the paths of the files within them
// and are created and pruned as needed.
// Symlinks and other special files are skipped.
type Tree struct {
	root string
}

// New produces a Tree rooted at root,
// creating the directory if needed.
func New(root string) (*Tree, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", root)
	}
	return &Tree{root: filepath.Clean(root)}, nil
}

// Root is the directory at the root of t.
func (t *Tree) Root() string {
	return t.root
}

// ErrOutside means a path names a file outside the tree.
var ErrOutside = errors.New("path outside tree")

func (t *Tree) abs(p string) (string, error) {
	rel := filepath.FromSlash(p)
	if !filepath.IsLocal(rel) {
		return "", errors.Wrapf(ErrOutside, "%q", p)
	}
	return filepath.Join(t.root, rel), nil
}

// Entries lists the regular files in t, sorted by path.
func (t *Tree) Entries(ctx context.Context) ([]pit.Entry, error) {
	var result []pit.Entry
	err := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if os.IsNotExist(err) {
			// Removed since the directory was read.
			return nil
		}
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		result = append(result, pit.Entry{
			Path: filepath.ToSlash(rel),
			Mode: info.Mode().Perm(),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", t.root)
	}

	// WalkDir visits in lexical order by path component,
	// which is not quite lexical order by full path ("a/b" versus "a.b").
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// Open opens the file at path for reading.
func (t *Tree) Open(_ context.Context, p string) (io.ReadCloser, error) {
	abs, err := t.abs(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	return f, errors.Wrapf(err, "opening %s", p)
}

// Put writes the file at path,
// replacing it atomically if it exists.
// Paths outside the tree are refused with ErrOutside.
func (t *Tree) Put(_ context.Context, p string, mode os.FileMode, r io.Reader) error {
	dest, err := t.abs(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	f, err := os.CreateTemp(dir, ".pit-tmp-")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	_, err = io.Copy(f, r)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", p)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpname)
	}
	if mode == 0 {
		mode = 0644
	}
	if err = os.Chmod(tmpname, mode.Perm()); err != nil {
		return errors.Wrapf(err, "setting mode of %s", p)
	}
	return errors.Wrapf(os.Rename(tmpname, dest), "renaming into %s", p)
}

// Del removes the file at path,
// and any directories left empty by its removal (except the root).
// Removing a nonexistent file is not an error.
func (t *Tree) Del(_ context.Context, p string) error {
	dest, err := t.abs(p)
	if err != nil {
		return err
	}
	err = os.Remove(dest)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", p)
	}
	for dir := filepath.Dir(dest); dir != t.root && strings.HasPrefix(dir, t.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			// Not empty, or already gone.
			break
		}
	}
	return nil
}

// Flush does nothing;
// writes to a Tree are durable when Put returns.
func (t *Tree) Flush(context.Context) error {
	return nil
}
