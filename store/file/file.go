// Package file implements a blob store as a file hierarchy.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store"
)

var _ pit.AnchorStore = &Store{}

// Store is a file-based implementation of a blob store.
//
// Blobs live under root/blobs in a two-level hex-prefix hierarchy.
// Each anchor is a file under root/anchors,
// named by the hex encoding of the anchor name,
// holding one "timestamp ref" line per update.
// Anchor files are guarded by an advisory lock
// so that several processes may share a store.
type Store struct {
	root    string
	mu      sync.Mutex // serializes anchor access within this process
	flocker flock.Locker
}

// New produces a new Store storing data beneath `root`.
func New(root string) *Store {
	return &Store{root: root}
}

// Root is the directory beneath which s stores its data.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) blobroot() string {
	return filepath.Join(s.root, "blobs")
}

func (s *Store) blobpath(ref pit.Ref) string {
	h := ref.String()
	return filepath.Join(s.blobroot(), h[:2], h[:4], h)
}

// Get gets the blob with hash `ref`.
func (s *Store) Get(_ context.Context, ref pit.Ref) (pit.Blob, error) {
	path := s.blobpath(ref)
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, pit.ErrNotFound
	}
	return blob, errors.Wrapf(err, "opening %s", path)
}

// Put adds a blob to the store if it wasn't already present.
// The blob is written to a temporary file first
// so that a reader never sees a partial blob.
func (s *Store) Put(_ context.Context, b pit.Blob) (pit.Ref, bool, error) {
	var (
		ref  = b.Ref()
		path = s.blobpath(ref)
		dir  = filepath.Dir(path)
	)

	if _, err := os.Stat(path); err == nil {
		return ref, false, nil
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return ref, false, errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	f, err := os.CreateTemp(dir, "tmp-")
	if err != nil {
		return pit.Zero, false, errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	_, err = f.Write(b)
	if err != nil {
		f.Close()
		return pit.Zero, false, errors.Wrapf(err, "writing data to %s", tmpname)
	}
	if err = f.Close(); err != nil {
		return pit.Zero, false, errors.Wrapf(err, "closing %s", tmpname)
	}

	err = os.Link(tmpname, path)
	if os.IsExist(err) {
		return ref, false, nil
	}
	if err != nil {
		return pit.Zero, false, errors.Wrapf(err, "linking %s", path)
	}

	return ref, true, nil
}

// ListRefs produces all blob refs in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start pit.Ref, f func(pit.Ref) error) error {
	err := os.MkdirAll(s.blobroot(), 0755)
	if err != nil {
		return errors.Wrapf(err, "ensuring %s exists", s.blobroot())
	}

	topLevel, err := os.ReadDir(s.blobroot())
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", s.blobroot())
	}

	startHex := start.String()
	topIndex := sort.Search(len(topLevel), func(n int) bool {
		return topLevel[n].Name() >= startHex[:2]
	})
	for i := topIndex; i < len(topLevel); i++ {
		topInfo := topLevel[i]
		if !topInfo.IsDir() {
			continue
		}
		topName := topInfo.Name()
		if len(topName) != 2 {
			continue
		}
		if _, err = strconv.ParseInt(topName, 16, 64); err != nil {
			continue
		}

		midLevel, err := os.ReadDir(filepath.Join(s.blobroot(), topName))
		if err != nil {
			return errors.Wrapf(err, "reading dir %s/%s", s.blobroot(), topName)
		}
		midIndex := sort.Search(len(midLevel), func(n int) bool {
			return midLevel[n].Name() >= startHex[:4]
		})
		for j := midIndex; j < len(midLevel); j++ {
			midInfo := midLevel[j]
			if !midInfo.IsDir() {
				continue
			}
			midName := midInfo.Name()
			if len(midName) != 4 {
				continue
			}
			if _, err = strconv.ParseInt(midName, 16, 64); err != nil {
				continue
			}

			blobInfos, err := os.ReadDir(filepath.Join(s.blobroot(), topName, midName))
			if err != nil {
				return errors.Wrapf(err, "reading dir %s/%s/%s", s.blobroot(), topName, midName)
			}

			index := sort.Search(len(blobInfos), func(n int) bool {
				return blobInfos[n].Name() > startHex
			})
			for k := index; k < len(blobInfos); k++ {
				blobInfo := blobInfos[k]
				if blobInfo.IsDir() {
					continue
				}

				ref, err := pit.RefFromHex(blobInfo.Name())
				if err != nil {
					continue
				}

				err = f(ref)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Store) anchorroot() string {
	return filepath.Join(s.root, "anchors")
}

func (s *Store) anchorpath(name string) string {
	return filepath.Join(s.anchorroot(), hex.EncodeToString([]byte(name)))
}

func (s *Store) lockpath() string {
	return filepath.Join(s.root, "anchors.lock")
}

func (s *Store) lockAnchors() error {
	s.mu.Lock()
	if err := os.MkdirAll(s.root, 0755); err != nil {
		s.mu.Unlock()
		return errors.Wrapf(err, "ensuring %s exists", s.root)
	}
	if err := s.flocker.Lock(s.lockpath()); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "locking anchors")
	}
	return nil
}

func (s *Store) unlockAnchors() {
	s.flocker.Unlock(s.lockpath())
	s.mu.Unlock()
}

// PutAnchor implements pit.AnchorStore.
func (s *Store) PutAnchor(_ context.Context, name string, ref pit.Ref, at time.Time) error {
	if err := s.lockAnchors(); err != nil {
		return err
	}
	defer s.unlockAnchors()

	if err := os.MkdirAll(s.anchorroot(), 0755); err != nil {
		return errors.Wrapf(err, "ensuring %s exists", s.anchorroot())
	}

	path := s.anchorpath(name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s %s\n", at.UTC().Format(time.RFC3339Nano), ref)
	return errors.Wrapf(err, "appending to %s", path)
}

// Anchor lock must be held.
func (s *Store) timeRefs(name string) ([]pit.TimeRef, error) {
	path := s.anchorpath(name)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	var result []pit.TimeRef
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "parsing time in %s", path)
		}
		ref, err := pit.RefFromHex(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "parsing ref in %s", path)
		}
		result = append(result, pit.TimeRef{T: at, R: ref})
	}
	pit.SortTimeRefs(result)
	return result, sc.Err()
}

// GetAnchor implements pit.AnchorGetter.
func (s *Store) GetAnchor(_ context.Context, name string, at time.Time) (pit.Ref, error) {
	if err := s.lockAnchors(); err != nil {
		return pit.Zero, err
	}
	defer s.unlockAnchors()

	trs, err := s.timeRefs(name)
	if err != nil {
		return pit.Zero, err
	}
	return pit.FindAnchor(trs, at)
}

// ListAnchors implements pit.AnchorGetter.
func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, pit.TimeRef) error) error {
	entries, err := os.ReadDir(s.anchorroot())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", s.anchorroot())
	}

	var names []string
	for _, e := range entries {
		b, err := hex.DecodeString(e.Name())
		if err != nil {
			continue
		}
		if name := string(b); name > start {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.lockAnchors(); err != nil {
			return err
		}
		trs, err := s.timeRefs(name)
		s.unlockAnchors()
		if err != nil {
			return err
		}
		for _, tr := range trs {
			if err := f(name, tr); err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	store.Register("file", func(_ context.Context, conf map[string]interface{}) (pit.AnchorStore, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root), nil
	})
}
