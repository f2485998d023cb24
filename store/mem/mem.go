// Package mem implements an in-memory blob store.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store"
)

var _ pit.AnchorStore = &Store{}

// Store is a memory-based implementation of a blob store.
type Store struct {
	mu      sync.Mutex
	blobs   map[pit.Ref]pit.Blob
	anchors map[string][]pit.TimeRef
}

// New produces a new Store.
func New() *Store {
	return &Store{
		blobs:   make(map[pit.Ref]pit.Blob),
		anchors: make(map[string][]pit.TimeRef),
	}
}

// Get gets the blob with hash `ref`.
func (s *Store) Get(_ context.Context, ref pit.Ref) (pit.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blobs[ref]; ok {
		return b, nil
	}
	return nil, pit.ErrNotFound
}

// Put adds a blob to the store if it wasn't already present.
func (s *Store) Put(_ context.Context, b pit.Blob) (pit.Ref, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added bool

	r := b.Ref()
	if _, ok := s.blobs[r]; !ok {
		cp := make(pit.Blob, len(b))
		copy(cp, b)
		s.blobs[r] = cp
		added = true
	}

	return r, added, nil
}

// Len tells how many blobs are in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// GetAnchor gets the latest blob ref for a given anchor as of a given time.
func (s *Store) GetAnchor(_ context.Context, name string, at time.Time) (pit.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return pit.FindAnchor(s.anchors[name], at)
}

// PutAnchor adds a new ref for a given anchor as of a given time.
func (s *Store) PutAnchor(_ context.Context, name string, ref pit.Ref, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anchors[name] = pit.InsertTimeRef(s.anchors[name], pit.TimeRef{T: at, R: ref})

	return nil
}

// ListRefs produces all blob refs in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start pit.Ref, f func(pit.Ref) error) error {
	s.mu.Lock()
	refs := make([]pit.Ref, 0, len(s.blobs))
	for ref := range s.blobs {
		refs = append(refs, ref)
	}
	s.mu.Unlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	index := sort.Search(len(refs), func(n int) bool {
		return start.Less(refs[n])
	})

	for i := index; i < len(refs); i++ {
		err := f(refs[i])
		if err != nil {
			return err
		}
	}
	return nil
}

// ListAnchors lists all anchors in the store, in lexicographic order.
func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, pit.TimeRef) error) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.anchors))
	for name := range s.anchors {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	index := sort.Search(len(names), func(n int) bool {
		return names[n] > start
	})

	for i := index; i < len(names); i++ {
		name := names[i]
		s.mu.Lock()
		trs := make([]pit.TimeRef, len(s.anchors[name]))
		copy(trs, s.anchors[name])
		s.mu.Unlock()
		for _, tr := range trs {
			err := f(name, tr)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (pit.AnchorStore, error) {
		return New(), nil
	})
}
