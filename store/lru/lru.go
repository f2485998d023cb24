// Package lru implements a blob store that acts as a least-recently-used cache for a nested blob store.
package lru

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store"
)

var _ pit.AnchorStore = &Store{}

// Store implements a memory-based least-recently-used cache for a blob store.
// It caches only blobs, not anchors, since anchors change.
// Writes pass through to the underlying blob store.
type Store struct {
	c *lru.Cache // Ref->Blob
	s pit.AnchorStore
}

// New produces a new Store backed by `s` and caching up to `size` blobs.
func New(s pit.AnchorStore, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, errors.Wrap(err, "creating cache")
}

// Get gets the blob with hash `ref`.
func (s *Store) Get(ctx context.Context, ref pit.Ref) (pit.Blob, error) {
	if got, ok := s.c.Get(ref); ok {
		return got.(pit.Blob), nil
	}
	blob, err := s.s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.c.Add(ref, blob)
	return blob, nil
}

// Put adds a blob to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, b pit.Blob) (pit.Ref, bool, error) {
	ref, added, err := s.s.Put(ctx, b)
	if err != nil {
		return ref, added, err
	}
	s.c.Add(ref, b)
	return ref, added, nil
}

// ListRefs produces all blob refs in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start pit.Ref, f func(pit.Ref) error) error {
	return s.s.ListRefs(ctx, start, f)
}

func (s *Store) GetAnchor(ctx context.Context, name string, at time.Time) (pit.Ref, error) {
	return s.s.GetAnchor(ctx, name, at)
}

func (s *Store) PutAnchor(ctx context.Context, name string, ref pit.Ref, at time.Time) error {
	return s.s.PutAnchor(ctx, name, ref, at)
}

func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, pit.TimeRef) error) error {
	return s.s.ListAnchors(ctx, start, f)
}

// Close closes the nested store if it can be closed.
func (s *Store) Close() error {
	if c, ok := s.s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (pit.AnchorStore, error) {
		size, ok := conf["size"].(int)
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nestedStore, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		return New(nestedStore, size)
	})
}
