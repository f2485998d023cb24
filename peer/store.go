package peer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit"
)

// ErrMismatch is the error for a blob received from a peer that does not hash to the requested ref.
var ErrMismatch = errors.New("blob does not match its ref")

// Remote is a source of blobs on another peer.
type Remote interface {
	Get(context.Context, pit.Ref) (pit.Blob, error)
}

var _ pit.AnchorStore = &Store{}

// Store is an anchor store that fetches blobs missing from a base store from attached remotes.
// Fetched blobs are verified against their refs and added to the base store.
// Anchors are never fetched; drive heads travel separately
// (see drive.Drive.Update).
type Store struct {
	base pit.AnchorStore

	mu      sync.RWMutex
	remotes map[string]Remote
}

// NewStore produces a Store wrapping base.
func NewStore(base pit.AnchorStore) *Store {
	return &Store{
		base:    base,
		remotes: make(map[string]Remote),
	}
}

// Base is the store that s wraps.
func (s *Store) Base() pit.AnchorStore {
	return s.base
}

// Attach adds a remote under the given name,
// replacing any remote with the same name.
func (s *Store) Attach(name string, r Remote) {
	s.mu.Lock()
	s.remotes[name] = r
	s.mu.Unlock()
}

// Detach removes the named remote.
func (s *Store) Detach(name string) {
	s.mu.Lock()
	delete(s.remotes, name)
	s.mu.Unlock()
}

// NumRemotes tells how many remotes are attached.
func (s *Store) NumRemotes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.remotes)
}

func (s *Store) snapshot() []Remote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.remotes))
	for name := range s.remotes {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]Remote, 0, len(names))
	for _, name := range names {
		result = append(result, s.remotes[name])
	}
	return result
}

// Get gets the blob with hash ref,
// from the base store if it is there
// and otherwise from the first remote that has it.
func (s *Store) Get(ctx context.Context, ref pit.Ref) (pit.Blob, error) {
	blob, err := s.base.Get(ctx, ref)
	if !errors.Is(err, pit.ErrNotFound) {
		return blob, err
	}

	for _, r := range s.snapshot() {
		blob, err := r.Get(ctx, ref)
		if errors.Is(err, pit.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Debug().Err(err).Stringer("ref", ref).Msg("fetching blob from peer")
			continue
		}
		if blob.Ref() != ref {
			log.Warn().Stringer("ref", ref).Msg("peer sent a blob that does not match its ref")
			continue
		}
		if _, _, err := s.base.Put(ctx, blob); err != nil {
			return nil, errors.Wrapf(err, "storing fetched blob %s", ref)
		}
		return blob, nil
	}

	return nil, pit.ErrNotFound
}

// GetLocal gets the blob with hash ref from the base store only.
func (s *Store) GetLocal(ctx context.Context, ref pit.Ref) (pit.Blob, error) {
	return s.base.Get(ctx, ref)
}

func (s *Store) Put(ctx context.Context, b pit.Blob) (pit.Ref, bool, error) {
	return s.base.Put(ctx, b)
}

// ListRefs lists the refs in the base store.
func (s *Store) ListRefs(ctx context.Context, start pit.Ref, f func(pit.Ref) error) error {
	return s.base.ListRefs(ctx, start, f)
}

func (s *Store) GetAnchor(ctx context.Context, name string, at time.Time) (pit.Ref, error) {
	return s.base.GetAnchor(ctx, name, at)
}

func (s *Store) PutAnchor(ctx context.Context, name string, ref pit.Ref, at time.Time) error {
	return s.base.PutAnchor(ctx, name, ref, at)
}

func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, pit.TimeRef) error) error {
	return s.base.ListAnchors(ctx, start, f)
}

// Close closes the base store if it can be closed.
func (s *Store) Close() error {
	if c, ok := s.base.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
