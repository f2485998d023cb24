package repo

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit"
)

// OpenFunc opens the store of the repository at root.
type OpenFunc func(ctx context.Context, root string) (pit.AnchorStore, error)

// Handles is a registry of open stores, keyed by repository path.
// A store is opened on first acquisition
// and closed when the last holder releases it,
// so a path's store is never open twice at once.
type Handles struct {
	open OpenFunc

	mu      sync.Mutex
	handles map[string]*handle
}

type handle struct {
	s    pit.AnchorStore
	refs int
}

// NewHandles produces an empty registry that opens stores with open.
func NewHandles(open OpenFunc) *Handles {
	return &Handles{
		open:    open,
		handles: make(map[string]*handle),
	}
}

// Acquire returns the store for the repository at root,
// opening it if no one else holds it,
// and a function releasing it.
// Calling the release function more than once does nothing.
func (h *Handles) Acquire(ctx context.Context, root string) (pit.AnchorStore, func() error, error) {
	key, err := canonical(root)
	if err != nil {
		return nil, nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	hd, ok := h.handles[key]
	if !ok {
		s, err := h.open(ctx, key)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening store for %s", key)
		}
		hd = &handle{s: s}
		h.handles[key] = hd
		log.Debug().Str("root", key).Msg("store opened")
	}
	hd.refs++

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() { err = h.release(key, hd) })
		return err
	}
	return hd.s, release, nil
}

func (h *Handles) release(key string, hd *handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	hd.refs--
	if hd.refs > 0 {
		return nil
	}
	delete(h.handles, key)
	log.Debug().Str("root", key).Msg("store closed")
	if c, ok := hd.s.(interface{ Close() error }); ok {
		return errors.Wrapf(c.Close(), "closing store for %s", key)
	}
	return nil
}

// Len tells how many stores are open.
func (h *Handles) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

func canonical(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", root)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "resolving %s", abs)
	}
	return abs, nil
}
