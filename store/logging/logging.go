// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store"
)

var _ pit.AnchorStore = &Store{}

// Store logs each operation on a nested store at trace level,
// and each failed operation at error level
// (except lookups of missing blobs, which are routine).
type Store struct {
	s      pit.AnchorStore
	logger zerolog.Logger
}

// New produces a Store wrapping s that logs to the global logger.
func New(s pit.AnchorStore) *Store {
	return NewWithLogger(s, log.Logger)
}

// NewWithLogger produces a Store wrapping s that logs to logger.
func NewWithLogger(s pit.AnchorStore, logger zerolog.Logger) *Store {
	return &Store{s: s, logger: logger.With().Str("component", "store").Logger()}
}

func (s *Store) event(err error) *zerolog.Event {
	if err != nil && !errors.Is(err, pit.ErrNotFound) {
		return s.logger.Error().Err(err)
	}
	return s.logger.Trace().AnErr("result", err)
}

func (s *Store) Get(ctx context.Context, ref pit.Ref) (pit.Blob, error) {
	b, err := s.s.Get(ctx, ref)
	s.event(err).Stringer("ref", ref).Int("size", len(b)).Msg("Get")
	return b, err
}

func (s *Store) ListRefs(ctx context.Context, start pit.Ref, f func(pit.Ref) error) error {
	s.logger.Trace().Stringer("start", start).Msg("ListRefs")
	return s.s.ListRefs(ctx, start, func(ref pit.Ref) error {
		err := f(ref)
		s.event(err).Stringer("ref", ref).Msg("ListRefs item")
		return err
	})
}

func (s *Store) Put(ctx context.Context, b pit.Blob) (pit.Ref, bool, error) {
	ref, added, err := s.s.Put(ctx, b)
	s.event(err).Stringer("ref", ref).Bool("added", added).Msg("Put")
	return ref, added, err
}

func (s *Store) GetAnchor(ctx context.Context, name string, at time.Time) (pit.Ref, error) {
	ref, err := s.s.GetAnchor(ctx, name, at)
	s.event(err).Str("name", name).Time("at", at).Stringer("ref", ref).Msg("GetAnchor")
	return ref, err
}

func (s *Store) PutAnchor(ctx context.Context, name string, ref pit.Ref, at time.Time) error {
	err := s.s.PutAnchor(ctx, name, ref, at)
	s.event(err).Str("name", name).Time("at", at).Stringer("ref", ref).Msg("PutAnchor")
	return err
}

func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, pit.TimeRef) error) error {
	s.logger.Trace().Str("start", start).Msg("ListAnchors")
	return s.s.ListAnchors(ctx, start, func(name string, tr pit.TimeRef) error {
		err := f(name, tr)
		s.event(err).Str("name", name).Time("at", tr.T).Stringer("ref", tr.R).Msg("ListAnchors item")
		return err
	})
}

// Close closes the nested store if it can be closed.
func (s *Store) Close() error {
	if c, ok := s.s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (pit.AnchorStore, error) {
		nestedStore, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		return New(nestedStore), nil
	})
}
