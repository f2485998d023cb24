package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store/mem"
)

type closingStore struct {
	*mem.Store
	closed int
}

func (s *closingStore) Close() error {
	s.closed++
	return nil
}

func TestHandles(t *testing.T) {
	ctx := context.Background()

	var opened []*closingStore
	h := NewHandles(func(context.Context, string) (pit.AnchorStore, error) {
		s := &closingStore{Store: mem.New()}
		opened = append(opened, s)
		return s, nil
	})

	dir := t.TempDir()
	s1, release1, err := h.Acquire(ctx, dir)
	require.NoError(t, err)
	s2, release2, err := h.Acquire(ctx, dir+"/.")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Len(t, opened, 1)
	assert.Equal(t, 1, h.Len())

	require.NoError(t, release1())
	require.NoError(t, release1())
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 0, opened[0].closed)

	require.NoError(t, release2())
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 1, opened[0].closed)

	_, release3, err := h.Acquire(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, opened, 2)
	require.NoError(t, release3())
}
