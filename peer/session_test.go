package peer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobg/pit"
	"github.com/bobg/pit/drive"
	"github.com/bobg/pit/store/mem"
)

func readFile(ctx context.Context, t *testing.T, d *drive.Drive, p string) string {
	t.Helper()
	rc, err := d.Open(ctx, p)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

type testPeer struct {
	base  *mem.Store
	store *Store
	drive *drive.Drive
	sess  *Session
}

func openPeer(ctx context.Context, t *testing.T, key pit.Key, disc Discovery, eager bool) *testPeer {
	t.Helper()

	base := mem.New()
	st := NewStore(base)
	d, err := drive.Open(ctx, st, key)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	sess, err := Open(ctx, key.DiscoveryKey(), Scope{Store: st, Drives: []*drive.Drive{d}}, Config{Discovery: disc, Eager: eager})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	return &testPeer{base: base, store: st, drive: d, sess: sess}
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	disc := NewMem()

	// The writer.
	wst := NewStore(mem.New())
	wd, err := drive.Create(ctx, wst, &drive.MemKeyring{})
	require.NoError(t, err)
	defer wd.Close()

	content := strings.Repeat("hello, world\n", 10000)
	require.NoError(t, wd.Put(ctx, "objects/pack/big", 0644, strings.NewReader(content)))
	require.NoError(t, wd.Flush(ctx))

	wsess, err := Open(ctx, wd.DiscoveryKey(), Scope{Store: wst, Drives: []*drive.Drive{wd}}, Config{Discovery: disc})
	require.NoError(t, err)
	defer wsess.Close()
	assert.Empty(t, wsess.Peers())

	// A reader that fetches lazily.
	lazy := openPeer(ctx, t, wd.Key(), disc, false)
	assert.Equal(t, wd.Version(), lazy.drive.Version())
	assert.Equal(t, []string{wsess.ID()}, lazy.sess.Peers())

	// Nothing but the head is local yet.
	h, _ := lazy.drive.Head()
	_, err = lazy.store.GetLocal(ctx, h.Index)
	assert.True(t, errors.Is(err, pit.ErrNotFound))

	assert.Equal(t, content, readFile(ctx, t, lazy.drive, "objects/pack/big"))

	// The writer dials back.
	require.Eventually(t, func() bool {
		return len(wsess.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// An eager reader has everything after connecting.
	eager := openPeer(ctx, t, wd.Key(), disc, true)
	assert.Equal(t, wd.Version(), eager.drive.Version())
	beforeClose := eager.base.Len()
	require.NoError(t, eager.sess.Close())
	require.NoError(t, eager.sess.Close())
	assert.Equal(t, 0, eager.store.NumRemotes())
	assert.Equal(t, content, readFile(ctx, t, eager.drive, "objects/pack/big"))
	assert.Equal(t, beforeClose, eager.base.Len())

	// New versions arrive on Flush.
	require.NoError(t, wd.Put(ctx, "HEAD", 0644, strings.NewReader("ref: refs/heads/main\n")))
	require.NoError(t, wd.Flush(ctx))
	require.NoError(t, lazy.sess.Flush(ctx))
	assert.Equal(t, wd.Version(), lazy.drive.Version())
	assert.Equal(t, "ref: refs/heads/main\n", readFile(ctx, t, lazy.drive, "HEAD"))

	assert.True(t, errors.Is(eager.sess.Flush(ctx), ErrClosed))
}

func TestSessionAlone(t *testing.T) {
	ctx := context.Background()

	st := NewStore(mem.New())
	d, err := drive.Create(ctx, st, &drive.MemKeyring{})
	require.NoError(t, err)
	defer d.Close()

	sess, err := Open(ctx, d.DiscoveryKey(), Scope{Store: st, Drives: []*drive.Drive{d}}, Config{Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, sess.Flush(ctx))
	assert.Empty(t, sess.Peers())
	assert.NotEmpty(t, sess.Addr())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
}

func TestSessionIgnoresOtherTopics(t *testing.T) {
	ctx := context.Background()
	disc := NewMem()

	a := openPeer(ctx, t, pit.Key{1}, disc, false)

	// Announce a's address on b's topic.
	bKey := pit.Key{2}
	require.NoError(t, disc.Announce(ctx, bKey.DiscoveryKey(), a.sess.Addr()))

	b := openPeer(ctx, t, bKey, disc, false)
	assert.Empty(t, b.sess.Peers())
}
