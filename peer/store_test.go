package peer

import (
	"context"
	"errors"
	"testing"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store/mem"
	"github.com/bobg/pit/testutil"
)

type fakeRemote struct {
	blobs map[pit.Ref]pit.Blob
	calls int
}

func (r *fakeRemote) Get(_ context.Context, ref pit.Ref) (pit.Blob, error) {
	r.calls++
	if b, ok := r.blobs[ref]; ok {
		return b, nil
	}
	return nil, pit.ErrNotFound
}

// Answers every request with the same blob.
type liar struct {
	blob pit.Blob
}

func (r liar) Get(context.Context, pit.Ref) (pit.Blob, error) {
	return r.blob, nil
}

func TestStoreReadWrite(t *testing.T) {
	ctx := context.Background()
	testutil.ReadWrite(ctx, t, NewStore(mem.New()), testutil.Data(100000))
}

func TestStoreAnchors(t *testing.T) {
	ctx := context.Background()
	testutil.Anchors(ctx, t, NewStore(mem.New()))
}

func TestStoreFetch(t *testing.T) {
	ctx := context.Background()

	var (
		blob   = pit.Blob("the quick brown fox")
		ref    = blob.Ref()
		base   = mem.New()
		s      = NewStore(base)
		remote = &fakeRemote{blobs: map[pit.Ref]pit.Blob{ref: blob}}
	)

	if _, err := s.Get(ctx, ref); !errors.Is(err, pit.ErrNotFound) {
		t.Fatalf("got error %v with no remotes, want %v", err, pit.ErrNotFound)
	}

	s.Attach("liar", liar{blob: pit.Blob("something else")})
	s.Attach("remote", remote)
	if s.NumRemotes() != 2 {
		t.Errorf("got %d remotes, want 2", s.NumRemotes())
	}

	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(blob) {
		t.Errorf("got %q, want %q", got, blob)
	}

	// Now it is local.
	if _, err := base.Get(ctx, ref); err != nil {
		t.Errorf("fetched blob not stored locally: %s", err)
	}
	if _, err := s.Get(ctx, ref); err != nil {
		t.Fatal(err)
	}
	if remote.calls != 1 {
		t.Errorf("remote called %d times, want 1", remote.calls)
	}

	s.Detach("remote")
	if _, err := s.GetLocal(ctx, pit.Blob("missing").Ref()); !errors.Is(err, pit.ErrNotFound) {
		t.Errorf("got %v from GetLocal, want %v", err, pit.ErrNotFound)
	}
	if _, err := s.Get(ctx, pit.Blob("missing").Ref()); !errors.Is(err, pit.ErrNotFound) {
		t.Errorf("got %v with only a lying remote, want %v", err, pit.ErrNotFound)
	}
}
