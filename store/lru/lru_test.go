package lru

import (
	"context"
	"testing"

	"github.com/bobg/pit/store/mem"
	"github.com/bobg/pit/testutil"
)

func TestStore(t *testing.T) {
	s, err := New(mem.New(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.ReadWrite(context.Background(), t, s, testutil.Data(300000))
}

func TestAnchors(t *testing.T) {
	s, err := New(mem.New(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Anchors(context.Background(), t, s)
}

func TestCacheHit(t *testing.T) {
	ctx := context.Background()
	m := mem.New()
	s, err := New(m, 2)
	if err != nil {
		t.Fatal(err)
	}
	ref, _, err := m.Put(ctx, []byte("cached"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = s.Get(ctx, ref); err != nil {
		t.Fatal(err)
	}
	if !s.c.Contains(ref) {
		t.Error("blob not cached after Get")
	}
}

func TestZeroSize(t *testing.T) {
	if _, err := New(mem.New(), 0); err == nil {
		t.Error("created a zero-size cache")
	}
}
