package store_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/pit/store"
	_ "github.com/bobg/pit/store/lru"
	_ "github.com/bobg/pit/store/mem"
)

func TestCreate(t *testing.T) {
	ctx := context.Background()

	if _, err := store.Create(ctx, "nonesuch", nil); err == nil {
		t.Error("created a store of unknown type")
	}

	s, err := store.Create(ctx, "lru", map[string]interface{}{
		"size":   10,
		"nested": map[string]interface{}{"type": "mem"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ref, added, err := s.Put(ctx, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("first Put did not add")
	}
	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("x", string(got)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if _, err = store.Create(ctx, "lru", map[string]interface{}{"size": 10}); err == nil {
		t.Error("created an lru store with no nested store")
	}
}
