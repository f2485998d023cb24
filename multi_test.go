package pit_test

import (
	"context"
	"errors"
	"testing"
	"testing/quick"

	. "github.com/bobg/pit"
	"github.com/bobg/pit/store/mem"
)

func TestGetMulti(t *testing.T) {
	ctx := context.Background()

	err := quick.Check(func(yesBlobs, noBlobs map[string]struct{}) bool {
		s := mem.New()
		want := make(map[Ref]struct{})
		for b := range yesBlobs {
			ref, _, err := s.Put(ctx, Blob(b))
			if err != nil {
				t.Log(err)
				return false
			}
			want[ref] = struct{}{}
		}

		refs := make([]Ref, 0, len(want))
		for ref := range want {
			refs = append(refs, ref)
		}
		got, err := GetMulti(ctx, s, refs)
		if err != nil {
			t.Log(err)
			return false
		}
		if len(got) != len(want) {
			t.Logf("got %d blobs, want %d", len(got), len(want))
			return false
		}
		for ref, blob := range got {
			if _, ok := want[ref]; !ok || blob.Ref() != ref {
				t.Logf("got unexpected ref %s after GetMulti", ref)
				return false
			}
		}

		noRefs := make(map[Ref]struct{})
		for b := range noBlobs {
			if _, ok := yesBlobs[b]; ok {
				continue
			}
			ref := Blob(b).Ref()
			noRefs[ref] = struct{}{}
			refs = append(refs, ref)
		}
		if len(noRefs) == 0 {
			return true
		}

		got, err = GetMulti(ctx, s, refs)
		var merr MultiErr
		if !errors.As(err, &merr) {
			t.Logf("got error %v from second GetMulti, want MultiErr", err)
			return false
		}
		if len(merr) != len(noRefs) {
			t.Logf("got %d errors, want %d", len(merr), len(noRefs))
			return false
		}
		for ref, e := range merr {
			if _, ok := noRefs[ref]; !ok {
				t.Logf("got unexpected error for ref %s", ref)
				return false
			}
			if !errors.Is(e, ErrNotFound) {
				t.Logf("got error %s for ref %s, want %s", e, ref, ErrNotFound)
				return false
			}
		}
		return len(got) == len(want)
	}, nil)
	if err != nil {
		t.Error(err)
	}
}
