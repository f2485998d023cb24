package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/pit"
)

// Anchors checks GetAnchor and ListAnchors on an empty AnchorStore.
func Anchors(ctx context.Context, t *testing.T, store pit.AnchorStore) {
	var (
		a1 = "anchor1"
		a2 = "anchor2"
		a3 = "anchor3"

		r1a = pit.Ref{0x1a}
		r1b = pit.Ref{0x1b}
		r2  = pit.Ref{0x2}

		t1 = time.Date(1977, 8, 5, 12, 0, 0, 0, time.FixedZone("UTC-4", -4*60*60))
		t2 = t1.Add(time.Hour)
	)

	err := store.PutAnchor(ctx, a1, r1b, t2)
	if err != nil {
		t.Fatal(err)
	}
	err = store.PutAnchor(ctx, a1, r1a, t1)
	if err != nil {
		t.Fatal(err)
	}
	err = store.PutAnchor(ctx, a2, r2, t1)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		a       string
		tm      time.Time
		want    pit.Ref
		wantErr error
	}{
		{a: a1, tm: t1, want: r1a},
		{a: a1, tm: t1.Add(time.Minute), want: r1a},
		{a: a1, tm: t2, want: r1b},
		{a: a1, tm: t2.Add(time.Minute), want: r1b},
		{a: a1, tm: t1.Add(-time.Minute), wantErr: pit.ErrNotFound},
		{a: a1, tm: t2.Add(-time.Minute), want: r1a},

		{a: a2, tm: t1, want: r2},
		{a: a2, tm: t1.Add(time.Minute), want: r2},
		{a: a2, tm: t1.Add(-time.Minute), wantErr: pit.ErrNotFound},

		{a: a3, tm: t2, wantErr: pit.ErrNotFound},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			got, err := store.GetAnchor(ctx, c.a, c.tm)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Fatalf("got error %v, want %v", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Fatalf("got %s, want %s", got, c.want)
			}
		})
	}

	type listed struct {
		Name string
		Ref  pit.Ref
		Unix int64
	}
	var got []listed
	err = store.ListAnchors(ctx, "", func(name string, tr pit.TimeRef) error {
		got = append(got, listed{Name: name, Ref: tr.R, Unix: tr.T.Unix()})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []listed{
		{Name: a1, Ref: r1a, Unix: t1.Unix()},
		{Name: a1, Ref: r1b, Unix: t2.Unix()},
		{Name: a2, Ref: r2, Unix: t1.Unix()},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	got = nil
	err = store.ListAnchors(ctx, a1, func(name string, tr pit.TimeRef) error {
		got = append(got, listed{Name: name, Ref: tr.R, Unix: tr.T.Unix()})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[2:], got); diff != "" {
		t.Errorf("mismatch after %s (-want +got):\n%s", a1, diff)
	}
}
