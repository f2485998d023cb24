package pit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFindAnchor(t *testing.T) {
	t1, err := time.Parse(time.RFC3339, "2021-08-05T13:00:00-04:00")
	if err != nil {
		t.Fatal(err)
	}
	t2 := t1.Add(time.Hour)

	var (
		r1 = Ref{1}
		r2 = Ref{2}
		r3 = Ref{3}

		one   = []TimeRef{{T: t1, R: r1}}
		two   = []TimeRef{{T: t1, R: r1}, {T: t2, R: r2}}
		clash = []TimeRef{{T: t1, R: r1}, {T: t1, R: r3}, {T: t2, R: r2}}
	)

	cases := []struct {
		trs  []TimeRef
		at   time.Time
		want Ref // Zero means ErrNotFound
	}{
		{at: t1},
		{trs: one, at: t1, want: r1},
		{trs: one, at: t1.Add(-time.Minute)},
		{trs: one, at: t1.Add(time.Minute), want: r1},
		{trs: two, at: t1, want: r1},
		{trs: two, at: t1.Add(-time.Minute)},
		{trs: two, at: t1.Add(time.Minute), want: r1},
		{trs: two, at: t2, want: r2},
		{trs: two, at: t2.Add(time.Minute), want: r2},

		// Of entries with the same time, the last written wins.
		{trs: clash, at: t1, want: r3},
		{trs: clash, at: t1.Add(time.Minute), want: r3},
		{trs: clash, at: t2, want: r2},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			got, err := FindAnchor(tc.trs, tc.at)
			if tc.want == Zero {
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("got (%s, %v), want %v", got, err, ErrNotFound)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestInsertTimeRef(t *testing.T) {
	t1 := time.Unix(1000, 0)
	t2 := t1.Add(time.Second)
	t3 := t2.Add(time.Second)

	var trs []TimeRef
	for _, tr := range []TimeRef{
		{T: t2, R: Ref{1}},
		{T: t1, R: Ref{2}},
		{T: t3, R: Ref{3}},
		{T: t2, R: Ref{4}},
		{T: t1, R: Ref{5}},
	} {
		trs = InsertTimeRef(trs, tr)
	}

	want := []TimeRef{
		{T: t1, R: Ref{2}},
		{T: t1, R: Ref{5}},
		{T: t2, R: Ref{1}},
		{T: t2, R: Ref{4}},
		{T: t3, R: Ref{3}},
	}
	if diff := cmp.Diff(want, trs); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	unsorted := []TimeRef{
		{T: t2, R: Ref{1}},
		{T: t1, R: Ref{2}},
		{T: t3, R: Ref{3}},
		{T: t2, R: Ref{4}},
		{T: t1, R: Ref{5}},
	}
	SortTimeRefs(unsorted)
	if diff := cmp.Diff(want, unsorted); diff != "" {
		t.Errorf("sorted mismatch (-want +got):\n%s", diff)
	}
}
