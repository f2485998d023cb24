package pit

import (
	"sort"
	"time"
)

// TimeRef is one entry in the history of an anchor:
// the ref the anchor named as of time T.
type TimeRef struct {
	T time.Time
	R Ref
}

// Anchor histories are kept sorted by time.
// Entries with equal times stay in the order they were written,
// and the last one written wins.

// SortTimeRefs sorts an anchor history by time,
// keeping the write order of entries with equal times.
func SortTimeRefs(trs []TimeRef) {
	sort.SliceStable(trs, func(i, j int) bool { return trs[i].T.Before(trs[j].T) })
}

// InsertTimeRef adds tr to the sorted history trs,
// after any entries with the same time.
func InsertTimeRef(trs []TimeRef, tr TimeRef) []TimeRef {
	i := sort.Search(len(trs), func(n int) bool { return trs[n].T.After(tr.T) })
	trs = append(trs, TimeRef{})
	copy(trs[i+1:], trs[i:])
	trs[i] = tr
	return trs
}

// FindAnchor finds the ref an anchor named as of time at,
// given its sorted history.
// That is the last entry whose time is not after at.
// It returns ErrNotFound if there is none.
func FindAnchor(trs []TimeRef, at time.Time) (Ref, error) {
	i := sort.Search(len(trs), func(n int) bool { return trs[n].T.After(at) })
	if i == 0 {
		return Zero, ErrNotFound
	}
	return trs[i-1].R, nil
}
