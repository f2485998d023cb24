// Package testutil contains checks shared by the tests of the store backends.
package testutil

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/bobg/pit"
	"github.com/bobg/pit/split"
)

// Data produces n bytes of reproducible pseudorandom test data.
func Data(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

// ReadWrite permits testing a Store implementation
// by split-writing some data to it,
// then reading it back out to make sure it's the same.
func ReadWrite(ctx context.Context, t *testing.T, store pit.Store, data []byte) {
	t1 := time.Now()
	ref, err := split.Write(ctx, store, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("wrote %d bytes in %s", len(data), time.Since(t1))

	buf := new(bytes.Buffer)
	t2 := time.Now()
	err = split.Read(ctx, store, ref, buf)
	if err != nil {
		t.Fatal(err)
	}
	got := buf.Bytes()
	t.Logf("read %d bytes in %s", len(got), time.Since(t2))

	if len(got) != len(data) {
		t.Errorf("got length %d, want %d", len(got), len(data))
	} else {
		for i := 0; i < len(got); i++ {
			if got[i] != data[i] {
				t.Fatalf("mismatch at position %d (of %d)", i, len(got))
			}
		}
	}

	_, added, err := store.Put(ctx, data[:len(data)/2])
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		// Possible only if a chunk boundary fell exactly at the midpoint.
		t.Log("half-blob was already present")
	}
	_, added, err = store.Put(ctx, data[:len(data)/2])
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("second Put of the same blob reports it added")
	}
}
