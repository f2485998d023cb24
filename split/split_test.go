package split

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store/mem"
)

func TestSplitEmpty(t *testing.T) {
	m := mem.New()
	w := NewWriter(context.Background(), m)
	err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	if w.Root != pit.Zero {
		t.Errorf("got Root of %s, want %s", w.Root, pit.Zero)
	}

	buf := new(bytes.Buffer)
	if err := Read(context.Background(), m, w.Root, buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("read %d bytes from empty tree", buf.Len())
	}
}

func TestSplitRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, size := range []int{1, 1023, 1024, 100000, 1 << 20} {
		data := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(data)

		m := mem.New()
		ref, err := Write(ctx, m, bytes.NewReader(data), Bits(10), MinSize(64), Fanout(2))
		if err != nil {
			t.Fatal(err)
		}

		rc := NewReader(ctx, m, ref)
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("size %d: content mismatch (got %d bytes)", size, len(got))
		}

		var tn Node
		if err := pit.GetJSON(ctx, m, ref, &tn); err != nil {
			t.Fatal(err)
		}
		if tn.Size != uint64(size) {
			t.Errorf("size %d: root node reports size %d", size, tn.Size)
		}

		var nodes, leaves int
		err = Walk(ctx, m, ref, func(r pit.Ref, leaf bool) error {
			if _, err := m.Get(ctx, r); err != nil {
				return err
			}
			if leaf {
				leaves++
			} else {
				nodes++
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if nodes == 0 || leaves == 0 {
			t.Errorf("size %d: walked %d nodes and %d leaves", size, nodes, leaves)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 200000)
	rand.New(rand.NewSource(1)).Read(data)

	r1, err := Write(ctx, mem.New(), bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Write(ctx, mem.New(), bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Errorf("same content produced roots %s and %s", r1, r2)
	}
}
