// Package split implements reading and writing of hashsplit trees in a blob store.
// See github.com/bobg/hashsplit for more information.
package split

import (
	"context"
	"io"

	"github.com/bobg/hashsplit"
	"github.com/pkg/errors"

	"github.com/bobg/pit"
)

// Node is one interior node of a split tree.
// Exactly one of Leaves and Nodes is non-empty.
// Leaves are refs of content chunks;
// Nodes are refs of child Nodes.
// Size is the total length of the content beneath the node.
type Node struct {
	Size   uint64    `json:"size"`
	Leaves []pit.Ref `json:"leaves,omitempty"`
	Nodes  []pit.Ref `json:"nodes,omitempty"`
}

// Writer is an io.WriteCloser that splits its input with a hashsplit.Splitter,
// writing the chunks to a pit.Store as separate blobs.
// It additionally assembles those chunks into a tree of Nodes,
// also written to the store.
// The pit.Ref of the tree root is available as Writer.Root after a call to Close.
// Empty input produces a Root of pit.Zero.
type Writer struct {
	Ctx    context.Context
	Root   pit.Ref // populated by Close
	st     pit.Store
	spl    *hashsplit.Splitter
	levels []*pending
	fanout uint
	closed bool
}

type pending struct {
	size uint64
	refs []pit.Ref
}

// NewWriter produces a new Writer writing to the given blob store.
// The given context object is stored in the Writer and used in subsequent calls to Write and Close.
// This is an antipattern but acceptable when an object must adhere to a context-free stdlib interface
// (https://github.com/golang/go/wiki/CodeReviewComments#contexts).
// Callers may replace the context object during the lifetime of the Writer as needed.
func NewWriter(ctx context.Context, st pit.Store, opts ...Option) *Writer {
	w := &Writer{
		Ctx:    ctx,
		st:     st,
		fanout: 4,
	}
	spl := hashsplit.NewSplitter(func(bytes []byte, level uint) error {
		ref, _, err := st.Put(w.Ctx, bytes)
		if err != nil {
			return errors.Wrap(err, "writing split chunk to store")
		}
		return w.add(ref, uint64(len(bytes)), level)
	})
	spl.MinSize = 1024
	spl.SplitBits = 14
	w.spl = spl
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write implements io.Writer.
func (w *Writer) Write(inp []byte) (int, error) {
	return w.spl.Write(inp)
}

// Close implements io.Closer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	err := w.spl.Close()
	if err != nil {
		return err
	}
	root, err := w.root()
	if err != nil {
		return err
	}
	w.Root = root
	w.closed = true
	return nil
}

func (w *Writer) add(ref pit.Ref, size uint64, level uint) error {
	w.push(0, ref, size)
	for i := 0; i < int(level/w.fanout); i++ {
		if err := w.seal(i); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) push(i int, ref pit.Ref, size uint64) {
	for len(w.levels) <= i {
		w.levels = append(w.levels, &pending{})
	}
	p := w.levels[i]
	p.refs = append(p.refs, ref)
	p.size += size
}

// Seal stores the pending node at level i and adds it as a child at level i+1.
func (w *Writer) seal(i int) error {
	if i >= len(w.levels) {
		return nil
	}
	p := w.levels[i]
	if len(p.refs) == 0 {
		return nil
	}
	n := Node{Size: p.size}
	if i == 0 {
		n.Leaves = p.refs
	} else {
		n.Nodes = p.refs
	}
	ref, _, err := pit.PutJSON(w.Ctx, w.st, n)
	if err != nil {
		return errors.Wrap(err, "storing split node")
	}
	w.levels[i] = &pending{}
	w.push(i+1, ref, n.Size)
	return nil
}

func (w *Writer) root() (pit.Ref, error) {
	for i := 0; i < len(w.levels); i++ {
		p := w.levels[i]
		if i > 0 && i == len(w.levels)-1 && len(p.refs) == 1 {
			return p.refs[0], nil
		}
		if err := w.seal(i); err != nil {
			return pit.Zero, err
		}
	}
	return pit.Zero, nil
}

type Option func(*Writer)

func Bits(n uint) Option {
	return func(w *Writer) {
		w.spl.SplitBits = n
	}
}

func MinSize(n int) Option {
	return func(w *Writer) {
		w.spl.MinSize = n
	}
}

func Fanout(n uint) Option {
	return func(w *Writer) {
		if n > 0 {
			w.fanout = n
		}
	}
}

// Write splits the content of r into st and returns the ref of the tree root.
func Write(ctx context.Context, st pit.Store, r io.Reader, opts ...Option) (pit.Ref, error) {
	w := NewWriter(ctx, st, opts...)
	if _, err := io.Copy(w, r); err != nil {
		return pit.Zero, errors.Wrap(err, "splitting input")
	}
	if err := w.Close(); err != nil {
		return pit.Zero, errors.Wrap(err, "finishing split tree")
	}
	return w.Root, nil
}

// Read reads blobs from `g`,
// reassembling the content of the blob tree created with Write
// and writing it to `w`.
// The ref of the root Node is given by `ref`.
func Read(ctx context.Context, g pit.Getter, ref pit.Ref, w io.Writer) error {
	if ref.IsZero() {
		return nil
	}
	var tn Node
	err := pit.GetJSON(ctx, g, ref, &tn)
	if err != nil {
		return errors.Wrapf(err, "getting split node %s", ref)
	}
	return splitRead(ctx, g, &tn, w)
}

func splitRead(ctx context.Context, g pit.Getter, n *Node, w io.Writer) error {
	if len(n.Leaves) > 0 {
		for _, leaf := range n.Leaves {
			b, err := g.Get(ctx, leaf)
			if err != nil {
				return errors.Wrapf(err, "getting chunk %s", leaf)
			}
			if _, err = w.Write(b); err != nil {
				return err
			}
		}
		return nil
	}
	for _, child := range n.Nodes {
		if err := Read(ctx, g, child, w); err != nil {
			return err
		}
	}
	return nil
}

// NewReader returns the content of the tree at `ref` as a stream.
// The caller must close it.
func NewReader(ctx context.Context, g pit.Getter, ref pit.Ref) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Read(ctx, g, ref, pw))
	}()
	return pr
}

// Walk calls f for every ref in the tree at `ref`:
// first for each Node (which Walk must fetch)
// and then for the leaves beneath it (which it does not).
// Walk does nothing for pit.Zero.
func Walk(ctx context.Context, g pit.Getter, ref pit.Ref, f func(ref pit.Ref, leaf bool) error) error {
	if ref.IsZero() {
		return nil
	}
	var tn Node
	if err := pit.GetJSON(ctx, g, ref, &tn); err != nil {
		return errors.Wrapf(err, "getting split node %s", ref)
	}
	if err := f(ref, false); err != nil {
		return err
	}
	for _, leaf := range tn.Leaves {
		if err := f(leaf, true); err != nil {
			return err
		}
	}
	for _, child := range tn.Nodes {
		if err := Walk(ctx, g, child, f); err != nil {
			return err
		}
	}
	return nil
}
