// Package drive implements a versioned file tree stored in a blob store
// and identified by a public key.
//
// Only the holder of the matching secret key can write a drive.
// Each Flush stores the drive's entry list as a blob
// and records a new signed Head pointing to it,
// anchored in the store under the name returned by AnchorName.
// Readers accept a Head only if its signature verifies
// and its sequence number is higher than the one they have,
// so a drive can be replicated through untrusted peers.
package drive

import (
	"context"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit"
	"github.com/bobg/pit/split"
)

var (
	// ErrClosed is returned by operations on a closed Drive.
	ErrClosed = errors.New("drive closed")

	// ErrReadOnly is returned by writes to a drive whose secret key is not available.
	ErrReadOnly = errors.New("drive is read-only")

	// ErrBadPath means a drive's index names a file outside the drive,
	// or names it in non-canonical form.
	ErrBadPath = errors.New("bad path in drive index")
)

// Drive is an open handle to a drive.
// It is safe for concurrent use.
type Drive struct {
	s   pit.AnchorStore
	key pit.Key
	sk  ed25519.PrivateKey // nil when read-only

	mu      sync.Mutex
	head    *Head
	headRef pit.Ref
	entries map[string]pit.Entry // nil until loaded
	dirty   bool
	closed  bool
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	keyring Keyring
}

// WithKeyring makes Open look for the drive's secret key in kr.
// If it is there, the drive is writable.
func WithKeyring(kr Keyring) Option {
	return func(o *openOptions) {
		o.keyring = kr
	}
}

// AnchorName is the anchor under which the heads of the drive with the given key are recorded.
func AnchorName(key pit.Key) string {
	return "drive/" + key.String()
}

// Create creates a brand-new drive in s,
// saving its secret key in kr.
// The new drive has an empty, signed first version,
// so its identity is fixed by the time Create returns.
func Create(ctx context.Context, s pit.AnchorStore, kr Keyring) (*Drive, error) {
	key, sk, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err = kr.Save(key, sk); err != nil {
		return nil, errors.Wrap(err, "saving secret key")
	}
	d := &Drive{
		s:       s,
		key:     key,
		sk:      sk,
		entries: make(map[string]pit.Entry),
		dirty:   true,
	}
	if err = d.Flush(ctx); err != nil {
		return nil, errors.Wrap(err, "writing first version")
	}
	log.Debug().Stringer("key", key).Msg("created drive")
	return d, nil
}

// Open opens the drive with the given key in s.
// The store need not hold any version of the drive yet;
// such a drive is empty until a version arrives
// (see Update).
func Open(ctx context.Context, s pit.AnchorStore, key pit.Key, opts ...Option) (*Drive, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	d := &Drive{s: s, key: key}
	if o.keyring != nil {
		sk, err := o.keyring.Load(key)
		switch {
		case errors.Is(err, ErrNoSecretKey):
			// read-only
		case err != nil:
			return nil, errors.Wrapf(err, "loading secret key for %s", key)
		default:
			d.sk = sk
		}
	}
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Key is the drive's identity.
func (d *Drive) Key() pit.Key {
	return d.key
}

// DiscoveryKey is the topic on which peers holding the drive meet.
func (d *Drive) DiscoveryKey() pit.Topic {
	return d.key.DiscoveryKey()
}

// Writable tells whether d can be written.
func (d *Drive) Writable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sk != nil && !d.closed
}

// Head returns the drive's latest known version,
// and false if none is known.
func (d *Drive) Head() (Head, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.head == nil {
		return Head{}, false
	}
	return *d.head, true
}

// Version is the sequence number of the drive's latest known version,
// or zero if none is known.
func (d *Drive) Version() uint64 {
	h, _ := d.Head()
	return h.Seq
}

// HeadBlob returns the encoded latest version of the drive,
// suitable for passing to Update on another peer.
// It returns pit.ErrNotFound if no version is known.
func (d *Drive) HeadBlob(ctx context.Context) (pit.Blob, error) {
	d.mu.Lock()
	ref := d.headRef
	known := d.head != nil
	d.mu.Unlock()

	if !known {
		return nil, pit.ErrNotFound
	}
	return d.s.Get(ctx, ref)
}

// Refresh loads the latest version of the drive recorded in the store.
func (d *Drive) Refresh(ctx context.Context) error {
	ref, err := d.s.GetAnchor(ctx, AnchorName(d.key), time.Now())
	if errors.Is(err, pit.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "getting head of drive %s", d.key)
	}
	b, err := d.s.Get(ctx, ref)
	if err != nil {
		return errors.Wrapf(err, "getting head blob %s", ref)
	}
	h, err := ParseHead(b)
	if err != nil {
		return err
	}
	if h.Key != d.key {
		return errors.Errorf("head %s does not belong to drive %s", ref, d.key)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.head != nil && h.Seq <= d.head.Seq {
		return nil
	}
	if d.dirty {
		return nil
	}
	d.head = &h
	d.headRef = ref
	d.entries = nil
	return nil
}

// Update offers the encoded head of a version of d,
// typically received from a peer.
// It is accepted only if it is validly signed and newer than the version d has,
// and only if d has no unflushed writes.
// The return value tells whether it was accepted.
// The content of the new version need not be in the store yet.
func (d *Drive) Update(ctx context.Context, b pit.Blob) (bool, error) {
	h, err := ParseHead(b)
	if err != nil {
		return false, err
	}
	if h.Key != d.key {
		return false, errors.Errorf("head for drive %s offered to drive %s", h.Key, d.key)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false, ErrClosed
	}
	if d.dirty || (d.head != nil && h.Seq <= d.head.Seq) {
		return false, nil
	}

	ref, _, err := d.s.Put(ctx, b)
	if err != nil {
		return false, errors.Wrap(err, "storing head")
	}
	if err = d.s.PutAnchor(ctx, AnchorName(d.key), ref, time.Now()); err != nil {
		return false, errors.Wrap(err, "anchoring head")
	}
	d.head = &h
	d.headRef = ref
	d.entries = nil

	log.Debug().Stringer("key", d.key).Uint64("seq", h.Seq).Msg("drive updated")
	return true, nil
}

// Caller must hold d.mu.
func (d *Drive) load(ctx context.Context) error {
	if d.closed {
		return ErrClosed
	}
	if d.entries != nil {
		return nil
	}
	entries := make(map[string]pit.Entry)
	if d.head != nil && !d.head.Index.IsZero() {
		var idx index
		if err := pit.GetJSON(ctx, d.s, d.head.Index, &idx); err != nil {
			return errors.Wrapf(err, "getting index of %s", d.head)
		}
		for _, e := range idx.Entries {
			if err := checkPath(e.Path); err != nil {
				return errors.Wrapf(err, "index of %s", d.head)
			}
			entries[e.Path] = e
		}
	}
	d.entries = entries
	return nil
}

// Entries lists the files in the drive, sorted by path.
func (d *Drive) Entries(ctx context.Context) ([]pit.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.load(ctx); err != nil {
		return nil, err
	}
	return sortedEntries(d.entries), nil
}

func sortedEntries(m map[string]pit.Entry) []pit.Entry {
	result := make([]pit.Entry, 0, len(m))
	for _, e := range m {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// Entry looks up the file at path.
func (d *Drive) Entry(ctx context.Context, p string) (pit.Entry, bool, error) {
	p, err := cleanPath(p)
	if err != nil {
		return pit.Entry{}, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.load(ctx); err != nil {
		return pit.Entry{}, false, err
	}
	e, ok := d.entries[p]
	return e, ok, nil
}

// Open returns the content of the file at path.
// Content not yet in the store is fetched as it is read,
// if the store knows how.
func (d *Drive) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	e, ok, err := d.Entry(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "opening %s", p)
	}
	return split.NewReader(ctx, d.s, e.Ref), nil
}

// Put writes the file at path.
// The change is not visible to other peers until the next Flush.
func (d *Drive) Put(ctx context.Context, p string, mode os.FileMode, r io.Reader) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if !d.Writable() {
		return d.writeErr()
	}

	cr := &countingReader{r: r}
	ref, err := split.Write(ctx, d.s, cr)
	if err != nil {
		return errors.Wrapf(err, "storing %s", p)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.load(ctx); err != nil {
		return err
	}
	d.entries[p] = pit.Entry{Path: p, Mode: mode.Perm(), Size: cr.n, Ref: ref}
	d.dirty = true
	return nil
}

// Del removes the file at path.
// Removing a nonexistent file is not an error.
func (d *Drive) Del(ctx context.Context, p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if !d.Writable() {
		return d.writeErr()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.load(ctx); err != nil {
		return err
	}
	if _, ok := d.entries[p]; ok {
		delete(d.entries, p)
		d.dirty = true
	}
	return nil
}

func (d *Drive) writeErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return ErrReadOnly
}

// Flush publishes the writes since the last Flush as a new signed version.
// It does nothing if there have been none.
func (d *Drive) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	return d.flush(ctx)
}

// Caller must hold d.mu.
func (d *Drive) flush(ctx context.Context) error {
	if !d.dirty {
		return nil
	}
	if d.sk == nil {
		return ErrReadOnly
	}

	var indexRef pit.Ref
	if len(d.entries) > 0 {
		var err error
		indexRef, _, err = pit.PutJSON(ctx, d.s, index{Entries: sortedEntries(d.entries)})
		if err != nil {
			return errors.Wrap(err, "storing index")
		}
	}

	now := time.Now()
	h := Head{
		Key:   d.key,
		Index: indexRef,
		Prev:  d.headRef,
		Time:  now.UnixNano(),
	}
	if d.head != nil {
		h.Seq = d.head.Seq + 1
	}
	if err := h.sign(d.sk); err != nil {
		return err
	}
	ref, _, err := pit.PutJSON(ctx, d.s, h)
	if err != nil {
		return errors.Wrap(err, "storing head")
	}
	if err = d.s.PutAnchor(ctx, AnchorName(d.key), ref, now); err != nil {
		return errors.Wrap(err, "anchoring head")
	}

	d.head = &h
	d.headRef = ref
	d.dirty = false

	log.Debug().Stringer("key", d.key).Uint64("seq", h.Seq).Int("entries", len(d.entries)).Msg("drive flushed")
	return nil
}

// Download makes sure every blob of the drive's latest version is in the store,
// fetching missing ones if the store knows how.
func (d *Drive) Download(ctx context.Context) error {
	entries, err := d.Entries(ctx)
	if err != nil {
		return err
	}

	const batch = 64

	var leaves []pit.Ref
	fetch := func() error {
		_, err := pit.GetMulti(ctx, d.s, leaves)
		leaves = leaves[:0]
		return errors.Wrap(err, "fetching content")
	}

	for _, e := range entries {
		err := split.Walk(ctx, d.s, e.Ref, func(ref pit.Ref, leaf bool) error {
			if !leaf {
				return nil
			}
			leaves = append(leaves, ref)
			if len(leaves) < batch {
				return nil
			}
			return fetch()
		})
		if err != nil {
			return errors.Wrapf(err, "downloading %s", e.Path)
		}
	}
	if len(leaves) > 0 {
		return fetch()
	}
	return nil
}

// Close flushes any unpublished writes and releases d.
// Closing a closed Drive does nothing.
func (d *Drive) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	var err error
	if d.dirty && d.sk != nil {
		err = d.flush(context.Background())
	}
	d.closed = true
	d.entries = nil
	return errors.Wrapf(err, "closing drive %s", d.key)
}

func cleanPath(p string) (string, error) {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))[1:]
	if p == "" {
		return "", errors.New("empty path")
	}
	return p, nil
}

// Index entries come from peers and must already be in the form cleanPath produces.
func checkPath(p string) error {
	if c, err := cleanPath(p); err != nil || c != p {
		return errors.Wrapf(ErrBadPath, "%q", p)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
