// Package gcs implements a blob store on Google Cloud Storage.
// A seeder can use it to keep drive content in a bucket
// instead of on local disk.
package gcs

import (
	"context"
	"encoding/hex"
	stderrs "errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store"
)

var _ pit.AnchorStore = &Store{}

// Store is a Google Cloud Storage-based implementation of a blob store.
//
// A blob is an object named "b:" plus its hex ref.
// Each anchor update is an object named "a:", the hex-encoded anchor name, ":",
// and an inverted timestamp,
// so that listing an anchor's objects yields the newest first.
type Store struct {
	bucket *storage.BucketHandle
}

// New produces a new Store.
func New(bucket *storage.BucketHandle) *Store {
	return &Store{bucket: bucket}
}

// Get gets the blob with hash `ref`.
func (s *Store) Get(ctx context.Context, ref pit.Ref) (pit.Blob, error) {
	name := blobObjName(ref)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, pit.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading info of object %s", name)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	return b, errors.Wrapf(err, "reading contents of object %s", name)
}

// Put adds a blob to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, b pit.Blob) (pit.Ref, bool, error) {
	var (
		ref  = b.Ref()
		name = blobObjName(ref)
		obj  = s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
		w    = obj.NewWriter(ctx)
	)

	_, err := w.Write(b)
	if err != nil {
		w.Close()
		return ref, false, errors.Wrapf(err, "writing object %s", name)
	}

	// The precondition is checked when the upload completes.
	err = w.Close()
	var e *googleapi.Error
	if stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed {
		return ref, false, nil
	}
	if err != nil {
		return ref, false, errors.Wrapf(err, "writing object %s", name)
	}
	return ref, true, nil
}

// ListRefs produces all blob refs in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start pit.Ref, f func(pit.Ref) error) error {
	// Google Cloud Storage iterators have no API for starting in the middle of a bucket.
	// But they can filter by object-name prefix.
	// So we take (the hex encoding of) `start` and repeatedly compute prefixes for the objects we want.
	// If `start` is e67a, for example, the sequence of generated prefixes is:
	//   e67b e67c e67d e67e e67f
	//   e68 e69 e6a e6b e6c e6d e6e e6f
	//   e7 e8 e9 ea eb ec ed ee ef
	//   f
	return eachHexPrefix(start.String(), false, func(prefix string) error {
		return s.listRefs(ctx, prefix, f)
	})
}

func (s *Store) listRefs(ctx context.Context, prefix string, f func(pit.Ref) error) error {
	iter := s.bucket.Objects(ctx, &storage.Query{Prefix: "b:" + prefix})
	for {
		obj, err := iter.Next()
		if stderrs.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "iterating over blob objects")
		}
		ref, err := refFromBlobObjName(obj.Name)
		if err != nil {
			return errors.Wrapf(err, "decoding object name %s", obj.Name)
		}
		if err = f(ref); err != nil {
			return err
		}
	}
}

// PutAnchor implements pit.AnchorStore.
func (s *Store) PutAnchor(ctx context.Context, name string, ref pit.Ref, at time.Time) error {
	objName := anchorObjName(name, at)
	w := s.bucket.Object(objName).NewWriter(ctx)
	if _, err := w.Write(ref[:]); err != nil {
		w.Close()
		return errors.Wrapf(err, "writing object %s", objName)
	}
	return errors.Wrapf(w.Close(), "writing object %s", objName)
}

// GetAnchor gets the latest blob ref for a given anchor as of a given time.
func (s *Store) GetAnchor(ctx context.Context, name string, at time.Time) (pit.Ref, error) {
	iter := s.bucket.Objects(ctx, &storage.Query{Prefix: anchorPrefix(name)})

	// Anchors come back in reverse chronological order
	// (since we usually want the latest one).
	// Find the first one whose timestamp is `at` or earlier.
	for {
		attrs, err := iter.Next()
		if stderrs.Is(err, iterator.Done) {
			return pit.Zero, pit.ErrNotFound
		}
		if err != nil {
			return pit.Zero, errors.Wrap(err, "iterating over anchor objects")
		}
		_, atime, err := anchorFromObjName(attrs.Name)
		if err != nil {
			return pit.Zero, errors.Wrapf(err, "decoding object name %s", attrs.Name)
		}
		if atime.After(at) {
			continue
		}

		return s.getAnchorRef(ctx, attrs.Name)
	}
}

// ListAnchors implements pit.AnchorGetter.
func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, pit.TimeRef) error) error {
	var (
		iter   = s.bucket.Objects(ctx, &storage.Query{Prefix: "a:"})
		byName = make(map[string][]pit.TimeRef)
	)
	for {
		attrs, err := iter.Next()
		if stderrs.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "iterating over anchor objects")
		}
		name, atime, err := anchorFromObjName(attrs.Name)
		if err != nil {
			return errors.Wrapf(err, "decoding object name %s", attrs.Name)
		}
		if name <= start {
			continue
		}
		ref, err := s.getAnchorRef(ctx, attrs.Name)
		if err != nil {
			return err
		}
		byName[name] = append(byName[name], pit.TimeRef{T: atime, R: ref})
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		trs := byName[name]
		sort.Slice(trs, func(i, j int) bool { return trs[i].T.Before(trs[j].T) })
		for _, tr := range trs {
			if err := f(name, tr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) getAnchorRef(ctx context.Context, objName string) (pit.Ref, error) {
	r, err := s.bucket.Object(objName).NewReader(ctx)
	if err != nil {
		return pit.Zero, errors.Wrapf(err, "reading info of object %s", objName)
	}
	defer r.Close()

	var ref pit.Ref
	if r.Attrs.Size != int64(len(ref)) {
		return pit.Zero, fmt.Errorf("object %s has wrong size %d (want %d)", objName, r.Attrs.Size, len(ref))
	}

	_, err = io.ReadFull(r, ref[:])
	return ref, errors.Wrapf(err, "reading contents of object %s", objName)
}

func eachHexPrefix(prefix string, incl bool, f func(string) error) error {
	prefix = strings.ToLower(prefix)
	for len(prefix) > 0 {
		end := hexval(prefix[len(prefix)-1])
		if !incl {
			end++
		}
		prefix = prefix[:len(prefix)-1]
		for c := end; c < 16; c++ {
			err := f(prefix + string(hexdigit(c)))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func hexval(b byte) int {
	switch {
	case '0' <= b && b <= '9':
		return int(b - '0')
	case 'a' <= b && b <= 'f':
		return int(10 + b - 'a')
	case 'A' <= b && b <= 'F':
		return int(10 + b - 'A')
	}
	return 0
}

func hexdigit(n int) byte {
	if n < 10 {
		return byte(n + '0')
	}
	return byte(n - 10 + 'a')
}

func blobObjName(ref pit.Ref) string {
	return "b:" + ref.String()
}

func refFromBlobObjName(name string) (pit.Ref, error) {
	return pit.RefFromHex(strings.TrimPrefix(name, "b:"))
}

func anchorPrefix(name string) string {
	return "a:" + hex.EncodeToString([]byte(name)) + ":"
}

func anchorObjName(name string, at time.Time) string {
	return anchorPrefix(name) + invTime(at)
}

var anchorNameRegex = regexp.MustCompile(`^a:([0-9a-f]*):(\d{20})$`)

func anchorFromObjName(objName string) (string, time.Time, error) {
	m := anchorNameRegex.FindStringSubmatch(objName)
	if len(m) < 3 {
		return "", time.Time{}, errors.New("malformed name")
	}
	name, err := hex.DecodeString(m[1])
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "hex-decoding anchor")
	}
	at, err := timeFromInv(m[2])
	return string(name), at, err
}

// InvTime encodes t as a fixed-width decimal string
// that sorts in reverse chronological order.
// Times outside the range of int64 nanoseconds are clamped.
func invTime(t time.Time) string {
	u := uint64(t.UnixNano()) ^ (1 << 63)
	return fmt.Sprintf("%020d", math.MaxUint64-u)
}

func timeFromInv(s string) (time.Time, error) {
	inv, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parsing inverted time %s", s)
	}
	u := math.MaxUint64 - inv
	return time.Unix(0, int64(u^(1<<63))), nil
}

func init() {
	store.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (pit.AnchorStore, error) {
		bucketName, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		var options []option.ClientOption
		if creds, ok := conf["creds"].(string); ok && creds != "" {
			options = append(options, option.WithCredentialsFile(creds))
		}
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName)), nil
	})
}
