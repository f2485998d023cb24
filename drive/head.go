package drive

import (
	"encoding/json"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"

	"github.com/bobg/pit"
)

// Head is a signed version of a drive.
// Index is the ref of the blob listing the drive's entries
// (pit.Zero for an empty drive).
// Prev is the ref of the previous Head blob.
// Time is in Unix nanoseconds.
type Head struct {
	Key   pit.Key `json:"key"`
	Seq   uint64  `json:"seq"`
	Index pit.Ref `json:"index"`
	Prev  pit.Ref `json:"prev"`
	Time  int64   `json:"time"`
	Sig   []byte  `json:"sig,omitempty"`
}

type index struct {
	Entries []pit.Entry `json:"entries"`
}

// ErrBadSignature means a head was not signed by its drive's key.
var ErrBadSignature = errors.New("bad signature")

func (h Head) signedBytes() ([]byte, error) {
	h.Sig = nil
	b, err := canonicaljson.Marshal(h)
	return b, errors.Wrap(err, "encoding head")
}

func (h *Head) sign(sk ed25519.PrivateKey) error {
	msg, err := h.signedBytes()
	if err != nil {
		return err
	}
	h.Sig = ed25519.Sign(sk, msg)
	return nil
}

// Verify checks that h is signed by the secret key matching h.Key.
func (h Head) Verify() error {
	msg, err := h.signedBytes()
	if err != nil {
		return err
	}
	if len(h.Sig) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(h.Key[:]), msg, h.Sig) {
		return ErrBadSignature
	}
	return nil
}

// ParseHead decodes and verifies a head blob.
func ParseHead(b pit.Blob) (Head, error) {
	var h Head
	if err := json.Unmarshal(b, &h); err != nil {
		return h, errors.Wrap(err, "decoding head")
	}
	if err := h.Verify(); err != nil {
		return h, errors.Wrapf(err, "head %d of drive %s", h.Seq, h.Key)
	}
	return h, nil
}

func (h Head) String() string {
	return fmt.Sprintf("%s@%d", h.Key, h.Seq)
}
