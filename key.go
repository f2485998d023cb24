package pit

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// KeySize is the length in bytes of an identity key.
const KeySize = 32

// Key is the identity of a drive: its ed25519 public key.
// It is written as lowercase hex in files and on the wire.
type Key [KeySize]byte

// Topic is a discovery rendezvous value derived from a Key.
type Topic [blake2b.Size256]byte

// discoveryNamespace is hashed under the key to produce its topic,
// so that the topic reveals nothing about the key itself.
var discoveryNamespace = []byte("pit discovery")

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero tells whether k is the zero Key.
func (k Key) IsZero() bool {
	return k == Key{}
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := KeyFromHex(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// KeyFromHex parses a hex-encoded Key.
// Surrounding whitespace is ignored;
// anything else that is not exactly KeySize hex-encoded bytes is an error.
func KeyFromHex(s string) (Key, error) {
	var k Key
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return k, fmt.Errorf("key %q has wrong length", s)
	}
	_, err := hex.Decode(k[:], []byte(s))
	return k, errors.Wrapf(err, "decoding key %q", s)
}

// KeyFromBytes copies b into a Key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("key has %d bytes, want %d", len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// DiscoveryKey computes the topic on which peers holding k meet.
// It depends only on k.
func (k Key) DiscoveryKey() Topic {
	h, err := blake2b.New256(k[:])
	if err != nil {
		// Only possible for keys longer than 64 bytes.
		panic(err)
	}
	h.Write(discoveryNamespace)
	var t Topic
	copy(t[:], h.Sum(nil))
	return t
}

func (t Topic) String() string {
	return hex.EncodeToString(t[:])
}
