package pit

import (
	"bytes"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

type (
	// Blob is the type of a blob.
	Blob []byte

	// Ref is the ref of a blob: its sha256 hash.
	Ref [sha256.Size]byte
)

// Ref computes the Ref of a blob.
func (b Blob) Ref() Ref {
	return sha256.Sum256(b)
}

// Zero is the zero value of a Ref.
var Zero Ref

func (r Ref) String() string {
	return hex.EncodeToString(r[:])
}

func (r Ref) Less(other Ref) bool {
	return bytes.Compare(r[:], other[:]) < 0
}

// IsZero tells whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r == Zero
}

// FromHex parses s into r.
func (r *Ref) FromHex(s string) error {
	if len(s) != 2*sha256.Size {
		return fmt.Errorf("ref %q has wrong length", s)
	}
	_, err := hex.Decode(r[:], []byte(s))
	return errors.Wrapf(err, "decoding ref %q", s)
}

// MarshalText implements encoding.TextMarshaler.
// Refs appear in JSON as hex strings.
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Ref) UnmarshalText(text []byte) error {
	return r.FromHex(string(text))
}

// Value implements driver.Valuer.
func (r Ref) Value() (driver.Value, error) {
	return r[:], nil
}

// Scan implements sql.Scanner.
func (r *Ref) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Ref", src)
	}
	if len(b) != len(r) {
		return fmt.Errorf("cannot scan %d bytes into Ref", len(b))
	}
	copy(r[:], b)
	return nil
}

func RefFromBytes(b []byte) Ref {
	var out Ref
	copy(out[:], b)
	return out
}

func RefFromHex(s string) (Ref, error) {
	var out Ref
	err := out.FromHex(s)
	return out, err
}
