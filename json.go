package pit

import (
	"context"
	"encoding/json"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"
)

// GetJSON reads a blob from a blob store and parses it as JSON into v.
func GetJSON(ctx context.Context, g Getter, ref Ref, v interface{}) error {
	b, err := g.Get(ctx, ref)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(b, v), "decoding blob %s", ref)
}

// PutJSON stores the canonical JSON encoding of v as a blob.
// Equal values always produce the same blob and therefore the same ref.
func PutJSON(ctx context.Context, s Store, v interface{}) (Ref, bool, error) {
	b, err := canonicaljson.Marshal(v)
	if err != nil {
		return Zero, false, errors.Wrap(err, "encoding canonical JSON")
	}
	return s.Put(ctx, b)
}
