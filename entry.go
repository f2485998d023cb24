package pit

import "os"

// Entry describes one file in a tree.
// Path is slash-separated and relative to the tree's root.
// Ref is the root of the file's split tree when the content is in a blob store,
// and Zero when it is not (as for files on the local filesystem).
type Entry struct {
	Path string      `json:"path"`
	Mode os.FileMode `json:"mode"`
	Size int64       `json:"size"`
	Ref  Ref         `json:"ref"`
}

// Same tells whether e and other certainly have the same content and mode
// without reading either of them.
// A false result means only that the content must be compared.
func (e Entry) Same(other Entry) bool {
	if e.Mode != other.Mode || e.Size != other.Size {
		return false
	}
	return !e.Ref.IsZero() && e.Ref == other.Ref
}

// Differs tells whether e and other certainly differ
// without reading either of them.
func (e Entry) Differs(other Entry) bool {
	if e.Mode != other.Mode || e.Size != other.Size {
		return true
	}
	return !e.Ref.IsZero() && !other.Ref.IsZero() && e.Ref != other.Ref
}
