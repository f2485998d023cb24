package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTree(t *testing.T) {
	var (
		ctx  = context.Background()
		root = filepath.Join(t.TempDir(), "main")
	)

	tree, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	entries, err := tree.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("new tree has %d entries", len(entries))
	}

	files := map[string]string{
		"a.b":        "dot",
		"a/b":        "slash",
		"a/c/d/e":    "deep",
		"hooks/post": "hook",
	}
	for p, content := range files {
		mode := os.FileMode(0644)
		if strings.HasPrefix(p, "hooks/") {
			mode = 0755
		}
		if err := tree.Put(ctx, p, mode, strings.NewReader(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink("a.b", filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	entries, err = tree.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
		if e.Size != int64(len(files[e.Path])) {
			t.Errorf("%s: got size %d, want %d", e.Path, e.Size, len(files[e.Path]))
		}
	}
	if diff := cmp.Diff([]string{"a.b", "a/b", "a/c/d/e", "hooks/post"}, paths); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if entries[3].Mode != 0755 {
		t.Errorf("got mode %v, want 0755", entries[3].Mode)
	}

	rc, err := tree.Open(ctx, "a/c/d/e")
	if err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "deep" {
		t.Errorf("got %q, want deep", b)
	}

	if err := tree.Del(ctx, "a/c/d/e"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "c")); !os.IsNotExist(err) {
		t.Errorf("empty directories not pruned (stat error %v)", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b")); err != nil {
		t.Errorf("sibling removed: %s", err)
	}
	if err := tree.Del(ctx, "nonesuch/file"); err != nil {
		t.Errorf("deleting a nonexistent file: %s", err)
	}
}

func TestOutside(t *testing.T) {
	var (
		ctx  = context.Background()
		base = t.TempDir()
		root = filepath.Join(base, "clone", "main")
	)

	tree, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"../escaped", "../../escaped", "/escaped", "..", ""} {
		if err := tree.Put(ctx, p, 0644, strings.NewReader("x")); !errors.Is(err, ErrOutside) {
			t.Errorf("Put(%q): got %v, want %v", p, err, ErrOutside)
		}
		if err := tree.Del(ctx, p); !errors.Is(err, ErrOutside) {
			t.Errorf("Del(%q): got %v, want %v", p, err, ErrOutside)
		}
		if _, err := tree.Open(ctx, p); !errors.Is(err, ErrOutside) {
			t.Errorf("Open(%q): got %v, want %v", p, err, ErrOutside)
		}
	}

	for _, p := range []string{filepath.Join(base, "escaped"), filepath.Join(base, "clone", "escaped")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s exists (err %v)", p, err)
		}
	}

	// Non-canonical but contained paths are fine.
	if err := tree.Put(ctx, "a/../b", 0644, strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "b")); err != nil {
		t.Error(err)
	}
}
