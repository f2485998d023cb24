package mirror_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/pit/drive"
	"github.com/bobg/pit/local"
	. "github.com/bobg/pit/mirror"
	"github.com/bobg/pit/store/mem"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func readFiles(ctx context.Context, t *testing.T, src Source) map[string]string {
	t.Helper()
	entries, err := src.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	result := make(map[string]string)
	for _, e := range entries {
		rc, err := src.Open(ctx, e.Path)
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		result[e.Path] = string(b)
	}
	return result
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	files := map[string]string{
		"HEAD":                  "ref: refs/heads/main\n",
		"config":                "[core]\n\tbare = false\n",
		"objects/ab/cdef":       strings.Repeat("x", 100000),
		"refs/heads/main":       "0123456789abcdef\n",
		"refs/heads/main.extra": "",
	}

	srcDir := t.TempDir()
	writeFiles(t, srcDir, files)
	src, err := local.New(srcDir)
	if err != nil {
		t.Fatal(err)
	}

	d, err := drive.Create(ctx, mem.New(), &drive.MemKeyring{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	res, err := Run(ctx, src, d)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Result{Count: len(files), Added: len(files)}, res); diff != "" {
		t.Errorf("first pass mismatch (-want +got):\n%s", diff)
	}
	if d.Version() != 1 {
		t.Errorf("got drive version %d, want 1", d.Version())
	}

	res, err = Run(ctx, src, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 {
		t.Errorf("got %d changes on second pass, want 0", res.Count)
	}
	if d.Version() != 1 {
		t.Errorf("got drive version %d after no-op pass, want 1", d.Version())
	}

	dst, err := local.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	res, err = Run(ctx, d, dst)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != len(files) {
		t.Errorf("got %d added, want %d", res.Added, len(files))
	}
	if diff := cmp.Diff(files, readFiles(ctx, t, dst)); diff != "" {
		t.Errorf("checkout mismatch (-want +got):\n%s", diff)
	}

	res, err = Run(ctx, d, dst)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 {
		t.Errorf("got %d changes on second checkout, want 0", res.Count)
	}
}

func TestChangesAndRemovals(t *testing.T) {
	ctx := context.Background()

	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFiles(t, srcDir, map[string]string{
		"a":     "same",
		"b":     "new content",
		"c/d/e": "nested",
	})
	writeFiles(t, dstDir, map[string]string{
		"a":       "same",
		"b":       "old content",
		"c/d":     "file where a dir belongs",
		"gone":    "extraneous",
		"x/y/z/w": "deep extraneous",
	})

	src, err := local.New(srcDir)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := local.New(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Run(ctx, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	want := Result{Count: 5, Added: 1, Changed: 1, Removed: 3}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(readFiles(ctx, t, src), readFiles(ctx, t, dst)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "x")); !os.IsNotExist(err) {
		t.Errorf("empty directory x not pruned (err %v)", err)
	}
}

func TestModeChange(t *testing.T) {
	ctx := context.Background()

	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFiles(t, srcDir, map[string]string{"hook": "#!/bin/sh\n"})
	writeFiles(t, dstDir, map[string]string{"hook": "#!/bin/sh\n"})
	if err := os.Chmod(filepath.Join(srcDir, "hook"), 0755); err != nil {
		t.Fatal(err)
	}

	src, _ := local.New(srcDir)
	dst, _ := local.New(dstDir)

	res, err := Run(ctx, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed != 1 {
		t.Errorf("got %d changed, want 1", res.Changed)
	}
	info, err := os.Stat(filepath.Join(dstDir, "hook"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("got mode %v, want 0755", info.Mode().Perm())
	}
}

func TestEmptySource(t *testing.T) {
	ctx := context.Background()

	src, _ := local.New(t.TempDir())
	d, err := drive.Create(ctx, mem.New(), &drive.MemKeyring{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	res, err := Run(ctx, src, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 {
		t.Errorf("got count %d, want 0", res.Count)
	}
}

func TestFilterAndPrune(t *testing.T) {
	ctx := context.Background()

	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFiles(t, srcDir, map[string]string{
		"keep":        "1",
		"skip/a":      "2",
		"also/keep":   "3",
		"skip/b/c":    "4",
	})
	writeFiles(t, dstDir, map[string]string{
		"mine": "local only",
	})

	src, _ := local.New(srcDir)
	dst, _ := local.New(dstDir)

	job := Begin(ctx, src, dst,
		Filter(func(p string) bool { return !strings.HasPrefix(p, "skip/") }),
		Prune(false),
		Concurrency(1),
	)
	<-job.Done()
	res, err := job.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Result{Count: 2, Added: 2}, res); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	want := map[string]string{
		"also/keep": "3",
		"keep":      "1",
		"mine":      "local only",
	}
	if diff := cmp.Diff(want, readFiles(ctx, t, dst)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}
