package gitutil

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobg/pit"
)

func needGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found")
	}
}

func TestExclude(t *testing.T) {
	root := t.TempDir()

	for i, want := range []bool{true, false, false} {
		added, err := Exclude(root, ".pit/")
		if err != nil {
			t.Fatal(err)
		}
		if added != want {
			t.Errorf("call %d: got added %v, want %v", i, added, want)
		}
	}

	added, err := Exclude(root, "*.tmp")
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("second pattern not added")
	}

	b, err := os.ReadFile(filepath.Join(root, pit.ExcludeFile))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), ".pit/\n*.tmp\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestHeadBranch(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/trunk\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := HeadBranch(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != "trunk" {
		t.Errorf("got %q, want trunk", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "HEAD"), []byte("0123456789abcdef0123456789abcdef01234567\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = HeadBranch(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("got %q for detached HEAD, want empty", got)
	}
}

func TestHasBranch(t *testing.T) {
	dir := t.TempDir()

	ok, err := HasBranch(dir, "main")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("found branch in empty dir")
	}

	loose := filepath.Join(dir, "refs", "heads", "feature", "x")
	if err := os.MkdirAll(filepath.Dir(loose), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(loose, []byte("abc\n"), 0644); err != nil {
		t.Fatal(err)
	}
	packed := "# pack-refs with: peeled fully-peeled sorted\n0123 refs/heads/main\n"
	if err := os.WriteFile(filepath.Join(dir, "packed-refs"), []byte(packed), 0644); err != nil {
		t.Fatal(err)
	}

	for _, c := range []struct {
		branch string
		want   bool
	}{
		{"main", true},
		{"feature/x", true},
		{"other", false},
	} {
		got, err := HasBranch(dir, c.branch)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("HasBranch(%s) = %v, want %v", c.branch, got, c.want)
		}
	}
}

func TestRun(t *testing.T) {
	needGit(t)

	ctx := context.Background()
	dir := t.TempDir()

	ok, err := IsRepo(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("empty dir is a repo")
	}

	r, err := NewRunner(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(ctx, "init"); err != nil {
		t.Fatal(err)
	}

	ok, err = IsRepo(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("initialized dir is not a repo")
	}

	_, err = r.Run(ctx, "no-such-subcommand")
	var e *ExecError
	if !errors.As(err, &e) {
		t.Fatalf("got %v, want *ExecError", err)
	}
	if e.Stderr == "" {
		t.Error("stderr not captured")
	}
	if !strings.Contains(e.Error(), "no-such-subcommand") {
		t.Errorf("error %q does not name the command", e.Error())
	}
}

func TestIsRepoLinked(t *testing.T) {
	needGit(t)
	ctx := context.Background()

	var (
		base = t.TempDir()
		main = filepath.Join(base, "main")
		wt   = filepath.Join(base, "wt")
		sub  = filepath.Join(main, "sub")
	)
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRunner(main)
	if err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"init"},
		{"config", "user.name", "Test"},
		{"config", "user.email", "test@example.com"},
		{"add", "sub/f"},
		{"commit", "-m", "First commit"},
		{"worktree", "add", wt},
	} {
		if _, err := r.Run(ctx, args...); err != nil {
			t.Fatal(err)
		}
	}

	info, err := os.Lstat(filepath.Join(wt, pit.GitDir))
	if err != nil {
		t.Fatal(err)
	}
	if info.IsDir() {
		t.Fatal("worktree .git is a directory")
	}

	// A bogus .git file in a plain directory.
	bogus := filepath.Join(base, "bogus")
	if err := os.MkdirAll(bogus, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bogus, pit.GitDir), []byte("gitdir: /nonexistent\n"), 0644); err != nil {
		t.Fatal(err)
	}

	for _, c := range []struct {
		dir  string
		want bool
	}{
		{main, true},
		{wt, true},
		{sub, false},
		{bogus, false},
	} {
		got, err := IsRepo(ctx, c.dir)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("IsRepo(%s) = %v, want %v", c.dir, got, c.want)
		}
	}
}
