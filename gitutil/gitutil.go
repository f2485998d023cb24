// Package gitutil runs git and reads and writes bits of git's metadata.
package gitutil

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit"
)

// ErrNoGit is the error when no git program can be found.
var ErrNoGit = errors.New("no git program on path")

// Runner runs git commands in a directory.
type Runner struct {
	gitPath string

	// Dir is the directory the commands are run in.
	Dir string
}

// NewRunner produces a Runner for the given directory.
func NewRunner(dir string) (*Runner, error) {
	p, err := exec.LookPath("git")
	if err != nil {
		return nil, errors.Wrap(ErrNoGit, err.Error())
	}
	return &Runner{gitPath: p, Dir: dir}, nil
}

// Result is the output of a successful git command.
type Result struct {
	Stdout string
	Stderr string
}

// Run runs a git command.
// Omit the "git" part of the command.
// A command that exits unsuccessfully produces an *ExecError.
func (r *Runner) Run(ctx context.Context, args ...string) (Result, error) {
	log.Debug().Str("dir", r.Dir).Strs("args", args).Msg("git")

	var (
		stdout bytes.Buffer
		stderr bytes.Buffer
		cmd    = exec.CommandContext(ctx, r.gitPath, args...)
	)
	cmd.Dir = r.Dir
	cmd.Env = os.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, &ExecError{
			Args:   args,
			Err:    err,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}
	if stderr.Len() > 0 {
		log.Debug().Str("stderr", stderr.String()).Msg("git")
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// ExecError is the error from a git command that did not succeed.
type ExecError struct {
	Args   []string
	Err    error
	Stdout string
	Stderr string
}

func (e *ExecError) Error() string {
	b := new(strings.Builder)
	b.WriteString("git ")
	b.WriteString(strings.Join(e.Args, " "))
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsRepo tells whether dir is the root of a git working tree.
// The working tree may be a linked worktree or a submodule,
// whose .git is a file rather than a directory.
func IsRepo(ctx context.Context, dir string) (bool, error) {
	if _, err := os.Lstat(filepath.Join(dir, pit.GitDir)); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	r, err := NewRunner(dir)
	if err != nil {
		return false, err
	}
	res, err := r.Run(ctx, "rev-parse", "--show-toplevel")
	var e *ExecError
	if errors.As(err, &e) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	top, err := canonical(strings.TrimSpace(res.Stdout))
	if err != nil {
		return false, err
	}
	want, err := canonical(dir)
	if err != nil {
		return false, err
	}
	return top == want, nil
}

func canonical(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", dir)
	}
	result, err := filepath.EvalSymlinks(abs)
	return result, errors.Wrapf(err, "resolving %s", dir)
}

// ConfigGlobal looks up a setting in the user's global git configuration.
func ConfigGlobal(ctx context.Context, name string) (string, error) {
	r, err := NewRunner("")
	if err != nil {
		return "", err
	}
	res, err := r.Run(ctx, "config", "--global", "--get", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Exclude adds pattern to the repository's exclude list at root
// unless it is already there.
// The result tells whether it was added.
func Exclude(root, pattern string) (bool, error) {
	p := filepath.Join(root, pit.ExcludeFile)
	b, err := os.ReadFile(p)
	if err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "reading %s", p)
	}

	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == pattern {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return false, errors.Wrapf(err, "creating directory for %s", p)
	}
	line := pattern + "\n"
	if len(b) > 0 && b[len(b)-1] != '\n' {
		line = "\n" + line
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return false, errors.Wrapf(err, "opening %s", p)
	}
	if _, err = f.WriteString(line); err != nil {
		f.Close()
		return false, errors.Wrapf(err, "appending to %s", p)
	}
	return true, errors.Wrapf(f.Close(), "closing %s", p)
}

// HeadBranch reads the name of the branch that HEAD refers to
// in the git metadata directory gitDir.
// It returns "" for a detached HEAD.
func HeadBranch(gitDir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", errors.Wrap(err, "reading HEAD")
	}
	s := strings.TrimSpace(string(b))
	if !strings.HasPrefix(s, "ref: refs/heads/") {
		return "", nil
	}
	return strings.TrimPrefix(s, "ref: refs/heads/"), nil
}

// HasBranch tells whether the named branch exists
// in the git metadata directory gitDir,
// as a loose ref or a packed one.
func HasBranch(gitDir, branch string) (bool, error) {
	ref := "refs/heads/" + branch

	_, err := os.Stat(filepath.Join(gitDir, filepath.FromSlash(ref)))
	if err == nil {
		return true, nil
	}
	if !os.IsNotExist(err) {
		return false, err
	}

	b, err := os.ReadFile(filepath.Join(gitDir, "packed-refs"))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "reading packed-refs")
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[1] == ref {
			return true, nil
		}
	}
	return false, sc.Err()
}
