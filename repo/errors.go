package repo

import "github.com/pkg/errors"

var (
	// ErrNotGitRepo is the error for operating on a directory that is not the root of a git working tree.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrLinkedWorktree is the error for initializing a linked worktree or submodule,
	// whose .git is a file rather than the directory Pit keeps its records in.
	ErrLinkedWorktree = errors.New("linked worktrees and submodules cannot be published")

	// ErrAlreadyInitialized is the error for initializing a repository twice.
	ErrAlreadyInitialized = errors.New("pit already initialized")

	// ErrAlreadyExists is the error for cloning into a directory that already holds a git repository.
	ErrAlreadyExists = errors.New("destination already contains a git repository")

	// ErrNothingToSeed is the error for seeding a repository with no authors.
	ErrNothingToSeed = errors.New("nothing to seed")

	// ErrNotImplemented is matched by every *UnsupportedError.
	ErrNotImplemented = errors.New("not implemented")
)

// UnsupportedError is the error from an operation this version does not support.
type UnsupportedError struct {
	Op string
}

func (e *UnsupportedError) Error() string {
	return e.Op + ": " + ErrNotImplemented.Error()
}

// Is makes errors.Is(err, ErrNotImplemented) true for any *UnsupportedError.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrNotImplemented
}
