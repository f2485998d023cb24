package authors

import "github.com/pkg/errors"

// Role is the local peer's relationship to a repository.
type Role int

const (
	// Unknown means the repository has no profile or no authors list,
	// so nothing can be assumed.
	Unknown Role = iota

	// Maintainer means the local peer's key is first in the authors list.
	Maintainer

	// Contributor means the local peer has a profile,
	// the repository has an authors list,
	// and the local peer's key is not first in it.
	Contributor
)

func (r Role) String() string {
	switch r {
	case Maintainer:
		return "maintainer"
	case Contributor:
		return "contributor"
	default:
		return "unknown"
	}
}

// RoleOf determines the local peer's role in the repository at root.
func RoleOf(root string) (Role, error) {
	prof, err := ReadProfile(root)
	if err != nil {
		return Unknown, errors.Wrap(err, "reading profile")
	}
	l, err := Read(root)
	if err != nil {
		return Unknown, errors.Wrap(err, "reading authors")
	}
	return roleOf(prof, l), nil
}

func roleOf(prof *Profile, l List) Role {
	m, ok := l.Maintainer()
	switch {
	case prof == nil || !ok:
		return Unknown
	case prof.Key == m:
		return Maintainer
	default:
		return Contributor
	}
}

// IsMaintainer tells whether the local peer maintains the repository at root.
func IsMaintainer(root string) (bool, error) {
	r, err := RoleOf(root)
	return r == Maintainer, err
}

// IsContributor tells whether the local peer contributes to the repository at root.
// It is false when there is no authors list.
func IsContributor(root string) (bool, error) {
	r, err := RoleOf(root)
	return r == Contributor, err
}
