// Package authors keeps track of who may publish a repository.
//
// The authors list is an ordered set of identity keys.
// The first is the Maintainer,
// whose drive is the repository's canonical published copy.
// The rest are Contributors, in the order they were added.
// The list is advisory:
// nothing stops the holder of a drive's secret key from writing it.
package authors

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/bobg/pit"
)

// List is an ordered list of distinct identity keys.
// List[0] is the Maintainer.
type List []pit.Key

// Maintainer returns the first key in the list,
// and false if the list is empty.
func (l List) Maintainer() (pit.Key, bool) {
	if len(l) == 0 {
		return pit.Key{}, false
	}
	return l[0], true
}

// Index returns the position of key in l,
// or -1 if it is absent.
func (l List) Index(key pit.Key) int {
	for i, k := range l {
		if k == key {
			return i
		}
	}
	return -1
}

// Contains tells whether key is in l.
func (l List) Contains(key pit.Key) bool {
	return l.Index(key) >= 0
}

// Parse reads a List from its on-disk form:
// one hex key per line.
// Blank lines are skipped
// and only the first occurrence of a key is kept.
func Parse(b []byte) (List, error) {
	var (
		result List
		seen   = make(map[pit.Key]bool)
		sc     = bufio.NewScanner(bytes.NewReader(b))
		lineno int
	)
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, err := pit.KeyFromHex(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, key)
	}
	return result, errors.Wrap(sc.Err(), "scanning authors")
}

// Read reads the authors list of the repository at root.
// It looks first in the git metadata directory
// and then in the mirrored copy of the Maintainer's published tree.
// It returns nil, nil if there is no list in either place.
func Read(root string) (List, error) {
	for _, p := range []string{
		filepath.Join(root, pit.AuthorsFile),
		filepath.Join(root, pit.MainDir, "authors"),
	} {
		b, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", p)
		}
		l, err := Parse(b)
		return l, errors.Wrapf(err, "parsing %s", p)
	}
	return nil, nil
}

var (
	appendMu sync.Mutex
	flocker  flock.Locker
)

// Append adds key to the end of the authors list of the repository at root,
// creating the list if needed.
// Adding a key that is already present does nothing.
// The result tells whether the key was added.
func Append(root string, key pit.Key) (bool, error) {
	p := filepath.Join(root, pit.AuthorsFile)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return false, errors.Wrapf(err, "creating directory for %s", p)
	}

	appendMu.Lock()
	defer appendMu.Unlock()

	lockpath := p + ".lock"
	if err := flocker.Lock(lockpath); err != nil {
		return false, errors.Wrapf(err, "locking %s", p)
	}
	defer flocker.Unlock(lockpath)

	b, err := os.ReadFile(p)
	if err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "reading %s", p)
	}
	l, err := Parse(b)
	if err != nil {
		return false, errors.Wrapf(err, "parsing %s", p)
	}
	if l.Contains(key) {
		return false, nil
	}

	line := key.String() + "\n"
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

// Remove takes key out of the authors list of the repository at root,
// deleting the list if that leaves it empty.
// The result tells whether the key was present.
func Remove(root string, key pit.Key) (bool, error) {
	p := filepath.Join(root, pit.AuthorsFile)

	appendMu.Lock()
	defer appendMu.Unlock()

	lockpath := p + ".lock"
	if err := flocker.Lock(lockpath); err != nil {
		return false, errors.Wrapf(err, "locking %s", p)
	}
	defer flocker.Unlock(lockpath)

	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "reading %s", p)
	}
	l, err := Parse(b)
	if err != nil {
		return false, errors.Wrapf(err, "parsing %s", p)
	}
	i := l.Index(key)
	if i < 0 {
		return false, nil
	}
	l = append(l[:i:i], l[i+1:]...)
	if len(l) == 0 {
		return true, errors.Wrapf(os.Remove(p), "removing %s", p)
	}

	var buf strings.Builder
	for _, k := range l {
		buf.WriteString(k.String())
		buf.WriteByte('\n')
	}
	return true, errors.Wrapf(os.WriteFile(p, []byte(buf.String()), 0644), "writing %s", p)
}

// Profile describes the local peer.
type Profile struct {
	Key   pit.Key `json:"key"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
}

// ReadProfile reads the local peer's profile in the repository at root.
// It returns nil, nil if there is none.
func ReadProfile(root string) (*Profile, error) {
	p := filepath.Join(root, pit.PeerFile)
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", p)
	}
	var prof Profile
	if err := json.Unmarshal(b, &prof); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", p)
	}
	return &prof, nil
}

// RemoveProfile deletes the local peer's profile in the repository at root.
// A missing profile is not an error.
func RemoveProfile(root string) error {
	p := filepath.Join(root, pit.PeerFile)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", p)
	}
	return nil
}

// WriteProfile writes the local peer's profile in the repository at root.
func WriteProfile(root string, prof *Profile) error {
	p := filepath.Join(root, pit.PeerFile)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", p)
	}
	b, err := json.Marshal(prof)
	if err != nil {
		return errors.Wrap(err, "encoding profile")
	}
	return errors.Wrapf(os.WriteFile(p, b, 0644), "writing %s", p)
}
