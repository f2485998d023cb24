package peer

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/bobg/pit"
)

// Discovery is a way for peers on a topic to find one another.
type Discovery interface {
	// Announce makes addr findable on the topic.
	Announce(ctx context.Context, topic pit.Topic, addr string) error

	// Unannounce reverses Announce.
	Unannounce(ctx context.Context, topic pit.Topic, addr string) error

	// Lookup lists the addresses announced on the topic.
	Lookup(ctx context.Context, topic pit.Topic) ([]string, error)
}

var (
	_ Discovery = &Mem{}
	_ Discovery = Static(nil)
	_ Discovery = &Dir{}
	_ Discovery = Multi(nil)
)

// Mem is an in-process Discovery,
// for peers that share a process.
type Mem struct {
	mu     sync.Mutex
	topics map[pit.Topic]map[string]struct{}
}

// NewMem produces a new, empty Mem.
func NewMem() *Mem {
	return &Mem{topics: make(map[pit.Topic]map[string]struct{})}
}

func (m *Mem) Announce(_ context.Context, topic pit.Topic, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addrs, ok := m.topics[topic]
	if !ok {
		addrs = make(map[string]struct{})
		m.topics[topic] = addrs
	}
	addrs[addr] = struct{}{}
	return nil
}

func (m *Mem) Unannounce(_ context.Context, topic pit.Topic, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addrs, ok := m.topics[topic]; ok {
		delete(addrs, addr)
		if len(addrs) == 0 {
			delete(m.topics, topic)
		}
	}
	return nil
}

func (m *Mem) Lookup(_ context.Context, topic pit.Topic) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, 0, len(m.topics[topic]))
	for addr := range m.topics[topic] {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result, nil
}

// Static is a fixed list of peer addresses,
// found on every topic.
// Announcing to it does nothing.
type Static []string

func (Static) Announce(context.Context, pit.Topic, string) error   { return nil }
func (Static) Unannounce(context.Context, pit.Topic, string) error { return nil }

func (s Static) Lookup(context.Context, pit.Topic) ([]string, error) {
	result := make([]string, 0, len(s))
	for _, addr := range s {
		if addr = strings.TrimSpace(addr); addr != "" {
			result = append(result, addr)
		}
	}
	return result, nil
}

// Dir is a rendezvous directory,
// typically on a filesystem shared by the peers.
// Each announcement is a file at Root/<topic>/<hex of address>.
// Announcements older than TTL are ignored
// (and removed when found),
// so peers that exit without unannouncing are eventually forgotten.
// Peers must re-announce more often than TTL to stay findable.
// A zero TTL means announcements never expire.
type Dir struct {
	Root string
	TTL  time.Duration
}

func (d *Dir) path(topic pit.Topic, addr string) string {
	return filepath.Join(d.Root, topic.String(), hex.EncodeToString([]byte(addr)))
}

func (d *Dir) Announce(_ context.Context, topic pit.Topic, addr string) error {
	p := d.path(topic, addr)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Wrap(err, "creating rendezvous dir")
	}
	// Rewriting refreshes the modtime.
	return errors.Wrapf(os.WriteFile(p, []byte(addr), 0644), "announcing %s", addr)
}

func (d *Dir) Unannounce(_ context.Context, topic pit.Topic, addr string) error {
	err := os.Remove(d.path(topic, addr))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "unannouncing %s", addr)
}

func (d *Dir) Lookup(_ context.Context, topic pit.Topic) ([]string, error) {
	dir := filepath.Join(d.Root, topic.String())
	infos, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", dir)
	}

	var (
		result []string
		now    = time.Now()
	)
	for _, ent := range infos {
		if !ent.Type().IsRegular() {
			continue
		}
		b, err := hex.DecodeString(ent.Name())
		if err != nil {
			continue
		}
		if d.TTL > 0 {
			info, err := ent.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) > d.TTL {
				os.Remove(filepath.Join(dir, ent.Name()))
				continue
			}
		}
		result = append(result, string(b))
	}
	sort.Strings(result)
	return result, nil
}

// Multi combines several Discovery mechanisms.
// Announcements go to all of them,
// and lookups return the union of their results.
type Multi []Discovery

func (m Multi) Announce(ctx context.Context, topic pit.Topic, addr string) error {
	var result error
	for _, d := range m {
		if err := d.Announce(ctx, topic, addr); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func (m Multi) Unannounce(ctx context.Context, topic pit.Topic, addr string) error {
	var result error
	for _, d := range m {
		if err := d.Unannounce(ctx, topic, addr); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Lookup returns the union of the addresses found by each mechanism.
// It fails only if every mechanism fails.
func (m Multi) Lookup(ctx context.Context, topic pit.Topic) ([]string, error) {
	var (
		seen  = make(map[string]struct{})
		errs  error
		nerrs int
	)
	for _, d := range m {
		addrs, err := d.Lookup(ctx, topic)
		if err != nil {
			errs = multierror.Append(errs, err)
			nerrs++
			continue
		}
		for _, addr := range addrs {
			seen[addr] = struct{}{}
		}
	}
	if len(m) > 0 && nerrs == len(m) {
		return nil, errs
	}

	result := make([]string, 0, len(seen))
	for addr := range seen {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result, nil
}

// Close closes those mechanisms that can be closed.
func (m Multi) Close() error {
	var result error
	for _, d := range m {
		if c, ok := d.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result
}
