package repo

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit"
	"github.com/bobg/pit/authors"
	"github.com/bobg/pit/drive"
	"github.com/bobg/pit/peer"
)

// Stop ends seeding.
// It publishes any pending local changes,
// leaves the topic,
// closes every drive,
// and releases the store,
// attempting every step even if an earlier one fails.
// Calling it again does nothing and returns nil.
type Stop func() error

// SeedOption configures Seed.
type SeedOption func(*seedOptions)

type seedOptions struct {
	watch    bool
	debounce time.Duration
}

// WithWatch makes Seed republish the repository whenever its .git directory changes,
// if the local peer is an author.
func WithWatch(watch bool) SeedOption {
	return func(o *seedOptions) {
		o.watch = watch
	}
}

// WithDebounce sets how long a watched repository must be quiet before it is republished.
// The default is one second.
func WithDebounce(d time.Duration) SeedOption {
	return func(o *seedOptions) {
		o.debounce = d
	}
}

// Seed makes the drives of every author of the repository at root available to peers,
// starting with the Maintainer's,
// until the returned Stop is called.
// If the local peer is an author,
// the repository is first republished into the local peer's own drive.
// All drives are shared on the topic of the Maintainer's drive.
func (p *Pit) Seed(ctx context.Context, root string, opts ...SeedOption) (_ Stop, err error) {
	o := seedOptions{debounce: time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	root, err = filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving path")
	}

	l, err := authors.Read(root)
	if err != nil {
		return nil, err
	}
	if len(l) == 0 {
		return nil, errors.Wrap(ErrNothingToSeed, root)
	}

	cfg, err := p.config(root)
	if err != nil {
		return nil, err
	}

	var c cleanups
	defer func() {
		if err != nil {
			c.runInto(&err)
		}
	}()

	st, release, err := p.handles.Acquire(ctx, root)
	if err != nil {
		return nil, err
	}
	c.add("releasing store", release)

	var (
		ps     = peer.NewStore(st)
		kr     = keyring(root)
		drives []*drive.Drive
	)
	open := func(key pit.Key, d *drive.Drive, err error) error {
		if err != nil {
			return errors.Wrapf(err, "opening drive %s", key)
		}
		drives = append(drives, d)
		c.add("closing drive "+key.String(), d.Close)
		return nil
	}
	for _, key := range l {
		d, err := drive.Open(ctx, ps, key, drive.WithKeyring(kr))
		if err := open(key, d, err); err != nil {
			return nil, err
		}
	}

	own, err := p.ownDrive(ctx, root, ps, drives, open)
	if err != nil {
		return nil, err
	}
	if own != nil {
		res, err := p.publish(ctx, root, own)
		if err != nil {
			return nil, err
		}
		log.Info().Stringer("drive", own.Key()).Int("count", res.Count).Msg("republished")
	}

	disc, releaseDisc, err := p.discoveryFor(root, cfg)
	if err != nil {
		return nil, err
	}
	c.add("closing discovery", releaseDisc)

	topic := l[0].DiscoveryKey()
	sess, err := p.openSession(ctx, cfg, topic, peer.Scope{Store: ps, Drives: drives}, disc, true)
	if err != nil {
		return nil, err
	}
	c.add("closing session", sess.Close)

	if o.watch && own != nil {
		w, err := startWatch(filepath.Join(root, pit.GitDir), o.debounce, func(ctx context.Context) error {
			res, err := p.publish(ctx, root, own)
			if err == nil && res.Count > 0 {
				log.Info().Stringer("drive", own.Key()).Int("count", res.Count).Msg("republished")
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		c.add("stopping watcher", w.stop)
	}

	log.Info().Stringer("topic", topic).Str("addr", sess.Addr()).Int("drives", len(drives)).Msg("seeding")

	var once sync.Once
	stop := func() error {
		var err error
		once.Do(func() { err = c.run() })
		return err
	}
	return stop, nil
}

// Finds the writable drive of the local peer, if it is an author,
// opening it if it is not among drives.
func (p *Pit) ownDrive(ctx context.Context, root string, ps *peer.Store, drives []*drive.Drive, open func(pit.Key, *drive.Drive, error) error) (*drive.Drive, error) {
	role, err := authors.RoleOf(root)
	if err != nil {
		return nil, err
	}
	if role != authors.Maintainer && role != authors.Contributor {
		return nil, nil
	}
	prof, err := authors.ReadProfile(root)
	if err != nil {
		return nil, err
	}

	var own *drive.Drive
	for _, d := range drives {
		if d.Key() == prof.Key {
			own = d
			break
		}
	}
	if own == nil {
		d, err := drive.Open(ctx, ps, prof.Key, drive.WithKeyring(keyring(root)))
		if err := open(prof.Key, d, err); err != nil {
			return nil, err
		}
		own = d
	}
	if !own.Writable() {
		log.Warn().Stringer("drive", own.Key()).Msg("no secret key for own drive, not republishing")
		return nil, nil
	}
	return own, nil
}

type watcher struct {
	ch   chan notify.EventInfo
	done chan struct{}
	wg   sync.WaitGroup
}

func startWatch(dir string, debounce time.Duration, publish func(context.Context) error) (*watcher, error) {
	w := &watcher{
		ch:   make(chan notify.EventInfo, 100),
		done: make(chan struct{}),
	}
	if err := notify.Watch(dir+"/...", w.ch, notify.All); err != nil {
		return nil, errors.Wrapf(err, "watching %s/...", dir)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		var (
			fire    <-chan time.Time
			pending bool
		)
		run := func() {
			pending = false
			if err := publish(context.Background()); err != nil {
				log.Error().Err(err).Msg("republishing")
			}
		}

		for {
			select {
			case <-w.done:
				if pending {
					run()
				}
				return

			case ev := <-w.ch:
				if !publishable(ev.Path()) {
					continue
				}
				pending = true
				fire = time.After(debounce)

			case <-fire:
				fire = nil
				run()
			}
		}
	}()

	return w, nil
}

// Stops watching and waits for any pending republish.
func (w *watcher) stop() error {
	notify.Stop(w.ch)
	close(w.done)
	w.wg.Wait()
	return nil
}
