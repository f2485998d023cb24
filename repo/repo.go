// Package repo carries out Pit's operations on git repositories:
// publishing one as a drive (Init),
// checking a drive out as a new repository (Clone),
// and keeping a repository's drives available to peers (Seed).
//
// Every operation releases whatever it opened on every exit path.
package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit"
	"github.com/bobg/pit/authors"
	"github.com/bobg/pit/config"
	"github.com/bobg/pit/drive"
	"github.com/bobg/pit/gitutil"
	"github.com/bobg/pit/local"
	"github.com/bobg/pit/mirror"
	"github.com/bobg/pit/peer"
)

// UnknownPeer is the name and email recorded when no identity is configured.
const UnknownPeer = "unknownPeer"

// Pit performs operations on repositories.
// It is safe for concurrent use.
type Pit struct {
	handles   *Handles
	discovery peer.Discovery
	conf      *config.Config
}

// Option configures a Pit.
type Option func(*Pit)

// WithHandles makes the Pit use the given store registry.
func WithHandles(h *Handles) Option {
	return func(p *Pit) {
		p.handles = h
	}
}

// WithDiscovery makes the Pit find peers with d
// instead of the mechanisms named in each repository's configuration.
func WithDiscovery(d peer.Discovery) Option {
	return func(p *Pit) {
		p.discovery = d
	}
}

// WithConfig makes the Pit use cfg for every repository
// instead of loading each repository's configuration.
func WithConfig(cfg config.Config) Option {
	return func(p *Pit) {
		p.conf = &cfg
	}
}

// New produces a new Pit.
func New(opts ...Option) *Pit {
	p := &Pit{}
	for _, opt := range opts {
		opt(p)
	}
	if p.handles == nil {
		p.handles = NewHandles(p.openStore)
	}
	return p
}

// Handles is the registry of stores the Pit has open.
func (p *Pit) Handles() *Handles {
	return p.handles
}

func (p *Pit) config(root string) (config.Config, error) {
	if p.conf != nil {
		return *p.conf, nil
	}
	return config.Load(root)
}

func (p *Pit) openStore(ctx context.Context, root string) (pit.AnchorStore, error) {
	cfg, err := p.config(root)
	if err != nil {
		return nil, err
	}
	return cfg.OpenStore(ctx, root)
}

// Returns the discovery mechanism for root and a function to release it.
func (p *Pit) discoveryFor(root string, cfg config.Config) (peer.Discovery, func() error, error) {
	if p.discovery != nil {
		return p.discovery, func() error { return nil }, nil
	}
	d, err := cfg.Discovery(root)
	if err != nil {
		return nil, nil, errors.Wrap(err, "configuring discovery")
	}
	release := func() error {
		if c, ok := d.(interface{ Close() error }); ok {
			return c.Close()
		}
		return nil
	}
	return d, release, nil
}

func keyring(root string) drive.Keyring {
	return drive.DirKeyring{Dir: filepath.Join(root, pit.KeysDir)}
}

// Lock files are transient and local.
func publishable(path string) bool {
	return !strings.HasSuffix(path, ".lock")
}

// InitOptions are the options for Init.
type InitOptions struct {
	// Name and Email identify the local peer.
	// When empty they come from git's global configuration,
	// and failing that are UnknownPeer.
	Name, Email string
}

// Init publishes the git repository at root.
// It creates a new drive,
// records the local peer's profile,
// becomes the Maintainer if no one else is,
// excludes Pit's metadata from git,
// and mirrors the repository's .git directory into the drive.
// It returns the new drive's key.
// On failure the profile and authors entry are removed again,
// so Init can be retried.
func (p *Pit) Init(ctx context.Context, root string, opts InitOptions) (_ pit.Key, err error) {
	root, err = filepath.Abs(root)
	if err != nil {
		return pit.Key{}, errors.Wrap(err, "resolving path")
	}

	ok, err := gitutil.IsRepo(ctx, root)
	if err != nil {
		return pit.Key{}, errors.Wrapf(err, "checking %s", root)
	}
	if !ok {
		return pit.Key{}, errors.Wrap(ErrNotGitRepo, root)
	}
	if info, err := os.Stat(filepath.Join(root, pit.GitDir)); err != nil || !info.IsDir() {
		return pit.Key{}, errors.Wrap(ErrLinkedWorktree, root)
	}
	prof, err := authors.ReadProfile(root)
	if err != nil {
		return pit.Key{}, err
	}
	if prof != nil {
		return pit.Key{}, errors.Wrap(ErrAlreadyInitialized, root)
	}

	if err := os.MkdirAll(filepath.Join(root, pit.ReposDir), 0755); err != nil {
		return pit.Key{}, errors.Wrap(err, "creating metadata directories")
	}

	var c cleanups
	defer c.runInto(&err)

	// Undone on failure, so that Init can be retried.
	var undo cleanups
	defer func() {
		if err != nil {
			undo.runInto(&err)
		}
	}()

	st, release, err := p.handles.Acquire(ctx, root)
	if err != nil {
		return pit.Key{}, err
	}
	c.add("releasing store", release)

	d, err := drive.Create(ctx, st, keyring(root))
	if err != nil {
		return pit.Key{}, errors.Wrap(err, "creating drive")
	}
	c.add("closing drive", d.Close)

	key := d.Key()
	prof = &authors.Profile{
		Key:   key,
		Name:  identity(ctx, opts.Name, "user.name"),
		Email: identity(ctx, opts.Email, "user.email"),
	}
	if err := authors.WriteProfile(root, prof); err != nil {
		return pit.Key{}, err
	}
	undo.add("removing profile", func() error { return authors.RemoveProfile(root) })

	l, err := authors.Read(root)
	if err != nil {
		return pit.Key{}, err
	}
	if len(l) == 0 {
		if _, err := authors.Append(root, key); err != nil {
			return pit.Key{}, errors.Wrap(err, "adding maintainer")
		}
		undo.add("removing maintainer", func() error {
			_, err := authors.Remove(root, key)
			return err
		})
		log.Info().Stringer("key", key).Msg("initialized as maintainer")
	} else {
		log.Info().Stringer("key", key).Stringer("maintainer", l[0]).Msg("initialized as contributor")
	}

	if _, err := gitutil.Exclude(root, pit.MetaDir+"/"); err != nil {
		return pit.Key{}, err
	}

	res, err := p.publish(ctx, root, d)
	if err != nil {
		return pit.Key{}, err
	}
	log.Info().Int("count", res.Count).Msg("imported")

	return key, nil
}

func identity(ctx context.Context, given, setting string) string {
	if given != "" {
		return given
	}
	val, err := gitutil.ConfigGlobal(ctx, setting)
	if err != nil || val == "" {
		log.Debug().Err(err).Str("setting", setting).Msg("no identity configured")
		return UnknownPeer
	}
	return val
}

// Mirrors root's .git directory into d.
func (p *Pit) publish(ctx context.Context, root string, d *drive.Drive) (mirror.Result, error) {
	src, err := local.New(filepath.Join(root, pit.GitDir))
	if err != nil {
		return mirror.Result{}, err
	}
	res, err := mirror.Run(ctx, src, d, mirror.Filter(publishable))
	return res, errors.Wrap(err, "publishing")
}

// Clone checks out the drive with the given key as a new git repository at dst.
// It joins the drive's topic,
// mirrors the drive into dst's .pit/repos/main,
// and makes dst a git repository tracking that mirror as its origin.
// Finding no peers is not an error;
// the result is an empty repository.
func (p *Pit) Clone(ctx context.Context, key pit.Key, dst string) (_ mirror.Result, err error) {
	dst, err = filepath.Abs(dst)
	if err != nil {
		return mirror.Result{}, errors.Wrap(err, "resolving path")
	}
	if _, err := os.Stat(filepath.Join(dst, pit.GitDir)); err == nil {
		return mirror.Result{}, errors.Wrap(ErrAlreadyExists, dst)
	}
	if err := os.MkdirAll(filepath.Join(dst, pit.ReposDir), 0755); err != nil {
		return mirror.Result{}, errors.Wrap(err, "creating metadata directories")
	}

	cfg, err := p.config(dst)
	if err != nil {
		return mirror.Result{}, err
	}

	var c cleanups
	defer c.runInto(&err)

	st, release, err := p.handles.Acquire(ctx, dst)
	if err != nil {
		return mirror.Result{}, err
	}
	c.add("releasing store", release)

	ps := peer.NewStore(st)
	d, err := drive.Open(ctx, ps, key)
	if err != nil {
		return mirror.Result{}, errors.Wrapf(err, "opening drive %s", key)
	}
	c.add("closing drive", d.Close)

	mainDir := filepath.Join(dst, pit.MainDir)
	tree, err := local.New(mainDir)
	if err != nil {
		return mirror.Result{}, err
	}

	disc, releaseDisc, err := p.discoveryFor(dst, cfg)
	if err != nil {
		return mirror.Result{}, err
	}
	c.add("closing discovery", releaseDisc)

	sess, err := p.openSession(ctx, cfg, d.DiscoveryKey(), peer.Scope{Store: ps, Drives: []*drive.Drive{d}}, disc, false)
	if err != nil {
		return mirror.Result{}, err
	}
	c.add("closing session", sess.Close)

	log.Info().Stringer("key", key).Int("peers", len(sess.Peers())).Uint64("version", d.Version()).Msg("cloning")

	res, err := mirror.Run(ctx, d, tree)
	if err != nil {
		return res, errors.Wrap(err, "checking out")
	}
	log.Info().Int("count", res.Count).Msg("cloned")

	return res, checkout(ctx, dst, mainDir)
}

// Makes dst a git repository whose origin is the mirrored .git directory at mainDir,
// with the branch that mainDir's HEAD names checked out.
func checkout(ctx context.Context, dst, mainDir string) error {
	branch := "main"
	haveBranch := false
	if _, err := os.Stat(filepath.Join(mainDir, "HEAD")); err == nil {
		b, err := gitutil.HeadBranch(mainDir)
		if err != nil {
			return err
		}
		if b != "" {
			branch = b
		}
		if haveBranch, err = gitutil.HasBranch(mainDir, branch); err != nil {
			return err
		}
	}

	r, err := gitutil.NewRunner(dst)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(dst, mainDir)
	if err != nil {
		return errors.Wrap(err, "locating mirror")
	}
	rel = filepath.ToSlash(rel)

	cmds := [][]string{
		{"init"},
		{"symbolic-ref", "HEAD", "refs/heads/" + branch},
		{"remote", "add", "origin", rel},
	}
	if haveBranch {
		cmds = append(cmds,
			[]string{"fetch", "origin"},
			[]string{"merge", "--ff-only", "origin/" + branch},
		)
	}
	for i, args := range cmds {
		if _, err := r.Run(ctx, args...); err != nil {
			return err
		}
		if i == 0 {
			if _, err := gitutil.Exclude(dst, pit.MetaDir+"/"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pit) openSession(ctx context.Context, cfg config.Config, topic pit.Topic, scope peer.Scope, disc peer.Discovery, seeding bool) (*peer.Session, error) {
	pc := peer.Config{
		Listen:      cfg.Peer.Listen,
		Advertise:   cfg.Peer.Advertise,
		Discovery:   disc,
		Eager:       cfg.Peer.Eager || seeding,
		DialTimeout: cfg.Peer.FlushTimeout,
	}
	if seeding {
		pc.Interval = cfg.Peer.Interval
	}

	if cfg.Peer.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Peer.FlushTimeout)
		defer cancel()
	}
	sess, err := peer.Open(ctx, topic, scope, pc)
	return sess, errors.Wrapf(err, "joining topic %s", topic)
}

// Add would add a contributor to the repository at root.
// It is not implemented.
func (p *Pit) Add(ctx context.Context, root string, key pit.Key) error {
	return &UnsupportedError{Op: "add"}
}

// Sync would exchange changes with the repository's other authors.
// It is not implemented.
func (p *Pit) Sync(ctx context.Context, root string) error {
	return &UnsupportedError{Op: "sync"}
}

// Info describes a repository.
type Info struct {
	Root    string
	Role    authors.Role
	Profile *authors.Profile
	Authors authors.List

	// Drives gives the latest locally known version of each author's drive.
	Drives []DriveInfo
}

// DriveInfo describes one drive of a repository.
type DriveInfo struct {
	Key     pit.Key
	Version uint64
	Files   int
}

// Info reports on the repository at root
// from local state only.
func (p *Pit) Info(ctx context.Context, root string) (_ *Info, err error) {
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving path")
	}

	info := &Info{Root: root}
	if info.Profile, err = authors.ReadProfile(root); err != nil {
		return nil, err
	}
	if info.Authors, err = authors.Read(root); err != nil {
		return nil, err
	}
	if info.Role, err = authors.RoleOf(root); err != nil {
		return nil, err
	}
	if len(info.Authors) == 0 {
		return info, nil
	}

	var c cleanups
	defer c.runInto(&err)

	st, release, err := p.handles.Acquire(ctx, root)
	if err != nil {
		return nil, err
	}
	c.add("releasing store", release)

	for _, key := range info.Authors {
		d, err := drive.Open(ctx, st, key)
		if err != nil {
			return nil, errors.Wrapf(err, "opening drive %s", key)
		}
		c.add("closing drive", d.Close)

		entries, err := d.Entries(ctx)
		if err != nil {
			// Content not replicated yet.
			log.Debug().Err(err).Stringer("drive", key).Msg("listing drive")
		}
		info.Drives = append(info.Drives, DriveInfo{Key: key, Version: d.Version(), Files: len(entries)})
	}
	return info, nil
}
