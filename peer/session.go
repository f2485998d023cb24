// Package peer replicates drives between peers.
//
// Peers sharing a repository meet on a topic derived from its key
// (see pit.Key.DiscoveryKey),
// found through a Discovery mechanism.
// Each peer runs a small gRPC service
// from which others pull drive heads and blobs.
// Heads are exchanged whenever two peers connect
// and on every Flush.
// Blobs are fetched when first read,
// or all at once in eager mode.
package peer

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/bobg/pit"
	"github.com/bobg/pit/drive"
)

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("session closed")

// Scope is what a Session shares and replicates.
type Scope struct {
	// Store holds the blobs of the drives.
	// Blobs that peers have are fetched through it.
	Store *Store

	// Drives are the drives whose heads are exchanged.
	// They should be opened on Store.
	Drives []*drive.Drive
}

// Config configures a Session.
type Config struct {
	// Listen is the address to serve on.
	// The default is "127.0.0.1:0" (a random port on the loopback interface).
	Listen string

	// Advertise is the address announced to other peers,
	// if different from the one Listen produces.
	Advertise string

	// Discovery is how peers find each other.
	// The default is Static(nil): no peers.
	Discovery Discovery

	// Eager means download all the content of each drive whenever its head changes,
	// instead of fetching blobs only when they are read.
	Eager bool

	// Interval, when positive, is how often to repeat Flush in the background.
	Interval time.Duration

	// DialTimeout bounds connecting and introducing to one peer.
	// The default is 10 seconds.
	DialTimeout time.Duration
}

// Session is a peer's participation in a topic.
type Session struct {
	id    string
	topic pit.Topic
	scope Scope
	conf  Config
	addr  string

	grpcSrv *grpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	peers   map[string]*conn // by peer id
	dialing map[string]bool  // by address
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

type conn struct {
	id     string
	addr   string
	client *Client
}

// Open joins the topic:
// it starts serving the scope,
// announces itself,
// and connects to the peers it can find.
// Failing to reach any particular peer is not an error.
func Open(ctx context.Context, topic pit.Topic, scope Scope, conf Config) (*Session, error) {
	if scope.Store == nil {
		return nil, errors.New("no store in scope")
	}
	if conf.Listen == "" {
		conf.Listen = "127.0.0.1:0"
	}
	if conf.Discovery == nil {
		conf.Discovery = Static(nil)
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = 10 * time.Second
	}

	l, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", conf.Listen)
	}
	addr := conf.Advertise
	if addr == "" {
		addr = l.Addr().String()
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      uuid.NewString(),
		topic:   topic,
		scope:   scope,
		conf:    conf,
		addr:    addr,
		ctx:     sctx,
		cancel:  cancel,
		peers:   make(map[string]*conn),
		dialing: make(map[string]bool),
	}

	srv := NewServer(s.id, addr, topic, scope)
	srv.onHello = s.onHello

	s.grpcSrv = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgBytes),
		grpc.MaxSendMsgSize(maxMsgBytes),
	)
	RegisterReplicatorServer(s.grpcSrv, srv)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpcSrv.Serve(l); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("peer server stopped")
		}
	}()

	log.Debug().Str("id", s.id).Str("addr", addr).Stringer("topic", topic).Int("drives", len(scope.Drives)).Msg("peer session open")

	if err := s.Flush(ctx); err != nil {
		if cerr := s.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("closing peer session after failed start")
		}
		return nil, err
	}

	if conf.Interval > 0 {
		s.wg.Add(1)
		go s.loop()
	}

	return s, nil
}

// ID is the unique identifier of this session.
func (s *Session) ID() string {
	return s.id
}

// Addr is the address at which this session serves.
func (s *Session) Addr() string {
	return s.addr
}

// Topic is the topic this session joined.
func (s *Session) Topic() pit.Topic {
	return s.topic
}

// Peers lists the ids of the peers this session is connected to.
func (s *Session) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]string, 0, len(s.peers))
	for id := range s.peers {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Flush performs one discovery round:
// it re-announces this peer,
// looks up the topic,
// connects to peers not yet connected,
// and exchanges heads with all of them.
// Errors involving individual peers are logged and do not fail the round.
// A round that finds no peers is valid.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := s.conf.Discovery.Announce(ctx, s.topic, s.addr); err != nil {
		return errors.Wrap(err, "announcing")
	}
	addrs, err := s.conf.Discovery.Lookup(ctx, s.topic)
	if err != nil {
		return errors.Wrap(err, "looking up peers")
	}

	known := make(map[string]*conn)
	s.mu.Lock()
	for _, c := range s.peers {
		known[c.addr] = c
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, addr := range addrs {
		if addr == s.addr {
			continue
		}
		addr := addr
		if c, ok := known[addr]; ok {
			g.Go(func() error {
				s.replicate(gctx, c)
				return nil
			})
			continue
		}
		g.Go(func() error {
			if err := s.connect(gctx, addr); err != nil {
				log.Debug().Err(err).Str("addr", addr).Msg("could not connect to peer")
			}
			return nil
		})
	}
	g.Wait()

	log.Debug().Int("found", len(addrs)).Int("connected", len(s.Peers())).Stringer("topic", s.topic).Msg("discovery round done")
	return nil
}

func (s *Session) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.conf.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(s.ctx); err != nil && !errors.Is(err, ErrClosed) && s.ctx.Err() == nil {
				log.Error().Err(err).Msg("background discovery round")
			}
		}
	}
}

// Called when another peer says hello.
// Connections are symmetric,
// so dial back if not already connected.
func (s *Session) onHello(h hello) {
	if h.Addr == "" {
		return
	}

	s.mu.Lock()
	_, connected := s.peers[h.ID]
	if s.closed || connected || s.dialing[h.Addr] {
		s.mu.Unlock()
		return
	}
	// Registered while holding the lock so Close waits for it.
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.connect(s.ctx, h.Addr); err != nil {
			log.Debug().Err(err).Str("addr", h.Addr).Msg("could not dial back peer")
		}
	}()
}

// Connects to the peer at addr and exchanges heads with it.
func (s *Session) connect(ctx context.Context, addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.dialing[addr] {
		s.mu.Unlock()
		return nil
	}
	s.dialing[addr] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.dialing, addr)
		s.mu.Unlock()
	}()

	dctx, cancel := context.WithTimeout(ctx, s.conf.DialTimeout)
	defer cancel()

	client, err := Dial(dctx, addr)
	if err != nil {
		return err
	}

	theirs, err := client.hello(dctx, hello{ID: s.id, Addr: s.addr, Topic: s.topic.String()})
	if err != nil {
		client.Close()
		return errors.Wrapf(err, "saying hello to %s", addr)
	}
	if theirs.ID == s.id {
		// Connected to ourselves under another address.
		client.Close()
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		client.Close()
		return ErrClosed
	}
	if _, ok := s.peers[theirs.ID]; ok {
		s.mu.Unlock()
		client.Close()
		return nil
	}
	c := &conn{id: theirs.ID, addr: addr, client: client}
	s.peers[theirs.ID] = c
	s.mu.Unlock()

	s.scope.Store.Attach(s.remoteName(c.id), client)
	log.Info().Str("peer", c.id).Str("addr", addr).Msg("connected to peer")

	s.replicate(ctx, c)
	return nil
}

func (s *Session) remoteName(id string) string {
	return s.id + "/" + id
}

// Pulls the peer's head of each drive in scope.
func (s *Session) replicate(ctx context.Context, c *conn) {
	for _, d := range s.scope.Drives {
		b, err := c.client.Head(ctx, d.Key())
		if errors.Is(err, pit.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Debug().Err(err).Str("peer", c.id).Stringer("drive", d.Key()).Msg("getting head from peer")
			continue
		}
		updated, err := d.Update(ctx, b)
		if err != nil {
			log.Warn().Err(err).Str("peer", c.id).Stringer("drive", d.Key()).Msg("rejected head from peer")
			continue
		}
		if !updated {
			continue
		}
		log.Info().Str("peer", c.id).Stringer("drive", d.Key()).Uint64("version", d.Version()).Msg("drive updated from peer")
		if s.conf.Eager {
			if err := d.Download(ctx); err != nil {
				log.Warn().Err(err).Stringer("drive", d.Key()).Msg("downloading drive content")
			}
		}
	}
}

// Close leaves the topic:
// it unannounces this peer,
// closes all connections,
// stops serving,
// and detaches the peers from the store.
// Closing a closed Session does nothing.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var result error

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.conf.DialTimeout)
		defer cancel()
		if err := s.conf.Discovery.Unannounce(ctx, s.topic, s.addr); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "unannouncing"))
		}

		s.cancel()
		s.grpcSrv.Stop()
		s.wg.Wait()

		s.mu.Lock()
		peers := s.peers
		s.peers = make(map[string]*conn)
		s.mu.Unlock()

		for _, c := range peers {
			s.scope.Store.Detach(s.remoteName(c.id))
			if err := c.client.Close(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "closing connection to %s", c.id))
			}
		}

		log.Debug().Str("id", s.id).Msg("peer session closed")
		s.closeErr = result
	})
	return s.closeErr
}
