// Package config reads a repository's Pit configuration.
//
// Settings come from the optional file .pit/config.toml,
// then from environment variables,
// each overriding the defaults for only the keys it sets.
//
//	[store]
//	type = "file"        # file, sqlite3, pg, gcs, or mem
//	conn = ""            # database connection string (sqlite3, pg)
//	bucket = ""          # bucket name (gcs)
//	creds = ""           # credentials file (gcs)
//	cache = 0            # number of blobs to cache in memory
//	trace = false        # log every store operation
//
//	[peer]
//	listen = "127.0.0.1:0"
//	advertise = ""
//	peers = []           # fixed peer addresses
//	redis = ""           # redis:// URL of a rendezvous server
//	rendezvous = ""      # shared rendezvous directory
//	rendezvous_ttl = "2m"
//	flush_timeout = "10s"
//	interval = "30s"
//	eager = false
//
//	[log]
//	level = "info"
//
// Environment variables:
// PIT_LISTEN, PIT_PEERS (comma-separated), PIT_REDIS, PIT_RENDEZVOUS, PIT_LOG_LEVEL.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/pit"
)

// Config is the configuration of one repository.
type Config struct {
	Store StoreConfig
	Peer  PeerConfig
	Log   LogConfig
}

// StoreConfig selects and configures the blob store holding the repository's drives.
type StoreConfig struct {
	Type   string
	Conn   string
	Bucket string
	Creds  string
	Cache  int
	Trace  bool
}

// PeerConfig configures peer sessions.
type PeerConfig struct {
	Listen        string
	Advertise     string
	Peers         []string
	Redis         string
	Rendezvous    string
	RendezvousTTL time.Duration
	FlushTimeout  time.Duration
	Interval      time.Duration
	Eager         bool
}

// LogConfig configures logging.
type LogConfig struct {
	Level string
}

// DefaultRendezvous is the rendezvous directory shared by the user's pit processes on one host.
// It is under the user's cache directory, or the temp directory if there is none.
func DefaultRendezvous() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pit-rendezvous")
	}
	return filepath.Join(dir, "pit", "rendezvous")
}

// Default produces the default configuration.
// Peers on the same host find each other through DefaultRendezvous.
func Default() Config {
	return Config{
		Store: StoreConfig{Type: "file"},
		Peer: PeerConfig{
			Listen:        "127.0.0.1:0",
			Rendezvous:    DefaultRendezvous(),
			RendezvousTTL: 2 * time.Minute,
			FlushTimeout:  10 * time.Second,
			Interval:      30 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

type fileConfig struct {
	Store struct {
		Type   string `toml:"type"`
		Conn   string `toml:"conn"`
		Bucket string `toml:"bucket"`
		Creds  string `toml:"creds"`
		Cache  int    `toml:"cache"`
		Trace  bool   `toml:"trace"`
	} `toml:"store"`
	Peer struct {
		Listen        string   `toml:"listen"`
		Advertise     string   `toml:"advertise"`
		Peers         []string `toml:"peers"`
		Redis         string   `toml:"redis"`
		Rendezvous    string   `toml:"rendezvous"`
		RendezvousTTL string   `toml:"rendezvous_ttl"`
		FlushTimeout  string   `toml:"flush_timeout"`
		Interval      string   `toml:"interval"`
		Eager         bool     `toml:"eager"`
	} `toml:"peer"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Load reads the configuration of the repository at root.
// A missing config file is not an error.
func Load(root string) (Config, error) {
	cfg := Default()

	p := filepath.Join(root, pit.ConfigFile)
	if _, err := os.Stat(p); err == nil {
		if err := cfg.decodeFile(p); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, errors.Wrapf(err, "statting %s", p)
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (cfg *Config) decodeFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("unknown key %s in %s", undecoded[0], path)
	}

	if meta.IsDefined("store", "type") {
		cfg.Store.Type = strings.TrimSpace(raw.Store.Type)
	}
	if meta.IsDefined("store", "conn") {
		cfg.Store.Conn = strings.TrimSpace(raw.Store.Conn)
	}
	if meta.IsDefined("store", "bucket") {
		cfg.Store.Bucket = strings.TrimSpace(raw.Store.Bucket)
	}
	if meta.IsDefined("store", "creds") {
		cfg.Store.Creds = strings.TrimSpace(raw.Store.Creds)
	}
	if meta.IsDefined("store", "cache") {
		cfg.Store.Cache = raw.Store.Cache
	}
	if meta.IsDefined("store", "trace") {
		cfg.Store.Trace = raw.Store.Trace
	}

	if meta.IsDefined("peer", "listen") {
		cfg.Peer.Listen = strings.TrimSpace(raw.Peer.Listen)
	}
	if meta.IsDefined("peer", "advertise") {
		cfg.Peer.Advertise = strings.TrimSpace(raw.Peer.Advertise)
	}
	if meta.IsDefined("peer", "peers") {
		cfg.Peer.Peers = raw.Peer.Peers
	}
	if meta.IsDefined("peer", "redis") {
		cfg.Peer.Redis = strings.TrimSpace(raw.Peer.Redis)
	}
	if meta.IsDefined("peer", "rendezvous") {
		cfg.Peer.Rendezvous = strings.TrimSpace(raw.Peer.Rendezvous)
	}
	if meta.IsDefined("peer", "eager") {
		cfg.Peer.Eager = raw.Peer.Eager
	}
	for _, d := range []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"rendezvous_ttl", raw.Peer.RendezvousTTL, &cfg.Peer.RendezvousTTL},
		{"flush_timeout", raw.Peer.FlushTimeout, &cfg.Peer.FlushTimeout},
		{"interval", raw.Peer.Interval, &cfg.Peer.Interval},
	} {
		if !meta.IsDefined("peer", d.key) {
			continue
		}
		dur, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return errors.Wrapf(err, "parsing peer.%s in %s", d.key, path)
		}
		*d.dst = dur
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}

	return nil
}

func (cfg *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("PIT_LISTEN")); v != "" {
		cfg.Peer.Listen = v
	}
	if v := strings.TrimSpace(getenv("PIT_PEERS")); v != "" {
		var peers []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				peers = append(peers, p)
			}
		}
		cfg.Peer.Peers = peers
	}
	if v := strings.TrimSpace(getenv("PIT_REDIS")); v != "" {
		cfg.Peer.Redis = v
	}
	if v := strings.TrimSpace(getenv("PIT_RENDEZVOUS")); v != "" {
		cfg.Peer.Rendezvous = v
	}
	if v := strings.TrimSpace(getenv("PIT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
}

// Level is the configured log level,
// or info if it cannot be parsed.
func (cfg Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || cfg.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
