package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store"

	// Register the store backends.
	_ "github.com/bobg/pit/store/file"
	_ "github.com/bobg/pit/store/gcs"
	_ "github.com/bobg/pit/store/logging"
	_ "github.com/bobg/pit/store/lru"
	_ "github.com/bobg/pit/store/mem"
	_ "github.com/bobg/pit/store/pg"
	_ "github.com/bobg/pit/store/sqlite3"
)

// StoreMap turns the store configuration into a map for store.Create.
// Relative paths are resolved against the repository root.
func (cfg Config) StoreMap(root string) (map[string]interface{}, error) {
	var (
		sc   = cfg.Store
		base = filepath.Join(root, pit.CorestoreDir)
		conf = map[string]interface{}{"type": sc.Type}
	)

	switch sc.Type {
	case "file":
		conf["root"] = base
	case "sqlite3":
		conn := sc.Conn
		if conn == "" {
			conn = "pit.db"
		}
		if !filepath.IsAbs(conn) {
			conn = filepath.Join(base, conn)
		}
		conf["conn"] = conn
	case "pg":
		if sc.Conn == "" {
			return nil, errors.New("store type pg needs conn")
		}
		conf["conn"] = sc.Conn
	case "gcs":
		if sc.Bucket == "" {
			return nil, errors.New("store type gcs needs bucket")
		}
		conf["bucket"] = sc.Bucket
		conf["creds"] = sc.Creds
	case "mem":
	default:
		return nil, errors.Errorf("unknown store type %q", sc.Type)
	}

	if sc.Cache > 0 {
		conf = map[string]interface{}{
			"type":   "lru",
			"size":   sc.Cache,
			"nested": conf,
		}
	}
	if sc.Trace {
		conf = map[string]interface{}{
			"type":   "logging",
			"nested": conf,
		}
	}
	return conf, nil
}

// OpenStore creates the configured store for the repository at root.
func (cfg Config) OpenStore(ctx context.Context, root string) (pit.AnchorStore, error) {
	conf, err := cfg.StoreMap(root)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Type == "file" || cfg.Store.Type == "sqlite3" {
		dir := filepath.Join(root, pit.CorestoreDir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", dir)
		}
	}
	s, err := store.Create(ctx, conf["type"].(string), conf)
	return s, errors.Wrapf(err, "creating %s store", cfg.Store.Type)
}
