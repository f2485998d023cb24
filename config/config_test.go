package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/bobg/pit"
	"github.com/bobg/pit/peer"
)

func writeConfig(t *testing.T, root, text string) {
	t.Helper()
	p := filepath.Join(root, pit.ConfigFile)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefault(t *testing.T) {
	for _, v := range []string{"PIT_LISTEN", "PIT_PEERS", "PIT_REDIS", "PIT_RENDEZVOUS", "PIT_LOG_LEVEL"} {
		t.Setenv(v, "")
	}

	got, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("PIT_PEERS", "")
	t.Setenv("PIT_LISTEN", "")
	t.Setenv("PIT_REDIS", "")
	t.Setenv("PIT_RENDEZVOUS", "")
	t.Setenv("PIT_LOG_LEVEL", "")

	root := t.TempDir()
	writeConfig(t, root, `
[store]
type = "sqlite3"
cache = 100

[peer]
peers = ["10.0.0.1:7000", "10.0.0.2:7000"]
rendezvous = ""
interval = "5s"
eager = true

[log]
level = "debug"
`)

	got, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}

	want := Default()
	want.Store.Type = "sqlite3"
	want.Store.Cache = 100
	want.Peer.Peers = []string{"10.0.0.1:7000", "10.0.0.2:7000"}
	want.Peer.Rendezvous = ""
	want.Peer.Interval = 5 * time.Second
	want.Peer.Eager = true
	want.Log.Level = "debug"

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got.Level() != zerolog.DebugLevel {
		t.Errorf("got level %v, want debug", got.Level())
	}
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "[store]\ncolor = \"blue\"\n",
		"bad duration": "[peer]\ninterval = \"soon\"\n",
		"bad toml":     "[store\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, text)
			if _, err := Load(root); err == nil {
				t.Error("got no error")
			}
		})
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("PIT_LISTEN", "0.0.0.0:7000")
	t.Setenv("PIT_PEERS", "a:1, b:2,,")
	t.Setenv("PIT_REDIS", "redis://localhost:6379/0")
	t.Setenv("PIT_RENDEZVOUS", "/tmp/rv")
	t.Setenv("PIT_LOG_LEVEL", "warn")

	root := t.TempDir()
	writeConfig(t, root, "[peer]\nlisten = \"127.0.0.1:9\"\n")

	got, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if got.Peer.Listen != "0.0.0.0:7000" {
		t.Errorf("got listen %s", got.Peer.Listen)
	}
	if diff := cmp.Diff([]string{"a:1", "b:2"}, got.Peer.Peers); diff != "" {
		t.Errorf("peers mismatch (-want +got):\n%s", diff)
	}
	if got.Peer.Redis != "redis://localhost:6379/0" || got.Peer.Rendezvous != "/tmp/rv" {
		t.Errorf("got %+v", got.Peer)
	}
	if got.Level() != zerolog.WarnLevel {
		t.Errorf("got level %v, want warn", got.Level())
	}
}

func TestStoreMap(t *testing.T) {
	root := "/repo"
	corestore := filepath.Join(root, pit.CorestoreDir)

	cases := []struct {
		name    string
		sc      StoreConfig
		want    map[string]interface{}
		wantErr bool
	}{{
		name: "file",
		sc:   StoreConfig{Type: "file"},
		want: map[string]interface{}{"type": "file", "root": corestore},
	}, {
		name: "sqlite3 default",
		sc:   StoreConfig{Type: "sqlite3"},
		want: map[string]interface{}{"type": "sqlite3", "conn": filepath.Join(corestore, "pit.db")},
	}, {
		name: "cached and traced",
		sc:   StoreConfig{Type: "mem", Cache: 10, Trace: true},
		want: map[string]interface{}{
			"type": "logging",
			"nested": map[string]interface{}{
				"type":   "lru",
				"size":   10,
				"nested": map[string]interface{}{"type": "mem"},
			},
		},
	}, {
		name:    "pg without conn",
		sc:      StoreConfig{Type: "pg"},
		wantErr: true,
	}, {
		name:    "unknown",
		sc:      StoreConfig{Type: "floppy"},
		wantErr: true,
	}}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store = c.sc
			got, err := cfg.StoreMap(root)
			if c.wantErr {
				if err == nil {
					t.Error("got no error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	cfg := Default()
	cfg.Store.Cache = 16
	s, err := cfg.OpenStore(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	ref, _, err := s.Put(ctx, pit.Blob("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, pit.CorestoreDir, "blobs", ref.String()[:2])); err != nil {
		t.Errorf("blob not stored under the corestore dir: %s", err)
	}
}

func TestDefaultRendezvous(t *testing.T) {
	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)
	t.Setenv("HOME", t.TempDir())

	want := filepath.Join(cache, "pit", "rendezvous")
	if got := DefaultRendezvous(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	d, err := Default().Discovery("/repo")
	if err != nil {
		t.Fatal(err)
	}
	if dir, ok := d.(*peer.Dir); !ok || dir.Root != want {
		t.Errorf("got %#v, want Dir rooted at %s", d, want)
	}
}

func TestDiscovery(t *testing.T) {
	cfg := Default()
	cfg.Peer.Rendezvous = ""
	d, err := cfg.Discovery("/repo")
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := d.(peer.Multi); !ok || len(m) != 0 {
		t.Errorf("got %#v, want empty Multi", d)
	}

	cfg.Peer.Peers = []string{"a:1"}
	d, err = cfg.Discovery("/repo")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(peer.Static); !ok {
		t.Errorf("got %T, want peer.Static", d)
	}

	cfg.Peer.Rendezvous = "rv"
	d, err = cfg.Discovery("/repo")
	if err != nil {
		t.Fatal(err)
	}
	m, ok := d.(peer.Multi)
	if !ok || len(m) != 2 {
		t.Fatalf("got %#v, want Multi of 2", d)
	}
	if dir, ok := m[1].(*peer.Dir); !ok || dir.Root != filepath.Join("/repo", "rv") {
		t.Errorf("got %#v, want Dir rooted at /repo/rv", m[1])
	}
}
