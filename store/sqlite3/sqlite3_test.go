package sqlite3

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store"
	"github.com/bobg/pit/testutil"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	err := withTestStore(ctx, func(s *Store) error {
		testutil.ReadWrite(ctx, t, s, testutil.Data(300000))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAnchors(t *testing.T) {
	ctx := context.Background()
	err := withTestStore(ctx, func(s *Store) error {
		testutil.Anchors(ctx, t, s)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	conn := filepath.Join(t.TempDir(), "pit.db")

	s, err := store.Create(ctx, "sqlite3", map[string]interface{}{"conn": conn})
	if err != nil {
		t.Fatal(err)
	}
	defer s.(*Store).Close()

	testutil.AllRefs(ctx, t, func() pit.Store {
		db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "allrefs.db"))
		if err != nil {
			t.Fatal(err)
		}
		s, err := New(ctx, db)
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func withTestStore(ctx context.Context, fn func(*Store) error) error {
	f, err := os.CreateTemp("", "pitsqlite3test")
	if err != nil {
		return err
	}

	tmpfile := f.Name()
	f.Close()
	defer os.Remove(tmpfile)

	db, err := sql.Open("sqlite3", tmpfile)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := New(ctx, db)
	if err != nil {
		return err
	}

	return fn(s)
}
