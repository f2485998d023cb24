package pg

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/bobg/pit/testutil"
)

func TestStore(t *testing.T) {
	withStore(t, func(ctx context.Context, store *Store) {
		testutil.ReadWrite(ctx, t, store, testutil.Data(300000))
	})
}

func TestAnchors(t *testing.T) {
	withStore(t, func(ctx context.Context, store *Store) {
		if _, err := store.db.ExecContext(ctx, `DELETE FROM anchors`); err != nil {
			t.Fatal(err)
		}
		testutil.Anchors(ctx, t, store)
	})
}

const connVar = "PIT_PG_TESTING_CONN"

func withStore(t *testing.T, f func(context.Context, *Store)) {
	connstr := os.Getenv(connVar)
	if connstr == "" {
		t.Skipf("to run %s, set %s to a valid Postgresql connection string", t.Name(), connVar)
	}

	db, err := sql.Open("postgres", connstr)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	store, err := New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	f(ctx, store)
}
