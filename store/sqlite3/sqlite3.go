// Package sqlite3 implements a blob store in a Sqlite database.
package sqlite3

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store"
)

var _ pit.AnchorStore = &Store{}

// Store is a Sqlite-based blob store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blobs` and `anchors` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  ref BLOB PRIMARY KEY NOT NULL,
  data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS anchors (
  name TEXT NOT NULL,
  ref BLOB NOT NULL,
  at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS anchor_idx ON anchors (name, at);
`

// Timestamps are stored as fixed-width text so that they sort correctly.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// New produces a new Store using `db` for storage.
// It expects to create tables `blobs` and `anchors`,
// or for those tables already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// Get gets the blob with hash `ref`.
func (s *Store) Get(ctx context.Context, ref pit.Ref) (pit.Blob, error) {
	const q = `SELECT data FROM blobs WHERE ref = $1`

	var b []byte
	err := s.db.QueryRowContext(ctx, q, ref).Scan(&b)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, pit.ErrNotFound
	}
	return b, errors.Wrapf(err, "getting blob %s", ref)
}

// Put adds a blob to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, b pit.Blob) (pit.Ref, bool, error) {
	const q = `INSERT INTO blobs (ref, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	ref := b.Ref()
	res, err := s.db.ExecContext(ctx, q, ref, []byte(b))
	if err != nil {
		return pit.Zero, false, errors.Wrap(err, "inserting blob")
	}

	aff, err := res.RowsAffected()
	if err != nil {
		return pit.Zero, false, errors.Wrap(err, "counting affected rows")
	}

	return ref, aff > 0, nil
}

// ListRefs produces all blob refs in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start pit.Ref, f func(pit.Ref) error) error {
	const q = `SELECT ref FROM blobs WHERE ref > $1 ORDER BY ref`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, f)
}

// GetAnchor implements pit.AnchorGetter.
func (s *Store) GetAnchor(ctx context.Context, name string, at time.Time) (pit.Ref, error) {
	const q = `SELECT ref FROM anchors WHERE name = $1 AND at <= $2 ORDER BY at DESC LIMIT 1`

	var result pit.Ref
	err := s.db.QueryRowContext(ctx, q, name, at.UTC().Format(timeFormat)).Scan(&result)
	if stderrs.Is(err, sql.ErrNoRows) {
		return pit.Zero, pit.ErrNotFound
	}
	return result, errors.Wrapf(err, "getting anchor %s", name)
}

// PutAnchor implements pit.AnchorStore.
func (s *Store) PutAnchor(ctx context.Context, name string, ref pit.Ref, at time.Time) error {
	const q = `INSERT INTO anchors (name, ref, at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, q, name, ref, at.UTC().Format(timeFormat))
	return errors.Wrapf(err, "inserting anchor %s", name)
}

// ListAnchors implements pit.AnchorGetter.
func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, pit.TimeRef) error) error {
	const q = `SELECT name, ref, at FROM anchors WHERE name > $1 ORDER BY name, at`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, func(name string, ref pit.Ref, atstr string) error {
		at, err := time.Parse(timeFormat, atstr)
		if err != nil {
			return errors.Wrapf(err, "parsing time %s", atstr)
		}
		return f(name, pit.TimeRef{T: at, R: ref})
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (pit.AnchorStore, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("sqlite3", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
