package rpc

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openmined/syftbus/internal/syfturl"
)

const futuresSchema = `
CREATE TABLE IF NOT EXISTS futures (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	expires TIMESTAMP NOT NULL,
	namespace TEXT NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_futures_namespace ON futures(namespace);
`

type futureRow struct {
	ID        string `db:"id"`
	Path      string `db:"path"`
	Expires   string `db:"expires"`
	Namespace string `db:"namespace"`
}

// FutureStore persists futures so a gateway can answer status polls across
// restarts. Rows are namespaced per application.
type FutureStore struct {
	db           *sqlx.DB
	datasitesDir string
}

func NewFutureStore(db *sqlx.DB, datasitesDir string) (*FutureStore, error) {
	if _, err := db.Exec(futuresSchema); err != nil {
		return nil, fmt.Errorf("init futures schema: %w", err)
	}
	return &FutureStore{db: db, datasitesDir: datasitesDir}, nil
}

// Save inserts or replaces a future row.
func (s *FutureStore) Save(f *Future, namespace string) error {
	_, err := s.db.NamedExec(`
		INSERT OR REPLACE INTO futures (id, path, expires, namespace)
		VALUES (:id, :path, :expires, :namespace)`,
		futureRow{
			ID:        f.ID,
			Path:      f.LocalPath,
			Expires:   f.Expires.UTC().Format(time.RFC3339Nano),
			Namespace: namespace,
		},
	)
	if err != nil {
		return fmt.Errorf("save future %s: %w", f.ID, err)
	}
	return nil
}

// Get returns the stored future, or nil when unknown.
func (s *FutureStore) Get(id string) (*Future, error) {
	var row futureRow
	err := s.db.Get(&row, `SELECT id, path, expires, namespace FROM futures WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get future %s: %w", id, err)
	}
	return s.rowToFuture(&row)
}

func (s *FutureStore) rowToFuture(row *futureRow) (*Future, error) {
	expires, err := time.Parse(time.RFC3339Nano, row.Expires)
	if err != nil {
		return nil, fmt.Errorf("parse expires for %s: %w", row.ID, err)
	}

	future := &Future{
		ID:        row.ID,
		LocalPath: row.Path,
		Expires:   expires,
	}
	if url, err := syfturl.FromPath(row.Path, s.datasitesDir); err == nil {
		future.URL = *url
	}
	return future, nil
}

func (s *FutureStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM futures WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete future %s: %w", id, err)
	}
	return nil
}

// CleanupExpired sweeps rows whose expiry has passed, returning the count.
func (s *FutureStore) CleanupExpired() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM futures WHERE expires < ?`, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("cleanup futures: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// List returns all futures, optionally filtered to one namespace.
func (s *FutureStore) List(namespace string) ([]*Future, error) {
	var rows []futureRow
	var err error
	if namespace != "" {
		err = s.db.Select(&rows, `SELECT id, path, expires, namespace FROM futures WHERE namespace = ?`, namespace)
	} else {
		err = s.db.Select(&rows, `SELECT id, path, expires, namespace FROM futures`)
	}
	if err != nil {
		return nil, fmt.Errorf("list futures: %w", err)
	}

	futures := make([]*Future, 0, len(rows))
	for i := range rows {
		f, err := s.rowToFuture(&rows[i])
		if err != nil {
			return nil, err
		}
		futures = append(futures, f)
	}
	return futures, nil
}
