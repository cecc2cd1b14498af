package repo

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/cun0/firehose/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	user_id   INTEGER,
	timestamp TEXT,
	metadata  TEXT
);`

// SQLiteRepo persists event batches into an embedded SQLite database. It is
// the standalone storage backend: no external server required.
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path and ensures
// the events table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// The driver serializes writers anyway; one connection avoids
	// SQLITE_BUSY churn under the flusher's burst writes.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteRepo{db: db}, nil
}

// Commit inserts the whole batch in one transaction. INSERT OR IGNORE keyed
// on the event id keeps retries after ambiguous failures idempotent.
func (r *SQLiteRepo) Commit(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO events (id, user_id, timestamp, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if _, err := stmt.ExecContext(ctx, e.ID, e.UserID, e.Timestamp, e.MetadataText()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}
