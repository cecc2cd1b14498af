package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cun0/firehose/internal/config"
	"github.com/cun0/firehose/internal/domain"
	"github.com/cun0/firehose/internal/ingest"
)

// EventRepo persists event batches into Postgres. Commit is a single
// transaction, so the batch is stored all-or-nothing as the flusher requires.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Commit inserts the whole batch in one transaction. ON CONFLICT (id) DO
// NOTHING makes a retry after an ambiguous failure idempotent: rows that did
// land before the error are skipped, not duplicated.
func (r *EventRepo) Commit(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql, args := buildInsertBatchSQL(events)

	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}

	return nil
}

func buildInsertBatchSQL(events []domain.Event) (string, []any) {
	var b strings.Builder
	// 4 params per event.
	args := make([]any, 0, len(events)*4)

	b.WriteString(`
	INSERT INTO events (id, user_id, ts, metadata)
	VALUES
`)

	argPos := 1
	for i, e := range events {
		if i > 0 {
			b.WriteString(",\n")
		}

		b.WriteString(fmt.Sprintf(
			"($%d,$%d,$%d,$%d::jsonb)",
			argPos, argPos+1, argPos+2, argPos+3,
		))

		args = append(args,
			e.ID,
			e.UserID,
			e.Timestamp,
			e.MetadataText(),
		)

		argPos += 4
	}

	b.WriteString(`
	ON CONFLICT (id) DO NOTHING;
`)

	return b.String(), args
}

// classify marks faults that retrying cannot fix as permanent. Anything else
// (connection refused, timeouts, serialization) stays transient.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "42"): // undefined table/column, syntax
			return ingest.Permanent(err)
		case strings.HasPrefix(pgErr.Code, "28"): // invalid authorization
			return ingest.Permanent(err)
		case strings.HasPrefix(pgErr.Code, "3D"): // invalid catalog name
			return ingest.Permanent(err)
		}
	}
	return err
}

// NewPool opens a pgx pool with the configured limits and fails fast with a
// startup ping if the database is unreachable.
func NewPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
