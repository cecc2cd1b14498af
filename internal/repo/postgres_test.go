package repo

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cun0/firehose/internal/domain"
	"github.com/cun0/firehose/internal/ingest"
)

func TestBuildInsertBatchSQL(t *testing.T) {
	events := []domain.Event{
		{ID: "a", UserID: 1, Timestamp: "2026-01-12T13:00:00Z", Metadata: []byte(`{"k":1}`)},
		{ID: "b", UserID: 2, Timestamp: "2026-01-12T13:00:01Z"},
	}

	sql, args := buildInsertBatchSQL(events)

	assert.Contains(t, sql, "INSERT INTO events (id, user_id, ts, metadata)")
	assert.Contains(t, sql, "ON CONFLICT (id) DO NOTHING")
	assert.Contains(t, sql, "($1,$2,$3,$4::jsonb)")
	assert.Contains(t, sql, "($5,$6,$7,$8::jsonb)")
	assert.NotContains(t, sql, "$9")

	require.Len(t, args, 8)
	assert.Equal(t, "a", args[0])
	assert.Equal(t, int64(1), args[1])
	assert.Equal(t, "2026-01-12T13:00:00Z", args[2])
	assert.Equal(t, `{"k":1}`, args[3])
	// Absent metadata becomes an empty JSON object.
	assert.Equal(t, `{}`, args[7])
}

func TestBuildInsertBatchSQL_PlaceholderCount(t *testing.T) {
	events := make([]domain.Event, 100)
	for i := range events {
		events[i] = domain.Event{ID: "e"}
	}

	sql, args := buildInsertBatchSQL(events)
	require.Len(t, args, 400)
	assert.Equal(t, 100, strings.Count(sql, "::jsonb)"))
}

func TestClassify(t *testing.T) {
	assert.True(t, ingest.IsRetryable(classify(errors.New("dial tcp: connection refused"))))
	assert.True(t, ingest.IsRetryable(classify(&pgconn.PgError{Code: "40001"}))) // serialization failure
	assert.True(t, ingest.IsRetryable(classify(&pgconn.PgError{Code: "53300"}))) // too many connections

	assert.False(t, ingest.IsRetryable(classify(&pgconn.PgError{Code: "42P01"}))) // undefined table
	assert.False(t, ingest.IsRetryable(classify(&pgconn.PgError{Code: "28P01"}))) // bad password
	assert.False(t, ingest.IsRetryable(classify(&pgconn.PgError{Code: "3D000"}))) // unknown database
}
