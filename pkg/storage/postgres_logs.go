package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

const logSchema = `
CREATE TABLE IF NOT EXISTS enrichment_logs (
	id         TEXT PRIMARY KEY,
	ts         TIMESTAMPTZ NOT NULL,
	item_id    TEXT NOT NULL DEFAULT '',
	batch_id   TEXT NOT NULL DEFAULT '',
	job_type   TEXT NOT NULL DEFAULT '',
	operation  TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	entry      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS enrichment_logs_ts_idx ON enrichment_logs (ts);
CREATE INDEX IF NOT EXISTS enrichment_logs_item_idx ON enrichment_logs (item_id, ts DESC);
`

// PostgresLogStore keeps the audit trail in Postgres
type PostgresLogStore struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// NewPostgresLogStore connects and ensures the schema exists
func NewPostgresLogStore(ctx context.Context, databaseURL string, logger *logrus.Entry) (*PostgresLogStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create connection pool: %w", utils.ErrDatabase, err)
	}
	s := &PostgresLogStore{pool: pool, log: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Postgres audit log store initialized")
	return s, nil
}

// EnsureSchema creates the log table and indexes when missing
func (s *PostgresLogStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, logSchema); err != nil {
		return fmt.Errorf("%w: creating log schema: %w", utils.ErrDatabase, err)
	}
	return nil
}

// Append implements LogStore
func (s *PostgresLogStore) Append(ctx context.Context, e *models.LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.Timestamp), ulid.DefaultEntropy()).String()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: JSON encode of log entry: %v", utils.ErrParsing, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_logs (id, ts, item_id, batch_id, job_type, operation, status, message, entry)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Timestamp, e.ItemID, e.BatchID, string(e.JobType), string(e.Operation), string(e.Status), e.Message, payload)
	if err != nil {
		return fmt.Errorf("%w: inserting log entry: %w", utils.ErrDatabase, err)
	}
	return nil
}

// PruneOlderThan implements LogStore
func (s *PostgresLogStore) PruneOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx, `DELETE FROM enrichment_logs WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: pruning log entries: %w", utils.ErrDatabase, err)
	}
	n := int(tag.RowsAffected())
	s.log.Infof("Pruned %d log entries older than %d days", n, days)
	return n, nil
}

// List implements LogStore
func (s *PostgresLogStore) List(ctx context.Context, q LogQuery) ([]models.LogEntry, error) {
	query, args := buildLogQuery(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing log entries: %w", utils.ErrDatabase, err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("%w: reading log rows: %w", utils.ErrDatabase, err)
	}

	out := make([]models.LogEntry, 0, len(payloads))
	for _, p := range payloads {
		var e models.LogEntry
		if err := json.Unmarshal(p, &e); err != nil {
			s.log.Warnf("Skipping undecodable log row: %v", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// buildLogQuery renders q as a parameterized SELECT, newest first
func buildLogQuery(q LogQuery) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.ItemID != "" {
		add("item_id = $%d", q.ItemID)
	}
	if q.BatchID != "" {
		add("batch_id = $%d", q.BatchID)
	}
	if q.Status != models.StatusUnset {
		add("status = $%d", string(q.Status))
	}
	if !q.Since.IsZero() {
		add("ts >= $%d", q.Since)
	}

	var b strings.Builder
	b.WriteString("SELECT entry FROM enrichment_logs")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ts DESC, id DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// Close releases the connection pool
func (s *PostgresLogStore) Close() error {
	s.pool.Close()
	return nil
}
