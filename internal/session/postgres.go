package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the session tables.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_key      TEXT PRIMARY KEY,
	preferences      JSONB NOT NULL,
	total_routes     INTEGER NOT NULL DEFAULT 0,
	average_risk     DOUBLE PRECISION NOT NULL DEFAULT 0,
	high_risk_routes INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS session_records (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	session_key TEXT NOT NULL REFERENCES sessions (session_key) ON DELETE CASCADE,
	record      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS session_records_key_seq ON session_records (session_key, seq);
`

// PostgresStore is a PostgreSQL implementation of Store. Appends lock the
// session row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the tables if they do not exist.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, PostgresSchema)
	return err
}

// ensure inserts the session row if missing.
func (r *PostgresStore) ensure(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	prefs, err := json.Marshal(DefaultPreferences())
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sessions (session_key, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (session_key) DO NOTHING
	`, key, prefs, now)
	return err
}

// GetOrCreate returns the session with its full history.
func (r *PostgresStore) GetOrCreate(ctx context.Context, key string) (*Session, error) {
	if err := r.ensure(ctx, key); err != nil {
		return nil, err
	}

	s := Session{Key: key}
	var prefs []byte
	err := r.pool.QueryRow(ctx, `
		SELECT preferences, total_routes, average_risk, high_risk_routes, created_at, updated_at
		FROM sessions
		WHERE session_key = $1
	`, key).Scan(
		&prefs,
		&s.Statistics.TotalRoutes,
		&s.Statistics.AverageRisk,
		&s.Statistics.HighRiskRoutes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(prefs, &s.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}

	s.History, err = r.GetHistory(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AppendRecord inserts a record and folds it into the statistics in one transaction.
func (r *PostgresStore) AppendRecord(ctx context.Context, key string, rec Record) (Statistics, error) {
	if err := r.ensure(ctx, key); err != nil {
		return Statistics{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stats Statistics
	err = tx.QueryRow(ctx, `
		SELECT total_routes, average_risk, high_risk_routes
		FROM sessions
		WHERE session_key = $1
		FOR UPDATE
	`, key).Scan(&stats.TotalRoutes, &stats.AverageRisk, &stats.HighRiskRoutes)
	if err != nil {
		return Statistics{}, fmt.Errorf("lock session: %w", err)
	}

	now := time.Now().UTC()
	rec = rec.withDefaults(now)
	payload, err := json.Marshal(rec)
	if err != nil {
		return Statistics{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO session_records (id, session_key, record, created_at)
		VALUES ($1, $2, $3, $4)
	`, rec.ID, key, payload, rec.CreatedAt); err != nil {
		return Statistics{}, fmt.Errorf("insert record: %w", err)
	}

	stats = stats.Add(rec)
	if _, err := tx.Exec(ctx, `
		UPDATE sessions
		SET total_routes = $2, average_risk = $3, high_risk_routes = $4, updated_at = $5
		WHERE session_key = $1
	`, key, stats.TotalRoutes, stats.AverageRisk, stats.HighRiskRoutes, now); err != nil {
		return Statistics{}, fmt.Errorf("update statistics: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Statistics{}, fmt.Errorf("commit: %w", err)
	}
	return stats, nil
}

// UpdatePreferences applies a partial update under a row lock.
func (r *PostgresStore) UpdatePreferences(ctx context.Context, key string, upd PreferencesUpdate) (Preferences, error) {
	if err := r.ensure(ctx, key); err != nil {
		return Preferences{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Preferences{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	if err := tx.QueryRow(ctx, `SELECT preferences FROM sessions WHERE session_key = $1 FOR UPDATE`, key).Scan(&raw); err != nil {
		return Preferences{}, fmt.Errorf("lock session: %w", err)
	}
	var current Preferences
	if err := json.Unmarshal(raw, &current); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}

	next, err := upd.Apply(current)
	if err != nil {
		return Preferences{}, err
	}
	raw, err = json.Marshal(next)
	if err != nil {
		return Preferences{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE sessions SET preferences = $2, updated_at = $3 WHERE session_key = $1`,
		key, raw, time.Now().UTC()); err != nil {
		return Preferences{}, fmt.Errorf("update preferences: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Preferences{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// GetHistory returns recent records in chronological order.
func (r *PostgresStore) GetHistory(ctx context.Context, key string, limit int) ([]Record, error) {
	if err := r.ensure(ctx, key); err != nil {
		return nil, err
	}

	query := `
		SELECT record FROM (
			SELECT seq, record FROM session_records
			WHERE session_key = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := r.pool.Query(ctx, query, key, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// GetStatistics returns the session statistics.
func (r *PostgresStore) GetStatistics(ctx context.Context, key string) (Statistics, error) {
	if err := r.ensure(ctx, key); err != nil {
		return Statistics{}, err
	}

	var stats Statistics
	err := r.pool.QueryRow(ctx, `
		SELECT total_routes, average_risk, high_risk_routes FROM sessions WHERE session_key = $1
	`, key).Scan(&stats.TotalRoutes, &stats.AverageRisk, &stats.HighRiskRoutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return Statistics{}, nil
	}
	return stats, err
}
