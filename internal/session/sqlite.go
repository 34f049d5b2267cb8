package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_key      TEXT PRIMARY KEY,
	preferences      TEXT NOT NULL,
	total_routes     INTEGER NOT NULL DEFAULT 0,
	average_risk     REAL NOT NULL DEFAULT 0,
	high_risk_routes INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	session_key TEXT NOT NULL REFERENCES sessions (session_key) ON DELETE CASCADE,
	record      TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS session_records_key_seq ON session_records (session_key, seq);
`

// SQLiteStore is an embedded Store backed by a single SQLite file. Records
// are stored as JSON. One connection serializes all writers.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensure(ctx context.Context, tx *sql.Tx, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	prefs, err := json.Marshal(DefaultPreferences())
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_key, preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_key) DO NOTHING
	`, key, string(prefs), now, now)
	return err
}

// inTx runs fn in a transaction that first creates the session if missing.
func (s *SQLiteStore) inTx(ctx context.Context, key string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensure(ctx, tx, key); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetOrCreate returns the session with its full history.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string) (*Session, error) {
	out := Session{Key: key}
	err := s.inTx(ctx, key, func(tx *sql.Tx) error {
		var prefs, created, updated string
		err := tx.QueryRowContext(ctx, `
			SELECT preferences, total_routes, average_risk, high_risk_routes, created_at, updated_at
			FROM sessions WHERE session_key = ?
		`, key).Scan(&prefs, &out.Statistics.TotalRoutes, &out.Statistics.AverageRisk,
			&out.Statistics.HighRiskRoutes, &created, &updated)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(prefs), &out.Preferences); err != nil {
			return fmt.Errorf("decode preferences: %w", err)
		}
		if out.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return err
		}
		if out.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return err
		}
		out.History, err = history(ctx, tx, key, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendRecord inserts a record and folds it into the statistics in one transaction.
func (s *SQLiteStore) AppendRecord(ctx context.Context, key string, rec Record) (Statistics, error) {
	var stats Statistics
	err := s.inTx(ctx, key, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT total_routes, average_risk, high_risk_routes FROM sessions WHERE session_key = ?
		`, key).Scan(&stats.TotalRoutes, &stats.AverageRisk, &stats.HighRiskRoutes)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		rec = rec.withDefaults(now)
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_records (id, session_key, record, created_at) VALUES (?, ?, ?, ?)
		`, rec.ID, key, string(payload), rec.CreatedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}

		stats = stats.Add(rec)
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions
			SET total_routes = ?, average_risk = ?, high_risk_routes = ?, updated_at = ?
			WHERE session_key = ?
		`, stats.TotalRoutes, stats.AverageRisk, stats.HighRiskRoutes, now.Format(time.RFC3339Nano), key)
		return err
	})
	if err != nil {
		return Statistics{}, err
	}
	return stats, nil
}

// UpdatePreferences applies a partial update.
func (s *SQLiteStore) UpdatePreferences(ctx context.Context, key string, upd PreferencesUpdate) (Preferences, error) {
	var next Preferences
	err := s.inTx(ctx, key, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, `SELECT preferences FROM sessions WHERE session_key = ?`, key).Scan(&raw); err != nil {
			return err
		}
		var current Preferences
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("decode preferences: %w", err)
		}

		var err error
		if next, err = upd.Apply(current); err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET preferences = ?, updated_at = ? WHERE session_key = ?`,
			string(encoded), time.Now().UTC().Format(time.RFC3339Nano), key)
		return err
	})
	if err != nil {
		return Preferences{}, err
	}
	return next, nil
}

// GetHistory returns recent records in chronological order.
func (s *SQLiteStore) GetHistory(ctx context.Context, key string, limit int) ([]Record, error) {
	var records []Record
	err := s.inTx(ctx, key, func(tx *sql.Tx) error {
		var err error
		records, err = history(ctx, tx, key, limit)
		return err
	})
	return records, err
}

// GetStatistics returns the session statistics.
func (s *SQLiteStore) GetStatistics(ctx context.Context, key string) (Statistics, error) {
	var stats Statistics
	err := s.inTx(ctx, key, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT total_routes, average_risk, high_risk_routes FROM sessions WHERE session_key = ?
		`, key).Scan(&stats.TotalRoutes, &stats.AverageRisk, &stats.HighRiskRoutes)
	})
	return stats, err
}

func history(ctx context.Context, tx *sql.Tx, key string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT record FROM (
			SELECT seq, record FROM session_records
			WHERE session_key = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
