package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database. It is the single
// coordination medium shared by all workers: the claim uniqueness index and
// transaction semantics here are the only cross-process synchronization in
// the system.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
//
// The pragmas ride on the DSN so they apply to every pooled connection, and
// _txlock=immediate makes Begin take the write lock up front: a claim
// transaction that raced past its read waits on the busy timeout instead of
// failing with SQLITE_BUSY when it tries to upgrade.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
//
// The partial unique index on claims is load-bearing: it is what guarantees
// at most one active claim per (target_key, action_type) when concurrent
// workers race, even across processes.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS workers (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    total_tasks INTEGER DEFAULT 0,
    total_likes INTEGER DEFAULT 0,
    total_comments INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    target_key TEXT NOT NULL,
    action_type TEXT NOT NULL,
    worker_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    created_at INTEGER NOT NULL,
    released_at INTEGER
);

CREATE TABLE IF NOT EXISTS action_events (
    id TEXT PRIMARY KEY,
    worker_id TEXT NOT NULL,
    module TEXT NOT NULL,
    action_type TEXT NOT NULL,
    target TEXT,
    started_at INTEGER NOT NULL,
    duration REAL NOT NULL,
    interval_from_last REAL,
    result TEXT NOT NULL,
    content TEXT,
    ip_address TEXT,
    device TEXT
);

CREATE TABLE IF NOT EXISTS ban_events (
    id TEXT PRIMARY KEY,
    worker_id TEXT NOT NULL,
    ban_date INTEGER NOT NULL,
    ban_type TEXT NOT NULL,
    account_age_days INTEGER,
    ban_delay_hours REAL,
    total_actions INTEGER NOT NULL,
    actions_last_24h INTEGER NOT NULL,
    actions_last_72h INTEGER NOT NULL,
    last_module TEXT,
    last_action TEXT
);

CREATE TABLE IF NOT EXISTS risk_scores (
    id TEXT PRIMARY KEY,
    worker_id TEXT NOT NULL,
    score_date INTEGER NOT NULL,
    age_score INTEGER NOT NULL,
    frequency_score INTEGER NOT NULL,
    pattern_score INTEGER NOT NULL,
    content_score INTEGER NOT NULL,
    ip_score INTEGER NOT NULL,
    total_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS threshold_rows (
    action_type TEXT NOT NULL,
    time_window TEXT NOT NULL,
    safe_threshold INTEGER NOT NULL,
    warning_threshold INTEGER NOT NULL,
    danger_threshold INTEGER NOT NULL,
    ban_threshold INTEGER NOT NULL,
    sample_size INTEGER NOT NULL,
    last_updated INTEGER NOT NULL,
    PRIMARY KEY (action_type, time_window)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_one_active
    ON claims(target_key, action_type) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_claims_worker ON claims(worker_id, status);
CREATE INDEX IF NOT EXISTS idx_events_worker_time ON action_events(worker_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_type_time ON action_events(action_type, started_at);
CREATE INDEX IF NOT EXISTS idx_bans_worker ON ban_events(worker_id);
CREATE INDEX IF NOT EXISTS idx_bans_date ON ban_events(ban_date);
CREATE INDEX IF NOT EXISTS idx_scores_worker_date ON risk_scores(worker_id, score_date DESC);`
	_, err := d.db.Exec(schema)
	return err
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
