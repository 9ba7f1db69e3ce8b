package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect with WAL journal mode and a generous busy timeout. With the
	// modernc.org/sqlite driver each pragma must be prefixed with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := &DB{db: sqliteDB, profile: profile}
	if err := driver.Migrate(context.Background()); err != nil {
		_ = sqliteDB.Close()
		return nil, err
	}

	return driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema if it does not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS worlds (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	turn_limit INTEGER NOT NULL DEFAULT 5,
	current_chat_id TEXT NOT NULL DEFAULT '',
	chat_llm_provider TEXT NOT NULL DEFAULT '',
	chat_llm_model TEXT NOT NULL DEFAULT '',
	mcp_config TEXT NOT NULL DEFAULT '',
	variables TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	world_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	system_prompt TEXT NOT NULL DEFAULT '',
	temperature REAL,
	max_tokens INTEGER,
	auto_reply INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'inactive',
	llm_call_count INTEGER NOT NULL DEFAULT 0,
	last_llm_call TEXT,
	created_at TEXT NOT NULL,
	last_active TEXT NOT NULL,
	PRIMARY KEY (world_id, agent_id)
);

CREATE TABLE IF NOT EXISTS agent_memory (
	world_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	chat_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	reply_to_message_id TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER,
	output_tokens INTEGER,
	total_tokens INTEGER,
	PRIMARY KEY (world_id, agent_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_agent_memory_chat ON agent_memory (world_id, chat_id, created_at);

CREATE TABLE IF NOT EXISTS agent_memory_archive (
	world_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	chat_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	reply_to_message_id TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER,
	output_tokens INTEGER,
	total_tokens INTEGER,
	archived_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	world_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (world_id, chat_id)
);
`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate schema")
	}
	return nil
}

// formatTime serializes a timestamp as an ISO-8601 (RFC 3339) string.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserializes an ISO-8601 string; zero time on empty input.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", s)
	}
	return t, nil
}
