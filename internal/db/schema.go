package db

import "context"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		identity_id BIGINT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		platform TEXT NOT NULL,
		username TEXT NOT NULL,
		display_name TEXT,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		config_json JSONB,
		last_checked TIMESTAMPTZ,
		last_data JSONB,
		last_error TEXT,
		error_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (platform, username)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		summary TEXT,
		event_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS pinterest_boards (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		url TEXT NOT NULL UNIQUE,
		name TEXT,
		description TEXT,
		current_pin_count INTEGER NOT NULL DEFAULT 0,
		last_checked TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_identity ON accounts(identity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_platform ON accounts(platform)`,
	`CREATE INDEX IF NOT EXISTS idx_events_account ON events(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_boards_account ON pinterest_boards(account_id)`,
}

// InitSchema creates all tables and indexes if they do not exist yet.
func (d *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
