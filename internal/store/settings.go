package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetSetting reads one process-wide configuration value, falling back to def
// when the key is unset.
func (p *Postgres) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := p.q(ctx).QueryRow(ctx,
		`SELECT COALESCE(value, '') FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("get_setting: %w", err)
	}
	return value, nil
}

func (p *Postgres) SetSetting(ctx context.Context, key, value string) error {
	_, err := p.q(ctx).Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set_setting: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteSetting(ctx context.Context, key string) (bool, error) {
	tag, err := p.q(ctx).Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete_setting: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) GetAllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := p.q(ctx).Query(ctx, `SELECT key, COALESCE(value, '') FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list_settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan_setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
