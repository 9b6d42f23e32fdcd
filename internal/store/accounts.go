package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Sha-Dox/coral/internal/models"
)

const accountColumns = `id, identity_id, platform, username, display_name, enabled,
	config_json, last_checked, last_data, last_error, error_count, created_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.IdentityID, &a.Platform, &a.Username, &a.DisplayName,
		&a.Enabled, &a.ConfigJSON, &a.LastChecked, &a.LastData, &a.LastError,
		&a.ErrorCount, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) AddAccount(ctx context.Context, identityID int64, platform models.Platform, username string, displayName *string, configJSON json.RawMessage) (int64, error) {
	var id int64
	err := p.q(ctx).QueryRow(ctx,
		`INSERT INTO accounts (identity_id, platform, username, display_name, config_json)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		identityID, platform, username, displayName, configJSON,
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrDuplicateAccount
	}
	if err != nil {
		return 0, fmt.Errorf("insert_account: %w", err)
	}

	_, err = p.q(ctx).Exec(ctx,
		`UPDATE identities SET updated_at = NOW() WHERE id = $1`, identityID)
	if err != nil {
		return 0, fmt.Errorf("touch_identity: %w", err)
	}
	return id, nil
}

func (p *Postgres) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	a, err := scanAccount(p.q(ctx).QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_account: %w", err)
	}
	return a, nil
}

// GetEnabledAccounts returns the batch for one scheduler cycle,
// in stable (platform, username) order.
func (p *Postgres) GetEnabledAccounts(ctx context.Context) ([]models.Account, error) {
	return p.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE enabled ORDER BY platform, username`)
}

func (p *Postgres) GetAccountsByIdentity(ctx context.Context, identityID int64) ([]models.Account, error) {
	return p.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE identity_id = $1 ORDER BY platform, username`,
		identityID)
}

func (p *Postgres) queryAccounts(ctx context.Context, sql string, args ...any) ([]models.Account, error) {
	rows, err := p.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query_accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan_account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccountParams are the operator-editable fields; nil means unchanged.
type UpdateAccountParams struct {
	Username    *string
	DisplayName *string
	Enabled     *bool
	ConfigJSON  json.RawMessage
}

func (p *Postgres) UpdateAccount(ctx context.Context, id int64, params UpdateAccountParams) (bool, error) {
	tag, err := p.q(ctx).Exec(ctx,
		`UPDATE accounts
		 SET username = COALESCE($2, username),
		     display_name = COALESCE($3, display_name),
		     enabled = COALESCE($4, enabled),
		     config_json = COALESCE($5, config_json)
		 WHERE id = $1`,
		id, params.Username, params.DisplayName, params.Enabled, params.ConfigJSON,
	)
	if isUniqueViolation(err) {
		return false, ErrDuplicateAccount
	}
	if err != nil {
		return false, fmt.Errorf("update_account: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeleteAccount(ctx context.Context, id int64) (bool, error) {
	tag, err := p.q(ctx).Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete_account: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordCheckSuccess replaces the stored snapshot, stamps last_checked and
// clears the error state in one statement.
func (p *Postgres) RecordCheckSuccess(ctx context.Context, id int64, snapshot json.RawMessage) error {
	_, err := p.q(ctx).Exec(ctx,
		`UPDATE accounts
		 SET last_data = $2, last_checked = NOW(), last_error = NULL, error_count = 0
		 WHERE id = $1`,
		id, snapshot,
	)
	if err != nil {
		return fmt.Errorf("record_check_success: %w", err)
	}
	return nil
}

// RecordCheckError stores the message and increments the consecutive failure
// counter. last_data and last_checked are left untouched.
func (p *Postgres) RecordCheckError(ctx context.Context, id int64, msg string) error {
	_, err := p.q(ctx).Exec(ctx,
		`UPDATE accounts
		 SET last_error = $2, error_count = error_count + 1
		 WHERE id = $1`,
		id, msg,
	)
	if err != nil {
		return fmt.Errorf("record_check_error: %w", err)
	}
	return nil
}
