package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Sha-Dox/coral/internal/models"
)

func (p *Postgres) AddIdentity(ctx context.Context, name string, notes *string) (int64, error) {
	var id int64
	err := p.q(ctx).QueryRow(ctx,
		`INSERT INTO identities (name, notes) VALUES ($1, $2) RETURNING id`,
		name, notes,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert_identity: %w", err)
	}
	return id, nil
}

func (p *Postgres) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	var ident models.Identity
	err := p.q(ctx).QueryRow(ctx,
		`SELECT id, name, notes, created_at, updated_at FROM identities WHERE id = $1`,
		id,
	).Scan(&ident.ID, &ident.Name, &ident.Notes, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_identity: %w", err)
	}

	accounts, err := p.GetAccountsByIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	ident.Accounts = accounts
	return &ident, nil
}

func (p *Postgres) GetAllIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := p.q(ctx).Query(ctx,
		`SELECT id, name, notes, created_at, updated_at FROM identities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list_identities: %w", err)
	}
	defer rows.Close()

	identities := make([]models.Identity, 0)
	for rows.Next() {
		var ident models.Identity
		if err := rows.Scan(&ident.ID, &ident.Name, &ident.Notes, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan_identity: %w", err)
		}
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range identities {
		accounts, err := p.GetAccountsByIdentity(ctx, identities[i].ID)
		if err != nil {
			return nil, err
		}
		identities[i].Accounts = accounts
	}
	return identities, nil
}

func (p *Postgres) UpdateIdentity(ctx context.Context, id int64, name, notes *string) (bool, error) {
	tag, err := p.q(ctx).Exec(ctx,
		`UPDATE identities
		 SET name = COALESCE($2, name),
		     notes = COALESCE($3, notes),
		     updated_at = NOW()
		 WHERE id = $1`,
		id, name, notes,
	)
	if err != nil {
		return false, fmt.Errorf("update_identity: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteIdentity removes an identity; accounts and their events cascade away.
func (p *Postgres) DeleteIdentity(ctx context.Context, id int64) (bool, error) {
	tag, err := p.q(ctx).Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete_identity: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
