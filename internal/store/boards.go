package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Sha-Dox/coral/internal/models"
)

func (p *Postgres) GetPinterestBoards(ctx context.Context, accountID int64) ([]models.PinterestBoard, error) {
	rows, err := p.q(ctx).Query(ctx,
		`SELECT id, account_id, url, COALESCE(name, ''), description, current_pin_count, last_checked, created_at
		 FROM pinterest_boards WHERE account_id = $1 ORDER BY name`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query_boards: %w", err)
	}
	defer rows.Close()

	boards := make([]models.PinterestBoard, 0)
	for rows.Next() {
		var b models.PinterestBoard
		if err := rows.Scan(&b.ID, &b.AccountID, &b.URL, &b.Name, &b.Description,
			&b.CurrentPinCount, &b.LastChecked, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan_board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// AddPinterestBoard records a newly discovered board. Boards are unique by
// URL; re-adding a known URL is a no-op returning 0.
func (p *Postgres) AddPinterestBoard(ctx context.Context, accountID int64, url, name string, pinCount int, description *string) (int64, error) {
	var id int64
	err := p.q(ctx).QueryRow(ctx,
		`INSERT INTO pinterest_boards (account_id, url, name, description, current_pin_count, last_checked)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (url) DO NOTHING
		 RETURNING id`,
		accountID, url, name, description, pinCount,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// ON CONFLICT DO NOTHING yields no row
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert_board: %w", err)
	}
	return id, nil
}

// UpdatePinterestBoard refreshes the mutable board fields in place.
// An empty name and a nil description leave the stored values alone.
func (p *Postgres) UpdatePinterestBoard(ctx context.Context, boardID int64, pinCount int, name string, description *string) error {
	_, err := p.q(ctx).Exec(ctx,
		`UPDATE pinterest_boards
		 SET current_pin_count = $2,
		     name = CASE WHEN $3 = '' THEN name ELSE $3 END,
		     description = COALESCE($4, description),
		     last_checked = NOW()
		 WHERE id = $1`,
		boardID, pinCount, name, description,
	)
	if err != nil {
		return fmt.Errorf("update_board: %w", err)
	}
	return nil
}
