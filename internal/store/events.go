package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Sha-Dox/coral/internal/models"
)

// AddEvent appends one immutable event row. The payload is marshalled to
// JSON; a nil payload stores NULL.
func (p *Postgres) AddEvent(ctx context.Context, accountID int64, eventType, summary string, payload any) (int64, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal_event_payload: %w", err)
		}
	}

	var id int64
	err := p.q(ctx).QueryRow(ctx,
		`INSERT INTO events (account_id, event_type, summary, event_data)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		accountID, eventType, summary, data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert_event: %w", err)
	}
	return id, nil
}

// EventFilter narrows event listings; nil fields match everything.
type EventFilter struct {
	AccountID  *int64
	IdentityID *int64
	Platform   *models.Platform
	Limit      int
	Offset     int
}

const eventSelect = `
	SELECT e.id, e.account_id, e.event_type, COALESCE(e.summary, ''), e.event_data, e.created_at,
	       a.platform, a.username, a.identity_id, i.name
	FROM events e
	JOIN accounts a ON e.account_id = a.id
	JOIN identities i ON a.identity_id = i.id`

func eventConditions(f EventFilter) (string, []any) {
	where := ""
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		clause := fmt.Sprintf(cond, len(args))
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}
	if f.AccountID != nil {
		add("e.account_id = $%d", *f.AccountID)
	}
	if f.IdentityID != nil {
		add("a.identity_id = $%d", *f.IdentityID)
	}
	if f.Platform != nil {
		add("a.platform = $%d", *f.Platform)
	}
	return where, args
}

func (p *Postgres) GetEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	where, args := eventConditions(f)
	args = append(args, f.Limit, f.Offset)
	sql := fmt.Sprintf("%s%s ORDER BY e.created_at DESC, e.id DESC LIMIT $%d OFFSET $%d",
		eventSelect, where, len(args)-1, len(args))

	rows, err := p.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query_events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EventType, &e.Summary, &e.EventData,
			&e.CreatedAt, &e.Platform, &e.Username, &e.IdentityID, &e.IdentityName); err != nil {
			return nil, fmt.Errorf("scan_event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Postgres) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	var e models.Event
	err := p.q(ctx).QueryRow(ctx, eventSelect+` WHERE e.id = $1`, id).Scan(
		&e.ID, &e.AccountID, &e.EventType, &e.Summary, &e.EventData,
		&e.CreatedAt, &e.Platform, &e.Username, &e.IdentityID, &e.IdentityName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_event: %w", err)
	}
	return &e, nil
}

func (p *Postgres) CountEvents(ctx context.Context, f EventFilter) (int64, error) {
	where, args := eventConditions(f)
	sql := `SELECT COUNT(*) FROM events e JOIN accounts a ON e.account_id = a.id` + where

	var count int64
	if err := p.q(ctx).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count_events: %w", err)
	}
	return count, nil
}

// GetIdentityLatestEvent returns the newest event across an identity's
// accounts, or nil when none exist.
func (p *Postgres) GetIdentityLatestEvent(ctx context.Context, identityID int64) (*models.Event, error) {
	events, err := p.GetEvents(ctx, EventFilter{IdentityID: &identityID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}
