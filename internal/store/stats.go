package store

import (
	"context"
	"fmt"
)

// Stats is the dashboard overview counter set.
type Stats struct {
	Identities      int64 `json:"identities"`
	Accounts        int64 `json:"accounts"`
	EnabledAccounts int64 `json:"enabled_accounts"`
	Events          int64 `json:"events"`
	EventsToday     int64 `json:"events_today"`
	AccountsInError int64 `json:"accounts_in_error"`
}

func (p *Postgres) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := p.q(ctx).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM identities),
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM accounts WHERE enabled),
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM events WHERE created_at >= date_trunc('day', NOW())),
			(SELECT COUNT(*) FROM accounts WHERE last_error IS NOT NULL)`,
	).Scan(&s.Identities, &s.Accounts, &s.EnabledAccounts, &s.Events, &s.EventsToday, &s.AccountsInError)
	if err != nil {
		return nil, fmt.Errorf("stats_query: %w", err)
	}
	return &s, nil
}

// Ping verifies database connectivity for health reporting.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Pool.Ping(ctx)
}
