package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Sha-Dox/coral/internal/db"
)

// ErrDuplicateAccount is returned when (platform, username) is already tracked.
var ErrDuplicateAccount = errors.New("account_already_tracked")

// Postgres persists identities, accounts, events, boards and settings.
// All methods are transaction-aware: when the context carries a transaction
// started by WithTx, they run inside it, otherwise directly on the pool.
type Postgres struct {
	db  *db.DB
	log *slog.Logger
}

func New(dbConn *db.DB, log *slog.Logger) *Postgres {
	return &Postgres{db: dbConn, log: log}
}

type ctxKey string

const txKey ctxKey = "coral_tx"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok && tx != nil {
		return tx
	}
	return p.db.Pool
}

// WithTx runs fn with every store call inside one transaction. One check
// cycle's writes (snapshot, error state, events, board rows) commit together
// so no reader observes a half-applied check.
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(pgx.Tx); ok {
		// already transactional, don't nest
		return fn(ctx)
	}

	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
