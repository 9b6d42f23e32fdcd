package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sha-Dox/coral/internal/models"
)

// Store is the persistence contract a check cycle needs. The postgres store
// satisfies it; tests use in-memory fakes.
type Store interface {
	RecordCheckSuccess(ctx context.Context, accountID int64, snapshot json.RawMessage) error
	RecordCheckError(ctx context.Context, accountID int64, msg string) error
	AddEvent(ctx context.Context, accountID int64, eventType, summary string, payload any) (int64, error)

	GetPinterestBoards(ctx context.Context, accountID int64) ([]models.PinterestBoard, error)
	AddPinterestBoard(ctx context.Context, accountID int64, url, name string, pinCount int, description *string) (int64, error)
	UpdatePinterestBoard(ctx context.Context, boardID int64, pinCount int, name string, description *string) error

	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// WithTx scopes all writes of one check so readers never observe a new
	// snapshot without its events or vice versa.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier receives one call per detected change, after the change has been
// committed.
type Notifier interface {
	Notify(ctx context.Context, platform models.Platform, username, eventType, summary string)
}

// Monitor is the per-platform check contract. Check performs one full cycle
// for the account: fetch, diff against the stored snapshot, persist events
// and the new snapshot, dispatch notifications. It must not panic and has no
// error return; every failure ends up in the account's error fields.
type Monitor interface {
	Platform() models.Platform
	Check(ctx context.Context, account models.Account, store Store)
}

// FailureKind classifies a failed fetch so callers branch on a tag instead
// of sniffing error strings.
type FailureKind int

const (
	FailAuth FailureKind = iota + 1
	FailRateLimited
	FailTransient
	FailFatal
)

func (k FailureKind) String() string {
	switch k {
	case FailAuth:
		return "auth"
	case FailRateLimited:
		return "rate_limited"
	case FailTransient:
		return "transient"
	case FailFatal:
		return "fatal"
	}
	return "unknown"
}

// FetchFailure is the error arm of a fetch outcome. Message is the
// operator-facing text recorded as last_error.
type FetchFailure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *FetchFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Message, f.Err)
	}
	return f.Message
}

func (f *FetchFailure) Unwrap() error { return f.Err }

func failure(kind FailureKind, msg string, err error) *FetchFailure {
	return &FetchFailure{Kind: kind, Message: msg, Err: err}
}

// decodeOld unmarshals the stored snapshot into dst and reports whether a
// usable prior snapshot existed. A missing or corrupt last_data means first
// observation: no diffing, just establish the baseline.
func decodeOld(lastData json.RawMessage, dst any) bool {
	if len(lastData) == 0 || string(lastData) == "null" {
		return false
	}
	if err := json.Unmarshal(lastData, dst); err != nil {
		return false
	}
	return true
}
