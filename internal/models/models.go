package models

import (
	"encoding/json"
	"time"
)

// Platform identifies which adapter handles an account.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformPinterest Platform = "pinterest"
	PlatformSpotify   Platform = "spotify"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformPinterest, PlatformSpotify:
		return true
	}
	return false
}

// Identity is a person of interest grouping one or more monitored accounts.
type Identity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Accounts  []Account `json:"accounts,omitempty"`
}

// Account is one (platform, username) monitoring target.
type Account struct {
	ID          int64           `json:"id"`
	IdentityID  int64           `json:"identity_id"`
	Platform    Platform        `json:"platform"`
	Username    string          `json:"username"`
	DisplayName *string         `json:"display_name,omitempty"`
	Enabled     bool            `json:"enabled"`
	ConfigJSON  json.RawMessage `json:"config_json,omitempty"`
	LastChecked *time.Time      `json:"last_checked,omitempty"`
	LastData    json.RawMessage `json:"last_data,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	ErrorCount  int             `json:"error_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Config decodes the per-account JSON overrides. A missing or malformed
// config_json yields an empty map, matching how absent overrides behave.
func (a Account) Config() map[string]string {
	out := map[string]string{}
	if len(a.ConfigJSON) == 0 {
		return out
	}
	var raw map[string]any
	if err := json.Unmarshal(a.ConfigJSON, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Event is an immutable record of one detected change.
type Event struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	EventData json.RawMessage `json:"event_data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	// denormalized for event listings
	Platform     Platform `json:"platform,omitempty"`
	Username     string   `json:"username,omitempty"`
	IdentityID   int64    `json:"identity_id,omitempty"`
	IdentityName string   `json:"identity_name,omitempty"`
}

// PinterestBoard is a per-board row reconciled by URL on every check.
type PinterestBoard struct {
	ID              int64      `json:"id"`
	AccountID       int64      `json:"account_id"`
	URL             string     `json:"url"`
	Name            string     `json:"name"`
	Description     *string    `json:"description,omitempty"`
	CurrentPinCount int        `json:"current_pin_count"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
