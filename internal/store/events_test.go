package store

import (
	"testing"

	"github.com/Sha-Dox/coral/internal/models"
)

func int64Ptr(v int64) *int64 { return &v }

func TestEventConditions_NoFilters(t *testing.T) {
	where, args := eventConditions(EventFilter{})
	if where != "" {
		t.Errorf("expected empty where clause, got %q", where)
	}
	if len(args) != 0 {
		t.Errorf("expected no args, got %v", args)
	}
}

func TestEventConditions_SingleFilter(t *testing.T) {
	where, args := eventConditions(EventFilter{AccountID: int64Ptr(7)})
	if where != " WHERE e.account_id = $1" {
		t.Errorf("unexpected where clause: %q", where)
	}
	if len(args) != 1 || args[0] != int64(7) {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestEventConditions_CombinedFiltersNumberSequentially(t *testing.T) {
	platform := models.PlatformSpotify
	where, args := eventConditions(EventFilter{
		AccountID:  int64Ptr(7),
		IdentityID: int64Ptr(3),
		Platform:   &platform,
	})
	want := " WHERE e.account_id = $1 AND a.identity_id = $2 AND a.platform = $3"
	if where != want {
		t.Errorf("unexpected where clause: %q", where)
	}
	if len(args) != 3 || args[2] != platform {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Error("nil is not a unique violation")
	}
	if isUniqueViolation(ErrDuplicateAccount) {
		t.Error("sentinel errors are not pg errors")
	}
}
