package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/Sha-Dox/coral/internal/models"
)

type fakeInstagramFetcher struct {
	bySession map[string]*InstagramSnapshot
	fail      *FetchFailure
	calls     int
}

func (f *fakeInstagramFetcher) FetchProfile(ctx context.Context, username, sessionID string) (*InstagramSnapshot, *FetchFailure) {
	f.calls++
	if snap, ok := f.bySession[sessionID]; ok {
		return snap, nil
	}
	if f.fail != nil {
		return nil, f.fail
	}
	return nil, failure(FailAuth, "Instagram session rejected", nil)
}

type fakeImporter struct {
	session string
	err     error
	calls   int
}

func (f *fakeImporter) ImportSession(ctx context.Context) (string, error) {
	f.calls++
	return f.session, f.err
}

func igAccount(id int64, lastData []byte) models.Account {
	return models.Account{
		ID:       id,
		Platform: models.PlatformInstagram,
		Username: "target",
		Enabled:  true,
		LastData: lastData,
	}
}

func igSnapshot(followers, posts int) *InstagramSnapshot {
	return &InstagramSnapshot{
		Followers:  intPtr(followers),
		Followings: intPtr(200),
		Posts:      intPtr(posts),
		Bio:        "hello",
		IsPrivate:  boolPtr(false),
		FullName:   "Target Person",
	}
}

func TestInstagramCheck_FirstObservationProducesNoEvents(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	fetcher := &fakeInstagramFetcher{bySession: map[string]*InstagramSnapshot{"sess": igSnapshot(100, 10)}}
	m := NewInstagramMonitor(testLogger(), fetcher, nil, notifier, "sess")

	m.Check(context.Background(), igAccount(1, nil), store)

	if len(store.events) != 0 {
		t.Errorf("expected no events on first observation, got %v", store.events)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("expected no notifications, got %v", notifier.sent)
	}
	if _, ok := store.snapshots[1]; !ok {
		t.Error("expected baseline snapshot to be stored")
	}
}

func TestInstagramCheck_DetectsChangesAndNotifiesAfterCommit(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	fetcher := &fakeInstagramFetcher{bySession: map[string]*InstagramSnapshot{"sess": igSnapshot(85, 13)}}
	m := NewInstagramMonitor(testLogger(), fetcher, nil, notifier, "sess")

	m.Check(context.Background(), igAccount(1, mustJSON(igSnapshot(100, 10))), store)

	if len(store.events) != 2 {
		t.Fatalf("expected 2 events, got %v", store.events)
	}
	if store.events[0].Type != "follower_change" || store.events[0].Summary != "Followers: 100 -> 85 (-15)" {
		t.Errorf("unexpected first event: %+v", store.events[0])
	}
	if store.events[1].Type != "new_post" || store.events[1].Summary != "3 new post(s) (10 -> 13)" {
		t.Errorf("unexpected second event: %+v", store.events[1])
	}
	if !store.txCalled {
		t.Error("expected events and snapshot to commit together")
	}
	if len(notifier.sent) != 2 {
		t.Errorf("expected 2 notifications, got %v", notifier.sent)
	}
}

func TestInstagramCheck_UnchangedProfileIsIdempotent(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	fetcher := &fakeInstagramFetcher{bySession: map[string]*InstagramSnapshot{"sess": igSnapshot(100, 10)}}
	m := NewInstagramMonitor(testLogger(), fetcher, nil, notifier, "sess")
	account := igAccount(1, mustJSON(igSnapshot(100, 10)))

	m.Check(context.Background(), account, store)
	m.Check(context.Background(), account, store)

	if len(store.events) != 0 {
		t.Errorf("expected no events for unchanged profile, got %v", store.events)
	}
}

func TestInstagramCheck_CommitFailureSuppressesNotifications(t *testing.T) {
	store := newFakeStore()
	store.failTx = true
	notifier := &fakeNotifier{}
	fetcher := &fakeInstagramFetcher{bySession: map[string]*InstagramSnapshot{"sess": igSnapshot(85, 10)}}
	m := NewInstagramMonitor(testLogger(), fetcher, nil, notifier, "sess")

	m.Check(context.Background(), igAccount(1, mustJSON(igSnapshot(100, 10))), store)

	if len(notifier.sent) != 0 {
		t.Errorf("expected no notifications when commit fails, got %v", notifier.sent)
	}
}

func TestInstagramCheck_RateLimitRecordsErrorWithoutRecovery(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	importer := &fakeImporter{session: "fresh"}
	fetcher := &fakeInstagramFetcher{fail: failure(FailRateLimited, "rate limited by Instagram", nil)}
	m := NewInstagramMonitor(testLogger(), fetcher, importer, notifier, "sess")

	m.Check(context.Background(), igAccount(1, nil), store)

	if store.errors[1] != "Rate limited by Instagram" {
		t.Errorf("unexpected recorded error: %q", store.errors[1])
	}
	if importer.calls != 0 {
		t.Error("rate limiting must not trigger session reimport")
	}
}

func TestInstagramCheck_ExpiredSessionRecoversViaImporter(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	importer := &fakeImporter{session: "fresh"}
	fetcher := &fakeInstagramFetcher{bySession: map[string]*InstagramSnapshot{"fresh": igSnapshot(100, 10)}}
	m := NewInstagramMonitor(testLogger(), fetcher, importer, notifier, "stale")

	m.Check(context.Background(), igAccount(1, nil), store)

	if importer.calls != 1 {
		t.Errorf("expected one reimport attempt, got %d", importer.calls)
	}
	if store.settings[instagramSessionSetting] != "fresh" {
		t.Error("expected recovered session to be persisted")
	}
	if _, ok := store.snapshots[1]; !ok {
		t.Error("expected check to succeed after recovery")
	}
	if len(notifier.sent) != 0 {
		t.Errorf("successful recovery must not alert, got %v", notifier.sent)
	}
}

func TestInstagramCheck_ExpiredSessionWithoutImporterAlertsOnce(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	fetcher := &fakeInstagramFetcher{fail: failure(FailAuth, "Instagram session rejected", nil)}
	m := NewInstagramMonitor(testLogger(), fetcher, nil, notifier, "stale")

	m.Check(context.Background(), igAccount(1, nil), store)

	if store.errors[1] != "Session expired. Log into instagram.com in your browser to auto-fix." {
		t.Errorf("unexpected recorded error: %q", store.errors[1])
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Type != "session_expired" {
		t.Fatalf("expected one session_expired notification, got %v", notifier.sent)
	}
	want := "Instagram session expired for @target. Log into instagram.com in your browser."
	if notifier.sent[0].Summary != want {
		t.Errorf("unexpected notification text: %q", notifier.sent[0].Summary)
	}
}

func TestInstagramCheck_SessionPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		setting string
		env     string
		want    string
	}{
		{"account config wins", "cfg-session", "set-session", "env-session", "cfg-session"},
		{"setting beats env", "", "set-session", "env-session", "set-session"},
		{"env is the fallback", "", "", "env-session", "env-session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			if tt.setting != "" {
				store.settings[instagramSessionSetting] = tt.setting
			}
			m := NewInstagramMonitor(testLogger(), nil, nil, nil, tt.env)

			account := igAccount(1, nil)
			if tt.config != "" {
				account.ConfigJSON = []byte(fmt.Sprintf(`{"session_id": %q}`, tt.config))
			}

			got := m.resolveSession(context.Background(), account, store)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
