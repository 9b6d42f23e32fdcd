package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Sha-Dox/coral/internal/models"
	"github.com/Sha-Dox/coral/internal/monitor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu       sync.Mutex
	accounts []models.Account
	errors   map[int64]string
}

func newFakeStore(accounts ...models.Account) *fakeStore {
	return &fakeStore{accounts: accounts, errors: map[int64]string{}}
}

func (f *fakeStore) GetEnabledAccounts(ctx context.Context) ([]models.Account, error) {
	return f.accounts, nil
}

func (f *fakeStore) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	for _, a := range f.accounts {
		if a.ID == id {
			account := a
			return &account, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) RecordCheckSuccess(ctx context.Context, accountID int64, snapshot json.RawMessage) error {
	return nil
}

func (f *fakeStore) RecordCheckError(ctx context.Context, accountID int64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[accountID] = msg
	return nil
}

func (f *fakeStore) AddEvent(ctx context.Context, accountID int64, eventType, summary string, payload any) (int64, error) {
	return 1, nil
}

func (f *fakeStore) GetPinterestBoards(ctx context.Context, accountID int64) ([]models.PinterestBoard, error) {
	return nil, nil
}

func (f *fakeStore) AddPinterestBoard(ctx context.Context, accountID int64, url, name string, pinCount int, description *string) (int64, error) {
	return 1, nil
}

func (f *fakeStore) UpdatePinterestBoard(ctx context.Context, boardID int64, pinCount int, name string, description *string) error {
	return nil
}

func (f *fakeStore) GetSetting(ctx context.Context, key, def string) (string, error) {
	return def, nil
}

func (f *fakeStore) SetSetting(ctx context.Context, key, value string) error {
	return nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeMonitor records which accounts it checked and optionally panics on a
// chosen account.
type fakeMonitor struct {
	platform models.Platform
	mu       sync.Mutex
	checked  []int64
	lastSeen models.Account
	panicOn  int64
}

func (f *fakeMonitor) Platform() models.Platform { return f.platform }

func (f *fakeMonitor) Check(ctx context.Context, account models.Account, store monitor.Store) {
	f.mu.Lock()
	f.checked = append(f.checked, account.ID)
	f.lastSeen = account
	f.mu.Unlock()
	if f.panicOn != 0 && account.ID == f.panicOn {
		panic("boom")
	}
}

func (f *fakeMonitor) checkedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.checked...)
}

func account(id int64, platform models.Platform) models.Account {
	return models.Account{ID: id, Platform: platform, Username: "user", Enabled: true}
}

func TestCheckAll_ChecksEveryEnabledAccount(t *testing.T) {
	store := newFakeStore(
		account(1, models.PlatformInstagram),
		account(2, models.PlatformInstagram),
		account(3, models.PlatformInstagram),
	)
	mon := &fakeMonitor{platform: models.PlatformInstagram}
	s := New(testLogger(), store, []monitor.Monitor{mon}, time.Minute)

	s.CheckAll(context.Background())

	if ids := mon.checkedIDs(); len(ids) != 3 {
		t.Errorf("expected 3 checks, got %v", ids)
	}
}

func TestCheckAll_PanicInOneAccountDoesNotStopTheCycle(t *testing.T) {
	store := newFakeStore(
		account(1, models.PlatformInstagram),
		account(2, models.PlatformInstagram),
		account(3, models.PlatformInstagram),
	)
	mon := &fakeMonitor{platform: models.PlatformInstagram, panicOn: 2}
	s := New(testLogger(), store, []monitor.Monitor{mon}, time.Minute)

	s.CheckAll(context.Background())

	ids := mon.checkedIDs()
	if len(ids) != 3 || ids[2] != 3 {
		t.Errorf("expected accounts after the panicking one to still be checked, got %v", ids)
	}
}

func TestCheckAll_UnknownPlatformIsSkipped(t *testing.T) {
	store := newFakeStore(
		account(1, models.PlatformInstagram),
		account(2, models.PlatformSpotify),
	)
	mon := &fakeMonitor{platform: models.PlatformInstagram}
	s := New(testLogger(), store, []monitor.Monitor{mon}, time.Minute)

	s.CheckAll(context.Background())

	if ids := mon.checkedIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("expected only the instagram account checked, got %v", ids)
	}
}

func TestCheckSingle_FalseForMissingAccount(t *testing.T) {
	store := newFakeStore(account(1, models.PlatformInstagram))
	mon := &fakeMonitor{platform: models.PlatformInstagram}
	s := New(testLogger(), store, []monitor.Monitor{mon}, time.Minute)

	if s.CheckSingle(context.Background(), 99) {
		t.Error("expected false for an unknown account id")
	}
	if !s.CheckSingle(context.Background(), 1) {
		t.Error("expected true for an existing account")
	}
}

func TestCheckSingle_FalseWithoutMonitorForPlatform(t *testing.T) {
	store := newFakeStore(account(1, models.PlatformPinterest))
	mon := &fakeMonitor{platform: models.PlatformInstagram}
	s := New(testLogger(), store, []monitor.Monitor{mon}, time.Minute)

	if s.CheckSingle(context.Background(), 1) {
		t.Error("expected false when no monitor handles the platform")
	}
}

func TestCheckAccount_DiffsAgainstCurrentRowNotTheLoadedOne(t *testing.T) {
	stale := account(1, models.PlatformInstagram)
	store := newFakeStore(account(1, models.PlatformInstagram))
	store.accounts[0].LastData = json.RawMessage(`{"followers":42}`)
	mon := &fakeMonitor{platform: models.PlatformInstagram}
	s := New(testLogger(), store, []monitor.Monitor{mon}, time.Minute)

	if !s.checkAccount(context.Background(), stale) {
		t.Fatal("expected the check to run")
	}

	mon.mu.Lock()
	got := mon.lastSeen.LastData
	mon.mu.Unlock()
	if string(got) != `{"followers":42}` {
		t.Errorf("expected the reloaded snapshot, got %q", string(got))
	}
}

func TestCheckAccount_FalseWhenRowVanishedBeforeLock(t *testing.T) {
	store := newFakeStore()
	mon := &fakeMonitor{platform: models.PlatformInstagram}
	s := New(testLogger(), store, []monitor.Monitor{mon}, time.Minute)

	if s.checkAccount(context.Background(), account(7, models.PlatformInstagram)) {
		t.Error("expected false for an account deleted before the check ran")
	}
	if ids := mon.checkedIDs(); len(ids) != 0 {
		t.Errorf("expected no check, got %v", ids)
	}
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	store := newFakeStore()
	s := New(testLogger(), store, nil, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if running, _, _ := s.Status(); running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler never reported running")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// second Start must return immediately
	s.Start(ctx)

	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	if running, _, _ := s.Status(); running {
		t.Error("expected running=false after stop")
	}
}

func TestScheduler_StatusReportsLastRun(t *testing.T) {
	store := newFakeStore(account(1, models.PlatformInstagram))
	mon := &fakeMonitor{platform: models.PlatformInstagram}
	s := New(testLogger(), store, []monitor.Monitor{mon}, time.Minute)

	if _, lastRun, _ := s.Status(); !lastRun.IsZero() {
		t.Error("expected zero last run before any cycle")
	}

	s.CheckAll(context.Background())

	_, lastRun, interval := s.Status()
	if lastRun.IsZero() {
		t.Error("expected last run to be set after a cycle")
	}
	if interval != time.Minute {
		t.Errorf("unexpected interval: %v", interval)
	}
}
