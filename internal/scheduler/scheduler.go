package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sha-Dox/coral/internal/models"
	"github.com/Sha-Dox/coral/internal/monitor"
)

// Store adds the account listing the scheduler needs on top of what the
// per-platform monitors use.
type Store interface {
	monitor.Store
	GetEnabledAccounts(ctx context.Context) ([]models.Account, error)
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
}

// Scheduler runs one check cycle over all enabled accounts at a fixed
// interval, and serves on-demand checks from the API in between. Checks for
// the same account never overlap: a manual check taken while the periodic
// cycle holds that account waits for it.
type Scheduler struct {
	log      *slog.Logger
	store    Store
	monitors map[models.Platform]monitor.Monitor
	interval time.Duration

	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	stopChan chan bool

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(log *slog.Logger, store Store, monitors []monitor.Monitor, interval time.Duration) *Scheduler {
	byPlatform := make(map[models.Platform]monitor.Monitor, len(monitors))
	for _, m := range monitors {
		byPlatform[m.Platform()] = m
	}
	return &Scheduler{
		log:      log,
		store:    store,
		monitors: byPlatform,
		interval: interval,
		stopChan: make(chan bool, 1),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// Start blocks, running a cycle immediately and then on every tick, until
// Stop is called or ctx is cancelled. Calling Start while already running
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("scheduler_started", "interval", s.interval.String())

	s.CheckAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CheckAll(ctx)
		case <-s.stopChan:
			s.setRunning(false)
			s.log.Info("scheduler_stopped")
			return
		case <-ctx.Done():
			s.setRunning(false)
			s.log.Info("scheduler_stopped", "reason", "context_cancelled")
			return
		}
	}
}

func (s *Scheduler) Stop() {
	select {
	case s.stopChan <- true:
	default:
	}
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Status reports whether the periodic loop is active and when the last full
// cycle started.
func (s *Scheduler) Status() (running bool, lastRun time.Time, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.lastRun, s.interval
}

// CheckAll runs one cycle over every enabled account, sequentially. A
// failing account never stops the cycle; its error lands on the account row
// and the loop moves on.
func (s *Scheduler) CheckAll(ctx context.Context) {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	accounts, err := s.store.GetEnabledAccounts(ctx)
	if err != nil {
		s.log.Error("account_list_failed", "error", err)
		return
	}

	s.log.Info("check_cycle_started", "accounts", len(accounts))
	start := time.Now()

	checked, skipped := 0, 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			s.log.Warn("check_cycle_cancelled", "checked", checked)
			return
		}
		if s.checkAccount(ctx, account) {
			checked++
		} else {
			skipped++
		}
	}

	s.log.Info("check_cycle_done",
		"checked", checked,
		"skipped", skipped,
		"duration_ms", time.Since(start).Milliseconds())
}

// CheckSingle runs one on-demand check. It reports false when the account
// does not exist or its platform has no monitor wired.
func (s *Scheduler) CheckSingle(ctx context.Context, accountID int64) bool {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		s.log.Error("account_lookup_failed", "account_id", accountID, "error", err)
		return false
	}
	if account == nil {
		return false
	}
	return s.checkAccount(ctx, *account)
}

func (s *Scheduler) checkAccount(ctx context.Context, account models.Account) (ok bool) {
	mon, found := s.monitors[account.Platform]
	if !found {
		s.log.Warn("no_monitor_for_platform", "platform", string(account.Platform), "username", account.Username)
		return false
	}

	lock := s.accountLock(account.ID)
	lock.Lock()
	defer lock.Unlock()

	// an earlier holder of the lock may have written a newer snapshot;
	// diff against the row as it is now, not as it was loaded
	fresh, err := s.store.GetAccount(ctx, account.ID)
	if err != nil {
		s.log.Error("account_lookup_failed", "account_id", account.ID, "error", err)
		return false
	}
	if fresh == nil {
		return false
	}
	account = *fresh

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("check_panicked",
				"platform", string(account.Platform),
				"username", account.Username,
				"panic", r)
			ok = false
		}
	}()

	mon.Check(ctx, account, s.store)
	return true
}

func (s *Scheduler) accountLock(id int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}
