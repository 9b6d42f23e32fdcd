package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/Sha-Dox/coral/internal/models"
)

// Regional mirrors tried in order; pinterest.com rate-limits unevenly across
// them, so a user missing on one often resolves on another.
var pinterestDomains = []string{"www.pinterest.com", "tr.pinterest.com", "pinterest.com"}

// PinterestFetcher scrapes the public profile and board pages for one user.
type PinterestFetcher interface {
	FetchUserInfo(ctx context.Context, username string) (*PinterestUser, *FetchFailure)
	FetchBoards(ctx context.Context, username string) ([]PinterestBoardInfo, *FetchFailure)
}

type PinterestMonitor struct {
	log      *slog.Logger
	fetcher  PinterestFetcher
	notifier Notifier
}

func NewPinterestMonitor(log *slog.Logger, fetcher PinterestFetcher, notifier Notifier) *PinterestMonitor {
	return &PinterestMonitor{log: log, fetcher: fetcher, notifier: notifier}
}

func (m *PinterestMonitor) Platform() models.Platform { return models.PlatformPinterest }

func (m *PinterestMonitor) Check(ctx context.Context, account models.Account, store Store) {
	username := account.Username
	m.log.Info("pinterest_check_started", "username", username)

	user, userFail := m.fetcher.FetchUserInfo(ctx, username)
	if userFail != nil {
		// profile stats are best-effort; board discovery decides the check
		m.log.Warn("pinterest_user_info_unavailable", "username", username, "error", userFail)
	}

	boards, fail := m.fetcher.FetchBoards(ctx, username)
	if fail != nil {
		m.log.Error("pinterest_check_failed", "username", username, "error", fail)
		if err := store.RecordCheckError(ctx, account.ID, fail.Message); err != nil {
			m.log.Error("record_check_error_failed", "account_id", account.ID, "error", err)
		}
		return
	}

	cur := PinterestSnapshot{User: user, Boards: boards}
	snapshot, err := json.Marshal(cur)
	if err != nil {
		m.log.Error("pinterest_snapshot_marshal_failed", "username", username, "error", err)
		return
	}

	if len(boards) == 0 {
		m.log.Warn("pinterest_no_boards_found", "username", username)
		if err := store.RecordCheckSuccess(ctx, account.ID, snapshot); err != nil {
			m.log.Error("pinterest_commit_failed", "username", username, "error", err)
		}
		return
	}

	var old PinterestSnapshot
	hasOld := decodeOld(account.LastData, &old)

	var changes []Change
	if hasOld && old.User != nil && user != nil {
		changes = appendChange(changes, counterChange("follower_change", "Followers", old.User.Followers, user.Followers))
	}

	known, err := store.GetPinterestBoards(ctx, account.ID)
	if err != nil {
		m.log.Error("pinterest_boards_load_failed", "username", username, "error", err)
		if err := store.RecordCheckError(ctx, account.ID, "board state unavailable"); err != nil {
			m.log.Error("record_check_error_failed", "account_id", account.ID, "error", err)
		}
		return
	}
	existing := make(map[string]models.PinterestBoard, len(known))
	for _, b := range known {
		existing[b.URL] = b
	}

	err = store.WithTx(ctx, func(ctx context.Context) error {
		for _, c := range changes {
			if _, err := store.AddEvent(ctx, account.ID, c.Type, c.Summary, c.Payload); err != nil {
				return err
			}
		}

		boardChanges, err := reconcileBoards(ctx, store, account.ID, existing, boards)
		if err != nil {
			return err
		}
		changes = append(changes, boardChanges...)

		return store.RecordCheckSuccess(ctx, account.ID, snapshot)
	})
	if err != nil {
		m.log.Error("pinterest_commit_failed", "username", username, "error", err)
		return
	}

	for _, c := range changes {
		m.notifier.Notify(ctx, models.PlatformPinterest, username, c.Type, c.Summary)
	}

	m.log.Info("pinterest_check_done", "username", username, "boards", len(boards), "events", len(changes))
}

// reconcileBoards matches scraped boards against stored rows by URL.
// Known boards are updated in place; unseen URLs become new rows. Boards
// that vanished from the page are left alone - a transient fetch miss must
// not read as a deletion.
func reconcileBoards(ctx context.Context, store Store, accountID int64, existing map[string]models.PinterestBoard, boards []PinterestBoardInfo) ([]Change, error) {
	var changes []Change

	for _, board := range boards {
		prev, ok := existing[board.URL]
		if !ok {
			if _, err := store.AddPinterestBoard(ctx, accountID, board.URL, board.Name, board.PinCount, board.Description); err != nil {
				return nil, err
			}
			c := Change{
				Type:    "new_board",
				Summary: fmt.Sprintf("New board: %q (%d pins)", board.Name, board.PinCount),
				Payload: map[string]any{"board_name": board.Name, "board_url": board.URL, "pin_count": board.PinCount},
			}
			changes = append(changes, c)
			if _, err := store.AddEvent(ctx, accountID, c.Type, c.Summary, c.Payload); err != nil {
				return nil, err
			}
			continue
		}

		if err := store.UpdatePinterestBoard(ctx, prev.ID, board.PinCount, board.Name, board.Description); err != nil {
			return nil, err
		}

		if board.PinCount > prev.CurrentPinCount {
			c := Change{
				Type: "new_pins",
				Summary: fmt.Sprintf("+%d pin(s) on %q (%d -> %d)",
					board.PinCount-prev.CurrentPinCount, board.Name, prev.CurrentPinCount, board.PinCount),
				Payload: map[string]any{
					"board_name": board.Name, "board_url": board.URL,
					"old_count": prev.CurrentPinCount, "new_count": board.PinCount,
				},
			}
			changes = append(changes, c)
			if _, err := store.AddEvent(ctx, accountID, c.Type, c.Summary, c.Payload); err != nil {
				return nil, err
			}
		}

		if board.Description != nil && prev.Description != nil && *board.Description != *prev.Description {
			c := Change{
				Type:    "board_update",
				Summary: fmt.Sprintf("Board %q description changed", board.Name),
				Payload: map[string]any{
					"board_name": board.Name,
					"old_desc":   *prev.Description, "new_desc": *board.Description,
				},
			}
			changes = append(changes, c)
			if _, err := store.AddEvent(ctx, accountID, c.Type, c.Summary, c.Payload); err != nil {
				return nil, err
			}
		}
	}

	return changes, nil
}

// --- HTTP scraper ---

var (
	boardPathRe   = regexp.MustCompile(`"(/[^"/]+/[^"/]+/)"`)
	pinCountRe    = regexp.MustCompile(`"pin_count":(\d+)`)
	followerCntRe = regexp.MustCompile(`"follower_count":(\d+)`)
	fullNameRe    = regexp.MustCompile(`"full_name":"([^"]+)"`)
	ogTitleRe     = regexp.MustCompile(`<meta property="og:title" content="([^"]+)"`)
	ogDescRe      = regexp.MustCompile(`<meta property="og:description" content="([^"]*)"`)
)

// pinterestScraper fetches profile and board pages over plain HTTP. Board
// page fetches are paced by a rate limiter so the burst of per-board
// requests does not trip anti-scraping defenses, and each page is retried a
// bounded number of times with backoff before the lookup counts as failed.
type pinterestScraper struct {
	log     *slog.Logger
	client  *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
	domains []string
}

func NewPinterestScraper(log *slog.Logger, client *http.Client) PinterestFetcher {
	return &pinterestScraper{
		log:     log,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(1), 1), // one board page per second
		retry:   DefaultRetryConfig(),
		domains: pinterestDomains,
	}
}

func (s *pinterestScraper) get(ctx context.Context, url string) (finalURL, body string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("status_%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", "", err
	}
	return resp.Request.URL.String(), string(data), nil
}

// getWithRetry wraps get with the bounded backoff retry used for every
// Pinterest page load.
func (s *pinterestScraper) getWithRetry(ctx context.Context, url string) (string, string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			sleepCtx(ctx, CalculateBackoff(s.retry, attempt-1, 0))
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
		}
		finalURL, body, err := s.get(ctx, url)
		if err == nil {
			return finalURL, body, nil
		}
		lastErr = err
		s.log.Warn("pinterest_fetch_retry", "url", url, "attempt", attempt+1, "error", err)
	}
	return "", "", lastErr
}

func (s *pinterestScraper) FetchUserInfo(ctx context.Context, username string) (*PinterestUser, *FetchFailure) {
	for _, domain := range s.domains[:2] {
		_, body, err := s.get(ctx, fmt.Sprintf("https://%s/%s/", domain, username))
		if err != nil {
			continue
		}
		if user := parsePinterestUserInfo(username, body); user != nil {
			return user, nil
		}
	}
	return nil, failure(FailTransient, fmt.Sprintf("Pinterest profile %q unavailable", username), nil)
}

func (s *pinterestScraper) FetchBoards(ctx context.Context, username string) ([]PinterestBoardInfo, *FetchFailure) {
	var lastErr error
	for _, domain := range s.domains {
		_, body, err := s.getWithRetry(ctx, fmt.Sprintf("https://%s/%s/", domain, username))
		if err != nil {
			lastErr = err
			s.log.Warn("pinterest_profile_fetch_failed", "domain", domain, "username", username, "error", err)
			continue
		}

		boards := make([]PinterestBoardInfo, 0)
		for _, path := range parsePinterestBoardPaths(body, username) {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, failure(FailTransient, "board enumeration cancelled", err)
			}
			boardURL := fmt.Sprintf("https://%s%s", domain, path)
			finalURL, page, err := s.getWithRetry(ctx, boardURL)
			if err != nil {
				s.log.Warn("pinterest_board_fetch_failed", "url", boardURL, "error", err)
				continue
			}
			if info := parsePinterestBoardPage(boardURL, finalURL, page); info != nil {
				boards = append(boards, *info)
			}
		}
		if len(boards) > 0 {
			return boards, nil
		}
	}

	if lastErr != nil {
		return nil, failure(FailTransient, "Pinterest unreachable on all mirrors", lastErr)
	}
	return []PinterestBoardInfo{}, nil
}

// parsePinterestBoardPaths extracts candidate /user/board/ paths belonging
// to the given user from a profile page.
func parsePinterestBoardPaths(body, username string) []string {
	unameLower := strings.ToLower(username)
	excluded := map[string]bool{"_created": true, "_saved": true, "_pins": true, "pins": true, "boards": true}

	seen := map[string]bool{}
	var paths []string
	for _, m := range boardPathRe.FindAllStringSubmatch(body, -1) {
		path := m[1]
		parts := strings.Split(strings.Trim(path, "/"), "/")
		if len(parts) != 2 {
			continue
		}
		pathUser, slug := parts[0], parts[1]
		if strings.ToLower(pathUser) != unameLower {
			continue
		}
		if excluded[slug] || strings.HasPrefix(slug, "_") {
			continue
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths
}

// parsePinterestBoardPage extracts board metadata from a board page, or
// returns nil when the request was redirected to the Pinterest home page
// (which is how a nonexistent board answers).
func parsePinterestBoardPage(boardURL, finalURL, body string) *PinterestBoardInfo {
	if strings.HasSuffix(strings.TrimRight(finalURL, "/"), "pinterest.com") {
		return nil
	}
	head := body
	if len(head) > 2000 {
		head = head[:2000]
	}
	if strings.Contains(head, "<title>Pinterest</title>") {
		return nil
	}

	pinCount := 0
	if m := pinCountRe.FindStringSubmatch(body); m != nil {
		pinCount, _ = strconv.Atoi(m[1])
	}

	name := ""
	if m := ogTitleRe.FindStringSubmatch(body); m != nil {
		name = m[1]
	}
	parts := strings.Split(strings.TrimRight(boardURL, "/"), "/")
	if name == "" && len(parts) >= 2 {
		name = titleize(strings.ReplaceAll(parts[len(parts)-1], "-", " "))
	}
	name = strings.ReplaceAll(name, `\u002F`, "/")
	name = strings.ReplaceAll(name, `\`, "")

	var description *string
	if m := ogDescRe.FindStringSubmatch(body); m != nil {
		if d := strings.TrimSpace(m[1]); d != "" {
			description = &d
		}
	}

	uname := "unknown"
	if len(parts) >= 2 {
		uname = parts[len(parts)-2]
	}

	return &PinterestBoardInfo{
		URL:         boardURL,
		Name:        name,
		Description: description,
		Username:    uname,
		PinCount:    pinCount,
	}
}

func parsePinterestUserInfo(username, body string) *PinterestUser {
	user := &PinterestUser{Username: username, DisplayName: username}
	if m := fullNameRe.FindStringSubmatch(body); m != nil && len(m[1]) >= 2 {
		user.DisplayName = m[1]
	}
	found := false
	if m := followerCntRe.FindStringSubmatch(body); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			user.Followers = &n
			found = true
		}
	}
	if m := pinCountRe.FindStringSubmatch(body); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			user.Pins = &n
			found = true
		}
	}
	if !found && user.DisplayName == username {
		return nil
	}
	return user
}

func titleize(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
