package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Sha-Dox/coral/internal/logging"
	"github.com/Sha-Dox/coral/internal/models"
)

const instagramSessionSetting = "instagram_session"

// InstagramFetcher retrieves the current public profile state for one
// username using the given session cookie.
type InstagramFetcher interface {
	FetchProfile(ctx context.Context, username, sessionID string) (*InstagramSnapshot, *FetchFailure)
}

// SessionImporter pulls a fresh Instagram session out of a local browser's
// cookie store. Cookie extraction itself lives outside the engine; the
// monitor only invokes the capability once per expired session.
type SessionImporter interface {
	ImportSession(ctx context.Context) (sessionID string, err error)
}

type InstagramMonitor struct {
	log        *slog.Logger
	fetcher    InstagramFetcher
	importer   SessionImporter // nil when no browser is available
	notifier   Notifier
	envSession string
}

func NewInstagramMonitor(log *slog.Logger, fetcher InstagramFetcher, importer SessionImporter, notifier Notifier, envSession string) *InstagramMonitor {
	return &InstagramMonitor{
		log:        log,
		fetcher:    fetcher,
		importer:   importer,
		notifier:   notifier,
		envSession: envSession,
	}
}

func (m *InstagramMonitor) Platform() models.Platform { return models.PlatformInstagram }

// resolveSession walks the credential precedence chain:
// per-account override, then the stored setting, then the env fallback.
func (m *InstagramMonitor) resolveSession(ctx context.Context, account models.Account, store Store) string {
	if s := account.Config()["session_id"]; s != "" {
		return s
	}
	if s, err := store.GetSetting(ctx, instagramSessionSetting, ""); err == nil && s != "" {
		return s
	}
	return m.envSession
}

func (m *InstagramMonitor) Check(ctx context.Context, account models.Account, store Store) {
	username := account.Username
	m.log.Info("instagram_check_started", "username", username)

	sessionID := m.resolveSession(ctx, account, store)

	cur, fail := m.fetcher.FetchProfile(ctx, username, sessionID)
	if fail != nil {
		switch fail.Kind {
		case FailRateLimited:
			// recovery attempts would only make rate limiting worse
			m.log.Error("instagram_rate_limited", "username", username)
			m.recordError(ctx, store, account.ID, "Rate limited by Instagram")
			return
		case FailAuth:
			cur = m.recoverSession(ctx, account, store, sessionID)
			if cur == nil {
				return
			}
		default:
			m.log.Error("instagram_fetch_failed", "username", username, "error", fail)
			m.recordError(ctx, store, account.ID, fail.Message)
			return
		}
	}

	var changes []Change
	var old InstagramSnapshot
	if decodeOld(account.LastData, &old) {
		changes = diffInstagram(old, *cur)
	}

	snapshot, err := json.Marshal(cur)
	if err != nil {
		m.log.Error("instagram_snapshot_marshal_failed", "username", username, "error", err)
		m.recordError(ctx, store, account.ID, "internal: snapshot marshal failed")
		return
	}

	err = store.WithTx(ctx, func(ctx context.Context) error {
		for _, c := range changes {
			if _, err := store.AddEvent(ctx, account.ID, c.Type, c.Summary, c.Payload); err != nil {
				return err
			}
		}
		return store.RecordCheckSuccess(ctx, account.ID, snapshot)
	})
	if err != nil {
		m.log.Error("instagram_commit_failed", "username", username, "error", err)
		return
	}

	for _, c := range changes {
		m.notifier.Notify(ctx, models.PlatformInstagram, username, c.Type, c.Summary)
	}

	m.log.Info("instagram_check_done", "username", username,
		"followers", derefInt(cur.Followers), "posts", derefInt(cur.Posts), "events", len(changes))
}

// recoverSession makes exactly one automatic recovery attempt via the
// browser importer, then falls back to a durable, operator-actionable error.
// Returns the refetched snapshot on success, nil when the check is over.
func (m *InstagramMonitor) recoverSession(ctx context.Context, account models.Account, store Store, oldSession string) *InstagramSnapshot {
	username := account.Username
	m.log.Warn("instagram_session_expired", "username", username,
		"session", logging.MaskSecret(oldSession))

	if m.importer != nil {
		newSession, err := m.importer.ImportSession(ctx)
		if err == nil && newSession != "" {
			cur, fail := m.fetcher.FetchProfile(ctx, username, newSession)
			if fail == nil {
				m.log.Info("instagram_session_reimported", "username", username)
				if newSession != oldSession {
					if err := store.SetSetting(ctx, instagramSessionSetting, newSession); err != nil {
						m.log.Warn("instagram_session_save_failed", "error", err)
					}
				}
				return cur
			}
			m.log.Error("instagram_reimport_fetch_failed", "username", username, "error", fail)
		} else if err != nil {
			m.log.Debug("instagram_browser_reimport_failed", "username", username, "error", err)
		}
	}

	m.recordError(ctx, store, account.ID,
		"Session expired. Log into instagram.com in your browser to auto-fix.")
	m.notifier.Notify(ctx, models.PlatformInstagram, username, "session_expired",
		fmt.Sprintf("Instagram session expired for @%s. Log into instagram.com in your browser.", username))
	return nil
}

func (m *InstagramMonitor) recordError(ctx context.Context, store Store, accountID int64, msg string) {
	if err := store.RecordCheckError(ctx, accountID, msg); err != nil {
		m.log.Error("record_check_error_failed", "account_id", accountID, "error", err)
	}
}

// diffInstagram emits changes in a fixed field order: followers, followings,
// bio, posts, full name, privacy flag.
func diffInstagram(old, cur InstagramSnapshot) []Change {
	var changes []Change
	changes = appendChange(changes, counterChange("follower_change", "Followers", old.Followers, cur.Followers))
	changes = appendChange(changes, counterChange("following_change", "Following", old.Followings, cur.Followings))
	changes = appendChange(changes, textChange("bio_change", "Bio updated", old.Bio, cur.Bio,
		map[string]any{"old_bio": old.Bio, "new_bio": cur.Bio}))
	changes = appendChange(changes, growthChange("new_post", "post", old.Posts, cur.Posts))
	changes = appendChange(changes, textChange("name_change",
		fmt.Sprintf("Name changed: %q -> %q", old.FullName, cur.FullName),
		old.FullName, cur.FullName,
		map[string]any{"old": old.FullName, "new": cur.FullName}))
	if old.IsPrivate != nil && cur.IsPrivate != nil && *old.IsPrivate != *cur.IsPrivate {
		status := "public"
		if *cur.IsPrivate {
			status = "private"
		}
		changes = appendChange(changes, boolChange("privacy_change",
			fmt.Sprintf("Account is now %s", status), old.IsPrivate, cur.IsPrivate))
	}
	return changes
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// instagramAPIFetcher hits the Instagram web profile endpoint with the
// session cookie, the way the web app itself loads a profile page.
type instagramAPIFetcher struct {
	client *http.Client
}

func NewInstagramAPIFetcher(client *http.Client) InstagramFetcher {
	return &instagramAPIFetcher{client: client}
}

const igAppID = "936619743392459" // X-IG-App-ID of the public web client

func (f *instagramAPIFetcher) FetchProfile(ctx context.Context, username, sessionID string) (*InstagramSnapshot, *FetchFailure) {
	url := fmt.Sprintf("https://www.instagram.com/api/v1/users/web_profile_info/?username=%s", username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, failure(FailTransient, "failed to build request", err)
	}

	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("X-IG-App-ID", igAppID)
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: sessionID})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, failure(FailTransient, "Instagram request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, failure(FailRateLimited, "rate limited by Instagram", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, failure(FailAuth, "Instagram session rejected", nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, failure(FailTransient, fmt.Sprintf("Instagram profile %q not found", username), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, failure(FailTransient, fmt.Sprintf("Instagram returned status %d", resp.StatusCode), nil)
	}

	var body struct {
		Data struct {
			User *struct {
				Biography      string `json:"biography"`
				FullName       string `json:"full_name"`
				IsPrivate      bool   `json:"is_private"`
				EdgeFollowedBy struct {
					Count int `json:"count"`
				} `json:"edge_followed_by"`
				EdgeFollow struct {
					Count int `json:"count"`
				} `json:"edge_follow"`
				EdgeOwnerToTimelineMedia struct {
					Count int `json:"count"`
				} `json:"edge_owner_to_timeline_media"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, failure(FailTransient, "unexpected Instagram response shape", err)
	}
	if body.Data.User == nil {
		// the web endpoint hides profiles behind the login wall
		return nil, failure(FailAuth, "Instagram login required", nil)
	}

	u := body.Data.User
	followers := u.EdgeFollowedBy.Count
	followings := u.EdgeFollow.Count
	posts := u.EdgeOwnerToTimelineMedia.Count
	isPrivate := u.IsPrivate

	return &InstagramSnapshot{
		Followers:  &followers,
		Followings: &followings,
		Posts:      &posts,
		Bio:        u.Biography,
		IsPrivate:  &isPrivate,
		FullName:   u.FullName,
	}, nil
}
