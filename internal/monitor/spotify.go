package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sha-Dox/coral/internal/models"
)

const spotifyCookieSetting = "sp_dc_cookie"

// MediaArchiver stores a copy of a remote image and returns the archived
// URL. Implementations are optional; a nil archiver disables archiving.
type MediaArchiver interface {
	ArchiveImage(ctx context.Context, platform models.Platform, username, imageURL string) (string, error)
}

// SpotifyFetcher loads the full public state of one Spotify user. A nil
// FollowerList, FollowingList or Playlists slice means that sub-fetch
// failed; an empty non-nil slice means the list is genuinely empty.
type SpotifyFetcher interface {
	Fetch(ctx context.Context, userID, spDC string) (*SpotifySnapshot, *FetchFailure)
}

type SpotifyMonitor struct {
	log       *slog.Logger
	fetcher   SpotifyFetcher
	notifier  Notifier
	archiver  MediaArchiver
	envCookie string
}

func NewSpotifyMonitor(log *slog.Logger, fetcher SpotifyFetcher, notifier Notifier, archiver MediaArchiver, envCookie string) *SpotifyMonitor {
	return &SpotifyMonitor{log: log, fetcher: fetcher, notifier: notifier, archiver: archiver, envCookie: envCookie}
}

func (m *SpotifyMonitor) Platform() models.Platform { return models.PlatformSpotify }

// resolveCookie picks the sp_dc cookie for one account: per-account config
// wins, then the stored setting, then the environment.
func (m *SpotifyMonitor) resolveCookie(ctx context.Context, account models.Account, store Store) string {
	if v := account.Config()["sp_dc"]; v != "" {
		return v
	}
	v, err := store.GetSetting(ctx, spotifyCookieSetting, "")
	if err != nil {
		m.log.Warn("setting_lookup_failed", "key", spotifyCookieSetting, "error", err)
	}
	if v != "" {
		return v
	}
	return m.envCookie
}

func (m *SpotifyMonitor) Check(ctx context.Context, account models.Account, store Store) {
	username := account.Username
	m.log.Info("spotify_check_started", "username", username)

	spDC := m.resolveCookie(ctx, account, store)
	if spDC == "" {
		m.log.Warn("spotify_no_cookie", "username", username)
		if err := store.RecordCheckError(ctx, account.ID, "No sp_dc cookie configured"); err != nil {
			m.log.Error("record_check_error_failed", "account_id", account.ID, "error", err)
		}
		return
	}

	cur, fail := m.fetcher.Fetch(ctx, username, spDC)
	if fail != nil {
		m.log.Error("spotify_check_failed", "username", username, "kind", fail.Kind.String(), "error", fail)
		if err := store.RecordCheckError(ctx, account.ID, fail.Message); err != nil {
			m.log.Error("record_check_error_failed", "account_id", account.ID, "error", err)
		}
		if fail.Kind == FailAuth {
			m.notifier.Notify(ctx, models.PlatformSpotify, username, "auth_failed",
				fmt.Sprintf("Spotify auth failed for @%s: sp_dc cookie may be expired", username))
		}
		return
	}

	var old SpotifySnapshot
	hasOld := decodeOld(account.LastData, &old)

	var changes []Change
	if hasOld {
		changes = diffSpotify(&old, cur)
	}

	if hasOld && m.archiver != nil && cur.ImageURL != "" && cur.ImageURL != old.ImageURL {
		if _, err := m.archiver.ArchiveImage(ctx, models.PlatformSpotify, username, cur.ImageURL); err != nil {
			m.log.Warn("avatar_archive_failed", "username", username, "error", err)
		}
	}

	snapshot, err := json.Marshal(cur)
	if err != nil {
		m.log.Error("spotify_snapshot_marshal_failed", "username", username, "error", err)
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
		m.log.Error("spotify_commit_failed", "username", username, "error", err)
		return
	}

	for _, c := range changes {
		m.notifier.Notify(ctx, models.PlatformSpotify, username, c.Type, c.Summary)
	}

	m.log.Info("spotify_check_done", "username", username, "events", len(changes))
}

func diffSpotify(old, cur *SpotifySnapshot) []Change {
	var changes []Change

	changes = appendChange(changes, counterChange("follower_change", "Followers", old.Followers, cur.Followers))
	changes = appendChange(changes, counterChange("following_change", "Following", old.Followings, cur.Followings))
	changes = appendChange(changes, textChange("name_change",
		fmt.Sprintf("Name: %q -> %q", old.DisplayName, cur.DisplayName),
		old.DisplayName, cur.DisplayName,
		map[string]any{"old": old.DisplayName, "new": cur.DisplayName}))
	changes = appendChange(changes, textChange("avatar_change", "Profile image changed",
		old.ImageURL, cur.ImageURL,
		map[string]any{"old": old.ImageURL, "new": cur.ImageURL}))

	changes = append(changes, setDiff("new_follower", "lost_follower",
		"New follower(s)", "Lost follower(s)",
		old.FollowerList, cur.FollowerList)...)
	changes = append(changes, setDiff("new_following", "unfollowed",
		"Now following", "Unfollowed",
		old.FollowingList, cur.FollowingList)...)
	changes = append(changes, setDiff("new_playlist", "removed_playlist",
		"New playlist(s)", "Removed playlist(s)",
		playlistRefs(old.Playlists), playlistRefs(cur.Playlists))...)

	return changes
}

// --- HTTP fetcher ---

const (
	spotifyTokenURL   = "https://open.spotify.com/api/token"
	spotifyProfileAPI = "https://spclient.wg.spotify.com/user-profile-view/v3/profile"
)

type spotifyToken struct {
	value    string
	clientID string
	expires  time.Time
}

// spotifyAPIFetcher talks to the web player backend with a bearer token
// minted from the sp_dc cookie. Tokens are cached per cookie and refreshed
// lazily just before expiry.
type spotifyAPIFetcher struct {
	log        *slog.Logger
	client     *http.Client
	tokenURL   string
	profileAPI string

	mu     sync.Mutex
	cookie string
	token  spotifyToken
}

func NewSpotifyAPIFetcher(log *slog.Logger, client *http.Client) SpotifyFetcher {
	return &spotifyAPIFetcher{
		log:        log,
		client:     client,
		tokenURL:   spotifyTokenURL,
		profileAPI: spotifyProfileAPI,
	}
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresMs   int64  `json:"accessTokenExpirationTimestampMs"`
	ClientID    string `json:"clientId"`
	IsAnonymous bool   `json:"isAnonymous"`
}

func (f *spotifyAPIFetcher) accessToken(ctx context.Context, spDC string) (spotifyToken, *FetchFailure) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cookie == spDC && f.token.value != "" && time.Now().Before(f.token.expires) {
		return f.token, nil
	}

	// the web player requests a token with reason=transport on load and
	// reason=init on session start; either can succeed when the other 401s
	var lastFail *FetchFailure
	for _, reason := range []string{"transport", "init"} {
		tok, fail := f.fetchToken(ctx, spDC, reason)
		if fail == nil {
			f.cookie = spDC
			f.token = tok
			return tok, nil
		}
		lastFail = fail
	}
	return spotifyToken{}, lastFail
}

func (f *spotifyAPIFetcher) fetchToken(ctx context.Context, spDC, reason string) (spotifyToken, *FetchFailure) {
	u := fmt.Sprintf("%s?reason=%s&productType=web-player", f.tokenURL, reason)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return spotifyToken{}, failure(FailFatal, "token request build failed", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("App-Platform", "WebPlayer")
	req.Header.Set("Referer", "https://open.spotify.com/")
	req.Header.Set("Cookie", "sp_dc="+spDC)

	resp, err := f.client.Do(req)
	if err != nil {
		return spotifyToken{}, failure(FailTransient, "Spotify token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return spotifyToken{}, failure(FailAuth, "sp_dc cookie rejected", fmt.Errorf("token_status_%d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return spotifyToken{}, failure(FailTransient, "Spotify token fetch failed", fmt.Errorf("token_status_%d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return spotifyToken{}, failure(FailTransient, "Spotify token decode failed", err)
	}
	if tr.AccessToken == "" || tr.IsAnonymous {
		// an expired sp_dc still yields a token, but an anonymous one
		return spotifyToken{}, failure(FailAuth, "sp_dc cookie did not authenticate", nil)
	}

	return spotifyToken{
		value:    tr.AccessToken,
		clientID: tr.ClientID,
		expires:  time.UnixMilli(tr.ExpiresMs).Add(-30 * time.Second),
	}, nil
}

func (f *spotifyAPIFetcher) apiGet(ctx context.Context, tok spotifyToken, apiURL string, dst any) *FetchFailure {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return failure(FailFatal, "request build failed", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("App-Platform", "WebPlayer")
	req.Header.Set("Authorization", "Bearer "+tok.value)

	resp, err := f.client.Do(req)
	if err != nil {
		return failure(FailTransient, "Spotify API unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return failure(FailRateLimited, "Rate limited by Spotify", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return failure(FailAuth, "sp_dc cookie may be expired", fmt.Errorf("api_status_%d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return failure(FailTransient, "Spotify profile not found", nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failure(FailTransient, "Spotify API error",
			fmt.Errorf("api_status_%d: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return failure(FailTransient, "Spotify response decode failed", err)
	}
	return nil
}

type spotifyProfile struct {
	Name            string `json:"name"`
	ImageURL        string `json:"image_url"`
	FollowersCount  *int   `json:"followers_count"`
	FollowingCount  *int   `json:"following_count"`
	PublicPlaylists []struct {
		Name           string `json:"name"`
		URI            string `json:"uri"`
		FollowersCount int    `json:"followers_count"`
	} `json:"public_playlists"`
}

type spotifyProfileList struct {
	Profiles []struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	} `json:"profiles"`
}

func (f *spotifyAPIFetcher) Fetch(ctx context.Context, userID, spDC string) (*SpotifySnapshot, *FetchFailure) {
	tok, fail := f.accessToken(ctx, spDC)
	if fail != nil {
		return nil, fail
	}

	escaped := url.PathEscape(userID)
	var profile spotifyProfile
	profileURL := fmt.Sprintf("%s/%s?playlist_limit=50&artist_limit=0&episode_limit=0&market=from_token", f.profileAPI, escaped)
	if fail := f.apiGet(ctx, tok, profileURL, &profile); fail != nil {
		if fail.Kind != FailAuth {
			return nil, fail
		}
		// token may have gone stale mid-cycle; mint a fresh one once
		f.mu.Lock()
		f.token = spotifyToken{}
		f.mu.Unlock()
		fresh, tokFail := f.accessToken(ctx, spDC)
		if tokFail != nil {
			return nil, tokFail
		}
		tok = fresh
		if fail = f.apiGet(ctx, tok, profileURL, &profile); fail != nil {
			return nil, fail
		}
	}

	snap := &SpotifySnapshot{
		DisplayName: profile.Name,
		ImageURL:    profile.ImageURL,
		Followers:   profile.FollowersCount,
		Followings:  profile.FollowingCount,
	}

	snap.Playlists = make([]PlaylistRef, 0, len(profile.PublicPlaylists))
	for _, p := range profile.PublicPlaylists {
		snap.Playlists = append(snap.Playlists, PlaylistRef{Name: p.Name, URI: p.URI, Followers: p.FollowersCount})
	}

	// follower and following lists are best-effort; a failed sub-fetch
	// leaves the slice nil so the diff skips it instead of reporting
	// everyone as lost
	snap.FollowerList = f.fetchProfileList(ctx, tok,
		fmt.Sprintf("%s/%s/followers?market=from_token", f.profileAPI, escaped), userID, "followers")
	snap.FollowingList = f.fetchProfileList(ctx, tok,
		fmt.Sprintf("%s/%s/following?market=from_token", f.profileAPI, escaped), userID, "following")

	return snap, nil
}

func (f *spotifyAPIFetcher) fetchProfileList(ctx context.Context, tok spotifyToken, listURL, userID, kind string) []ProfileRef {
	var list spotifyProfileList
	if fail := f.apiGet(ctx, tok, listURL, &list); fail != nil {
		f.log.Warn("spotify_list_fetch_failed", "username", userID, "list", kind, "error", fail)
		return nil
	}
	refs := make([]ProfileRef, 0, len(list.Profiles))
	for _, p := range list.Profiles {
		refs = append(refs, ProfileRef{Name: p.Name, URI: p.URI})
	}
	return refs
}
