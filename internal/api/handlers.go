package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sha-Dox/coral/internal/logging"
	"github.com/Sha-Dox/coral/internal/models"
	"github.com/Sha-Dox/coral/internal/store"
)

// settings whose values never leave the backend in clear text
var sensitiveSettings = map[string]bool{
	"instagram_session": true,
	"sp_dc_cookie":      true,
	"discord_webhook":   true,
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_id", "message": "id must be a positive integer"},
		})
		return 0, false
	}
	return id, true
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error("handler_error", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": "internal_error", "message": "internal error"},
	})
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": gin.H{"code": "not_found", "message": what + " not found"},
	})
}

// --- health and stats ---

func (s *Server) health(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	dbOK := s.store.Ping(ctx) == nil
	redisOK := s.redis.RDB().Ping(ctx).Err() == nil
	running, _, _ := s.scheduler.Status()

	status := "healthy"
	code := http.StatusOK
	if !dbOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if !redisOK {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":            status,
		"database":          dbOK,
		"redis":             redisOK,
		"scheduler_running": running,
	})
}

const statsCacheKey = "stats:overview"

func (s *Server) stats(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	if cached, err := s.redis.Get(ctx, statsCacheKey); err == nil && cached != "" {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json", []byte(cached))
		return
	}

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}

	if data, err := json.Marshal(stats); err == nil {
		_ = s.redis.Set(ctx, statsCacheKey, string(data), 30*time.Second)
	}

	c.JSON(http.StatusOK, stats)
}

// invalidateStats drops the cached overview after a write that changes the
// identity or account counts.
func (s *Server) invalidateStats(ctx context.Context) {
	if err := s.redis.Del(ctx, statsCacheKey); err != nil {
		s.log.Warn("stats_cache_invalidate_failed", "error", err)
	}
}

func (s *Server) schedulerStatus(c *gin.Context) {
	running, lastRun, interval := s.scheduler.Status()
	resp := gin.H{
		"running":          running,
		"interval_seconds": int(interval.Seconds()),
	}
	if !lastRun.IsZero() {
		resp["last_run"] = lastRun.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// --- identities ---

// identityView embeds the newest event across an identity's accounts into
// its API representation.
type identityView struct {
	models.Identity
	LatestEvent *models.Event `json:"latest_event,omitempty"`
}

func (s *Server) identityView(ctx context.Context, identity models.Identity) identityView {
	v := identityView{Identity: identity}
	latest, err := s.store.GetIdentityLatestEvent(ctx, identity.ID)
	if err != nil {
		s.log.Warn("latest_event_lookup_failed", "identity_id", identity.ID, "error", err)
		return v
	}
	v.LatestEvent = latest
	return v
}

func (s *Server) listIdentities(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	identities, err := s.store.GetAllIdentities(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}

	views := make([]identityView, 0, len(identities))
	for _, identity := range identities {
		views = append(views, s.identityView(ctx, identity))
	}
	c.JSON(http.StatusOK, gin.H{"identities": views})
}

func (s *Server) getIdentity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	identity, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if identity == nil {
		notFound(c, "identity")
		return
	}
	c.JSON(http.StatusOK, s.identityView(ctx, *identity))
}

func (s *Server) addIdentity(c *gin.Context) {
	var req struct {
		Name  string  `json:"name" binding:"required"`
		Notes *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_body", "message": err.Error()},
		})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	id, err := s.store.AddIdentity(ctx, req.Name, req.Notes)
	if err != nil {
		s.internalError(c, err)
		return
	}

	s.invalidateStats(ctx)
	s.log.Info("identity_added", "identity_id", id, "name", req.Name)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) updateIdentity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Name  *string `json:"name"`
		Notes *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_body", "message": err.Error()},
		})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	updated, err := s.store.UpdateIdentity(ctx, id, req.Name, req.Notes)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !updated {
		notFound(c, "identity")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) deleteIdentity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	deleted, err := s.store.DeleteIdentity(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !deleted {
		notFound(c, "identity")
		return
	}

	s.invalidateStats(ctx)
	s.log.Info("identity_deleted", "identity_id", id)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// --- accounts ---

func (s *Server) addAccount(c *gin.Context) {
	identityID, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Platform    string            `json:"platform" binding:"required"`
		Username    string            `json:"username" binding:"required"`
		DisplayName *string           `json:"display_name"`
		Config      map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_body", "message": err.Error()},
		})
		return
	}

	platform := models.Platform(req.Platform)
	if !platform.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_platform", "message": "platform must be instagram, pinterest or spotify"},
		})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if identity == nil {
		notFound(c, "identity")
		return
	}

	var configJSON json.RawMessage
	if len(req.Config) > 0 {
		configJSON, _ = json.Marshal(req.Config)
	}

	id, err := s.store.AddAccount(ctx, identityID, platform, req.Username, req.DisplayName, configJSON)
	if errors.Is(err, store.ErrDuplicateAccount) {
		c.JSON(http.StatusConflict, gin.H{
			"error": gin.H{"code": "duplicate_account", "message": "this account is already tracked"},
		})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	s.invalidateStats(ctx)
	s.log.Info("account_added",
		"account_id", id, "identity_id", identityID,
		"platform", req.Platform, "username", req.Username)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) getAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if account == nil {
		notFound(c, "account")
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) updateAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Username    *string           `json:"username"`
		DisplayName *string           `json:"display_name"`
		Enabled     *bool             `json:"enabled"`
		Config      map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_body", "message": err.Error()},
		})
		return
	}

	params := store.UpdateAccountParams{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Enabled:     req.Enabled,
	}
	if req.Config != nil {
		configJSON, _ := json.Marshal(req.Config)
		params.ConfigJSON = configJSON
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	updated, err := s.store.UpdateAccount(ctx, id, params)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !updated {
		notFound(c, "account")
		return
	}
	s.invalidateStats(ctx)
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) deleteAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	deleted, err := s.store.DeleteAccount(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !deleted {
		notFound(c, "account")
		return
	}

	s.invalidateStats(ctx)
	s.log.Info("account_deleted", "account_id", id)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) listAccountBoards(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	boards, err := s.store.GetPinterestBoards(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

// --- events ---

func (s *Server) eventFilter(c *gin.Context) store.EventFilter {
	var f store.EventFilter

	if raw := c.Query("account_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			f.AccountID = &id
		}
	}
	if raw := c.Query("identity_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			f.IdentityID = &id
		}
	}
	if raw := c.Query("platform"); raw != "" {
		platform := models.Platform(raw)
		if platform.Valid() {
			f.Platform = &platform
		}
	}

	f.Limit = 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			f.Limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			f.Offset = n
		}
	}
	return f
}

func (s *Server) listEventsFiltered(c *gin.Context, f store.EventFilter) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	events, err := s.store.GetEvents(ctx, f)
	if err != nil {
		s.internalError(c, err)
		return
	}
	total, err := s.store.CountEvents(ctx, f)
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (s *Server) listEvents(c *gin.Context) {
	s.listEventsFiltered(c, s.eventFilter(c))
}

func (s *Server) listIdentityEvents(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	f := s.eventFilter(c)
	f.IdentityID = &id
	s.listEventsFiltered(c, f)
}

func (s *Server) listAccountEvents(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	f := s.eventFilter(c)
	f.AccountID = &id
	s.listEventsFiltered(c, f)
}

func (s *Server) getEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if event == nil {
		notFound(c, "event")
		return
	}
	c.JSON(http.StatusOK, event)
}

// --- settings ---

func (s *Server) listSettings(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	settings, err := s.store.GetAllSettings(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}
	for key, value := range settings {
		if sensitiveSettings[key] {
			settings[key] = logging.MaskSecret(value)
		}
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (s *Server) putSetting(c *gin.Context) {
	key := c.Param("key")
	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_body", "message": err.Error()},
		})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if err := s.store.SetSetting(ctx, key, req.Value); err != nil {
		s.internalError(c, err)
		return
	}

	if sensitiveSettings[key] {
		s.log.Info("setting_updated", "key", key, "value", logging.MaskSecret(req.Value))
	} else {
		s.log.Info("setting_updated", "key", key, "value", req.Value)
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (s *Server) deleteSetting(c *gin.Context) {
	key := c.Param("key")
	ctx, cancel := s.ctx(c)
	defer cancel()

	deleted, err := s.store.DeleteSetting(ctx, key)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !deleted {
		notFound(c, "setting")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// --- checks and notifications ---

func (s *Server) checkAll(c *gin.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		s.scheduler.CheckAll(ctx)
	}()
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

func (s *Server) checkAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if account == nil {
		notFound(c, "account")
		return
	}

	go func() {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer checkCancel()
		s.scheduler.CheckSingle(checkCtx, id)
	}()
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

func (s *Server) testNotification(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	if err := s.notifier.SendTest(ctx); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": gin.H{"code": "notification_failed", "message": err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}
