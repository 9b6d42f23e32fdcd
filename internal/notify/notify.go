package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Sha-Dox/coral/internal/models"
	"github.com/Sha-Dox/coral/internal/redis"
)

const (
	settingDiscordWebhook = "discord_webhook"
	settingNtfyTopic      = "ntfy_topic"
	settingNtfyServer     = "ntfy_server"
	settingEnabled        = "notifications_enabled"

	defaultNtfyServer = "https://ntfy.sh"

	// a manual check racing the periodic cycle must not page twice for the
	// same change
	dedupTTL = 30 * time.Second
)

var platformColors = map[models.Platform]int{
	models.PlatformInstagram: 0xE1306C,
	models.PlatformPinterest: 0xE60023,
	models.PlatformSpotify:   0x1DB954,
}

var platformTags = map[models.Platform]string{
	models.PlatformInstagram: "camera",
	models.PlatformPinterest: "pushpin",
	models.PlatformSpotify:   "musical_note",
}

// Settings is the slice of the store the dispatcher reads its transport
// configuration from. Values are read on every dispatch so changes made
// through the API take effect without a restart.
type Settings interface {
	GetSetting(ctx context.Context, key, def string) (string, error)
}

// Dispatcher fans one event out to every configured transport. Delivery is
// best-effort: a dead webhook is logged and never fails the check that
// produced the event.
type Dispatcher struct {
	log      *slog.Logger
	settings Settings
	cache    *redis.Client
	client   *http.Client
}

func NewDispatcher(log *slog.Logger, settings Settings, cache *redis.Client) *Dispatcher {
	return &Dispatcher{
		log:      log,
		settings: settings,
		cache:    cache,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Dispatcher) Notify(ctx context.Context, platform models.Platform, username, eventType, summary string) {
	enabled, err := d.settings.GetSetting(ctx, settingEnabled, "true")
	if err != nil {
		d.log.Warn("setting_lookup_failed", "key", settingEnabled, "error", err)
	}
	if enabled != "true" {
		return
	}

	if !d.claim(ctx, platform, username, eventType, summary) {
		d.log.Debug("notification_deduplicated",
			"platform", string(platform), "username", username, "event_type", eventType)
		return
	}

	if webhook, _ := d.settings.GetSetting(ctx, settingDiscordWebhook, ""); webhook != "" {
		if err := d.sendDiscord(ctx, webhook, platform, username, summary); err != nil {
			d.log.Error("discord_notify_failed", "username", username, "error", err)
		}
	}
	if topic, _ := d.settings.GetSetting(ctx, settingNtfyTopic, ""); topic != "" {
		server, _ := d.settings.GetSetting(ctx, settingNtfyServer, defaultNtfyServer)
		if err := d.sendNtfy(ctx, server, topic, platform, username, summary); err != nil {
			d.log.Error("ntfy_notify_failed", "username", username, "error", err)
		}
	}
}

// claim marks this exact notification as sent for a short window. When
// redis is down it answers true: double delivery beats dropped delivery.
func (d *Dispatcher) claim(ctx context.Context, platform models.Platform, username, eventType, summary string) bool {
	if d.cache == nil {
		return true
	}
	sum := sha256.Sum256([]byte(summary))
	key := fmt.Sprintf("notify:%s:%s:%s:%s", platform, username, eventType, hex.EncodeToString(sum[:8]))
	ok, err := d.cache.SetNX(ctx, key, "1", dedupTTL)
	if err != nil {
		d.log.Warn("notification_dedup_unavailable", "error", err)
		return true
	}
	return ok
}

type discordEmbed struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Color       int                `json:"color"`
	Timestamp   string             `json:"timestamp"`
	Footer      discordEmbedFooter `json:"footer"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *Dispatcher) sendDiscord(ctx context.Context, webhook string, platform models.Platform, username, summary string) error {
	color, ok := platformColors[platform]
	if !ok {
		color = 0x6366F1
	}
	tag, ok := platformTags[platform]
	if !ok {
		tag = "bell"
	}

	payload := discordPayload{Embeds: []discordEmbed{{
		Title:       fmt.Sprintf(":%s: @%s (%s)", tag, username, platform),
		Description: summary,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      discordEmbedFooter{Text: "CORAL"},
	}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook_payload_marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook_request_build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook_post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook_status_%d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendNtfy(ctx context.Context, server, topic string, platform models.Platform, username, summary string) error {
	tag, ok := platformTags[platform]
	if !ok {
		tag = "bell"
	}

	url := fmt.Sprintf("%s/%s", strings.TrimRight(server, "/"), topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(summary))
	if err != nil {
		return fmt.Errorf("ntfy_request_build: %w", err)
	}
	req.Header.Set("Title", fmt.Sprintf("@%s on %s", username, platform))
	req.Header.Set("Tags", tag)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy_post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy_status_%d", resp.StatusCode)
	}
	return nil
}

// SendTest pushes a test message through every configured transport and
// returns an error when none is configured or any delivery fails.
func (d *Dispatcher) SendTest(ctx context.Context) error {
	webhook, _ := d.settings.GetSetting(ctx, settingDiscordWebhook, "")
	topic, _ := d.settings.GetSetting(ctx, settingNtfyTopic, "")
	if webhook == "" && topic == "" {
		return fmt.Errorf("no_notification_transport_configured")
	}

	summary := "Test notification from CORAL"
	var errs []string
	if webhook != "" {
		if err := d.sendDiscord(ctx, webhook, "coral", "coral", summary); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if topic != "" {
		server, _ := d.settings.GetSetting(ctx, settingNtfyServer, defaultNtfyServer)
		if err := d.sendNtfy(ctx, server, topic, "coral", "coral", summary); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification_delivery: %s", strings.Join(errs, "; "))
	}
	return nil
}
