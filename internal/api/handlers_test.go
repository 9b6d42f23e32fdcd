package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/Sha-Dox/coral/internal/config"
	"github.com/Sha-Dox/coral/internal/models"
	"github.com/Sha-Dox/coral/internal/redis"
	"github.com/Sha-Dox/coral/internal/store"
)

func TestPathID_Validation(t *testing.T) {
	router := gin.New()
	router.GET("/things/:id", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	tests := []struct {
		name     string
		id       string
		expected int
	}{
		{"valid", "42", http.StatusOK},
		{"zero", "0", http.StatusBadRequest},
		{"negative", "-3", http.StatusBadRequest},
		{"not a number", "abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/things/"+tt.id, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

func TestEventFilter_QueryParsing(t *testing.T) {
	s := testServer(config.Config{})

	var got store.EventFilter
	router := gin.New()
	router.GET("/events", func(c *gin.Context) {
		got = s.eventFilter(c)
		c.Status(http.StatusOK)
	})

	req, _ := http.NewRequest("GET", "/events?account_id=5&platform=spotify&limit=10&offset=20", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got.AccountID == nil || *got.AccountID != 5 {
		t.Errorf("unexpected account filter: %v", got.AccountID)
	}
	if got.Platform == nil || string(*got.Platform) != "spotify" {
		t.Errorf("unexpected platform filter: %v", got.Platform)
	}
	if got.Limit != 10 || got.Offset != 20 {
		t.Errorf("unexpected paging: limit=%d offset=%d", got.Limit, got.Offset)
	}
}

func TestEventFilter_BadValuesFallBackToDefaults(t *testing.T) {
	s := testServer(config.Config{})

	var got store.EventFilter
	router := gin.New()
	router.GET("/events", func(c *gin.Context) {
		got = s.eventFilter(c)
		c.Status(http.StatusOK)
	})

	req, _ := http.NewRequest("GET", "/events?account_id=x&platform=myspace&limit=9999&offset=-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got.AccountID != nil {
		t.Errorf("expected invalid account_id ignored, got %v", got.AccountID)
	}
	if got.Platform != nil {
		t.Errorf("expected unknown platform ignored, got %v", got.Platform)
	}
	if got.Limit != 50 {
		t.Errorf("expected default limit 50, got %d", got.Limit)
	}
	if got.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", got.Offset)
	}
}

func TestIdentityView_EmbedsLatestEvent(t *testing.T) {
	view := identityView{
		Identity: models.Identity{ID: 3, Name: "target"},
		LatestEvent: &models.Event{
			ID:        17,
			EventType: "follower_change",
			Summary:   "Followers: 100 -> 85 (-15)",
		},
	}

	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(out["name"]) != `"target"` {
		t.Errorf("identity fields must stay at the top level, got %s", data)
	}
	var latest models.Event
	if err := json.Unmarshal(out["latest_event"], &latest); err != nil {
		t.Fatalf("latest_event missing or malformed: %s", data)
	}
	if latest.ID != 17 || latest.EventType != "follower_change" {
		t.Errorf("unexpected latest event: %+v", latest)
	}
}

func TestIdentityView_OmitsLatestEventWhenNone(t *testing.T) {
	data, err := json.Marshal(identityView{Identity: models.Identity{ID: 3, Name: "target"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := out["latest_event"]; present {
		t.Errorf("expected latest_event omitted for an identity with no events, got %s", data)
	}
}

func TestInvalidateStats_DropsCachedOverview(t *testing.T) {
	srv := miniredis.RunT(t)
	cache, err := redis.New("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	s := testServer(config.Config{})
	s.redis = cache

	ctx := context.Background()
	if err := cache.Set(ctx, statsCacheKey, `{"identities":1}`, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	s.invalidateStats(ctx)

	if _, err := cache.Get(ctx, statsCacheKey); err == nil {
		t.Error("expected the cached overview to be gone after a mutating write")
	}
}

func TestSensitiveSettings_CoverCredentialKeys(t *testing.T) {
	for _, key := range []string{"instagram_session", "sp_dc_cookie", "discord_webhook"} {
		if !sensitiveSettings[key] {
			t.Errorf("expected %s to be masked in listings", key)
		}
	}
	if sensitiveSettings["ntfy_topic"] {
		t.Error("ntfy_topic is not a credential")
	}
}
