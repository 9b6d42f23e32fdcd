package security

import (
	"net/http"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request beyond burst should be rejected")
	}
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 1, time.Minute)

	if !rl.Allow("1.1.1.1") {
		t.Fatal("first client should be allowed")
	}
	if rl.Allow("1.1.1.1") {
		t.Error("first client should now be limited")
	}
	if !rl.Allow("2.2.2.2") {
		t.Error("second client must have its own budget")
	}
}

func TestRateLimiter_EmptyIPBucketsTogether(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 1, time.Minute)

	if !rl.Allow("") {
		t.Fatal("first anonymous request should be allowed")
	}
	if rl.Allow("  ") {
		t.Error("blank addresses must share one bucket")
	}
}

func TestClientIP_StripsPort(t *testing.T) {
	req := &http.Request{RemoteAddr: "192.0.2.7:54321"}
	if got := ClientIP(req); got != "192.0.2.7" {
		t.Errorf("expected bare IP, got %q", got)
	}

	req = &http.Request{RemoteAddr: "192.0.2.7"}
	if got := ClientIP(req); got != "192.0.2.7" {
		t.Errorf("expected address passed through, got %q", got)
	}
}
