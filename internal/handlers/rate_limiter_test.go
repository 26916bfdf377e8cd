package handlers

import (
	"testing"
	"time"
)

func TestCheckoutLimiterFoldsPortsIntoOneWindow(t *testing.T) {
	now := time.Date(2025, time.June, 14, 10, 0, 0, 0, time.UTC)
	limiter := newCheckoutLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("203.0.113.7:40001") {
		t.Fatal("first submission should pass")
	}
	if !limiter.Allow("203.0.113.7:40002") {
		t.Fatal("second submission should pass")
	}
	if limiter.Allow("203.0.113.7:40003") {
		t.Fatal("third submission from the same host should be throttled")
	}
	if !limiter.Allow("198.51.100.9:40001") {
		t.Fatal("other hosts must not share the window")
	}
}

func TestCheckoutLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2025, time.June, 14, 10, 0, 0, 0, time.UTC)
	limiter := newCheckoutLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("203.0.113.7:40001") {
		t.Fatal("first submission should pass")
	}
	if limiter.Allow("203.0.113.7:40001") {
		t.Fatal("second submission inside the window should be throttled")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.Allow("203.0.113.7:40001") {
		t.Fatal("submission after the window lapses should pass")
	}
}

func TestCheckoutLimiterDisabledForZeroConfig(t *testing.T) {
	if limiter := newCheckoutLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatal("zero limit should disable the limiter")
	}
	var limiter *checkoutLimiter
	if !limiter.Allow("203.0.113.7:40001") {
		t.Fatal("nil limiter must never throttle")
	}
}
