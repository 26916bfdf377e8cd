package handlers

import (
	"net"
	"strings"
	"sync"
	"time"
)

// checkoutLimiter throttles checkout submissions per client host with a
// fixed window. Counters for lapsed windows are pruned as new hosts arrive.
type checkoutLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]submissionWindow
}

type submissionWindow struct {
	submissions int
	resetAt     time.Time
}

func newCheckoutLimiter(limit int, window time.Duration, clock func() time.Time) *checkoutLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &checkoutLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]submissionWindow),
	}
}

// Allow reports whether the client identified by remoteAddr may submit
// another checkout. A nil limiter never throttles.
func (l *checkoutLimiter) Allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	host := clientHost(remoteAddr)

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	win, ok := l.windows[host]
	if !ok || now.After(win.resetAt) {
		l.pruneLocked(now)
		l.windows[host] = submissionWindow{submissions: 1, resetAt: now.Add(l.window)}
		return true
	}
	if win.submissions >= l.limit {
		return false
	}
	win.submissions++
	l.windows[host] = win
	return true
}

func (l *checkoutLimiter) pruneLocked(now time.Time) {
	for host, win := range l.windows {
		if now.After(win.resetAt) {
			delete(l.windows, host)
		}
	}
}

// clientHost strips the ephemeral port so repeated submissions from one
// shopper count against a single window.
func clientHost(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return "anonymous"
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}
