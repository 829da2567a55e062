package handlers

import (
	"strings"
	"sync"
	"time"
)

// fixedWindowLimiter counts requests per client key over a fixed window.
// State lives in memory, so limits apply per process instance.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]clientWindow
}

type clientWindow struct {
	startedAt time.Time
	count     int
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) *fixedWindowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]clientWindow),
	}
}

// Allow records one request for key and reports whether it fits the window.
// A nil limiter admits everything.
func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	win, active := l.windows[key]
	if active && now.Sub(win.startedAt) < l.window {
		if win.count >= l.limit {
			return false
		}
		win.count++
		l.windows[key] = win
		return true
	}

	l.dropStaleWindows(now)
	l.windows[key] = clientWindow{startedAt: now, count: 1}
	return true
}

func (l *fixedWindowLimiter) dropStaleWindows(now time.Time) {
	for key, win := range l.windows {
		if now.Sub(win.startedAt) >= l.window {
			delete(l.windows, key)
		}
	}
}
