package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter counts requests per client in fixed minute, hour and day
// windows. Each window starts with the first request that falls into it.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	clients   map[string]*ClientUsage
	lastSweep time.Time
	now       func() time.Time
}

// sweepInterval is how often idle clients are dropped from the table.
const sweepInterval = time.Hour

// ClientUsage tracks usage for one client IP.
type ClientUsage struct {
	MinuteCount int
	HourCount   int
	DayCount    int
	DataToday   int64

	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time
}

// NewRateLimiter creates a rate limiter. A zero limit disables that check.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*ClientUsage),
		lastSweep:         time.Now(),
		now:               time.Now,
	}
}

// CheckRateLimit admits or rejects one request of dataSize bytes. Rejected
// requests are not counted.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= sweepInterval {
		rl.sweep(now)
	}
	u := rl.usage(clientID, now)
	u.roll(now)

	if rl.requestsPerMinute > 0 && u.MinuteCount >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: u.minuteStart.Add(time.Minute).Sub(now),
		}
	}
	if rl.requestsPerHour > 0 && u.HourCount >= rl.requestsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.requestsPerHour,
			RetryAfter: u.hourStart.Add(time.Hour).Sub(now),
		}
	}
	if rl.maxRequestsPerDay > 0 && u.DayCount >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(u.DayCount),
			Resets: nextMidnight(now),
		}
	}
	if rl.maxDataPerDay > 0 && u.DataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   u.DataToday,
			Resets: nextMidnight(now),
		}
	}

	u.MinuteCount++
	u.HourCount++
	u.DayCount++
	u.DataToday += dataSize
	return nil
}

// Remaining reports the per minute limit and what is left of it, or the
// hourly one when no per minute limit is set.
func (rl *RateLimiter) Remaining(clientID string) (int, int, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[clientID]
	if !ok {
		return 0, 0, false
	}
	switch {
	case rl.requestsPerMinute > 0:
		return rl.requestsPerMinute, max(rl.requestsPerMinute-u.MinuteCount, 0), true
	case rl.requestsPerHour > 0:
		return rl.requestsPerHour, max(rl.requestsPerHour-u.HourCount, 0), true
	}
	return 0, 0, false
}

// GetUsage returns a copy of the usage counters for a client.
func (rl *RateLimiter) GetUsage(clientID string) ClientUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if u, ok := rl.clients[clientID]; ok {
		return *u
	}
	return ClientUsage{}
}

func (rl *RateLimiter) usage(clientID string, now time.Time) *ClientUsage {
	u, ok := rl.clients[clientID]
	if !ok {
		u = &ClientUsage{minuteStart: now, hourStart: now, dayStart: now}
		rl.clients[clientID] = u
	}
	return u
}

// sweep drops clients whose every window has expired. Such an entry holds
// nothing a fresh one would not.
func (rl *RateLimiter) sweep(now time.Time) {
	for id, u := range rl.clients {
		if u.idle(now) {
			delete(rl.clients, id)
		}
	}
	rl.lastSweep = now
}

func (u *ClientUsage) idle(now time.Time) bool {
	return now.Sub(u.minuteStart) >= time.Minute &&
		now.Sub(u.hourStart) >= time.Hour &&
		!sameDay(u.dayStart, now)
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (u *ClientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.MinuteCount = 0
		u.minuteStart = now
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.HourCount = 0
		u.hourStart = now
	}
	if !sameDay(u.dayStart, now) {
		u.DayCount = 0
		u.DataToday = 0
		u.dayStart = now
	}
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // until the window resets
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
