// Package limiter implements fixed-window request admission keyed by client
// identity, with TTL eviction of idle windows so the table stays bounded
// across many distinct clients.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// sharedBucket pools every request whose client identity could not be
// resolved into one low-priority bucket.
const sharedBucket = "unknown"

// Result is the outcome of one admission decision, carrying everything the
// HTTP layer needs for the X-RateLimit response headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type window struct {
	start    time.Time
	count    int
	lastSeen time.Time
}

// Store tracks one fixed window per client key. It is owned by the server
// lifecycle and injected where needed; there is no package-level instance.
type Store struct {
	mu      sync.Mutex
	entries map[string]*window
	max     int
	window  time.Duration
	idleTTL time.Duration
	now     func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithIdleTTL sets how long an untouched window survives before the janitor
// evicts it.
func WithIdleTTL(d time.Duration) Option {
	return func(s *Store) { s.idleTTL = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a fixed-window store admitting at most max requests per
// key per window.
func NewStore(max int, windowDur time.Duration, opts ...Option) *Store {
	if max <= 0 {
		max = 1
	}
	if windowDur <= 0 {
		windowDur = time.Minute
	}

	s := &Store{
		entries: make(map[string]*window),
		max:     max,
		window:  windowDur,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idleTTL < s.window {
		s.idleTTL = s.window
	}
	return s
}

// Allow records one request for key and decides admission. Increments are
// serialized under the store mutex so concurrent requests for the same key
// never over-admit. An empty key falls into the shared "unknown" bucket.
func (s *Store) Allow(key string) Result {
	if key == "" {
		key = sharedBucket
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	// A window from the future means the clock went backwards; treat it as
	// expired rather than locking the key out.
	if e == nil || now.Sub(e.start) >= s.window || now.Before(e.start) {
		e = &window{start: now, count: 1, lastSeen: now}
		s.entries[key] = e
		return s.decide(e, now, true)
	}

	e.lastSeen = now
	if e.count >= s.max {
		return s.decide(e, now, false)
	}
	e.count++
	return s.decide(e, now, true)
}

func (s *Store) decide(e *window, now time.Time, allowed bool) Result {
	resetAt := e.start.Add(s.window)
	remaining := s.max - e.count
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   allowed,
		Limit:     s.max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		res.RetryAfter = resetAt.Sub(now)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res
}

// Policy describes the configured limit for human-readable rejections,
// e.g. "200 requests per 1 minute".
func (s *Store) Policy() string {
	return fmt.Sprintf("%d requests per %s", s.max, formatWindow(s.window))
}

// Cleanup evicts windows that have been idle longer than the TTL.
func (s *Store) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// Len reports the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor runs periodic cleanup until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 2 * time.Minute
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

func formatWindow(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		if m := int(d / time.Minute); m > 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	case d >= time.Second && d%time.Second == 0:
		if sec := int(d / time.Second); sec > 1 {
			return fmt.Sprintf("%d seconds", sec)
		}
		return "1 second"
	default:
		return d.String()
	}
}
