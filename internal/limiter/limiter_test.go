package limiter

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestAllowWithinWindow verifies the admission scenario from the design
// contract: max=2 per minute admits two requests and rejects the third.
func TestAllowWithinWindow(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(2, time.Minute, WithClock(clock.Now))

	first := store.Allow("10.0.0.1")
	if !first.Allowed {
		t.Fatal("First request should be admitted")
	}
	if first.Remaining != 1 {
		t.Errorf("Expected 1 remaining after first request, got %d", first.Remaining)
	}

	second := store.Allow("10.0.0.1")
	if !second.Allowed {
		t.Fatal("Second request should be admitted")
	}
	if second.Remaining != 0 {
		t.Errorf("Expected 0 remaining after second request, got %d", second.Remaining)
	}

	third := store.Allow("10.0.0.1")
	if third.Allowed {
		t.Fatal("Third request within the window should be rejected")
	}
	if third.RetryAfter <= 0 {
		t.Errorf("Expected positive RetryAfter on rejection, got %v", third.RetryAfter)
	}
}

// TestWindowReset verifies that an elapsed window admits again with a fresh
// count.
func TestWindowReset(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(2, time.Minute, WithClock(clock.Now))

	store.Allow("10.0.0.1")
	store.Allow("10.0.0.1")
	if store.Allow("10.0.0.1").Allowed {
		t.Fatal("Expected rejection before window reset")
	}

	clock.Advance(time.Minute)

	res := store.Allow("10.0.0.1")
	if !res.Allowed {
		t.Fatal("Expected admission after the window elapsed")
	}
	if res.Remaining != 1 {
		t.Errorf("Expected fresh count after reset, remaining=%d", res.Remaining)
	}
}

// TestClockBackwards verifies that backward time starts a new window instead
// of locking the key out.
func TestClockBackwards(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(1, time.Minute, WithClock(clock.Now))

	store.Allow("10.0.0.1")
	if store.Allow("10.0.0.1").Allowed {
		t.Fatal("Expected rejection with exhausted window")
	}

	clock.Advance(-time.Hour)

	if !store.Allow("10.0.0.1").Allowed {
		t.Fatal("Backward clock should start a fresh window, not lock the key")
	}
}

// TestKeysIsolated verifies that different keys do not share counters.
func TestKeysIsolated(t *testing.T) {
	store := NewStore(1, time.Minute)

	if !store.Allow("10.0.0.1").Allowed {
		t.Fatal("First key should be admitted")
	}
	if !store.Allow("10.0.0.2").Allowed {
		t.Fatal("Second key should have its own window")
	}
	if store.Allow("10.0.0.1").Allowed {
		t.Fatal("First key should now be exhausted")
	}
}

// TestEmptyKeySharedBucket verifies that unresolvable clients pool into one
// shared bucket rather than being silently ignored.
func TestEmptyKeySharedBucket(t *testing.T) {
	store := NewStore(1, time.Minute)

	if !store.Allow("").Allowed {
		t.Fatal("First unidentified request should be admitted")
	}
	if store.Allow("").Allowed {
		t.Fatal("Unidentified requests should share one bucket")
	}
}

// TestConcurrentAdmission verifies that simultaneous requests for one key
// never over-admit past the configured maximum.
func TestConcurrentAdmission(t *testing.T) {
	const max = 10
	const attempts = 50
	store := NewStore(max, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Allow("10.0.0.1").Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != max {
		t.Errorf("Expected exactly %d admissions under concurrency, got %d", max, admitted)
	}
}

// TestCleanupEvictsIdleWindows verifies TTL eviction keeps the table bounded.
func TestCleanupEvictsIdleWindows(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(5, time.Minute, WithClock(clock.Now), WithIdleTTL(5*time.Minute))

	store.Allow("10.0.0.1")
	store.Allow("10.0.0.2")
	if store.Len() != 2 {
		t.Fatalf("Expected 2 tracked keys, got %d", store.Len())
	}

	clock.Advance(10 * time.Minute)
	store.Allow("10.0.0.3")
	store.Cleanup()

	if store.Len() != 1 {
		t.Errorf("Expected only the fresh key to survive cleanup, got %d", store.Len())
	}
}

// TestPolicyDescription verifies the human-readable limit text used in
// rejection messages.
func TestPolicyDescription(t *testing.T) {
	tests := []struct {
		max    int
		window time.Duration
		want   string
	}{
		{2, time.Minute, "2 requests per 1 minute"},
		{200, time.Minute, "200 requests per 1 minute"},
		{5, 2 * time.Minute, "5 requests per 2 minutes"},
		{10, 30 * time.Second, "10 requests per 30 seconds"},
		{1, time.Second, "1 requests per 1 second"},
	}

	for _, tt := range tests {
		store := NewStore(tt.max, tt.window)
		if got := store.Policy(); !strings.Contains(got, tt.want) {
			t.Errorf("Policy(%d, %v): expected %q, got %q", tt.max, tt.window, tt.want, got)
		}
	}
}
