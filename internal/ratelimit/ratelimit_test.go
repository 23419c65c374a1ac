package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by a limiter and its test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestLimiter creates a limiter on a fake clock. The sweep interval is an
// hour so it never fires unless a test overrides it. Cleanup is registered
// with t.Cleanup so no sweep goroutine outlives the test.
func newTestLimiter(t *testing.T, cfg Config, opts ...Option) (*Limiter, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	all := append([]Option{
		WithClock(clk.Now),
		WithSweepInterval(time.Hour),
	}, opts...)
	l, err := New(context.Background(), cfg, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(l.Cleanup)
	return l, clk
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// Config

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero requests", Config{Requests: 0, Window: time.Minute}},
		{"negative requests", Config{Requests: -1, Window: time.Minute}},
		{"zero window", Config{Requests: 1, Window: 0}},
		{"negative window", Config{Requests: 1, Window: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(context.Background(), tt.cfg)
			if err == nil {
				l.Cleanup()
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(context.Background(), Config{Requests: 3, Window: 2 * time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Cleanup()

	if l.sweepEvery != 2*time.Minute {
		t.Errorf("sweepEvery = %v, want window (2m)", l.sweepEvery)
	}
	if l.maxEntries != 0 {
		t.Errorf("maxEntries = %d, want 0 (unbounded)", l.maxEntries)
	}
	if got := l.Config(); got.Requests != 3 || got.Window != 2*time.Minute {
		t.Errorf("Config() = %+v", got)
	}
}

// Check

func TestCheck_QuotaEnforcement(t *testing.T) {
	const n = 5
	l, _ := newTestLimiter(t, Config{Requests: n, Window: time.Minute})

	for i := 1; i <= n; i++ {
		res := l.Check("10.0.0.1")
		if !res.Success {
			t.Fatalf("request %d should be admitted", i)
		}
		if want := n - i; res.Remaining != want {
			t.Fatalf("request %d: remaining = %d, want %d", i, res.Remaining, want)
		}
		if res.Limit != n {
			t.Fatalf("request %d: limit = %d, want %d", i, res.Limit, n)
		}
	}

	res := l.Check("10.0.0.1")
	if res.Success {
		t.Fatal("request n+1 should be denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("denied remaining = %d, want 0", res.Remaining)
	}
}

func TestCheck_ResetTimeIsWindowFromFirstRequest(t *testing.T) {
	l, clk := newTestLimiter(t, Config{Requests: 3, Window: time.Minute})
	start := clk.Now()

	first := l.Check("a")
	clk.Advance(10 * time.Second)
	second := l.Check("a")

	want := start.Add(time.Minute)
	if !first.ResetTime.Equal(want) {
		t.Fatalf("first reset = %v, want %v", first.ResetTime, want)
	}
	if !second.ResetTime.Equal(want) {
		t.Fatalf("second reset = %v, want %v (window is fixed, not sliding)", second.ResetTime, want)
	}
}

func TestCheck_WindowExpiryStartsFreshWindow(t *testing.T) {
	const n = 3
	l, clk := newTestLimiter(t, Config{Requests: n, Window: time.Minute})

	for i := 0; i < n; i++ {
		l.Check("a")
	}
	denied := l.Check("a")
	if denied.Success {
		t.Fatal("should be denied after quota")
	}

	clk.Advance(time.Minute + time.Millisecond)

	res := l.Check("a")
	if !res.Success {
		t.Fatal("should be admitted after window expiry")
	}
	if res.Remaining != n-1 {
		t.Fatalf("remaining = %d, want %d", res.Remaining, n-1)
	}
	if !res.ResetTime.Equal(clk.Now().Add(time.Minute)) {
		t.Fatalf("reset = %v, want now+window", res.ResetTime)
	}
}

func TestCheck_ExactResetTimeIsExpired(t *testing.T) {
	l, clk := newTestLimiter(t, Config{Requests: 1, Window: time.Minute})

	first := l.Check("a")
	if l.Check("a").Success {
		t.Fatal("second request in window should be denied")
	}

	// land exactly on the boundary
	clk.Advance(first.ResetTime.Sub(clk.Now()))

	res := l.Check("a")
	if !res.Success {
		t.Fatal("request at exactly resetTime should start a new window")
	}
	if res.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", res.Remaining)
	}
}

func TestCheck_JustBeforeResetTimeStillDenied(t *testing.T) {
	l, clk := newTestLimiter(t, Config{Requests: 1, Window: time.Minute})

	first := l.Check("a")
	clk.Advance(first.ResetTime.Sub(clk.Now()) - time.Nanosecond)

	if l.Check("a").Success {
		t.Fatal("request before resetTime should still be denied")
	}
}

func TestCheck_FillingRequestIsAdmittedWithZeroRemaining(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Requests: 2, Window: time.Minute})

	l.Check("a")
	res := l.Check("a")
	if !res.Success || res.Remaining != 0 {
		t.Fatalf("quota-filling request: %+v, want admitted with remaining 0", res)
	}
	if l.Check("a").Success {
		t.Fatal("next request should be the first one denied")
	}
}

func TestCheck_IdentifierIsolation(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Requests: 2, Window: time.Minute})

	l.Check("10.0.0.1")
	l.Check("10.0.0.1")
	if l.Check("10.0.0.1").Success {
		t.Fatal("id1 should be denied")
	}

	res := l.Check("10.0.0.2")
	if !res.Success {
		t.Fatal("id2 should be admitted (separate window)")
	}
	if res.Remaining != 1 {
		t.Fatalf("id2 remaining = %d, want 1", res.Remaining)
	}
}

func TestCheck_RejectedRequestsDoNotInflateCount(t *testing.T) {
	l, clk := newTestLimiter(t, Config{Requests: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		l.Check("a")
	}
	atExhaustion := l.Check("a")

	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		res := l.Check("a")
		if res.Success {
			t.Fatalf("extra request %d should be denied", i+1)
		}
		if res.Remaining != atExhaustion.Remaining {
			t.Fatalf("remaining changed: %d -> %d", atExhaustion.Remaining, res.Remaining)
		}
		if !res.ResetTime.Equal(atExhaustion.ResetTime) {
			t.Fatalf("reset time changed: %v -> %v", atExhaustion.ResetTime, res.ResetTime)
		}
	}

	l.mu.Lock()
	count := l.entries["a"].count
	l.mu.Unlock()
	if count != 3 {
		t.Fatalf("stored count = %d, want 3", count)
	}
}

func TestCheck_EmptyIdentifierTracked(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Requests: 1, Window: time.Minute})

	if !l.Check("").Success {
		t.Fatal("first request for empty id should be admitted")
	}
	if l.Check("").Success {
		t.Fatal("empty id should be rate limited like any other key")
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestCheck_ConcurrentSameIdentifier(t *testing.T) {
	const quota = 50
	l, _ := newTestLimiter(t, Config{Requests: quota, Window: time.Minute})

	var wg sync.WaitGroup
	var admitted atomic.Int32
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared").Success {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != quota {
		t.Fatalf("admitted = %d, want exactly %d", got, quota)
	}
}

// Reset

func TestReset_UnknownIdentifierIsNoop(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Requests: 1, Window: time.Minute})

	l.Reset("never-seen")
	l.Reset("never-seen")

	if l.Len() != 0 {
		t.Fatalf("Len = %d, want 0", l.Len())
	}
}

func TestReset_ExhaustedIdentifierBehavesAsNew(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Requests: 2, Window: time.Minute})

	l.Check("a")
	l.Check("a")
	if l.Check("a").Success {
		t.Fatal("should be denied before reset")
	}

	l.Reset("a")

	res := l.Check("a")
	if !res.Success || res.Remaining != 1 {
		t.Fatalf("after reset: %+v, want admitted with remaining 1", res)
	}
}

func TestReset_OnlyAffectsGivenIdentifier(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Requests: 1, Window: time.Minute})

	l.Check("a")
	l.Check("b")
	l.Reset("a")

	if !l.Check("a").Success {
		t.Fatal("a should be admitted after reset")
	}
	if l.Check("b").Success {
		t.Fatal("b should still be denied")
	}
}

// Hooks

func TestOnFirstDenied_CalledOncePerWindow(t *testing.T) {
	var first atomic.Int32
	l, clk := newTestLimiter(t, Config{Requests: 1, Window: time.Minute},
		WithOnFirstDenied(func(id string) { first.Add(1) }),
	)

	l.Check("a")
	for i := 0; i < 10; i++ {
		l.Check("a")
	}
	if got := first.Load(); got != 1 {
		t.Fatalf("OnFirstDenied = %d, want 1", got)
	}

	// new window, new entry, hook may fire again
	clk.Advance(time.Minute)
	l.Check("a")
	l.Check("a")
	if got := first.Load(); got != 2 {
		t.Fatalf("OnFirstDenied after new window = %d, want 2", got)
	}
}

func TestOnDenied_CalledEveryDenial(t *testing.T) {
	var denied atomic.Int32
	l, _ := newTestLimiter(t, Config{Requests: 2, Window: time.Minute},
		WithOnDenied(func(id string) { denied.Add(1) }),
	)

	l.Check("a")
	l.Check("a")
	for i := 0; i < 5; i++ {
		l.Check("a")
	}

	if got := denied.Load(); got != 5 {
		t.Fatalf("OnDenied = %d, want 5", got)
	}
}

func TestOnAllowed_CalledEveryAdmission(t *testing.T) {
	var allowed, denied atomic.Int32
	l, _ := newTestLimiter(t, Config{Requests: 3, Window: time.Minute},
		WithOnAllowed(func(id string) { allowed.Add(1) }),
		WithOnDenied(func(id string) { denied.Add(1) }),
	)

	for i := 0; i < 5; i++ {
		l.Check("a")
	}
	l.Check("b")

	if allowed.Load() != 4 || denied.Load() != 2 {
		t.Fatalf("allowed = %d denied = %d, want 4 and 2", allowed.Load(), denied.Load())
	}
}

func TestHooks_ReceiveIdentifier(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	l, _ := newTestLimiter(t, Config{Requests: 1, Window: time.Minute},
		WithOnDenied(func(id string) {
			mu.Lock()
			seen[id]++
			mu.Unlock()
		}),
	)

	l.Check("10.0.0.1")
	l.Check("10.0.0.1")
	l.Check("10.0.0.2")
	l.Check("10.0.0.2")
	l.Check("10.0.0.2")

	mu.Lock()
	defer mu.Unlock()
	if seen["10.0.0.1"] != 1 || seen["10.0.0.2"] != 2 {
		t.Fatalf("seen = %v", seen)
	}
}

func TestHooks_CanReenterLimiter(t *testing.T) {
	// hooks run without the lock held, so calling back into the limiter must not deadlock
	var l *Limiter
	l, _ = newTestLimiter(t, Config{Requests: 1, Window: time.Minute},
		WithOnDenied(func(id string) { _ = l.Len() }),
	)

	l.Check("a")
	done := make(chan struct{})
	go func() {
		l.Check("a")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Check deadlocked calling OnDenied")
	}
}

// Capacity

func TestMaxEntries_NewIdentifierRejectedAtCapacity(t *testing.T) {
	var capHits atomic.Int32
	l, _ := newTestLimiter(t, Config{Requests: 100, Window: time.Minute},
		WithMaxEntries(3),
		WithOnCapacity(func() { capHits.Add(1) }),
	)

	for i := 0; i < 3; i++ {
		if !l.Check(fmt.Sprintf("10.0.0.%d", i)).Success {
			t.Fatalf("id %d should be admitted below capacity", i)
		}
	}

	if l.Check("10.0.0.99").Success {
		t.Fatal("new id should be rejected at capacity")
	}
	l.Check("10.0.0.98")
	if got := capHits.Load(); got != 1 {
		t.Fatalf("OnCapacity = %d, want 1", got)
	}

	// existing ids keep working
	if !l.Check("10.0.0.1").Success {
		t.Fatal("existing id should still be admitted at capacity")
	}
}

func TestMaxEntries_EveryCapacityRejectionReported(t *testing.T) {
	var perRequest, episodes, denied atomic.Int32
	var mu sync.Mutex
	var ids []string
	l, _ := newTestLimiter(t, Config{Requests: 100, Window: time.Minute},
		WithMaxEntries(1),
		WithOnCapacityDenied(func(id string) {
			perRequest.Add(1)
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
		}),
		WithOnCapacity(func() { episodes.Add(1) }),
		WithOnDenied(func(string) { denied.Add(1) }),
	)

	l.Check("admitted")
	rejected := 0
	for i := 0; i < 5; i++ {
		if !l.Check(fmt.Sprintf("10.1.0.%d", i)).Success {
			rejected++
		}
	}

	if rejected != 5 || perRequest.Load() != 5 {
		t.Fatalf("rejected = %d, OnCapacityDenied = %d, want 5 and 5", rejected, perRequest.Load())
	}
	if episodes.Load() != 1 {
		t.Fatalf("OnCapacity = %d, want 1 per episode", episodes.Load())
	}
	if denied.Load() != 0 {
		t.Fatalf("OnDenied = %d, capacity rejections are reported separately", denied.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if ids[0] != "10.1.0.0" || ids[4] != "10.1.0.4" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestMaxEntries_ResetFreesCapacity(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Requests: 100, Window: time.Minute}, WithMaxEntries(1))

	l.Check("a")
	if l.Check("b").Success {
		t.Fatal("b should be rejected at capacity")
	}
	l.Reset("a")
	if !l.Check("b").Success {
		t.Fatal("b should be admitted after a was reset")
	}
}

func TestMaxEntries_ExpiredEntryReplacedAtCapacity(t *testing.T) {
	l, clk := newTestLimiter(t, Config{Requests: 1, Window: time.Minute}, WithMaxEntries(1))

	l.Check("a")
	clk.Advance(2 * time.Minute)

	// the existing id renewing its own expired window is not a new identifier
	if !l.Check("a").Success {
		t.Fatal("a should start a fresh window at capacity")
	}
}

// Sweep and Cleanup

func TestSweep_RemovesOnlyExpiredEntries(t *testing.T) {
	l, clk := newTestLimiter(t, Config{Requests: 5, Window: time.Minute})

	l.Check("old")
	clk.Advance(30 * time.Second)
	l.Check("new")
	clk.Advance(30 * time.Second) // "old" is exactly at its reset time

	if n := l.sweep(); n != 1 {
		t.Fatalf("sweep removed %d, want 1", n)
	}

	l.mu.Lock()
	_, hasOld := l.entries["old"]
	_, hasNew := l.entries["new"]
	l.mu.Unlock()

	if hasOld {
		t.Fatal("expired entry should be swept")
	}
	if !hasNew {
		t.Fatal("live entry should survive the sweep")
	}
}

func TestSweep_BackgroundLoopEvicts(t *testing.T) {
	l, clk := newTestLimiter(t, Config{Requests: 5, Window: time.Minute},
		WithSweepInterval(5*time.Millisecond),
	)

	l.Check("a")
	l.Check("b")
	clk.Advance(2 * time.Minute)

	if !waitFor(t, time.Second, func() bool { return l.Len() == 0 }) {
		t.Fatalf("background sweep did not evict expired entries, Len = %d", l.Len())
	}
}

func TestCleanup_StopsSweepAndClearsStore(t *testing.T) {
	l, clk := newTestLimiter(t, Config{Requests: 5, Window: time.Minute},
		WithSweepInterval(5*time.Millisecond),
	)

	l.Check("a")
	l.Check("b")

	l.Cleanup()

	if !l.Stopped() {
		t.Fatal("sweep goroutine should have exited")
	}
	if l.Len() != 0 {
		t.Fatalf("Len after Cleanup = %d, want 0", l.Len())
	}

	// an expired entry added after Cleanup must never be swept
	l.Check("c")
	clk.Advance(2 * time.Minute)
	time.Sleep(30 * time.Millisecond)
	if l.Len() != 1 {
		t.Fatalf("entry was swept after Cleanup, Len = %d", l.Len())
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Requests: 1, Window: time.Minute})

	l.Cleanup()
	l.Cleanup()

	if !l.Stopped() {
		t.Fatal("should be stopped")
	}
}

func TestSweep_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l, err := New(ctx, Config{Requests: 1, Window: time.Minute}, WithSweepInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Cleanup()

	cancel()

	if !waitFor(t, time.Second, l.Stopped) {
		t.Fatal("sweep should stop when the construction context is cancelled")
	}
}

// Result helpers

func TestResult_RetryAfter(t *testing.T) {
	base := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		reset time.Time
		now   time.Time
		want  int
	}{
		{"whole seconds", base.Add(60 * time.Second), base, 60},
		{"rounds up", base.Add(1500 * time.Millisecond), base, 2},
		{"sub-second rounds to one", base.Add(time.Millisecond), base, 1},
		{"already passed", base, base.Add(time.Second), 0},
		{"exactly now", base, base, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Result{ResetTime: tt.reset}
			if got := r.RetryAfter(tt.now); got != tt.want {
				t.Fatalf("RetryAfter = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResult_ResetUnixMilli(t *testing.T) {
	reset := time.Date(2025, 1, 15, 12, 1, 0, 0, time.UTC)
	r := Result{ResetTime: reset}
	if got := r.ResetUnixMilli(); got != reset.UnixMilli() {
		t.Fatalf("ResetUnixMilli = %d, want %d", got, reset.UnixMilli())
	}
}
