package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrInvalidConfig is returned by New when the quota or window is not positive.
var ErrInvalidConfig = errors.New("ratelimit: invalid config")

// Config is the quota for a single limiter: Requests admitted per Window.
type Config struct {
	Requests int
	Window   time.Duration
}

// Validate reports whether both the quota and window are positive.
func (c Config) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("%w: requests must be positive (got %d)", ErrInvalidConfig, c.Requests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive (got %s)", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Result is the outcome of a single Check.
type Result struct {
	Success   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// RetryAfter returns the whole number of seconds until the window resets,
// rounded up, never negative.
func (r Result) RetryAfter(now time.Time) int {
	d := r.ResetTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// ResetUnixMilli returns ResetTime as epoch milliseconds.
func (r Result) ResetUnixMilli() int64 {
	return r.ResetTime.UnixMilli()
}

// entry is the counter for one identifier within its current window
type entry struct {
	count     int
	resetTime time.Time
	// logged tracks whether OnFirstDenied already fired for this window
	logged bool
}

// expired uses an exclusive boundary: a request at exactly resetTime starts a new window
func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.resetTime)
}

// Limiter is a fixed-window counter keyed by identifier.
// All methods are safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	cfg  Config
	name string
	now  func() time.Time

	// sweepEvery controls how often expired entries are evicted, defaults to the window length
	sweepEvery time.Duration

	// maxEntries caps the number of tracked identifiers, 0 means unbounded
	maxEntries     int
	capacityLogged bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// OnFirstDenied is called once per entry when it is first denied
	OnFirstDenied func(id string)

	// OnDenied is called on every denied request
	OnDenied func(id string)

	// OnAllowed is called on every admitted request
	OnAllowed func(id string)

	// OnCapacityDenied is called on every request turned away because the store is full
	OnCapacityDenied func(id string)

	// OnCapacity is called when a new identifier is turned away because the store is full.
	// Fires once until the store drops below the cap again.
	OnCapacity func()
}

type Option func(*Limiter)

// WithName labels the limiter, used by the registry and for metrics.
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

// WithClock replaces time.Now, used by tests to move time without sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSweepInterval overrides how often the background sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.sweepEvery = d
	}
}

// WithMaxEntries caps the number of identifiers tracked at once.
// Identifiers already in the store keep being counted when the cap is reached, new ones are denied.
func WithMaxEntries(n int) Option {
	return func(l *Limiter) {
		l.maxEntries = n
	}
}

// WithOnFirstDenied sets a callback for the first denial of each entry, used for logging.
func WithOnFirstDenied(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request, used for prometheus counters.
func WithOnDenied(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// WithOnAllowed sets a callback for every admitted request, used for prometheus counters.
func WithOnAllowed(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnAllowed = fn
	}
}

// WithOnCapacityDenied sets a callback for every capacity rejection, used for prometheus counters.
func WithOnCapacityDenied(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnCapacityDenied = fn
	}
}

// WithOnCapacity sets a callback for when the entry cap turns away a new identifier.
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) {
		l.OnCapacity = fn
	}
}

// New validates cfg, creates a Limiter and starts its background sweep.
// The sweep stops when ctx is cancelled or Cleanup is called, whichever comes first.
func New(ctx context.Context, cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		entries: make(map[string]*entry),
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.sweepEvery <= 0 {
		l.sweepEvery = cfg.Window
	}
	if l.maxEntries < 0 {
		l.maxEntries = 0
	}

	go l.sweepLoop(ctx)
	return l, nil
}

// Config returns the limiter's immutable quota.
func (l *Limiter) Config() Config { return l.cfg }

// Name returns the label set with WithName.
func (l *Limiter) Name() string { return l.name }

// Check counts a request for id and reports whether it is admitted.
// Denied requests do not increment the counter.
func (l *Limiter) Check(id string) Result {
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok || e.expired(now) {
		if !ok && l.maxEntries > 0 && len(l.entries) >= l.maxEntries {
			return l.denyAtCapacity(id, now)
		}
		e = &entry{count: 1, resetTime: now.Add(l.cfg.Window)}
		l.entries[id] = e
		res := Result{
			Success:   true,
			Limit:     l.cfg.Requests,
			Remaining: l.cfg.Requests - 1,
			ResetTime: e.resetTime,
		}
		l.mu.Unlock()
		l.allowed(id)
		return res
	}

	if e.count >= l.cfg.Requests {
		first := !e.logged
		e.logged = true
		res := Result{
			Success:   false,
			Limit:     l.cfg.Requests,
			Remaining: 0,
			ResetTime: e.resetTime,
		}
		// hooks may do slow work, never call them holding the lock
		l.mu.Unlock()
		if first && l.OnFirstDenied != nil {
			l.OnFirstDenied(id)
		}
		if l.OnDenied != nil {
			l.OnDenied(id)
		}
		return res
	}

	e.count++
	res := Result{
		Success:   true,
		Limit:     l.cfg.Requests,
		Remaining: max(l.cfg.Requests-e.count, 0),
		ResetTime: e.resetTime,
	}
	l.mu.Unlock()
	l.allowed(id)
	return res
}

func (l *Limiter) allowed(id string) {
	if l.OnAllowed != nil {
		l.OnAllowed(id)
	}
}

// denyAtCapacity is called with l.mu held and releases it.
func (l *Limiter) denyAtCapacity(id string, now time.Time) Result {
	first := !l.capacityLogged
	l.capacityLogged = true
	l.mu.Unlock()

	if first && l.OnCapacity != nil {
		l.OnCapacity()
	}
	if l.OnCapacityDenied != nil {
		l.OnCapacityDenied(id)
	}
	return Result{
		Success:   false,
		Limit:     l.cfg.Requests,
		Remaining: 0,
		ResetTime: now.Add(l.cfg.Window),
	}
}

// Reset drops any state for id. Unknown ids are a no-op.
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	delete(l.entries, id)
	if l.maxEntries > 0 && len(l.entries) < l.maxEntries {
		l.capacityLogged = false
	}
	l.mu.Unlock()
}

// Len returns the number of tracked identifiers, including expired entries not yet swept.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cleanup stops the background sweep and empties the store.
// Safe to call more than once. The limiter keeps answering Check afterwards, it just no longer sweeps.
func (l *Limiter) Cleanup() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done

	l.mu.Lock()
	clear(l.entries)
	l.capacityLogged = false
	l.mu.Unlock()
}

// Stopped reports whether the background sweep has exited.
func (l *Limiter) Stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// sweep deletes every entry whose window has ended and returns how many were removed
func (l *Limiter) sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, e := range l.entries {
		if e.expired(now) {
			delete(l.entries, id)
			n++
		}
	}
	if l.maxEntries > 0 && len(l.entries) < l.maxEntries {
		l.capacityLogged = false
	}
	return n
}

func (l *Limiter) sweepLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}
