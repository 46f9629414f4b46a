package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OnLimit selects what Acquire does when the bucket is empty.
type OnLimit string

const (
	// Wait queues the caller until the next window refill.
	Wait OnLimit = "wait"
	// Throw fails immediately with *Error.
	Throw OnLimit = "throw"
)

var (
	// ErrRateLimited is matched by every rejection the limiter returns.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrLimiterClosed is returned to waiters still queued when the limiter is closed.
	ErrLimiterClosed = errors.New("rate limiter closed")
)

// Error carries the time until the caller could be served.
type Error struct {
	Limiter    string
	RetryAfter time.Duration
	Reason     string
}

func (e *Error) Error() string {
	if e.Limiter != "" {
		return fmt.Sprintf("rate limit exceeded for %q (%s), retry in %s", e.Limiter, e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (%s), retry in %s", e.Reason, e.RetryAfter)
}

func (e *Error) Unwrap() error {
	return ErrRateLimited
}

// RetryAfterHint reports how long until a token is expected to be available.
func (e *Error) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// Config configures a limiter.
type Config struct {
	// Name identifies the dependency being throttled.
	Name string
	// MaxRequests is the number of permits granted per window.
	MaxRequests int
	// Window is the refill period (default 60s).
	Window time.Duration
	// OnLimit selects waiting or failing when no permit is available (default Wait).
	OnLimit OnLimit
	// MaxWait bounds how long Acquire may queue (default 60s).
	MaxWait time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
}

// DefaultConfig returns sixty requests per minute, waiting up to a minute.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 60,
		Window:      time.Minute,
		OnLimit:     Wait,
		MaxWait:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.OnLimit == "" {
		c.OnLimit = Wait
	}
	if c.MaxWait <= 0 {
		c.MaxWait = time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Stats is a point-in-time view of limiter counters.
type Stats struct {
	Name            string
	MaxRequests     int
	AvailableTokens int
	QueueLength     int
	TotalAcquired   int64
	TotalRejected   int64
	TotalWaited     int64
	AverageWait     time.Duration
	NextRefill      time.Duration
}

type waiter struct {
	ready    chan struct{}
	granted  bool
	err      error
	enqueued time.Time
}

// Limiter is a token bucket that refills to MaxRequests once a full window has elapsed
// since the last refill. Waiters are served FIFO.
type Limiter struct {
	config Config
	logger zerolog.Logger

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	queue      []*waiter
	timer      *time.Timer
	closed     bool

	totalAcquired int64
	totalRejected int64
	totalWaited   int64
	totalWaitTime time.Duration
}

// New creates a limiter with a full bucket.
func New(config Config) *Limiter {
	config = config.withDefaults()
	return &Limiter{
		config:     config,
		logger:     config.Logger.With().Str("component", "ratelimit").Str("dependency", config.Name).Logger(),
		tokens:     config.MaxRequests,
		lastRefill: config.Now(),
	}
}

// Name returns the dependency name.
func (l *Limiter) Name() string {
	return l.config.Name
}

// Acquire takes one permit, waiting for the next refill when configured to.
func (l *Limiter) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLimiterClosed
	}
	l.refill()

	if l.tokens > 0 && len(l.queue) == 0 {
		l.tokens--
		l.totalAcquired++
		l.mu.Unlock()
		return nil
	}

	untilRefill := l.timeUntilRefill()
	if l.config.OnLimit == Throw {
		l.totalRejected++
		l.mu.Unlock()
		return &Error{Limiter: l.config.Name, RetryAfter: untilRefill, Reason: "no tokens available"}
	}

	// Waiters beyond one window's worth of permits are served in later windows.
	estimated := untilRefill + time.Duration(len(l.queue)/l.config.MaxRequests)*l.config.Window
	if estimated > l.config.MaxWait {
		l.totalRejected++
		l.mu.Unlock()
		return &Error{Limiter: l.config.Name, RetryAfter: estimated, Reason: "wait would exceed max wait"}
	}

	w := &waiter{ready: make(chan struct{}), enqueued: l.config.Now()}
	l.queue = append(l.queue, w)
	l.armTimer(untilRefill)
	queued := len(l.queue)
	l.mu.Unlock()

	l.logger.Debug().
		Int("queue_length", queued).
		Dur("estimated_wait", estimated).
		Msg("Waiting for rate limit window")

	maxWait := time.NewTimer(l.config.MaxWait)
	defer maxWait.Stop()

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
		if l.abandon(w) {
			return ctx.Err()
		}
		return w.err
	case <-maxWait.C:
		if l.abandon(w) {
			return &Error{Limiter: l.config.Name, RetryAfter: l.GetWaitTime(), Reason: "max wait exceeded"}
		}
		return w.err
	}
}

// TryAcquire takes a permit only if one is immediately available. It never queues.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.refill()

	if l.tokens > 0 && len(l.queue) == 0 {
		l.tokens--
		l.totalAcquired++
		return true
	}
	l.totalRejected++
	return false
}

// GetAvailableTokens returns the permits left in the current window.
func (l *Limiter) GetAvailableTokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// GetWaitTime returns how long a new caller would wait for a permit.
func (l *Limiter) GetWaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()

	if l.tokens > 0 && len(l.queue) == 0 {
		return 0
	}
	return l.timeUntilRefill() + time.Duration(len(l.queue)/l.config.MaxRequests)*l.config.Window
}

// Stats returns current limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()

	stats := Stats{
		Name:            l.config.Name,
		MaxRequests:     l.config.MaxRequests,
		AvailableTokens: l.tokens,
		QueueLength:     len(l.queue),
		TotalAcquired:   l.totalAcquired,
		TotalRejected:   l.totalRejected,
		TotalWaited:     l.totalWaited,
		NextRefill:      l.timeUntilRefill(),
	}
	if l.totalWaited > 0 {
		stats.AverageWait = l.totalWaitTime / time.Duration(l.totalWaited)
	}
	return stats
}

// Reset refills the bucket, restarts the window, clears counters and serves waiters.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = l.config.MaxRequests
	l.lastRefill = l.config.Now()
	l.totalAcquired = 0
	l.totalRejected = 0
	l.totalWaited = 0
	l.totalWaitTime = 0
	l.drain()
	if len(l.queue) > 0 {
		l.armTimer(l.timeUntilRefill())
	}
}

// Close stops the refill timer and fails every queued waiter with ErrLimiterClosed.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	for _, w := range l.queue {
		w.err = ErrLimiterClosed
		close(w.ready)
	}
	l.queue = nil
}

// refill restores the bucket once a full window has elapsed. Caller holds mu.
func (l *Limiter) refill() {
	now := l.config.Now()
	if now.Sub(l.lastRefill) < l.config.Window {
		return
	}
	l.tokens = l.config.MaxRequests
	l.lastRefill = now
	l.drain()
}

// drain hands tokens to queued waiters in FIFO order. Caller holds mu.
func (l *Limiter) drain() {
	now := l.config.Now()
	for l.tokens > 0 && len(l.queue) > 0 {
		w := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]

		l.tokens--
		l.totalAcquired++
		l.totalWaited++
		l.totalWaitTime += now.Sub(w.enqueued)

		w.granted = true
		close(w.ready)
	}
	if len(l.queue) == 0 {
		l.queue = nil
	}
}

func (l *Limiter) timeUntilRefill() time.Duration {
	remaining := l.config.Window - l.config.Now().Sub(l.lastRefill)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// armTimer schedules a refill check while waiters are queued. Caller holds mu.
func (l *Limiter) armTimer(d time.Duration) {
	if l.timer != nil || l.closed {
		return
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	l.timer = time.AfterFunc(d, l.onTimer)
}

func (l *Limiter) onTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.timer = nil
	if l.closed {
		return
	}
	l.refill()
	if len(l.queue) > 0 {
		l.armTimer(l.timeUntilRefill())
	}
}

// abandon removes w from the queue. It reports false when w was already granted or
// failed, in which case the caller owns the outcome stored on w.
func (l *Limiter) abandon(w *waiter) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w.granted || w.err != nil {
		return false
	}
	for i, queued := range l.queue {
		if queued == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			break
		}
	}
	l.totalRejected++
	return true
}
