package daemon

import (
	"context"
	"time"
)

// DefaultStatsInterval is how often the event loop logs resilience state.
const DefaultStatsInterval = 30 * time.Second

// EventLoop handles periodic maintenance.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: DefaultStatsInterval,
	}
}

// Run runs the event loop until ctx is cancelled.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.log.Debug().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.log.Debug().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks logs open circuits, queued rate-limit waiters and disabled hooks.
func (e *EventLoop) processTasks() {
	d := e.daemon

	if open := d.breakers.OpenCircuits(); len(open) > 0 {
		d.log.Warn().Strs("dependencies", open).Msg("Circuits open")
	}

	for _, s := range d.limiters.Stats() {
		if s.QueueLength > 0 {
			d.log.Debug().
				Str("dependency", s.Name).
				Int("queued", s.QueueLength).
				Int("available", s.AvailableTokens).
				Dur("average_wait", s.AverageWait).
				Msg("Rate limit queue")
		}
	}

	if disabled := d.hookManager.DisabledHooks(); len(disabled) > 0 {
		ids := make([]string, 0, len(disabled))
		for _, h := range disabled {
			ids = append(ids, string(h.Name)+"/"+h.Label)
		}
		d.log.Warn().Strs("hooks", ids).Msg("Hooks disabled")
	}

	if d.cache != nil {
		stats := d.cache.Stats()
		d.log.Debug().
			Int("entries", stats.Entries).
			Float64("hit_rate", stats.HitRate).
			Msg("Idempotency cache stats")
	}
}
