package daemon

import (
	"github.com/rs/zerolog"

	"github.com/harun/callguard/internal/config"
	"github.com/harun/callguard/pkg/eventbus"
	"github.com/harun/callguard/pkg/hooks"
)

func newHookManager(cfg config.HooksConfig, bus *eventbus.Bus, logger zerolog.Logger) (*hooks.Manager, error) {
	return hooks.NewManager(cfg.ManagerConfig(bus, logger))
}

// logHookErrors reports hook failures that disabled a hook, which otherwise only show up
// in metrics.
func (d *Daemon) logHookErrors(evt eventbus.Event) {
	e, ok := evt.(eventbus.HookErrorEvent)
	if !ok || !e.Disabled {
		return
	}
	d.log.Warn().
		Str("hook", e.HookName).
		Str("event", e.Event).
		Int("consecutive_errors", e.ConsecutiveErrors).
		Err(e.Err).
		Msg("Hook disabled after repeated failures")
}
