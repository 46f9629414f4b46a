package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/harun/callguard/pkg/eventbus"
)

const (
	DefaultTimeout              = 5 * time.Second
	DefaultMaxConsecutiveErrors = 3
	DefaultMaxHooksPerName      = 10
)

// Config configures a hook Manager.
type Config struct {
	// Timeout bounds every hook invocation (default 5s).
	Timeout time.Duration
	// Parallel runs all hooks of an event concurrently.
	Parallel bool
	// MaxConsecutiveErrors disables a hook after that many failures in a row (default 3).
	MaxConsecutiveErrors int
	// MaxHooksPerName bounds registrations per lifecycle point (default 10).
	MaxHooksPerName int
	// Scripts are shell hooks registered at construction.
	Scripts []ScriptConfig

	Bus    *eventbus.Bus
	Logger zerolog.Logger
	// Now is used for event timestamps and run time.
	Now func() time.Time
}

// HookInfo describes a registered hook.
type HookInfo struct {
	ID    string
	Name  Name
	Label string
	// Key identifies the hook's failure counter: label plus registration index.
	Key                 string
	ConsecutiveFailures int
	Disabled            bool
}

type registeredHook struct {
	id       string
	label    string
	key      string
	fn       Func
	failures int
	disabled bool
}

// Manager runs lifecycle hooks with per-hook failure isolation.
type Manager struct {
	config Config
	logger zerolog.Logger
	tracer trace.Tracer

	mu    sync.Mutex
	hooks map[Name][]*registeredHook
	index map[Name]int
}

// NewManager creates a hook manager and registers configured script hooks.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if cfg.MaxHooksPerName <= 0 {
		cfg.MaxHooksPerName = DefaultMaxHooksPerName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{
		config: cfg,
		logger: cfg.Logger.With().Str("component", "hooks").Logger(),
		tracer: otel.Tracer("github.com/harun/callguard/pkg/hooks"),
		hooks:  make(map[Name][]*registeredHook),
		index:  make(map[Name]int),
	}

	for _, script := range cfg.Scripts {
		if !script.Enabled {
			continue
		}
		fn, err := ScriptHook(script)
		if err != nil {
			return nil, err
		}
		label := script.ID
		if label == "" {
			label = "script"
		}
		if _, err := m.Register(Name(script.Event), label, fn); err != nil {
			return nil, fmt.Errorf("register script hook %q: %w", label, err)
		}
	}

	return m, nil
}

// Register adds fn under name and returns the handle used by Unregister and Enable.
// Label names the hook in logs and events; anonymous hooks may pass "".
func (m *Manager) Register(name Name, label string, fn Func) (string, error) {
	if !name.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownHook, name)
	}
	if fn == nil {
		return "", ErrInvalidHook
	}
	if label == "" {
		label = "anonymous"
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate hook id: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.hooks[name]) >= m.config.MaxHooksPerName {
		return "", fmt.Errorf("%w: %s already has %d hooks", ErrTooManyHooks, name, m.config.MaxHooksPerName)
	}

	idx := m.index[name]
	m.index[name] = idx + 1
	m.hooks[name] = append(m.hooks[name], &registeredHook{
		id:    id,
		label: label,
		key:   fmt.Sprintf("%s#%d", label, idx),
		fn:    fn,
	})

	m.logger.Debug().Str("hook", string(name)).Str("label", label).Str("id", id).Msg("Hook registered")

	return id, nil
}

// Unregister removes the hook with handle id from name.
func (m *Manager) Unregister(name Name, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	hooks := m.hooks[name]
	for i, h := range hooks {
		if h.id == id {
			m.hooks[name] = append(hooks[:i:i], hooks[i+1:]...)
			return true
		}
	}
	return false
}

// Enable re-enables a disabled hook and clears its failure counter.
func (m *Manager) Enable(name Name, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.hooks[name] {
		if h.id == id {
			h.disabled = false
			h.failures = 0
			return true
		}
	}
	return false
}

// HasHooks reports whether name has at least one enabled hook.
func (m *Manager) HasHooks(name Name) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.hooks[name] {
		if !h.disabled {
			return true
		}
	}
	return false
}

// GetHookCount returns the number of hooks registered under name.
func (m *Manager) GetHookCount(name Name) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.hooks[name])
}

// TotalHookCount returns the number of hooks registered under every name.
func (m *Manager) TotalHookCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, hooks := range m.hooks {
		total += len(hooks)
	}
	return total
}

// Clear removes every hook.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = make(map[Name][]*registeredHook)
	m.index = make(map[Name]int)
}

// Hooks describes every registered hook, ordered by name then registration.
func (m *Manager) Hooks() []HookInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []HookInfo
	for _, name := range Names {
		for _, h := range m.hooks[name] {
			infos = append(infos, HookInfo{
				ID:                  h.id,
				Name:                name,
				Label:               h.label,
				Key:                 h.key,
				ConsecutiveFailures: h.failures,
				Disabled:            h.disabled,
			})
		}
	}
	return infos
}

// DisabledHooks lists hooks disabled after repeated failures.
func (m *Manager) DisabledHooks() []HookInfo {
	var disabled []HookInfo
	for _, info := range m.Hooks() {
		if info.Disabled {
			disabled = append(disabled, info)
		}
	}
	sort.SliceStable(disabled, func(i, j int) bool { return disabled[i].Key < disabled[j].Key })
	return disabled
}

// ExecuteHooks runs the enabled hooks of name and merges their results on top of
// defaultResult. It never fails: a failing or timed-out hook contributes nothing.
func (m *Manager) ExecuteHooks(ctx context.Context, name Name, hc *Context, defaultResult *Result) *Result {
	if ctx == nil {
		ctx = context.Background()
	}
	acc := Merge(defaultResult, nil)
	if m == nil {
		return acc
	}
	if hc == nil {
		hc = &Context{}
	}
	hc.Event = name

	hooks := m.active(name)
	if len(hooks) == 0 {
		return acc
	}

	ctx, span := m.tracer.Start(ctx, "hooks."+string(name), trace.WithAttributes(
		attribute.String("hook.name", string(name)),
		attribute.Int("hook.count", len(hooks)),
		attribute.Bool("hook.parallel", m.config.Parallel),
	))
	defer span.End()

	if m.config.Parallel {
		return m.executeParallel(ctx, name, hooks, hc, acc)
	}

	for _, h := range hooks {
		res, ok := m.executeHookSafely(ctx, name, h, hc)
		if !ok || res == nil {
			continue
		}
		acc = Merge(acc, res)
		if acc.Skip {
			span.SetAttributes(attribute.String("hook.skipped_by", h.key))
			break
		}
	}
	return acc
}

// executeParallel starts every hook at once and folds the results in registration order.
func (m *Manager) executeParallel(ctx context.Context, name Name, hooks []*registeredHook, hc *Context, acc *Result) *Result {
	results := make([]*Result, len(hooks))

	var g errgroup.Group
	for i, h := range hooks {
		g.Go(func() error {
			if res, ok := m.executeHookSafely(ctx, name, h, hc); ok {
				results[i] = res
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res != nil {
			acc = Merge(acc, res)
		}
	}
	return acc
}

func (m *Manager) active(name Name) []*registeredHook {
	m.mu.Lock()
	defer m.mu.Unlock()

	hooks := make([]*registeredHook, 0, len(m.hooks[name]))
	for _, h := range m.hooks[name] {
		if !h.disabled {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

type hookOutcome struct {
	result *Result
	err    error
}

// executeHookSafely runs one hook under the manager timeout. A timeout cancels the
// hook's context and counts as a failure.
func (m *Manager) executeHookSafely(ctx context.Context, name Name, h *registeredHook, hc *Context) (*Result, bool) {
	start := m.config.Now()

	hookCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	done := make(chan hookOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- hookOutcome{err: fmt.Errorf("hook panicked: %v", r)}
			}
		}()
		res, err := h.fn(hookCtx, hc)
		done <- hookOutcome{result: res, err: err}
	}()

	var out hookOutcome
	select {
	case out = <-done:
	case <-hookCtx.Done():
	}

	if ctx.Err() != nil {
		// The caller gave up; that says nothing about the hook's health.
		return nil, false
	}
	if hookCtx.Err() != nil {
		out = hookOutcome{err: fmt.Errorf("%w after %v", ErrHookTimeout, m.config.Timeout)}
	}

	if out.err != nil {
		m.recordFailure(name, h, hc, out.err)
		return nil, false
	}

	m.mu.Lock()
	h.failures = 0
	m.mu.Unlock()

	if hc.Metrics != nil {
		hc.Metrics.ObserveHook(name, h.label, m.config.Now().Sub(start))
	}
	return out.result, true
}

func (m *Manager) recordFailure(name Name, h *registeredHook, hc *Context, err error) {
	m.mu.Lock()
	h.failures++
	failures := h.failures
	disable := !h.disabled && failures >= m.config.MaxConsecutiveErrors
	if disable {
		h.disabled = true
	}
	m.mu.Unlock()

	m.logger.Warn().
		Str("hook", string(name)).
		Str("key", h.key).
		Str("execution_id", hc.ExecutionID).
		Int("consecutive_errors", failures).
		Err(err).
		Msg("Hook failed")

	if disable {
		m.logger.Error().
			Str("hook", string(name)).
			Str("key", h.key).
			Int("consecutive_errors", failures).
			Msg("Hook disabled after consecutive failures")
	}

	m.config.Bus.Publish(eventbus.HookErrorEvent{
		ExecutionID:       hc.ExecutionID,
		HookName:          h.key,
		Event:             string(name),
		Err:               err,
		ConsecutiveErrors: failures,
		Disabled:          disable,
		Timestamp:         m.config.Now(),
	})
}
