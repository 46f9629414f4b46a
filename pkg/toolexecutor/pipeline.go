package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultToolTimeout bounds a tool call when neither the tool nor the caller sets a timeout.
const DefaultToolTimeout = 30 * time.Second

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// DefaultTimeout applies to tools without their own timeout.
	DefaultTimeout time.Duration
	// StrictArgsCopy fails calls whose arguments cannot be deep-copied with
	// ErrArgsNotCopyable. When false such calls run with the caller's arguments.
	StrictArgsCopy bool

	Logger zerolog.Logger
	// IDSource generates execution ids. Defaults to uuid.NewRandom.
	IDSource func() (uuid.UUID, error)
}

type registeredPlugin struct {
	plugin   Plugin
	priority int
	seq      uint64
}

// Pipeline runs tool calls through an ordered chain of plugins.
type Pipeline struct {
	config PipelineConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	plugins []registeredPlugin
	seq     uint64

	fallbackIDs atomic.Uint64
}

// NewPipeline creates a pipeline without plugins.
func NewPipeline(config PipelineConfig) *Pipeline {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultToolTimeout
	}
	if config.IDSource == nil {
		config.IDSource = uuid.NewRandom
	}

	return &Pipeline{
		config: config,
		logger: config.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Use registers plugin, replacing a registered plugin of the same name. Plugins with equal
// priority keep registration order.
func (p *Pipeline) Use(plugin Plugin) error {
	if plugin == nil {
		return fmt.Errorf("plugin cannot be nil")
	}
	name := plugin.Name()
	if name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}

	if hook, ok := plugin.(RegisterHook); ok {
		if err := hook.OnRegister(p); err != nil {
			return fmt.Errorf("plugin %s rejected registration: %w", name, err)
		}
	}

	p.mu.Lock()
	old := p.removeLocked(name)
	p.seq++
	p.plugins = append(p.plugins, registeredPlugin{
		plugin:   plugin,
		priority: pluginPriority(plugin),
		seq:      p.seq,
	})
	sort.SliceStable(p.plugins, func(i, j int) bool {
		if p.plugins[i].priority != p.plugins[j].priority {
			return p.plugins[i].priority < p.plugins[j].priority
		}
		return p.plugins[i].seq < p.plugins[j].seq
	})
	p.mu.Unlock()

	if old != nil {
		if hook, ok := old.(UnregisterHook); ok {
			hook.OnUnregister(p)
		}
	}

	p.logger.Debug().
		Str("plugin", name).
		Int("priority", pluginPriority(plugin)).
		Bool("replaced", old != nil).
		Msg("Plugin registered")

	return nil
}

// Remove unregisters a plugin by name and reports whether it was registered.
func (p *Pipeline) Remove(name string) bool {
	p.mu.Lock()
	old := p.removeLocked(name)
	p.mu.Unlock()

	if old == nil {
		return false
	}
	if hook, ok := old.(UnregisterHook); ok {
		hook.OnUnregister(p)
	}
	p.logger.Debug().Str("plugin", name).Msg("Plugin removed")
	return true
}

// Close removes every plugin, notifying each.
func (p *Pipeline) Close() {
	for _, name := range p.Plugins() {
		p.Remove(name)
	}
}

// Plugins returns registered plugin names in execution order.
func (p *Pipeline) Plugins() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.plugins))
	for i, rp := range p.plugins {
		names[i] = rp.plugin.Name()
	}
	return names
}

func (p *Pipeline) removeLocked(name string) Plugin {
	for i, rp := range p.plugins {
		if rp.plugin.Name() == name {
			p.plugins = append(p.plugins[:i:i], p.plugins[i+1:]...)
			return rp.plugin
		}
	}
	return nil
}

func (p *Pipeline) snapshot() []Plugin {
	p.mu.RLock()
	defer p.mu.RUnlock()

	plugins := make([]Plugin, len(p.plugins))
	for i, rp := range p.plugins {
		plugins[i] = rp.plugin
	}
	return plugins
}

// Execute runs tool with args through the plugin chain.
func (p *Pipeline) Execute(ctx context.Context, tool *ToolDefinition, args map[string]interface{}) (interface{}, error) {
	result, _, err := p.ExecuteWithContext(ctx, tool, args, nil)
	return result, err
}

// ExecuteWithContext is Execute with caller information. The returned context describes
// the finished call; it is nil only when tool is nil.
func (p *Pipeline) ExecuteWithContext(ctx context.Context, tool *ToolDefinition, args map[string]interface{}, execCtx *ExecutionContext) (interface{}, *PluginExecutionContext, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tool == nil || tool.Handler == nil {
		return nil, nil, fmt.Errorf("%w: nil tool definition", ErrToolNotFound)
	}

	pctx := &PluginExecutionContext{
		ExecutionID:  p.newExecutionID(),
		ToolName:     tool.Name,
		Tool:         tool,
		OriginalArgs: args,
		Metadata:     make(map[string]interface{}),
		StartTime:    time.Now(),
		ExecCtx:      execCtx,
	}

	copied, err := deepCopyArgs(args)
	switch {
	case err == nil:
		pctx.Args = copied
		pctx.ArgsIsolated = true
	case p.config.StrictArgsCopy:
		return nil, pctx, fmt.Errorf("tool %s: %w", tool.Name, err)
	default:
		p.logger.Warn().
			Str("tool", tool.Name).
			Str("execution_id", pctx.ExecutionID).
			Err(err).
			Msg("Arguments not deep-copyable, tool receives caller's arguments")
		pctx.Args = args
		if pctx.Args == nil {
			pctx.Args = map[string]interface{}{}
		}
	}

	ctx = contextWithPluginContext(ctx, pctx)
	pctx.invoke = func(ctx context.Context) (interface{}, error) {
		return p.invoke(ctx, pctx)
	}

	plugins := p.snapshot()
	pctx.after = func(ctx context.Context, result interface{}) (interface{}, error) {
		return p.runAfter(ctx, plugins, pctx, result)
	}
	result, err := p.run(ctx, plugins, pctx)
	if err != nil {
		result, err = p.recoverError(ctx, plugins, pctx, err)
	}
	pctx.finish(result, err)

	return result, pctx, err
}

func (p *Pipeline) run(ctx context.Context, plugins []Plugin, pctx *PluginExecutionContext) (interface{}, error) {
	pctx.Phase = PhaseBefore
	for _, plugin := range plugins {
		before, ok := plugin.(BeforeExecutePlugin)
		if !ok {
			continue
		}
		res, err := before.BeforeExecute(ctx, pctx)
		if err != nil {
			return nil, err
		}
		switch res.Action {
		case ActionAbort:
			pctx.Set("aborted_by", plugin.Name())
			return res.Result, nil
		case ActionModifyArgs:
			pctx.Args = res.Args
		}
	}

	pctx.Phase = PhaseExecute
	result, err := p.invoke(ctx, pctx)
	if err != nil {
		return nil, err
	}

	return p.runAfter(ctx, plugins, pctx, result)
}

// runAfter post-processes result in descending priority order.
func (p *Pipeline) runAfter(ctx context.Context, plugins []Plugin, pctx *PluginExecutionContext, result interface{}) (interface{}, error) {
	pctx.Phase = PhaseAfter
	for i := len(plugins) - 1; i >= 0; i-- {
		after, ok := plugins[i].(AfterExecutePlugin)
		if !ok {
			continue
		}
		var err error
		result, err = after.AfterExecute(ctx, pctx, result)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// recoverError offers err to every ErrorPlugin in ascending priority order. The first recovery wins.
func (p *Pipeline) recoverError(ctx context.Context, plugins []Plugin, pctx *PluginExecutionContext, err error) (interface{}, error) {
	for _, plugin := range plugins {
		handler, ok := plugin.(ErrorPlugin)
		if !ok {
			continue
		}
		result, recovered, pluginErr := safeOnError(ctx, handler, pctx, err)
		if pluginErr != nil {
			p.logger.Debug().
				Str("plugin", plugin.Name()).
				Str("execution_id", pctx.ExecutionID).
				Err(pluginErr).
				Msg("Plugin error handler failed, trying next")
			continue
		}
		if recovered {
			pctx.Set("recovered_by", plugin.Name())
			return result, nil
		}
	}
	return nil, err
}

func safeOnError(ctx context.Context, handler ErrorPlugin, pctx *PluginExecutionContext, err error) (result interface{}, recovered bool, pluginErr error) {
	defer func() {
		if r := recover(); r != nil {
			result, recovered, pluginErr = nil, false, fmt.Errorf("error handler panicked: %v", r)
		}
	}()
	return handler.OnError(ctx, pctx, err)
}

type invokeOutcome struct {
	result interface{}
	err    error
}

// invoke runs the tool handler under its timeout. On expiry the handler's context is
// cancelled and a *ToolTimeoutError is returned.
func (p *Pipeline) invoke(ctx context.Context, pctx *PluginExecutionContext) (interface{}, error) {
	tool := pctx.Tool
	timeout := p.timeoutFor(pctx)

	callCtx, cancel := context.WithTimeout(pctx.toolContext(ctx), timeout)
	defer cancel()

	pctx.Attempts++
	args := pctx.Args

	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeOutcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Handler(callCtx, args)
		done <- invokeOutcome{result: result, err: err}
	}()

	var err error
	var result interface{}
	select {
	case out := <-done:
		result, err = out.result, out.err
		if err != nil {
			err = wrapToolError(tool.Name, err)
		}
	case <-callCtx.Done():
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = &ToolExecutionError{Tool: tool.Name, Err: ctxErr}
		} else {
			err = &ToolTimeoutError{Tool: tool.Name, Timeout: timeout}
		}
	}

	pctx.lastToolErr = err
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) timeoutFor(pctx *PluginExecutionContext) time.Duration {
	if pctx.Tool.Timeout > 0 {
		return pctx.Tool.Timeout
	}
	if pctx.ExecCtx != nil && pctx.ExecCtx.Timeout > 0 {
		return pctx.ExecCtx.Timeout
	}
	return p.config.DefaultTimeout
}

// newExecutionID returns a random UUID, or a process-unique counter id when the random
// source fails.
func (p *Pipeline) newExecutionID() string {
	id, err := p.config.IDSource()
	if err == nil {
		return id.String()
	}
	return "exec-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(p.fallbackIDs.Add(1), 10)
}

// IsTimeout reports whether err is a tool timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrToolTimeout)
}
