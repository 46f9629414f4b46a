package toolexecutor

import (
	"context"
	"time"
)

// ExecutionContext provides caller information for a tool call.
type ExecutionContext struct {
	SessionKey string
	AgentID    string
	// Timeout applies when the tool declares none.
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// Phase is the pipeline stage a call was in when it failed.
type Phase int

const (
	PhaseBefore Phase = iota
	PhaseExecute
	PhaseAfter
)

func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseExecute:
		return "execute"
	case PhaseAfter:
		return "after"
	default:
		return "unknown"
	}
}

// PluginExecutionContext is the state of one call through the pipeline. Plugins run
// sequentially, so its fields need no locking.
type PluginExecutionContext struct {
	ExecutionID string
	ToolName    string
	Tool        *ToolDefinition
	// OriginalArgs is the caller's value and is never mutated by the pipeline.
	OriginalArgs map[string]interface{}
	// Args is the copy plugins may replace and the tool receives.
	Args map[string]interface{}
	// ArgsIsolated is false when Args could not be deep-copied and aliases OriginalArgs.
	ArgsIsolated bool
	// Metadata carries values between plugins.
	Metadata  map[string]interface{}
	StartTime time.Time
	ExecCtx   *ExecutionContext

	Phase Phase
	// Attempts counts tool invocations, including retries.
	Attempts int

	lastToolErr error
	invoke      func(ctx context.Context) (interface{}, error)
	after       func(ctx context.Context, result interface{}) (interface{}, error)
	finalizers  []func(result interface{}, err error)
	decorators  []func(context.Context) context.Context
	gates       []AttemptGate
}

// AttemptGate admits one more invocation of the tool or returns why it may not run.
type AttemptGate func(ctx context.Context) error

// Set stores a metadata value.
func (c *PluginExecutionContext) Set(key string, value interface{}) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata[key] = value
}

// Get returns a metadata value.
func (c *PluginExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

// Invoke runs the tool again with the current Args. Used by recovering plugins. Every
// gate registered with GateAttempts must admit the attempt first; a refusal is returned
// as *AttemptRejectedError and the tool is not invoked.
func (c *PluginExecutionContext) Invoke(ctx context.Context) (interface{}, error) {
	if c.invoke == nil {
		return nil, &ToolNotFoundError{Name: c.ToolName}
	}
	for _, gate := range c.gates {
		if err := gate(ctx); err != nil {
			return nil, &AttemptRejectedError{Tool: c.ToolName, Err: err}
		}
	}
	return c.invoke(ctx)
}

// GateAttempts registers gate to run before each invocation made through Invoke, in
// registration order. The first invocation is admitted by BeforeExecute instead.
func (c *PluginExecutionContext) GateAttempts(gate AttemptGate) {
	c.gates = append(c.gates, gate)
}

// PostProcess runs result through every AfterExecute plugin, as for a result produced
// by the tool on the normal path.
func (c *PluginExecutionContext) PostProcess(ctx context.Context, result interface{}) (interface{}, error) {
	if c.after == nil {
		return result, nil
	}
	return c.after(ctx, result)
}

// LastToolError returns the error of the most recent tool invocation, nil if it succeeded
// or the tool never ran.
func (c *PluginExecutionContext) LastToolError() error {
	return c.lastToolErr
}

// OnFinish registers fn to run once the call's final outcome is known, after error
// recovery. Finalizers run in registration order, including for aborted calls.
func (c *PluginExecutionContext) OnFinish(fn func(result interface{}, err error)) {
	c.finalizers = append(c.finalizers, fn)
}

// DecorateToolContext registers fn to derive the context handed to the tool handler,
// for example to attach a span.
func (c *PluginExecutionContext) DecorateToolContext(fn func(context.Context) context.Context) {
	c.decorators = append(c.decorators, fn)
}

func (c *PluginExecutionContext) toolContext(ctx context.Context) context.Context {
	for _, fn := range c.decorators {
		ctx = fn(ctx)
	}
	return ctx
}

func (c *PluginExecutionContext) finish(result interface{}, err error) {
	for _, fn := range c.finalizers {
		fn(result, err)
	}
	c.finalizers = nil
}

type execContextKey struct{}

type pluginContextKey struct{}

// ContextWithExecContext attaches the execution context to a context.Context for tool handlers.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext extracts the execution context from a context.Context.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	execCtx, _ := ctx.Value(execContextKey{}).(*ExecutionContext)
	return execCtx
}

// ExecutionIDFromContext returns the pipeline execution id a tool handler is running under.
func ExecutionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if pctx, ok := ctx.Value(pluginContextKey{}).(*PluginExecutionContext); ok {
		return pctx.ExecutionID
	}
	return ""
}

func contextWithPluginContext(ctx context.Context, pctx *PluginExecutionContext) context.Context {
	ctx = context.WithValue(ctx, pluginContextKey{}, pctx)
	return ContextWithExecContext(ctx, pctx.ExecCtx)
}
