package toolexecutor

import "context"

// DefaultPriority applies to plugins that do not implement PrioritizedPlugin.
const DefaultPriority = 100

// Priorities of the built-in plugins. Lower runs earlier before the tool and later after it.
const (
	PriorityLogging        = 0
	PriorityTracing        = 5
	PriorityMetrics        = 10
	PriorityPolicy         = 20
	PriorityValidation     = 30
	PriorityHooks          = 40
	PriorityIdempotency    = 50
	PriorityRateLimit      = 60
	PriorityCircuitBreaker = 70
	PriorityRetry          = 80
	PriorityTruncation     = 90
)

// Plugin wraps tool calls made through a Pipeline. A plugin takes part in a phase by
// implementing BeforeExecutePlugin, AfterExecutePlugin or ErrorPlugin.
type Plugin interface {
	Name() string
}

// PrioritizedPlugin overrides DefaultPriority.
type PrioritizedPlugin interface {
	Priority() int
}

// BeforeExecutePlugin runs before the tool in ascending priority order.
type BeforeExecutePlugin interface {
	BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error)
}

// AfterExecutePlugin post-processes a successful result in descending priority order.
type AfterExecutePlugin interface {
	AfterExecute(ctx context.Context, pctx *PluginExecutionContext, result interface{}) (interface{}, error)
}

// ErrorPlugin may recover a failed call. Returning recovered=true supplies the call's
// result; a returned error is logged and the next plugin is tried.
type ErrorPlugin interface {
	OnError(ctx context.Context, pctx *PluginExecutionContext, err error) (result interface{}, recovered bool, pluginErr error)
}

// RegisterHook is notified when the plugin is added to a pipeline. An error rejects the plugin.
type RegisterHook interface {
	OnRegister(p *Pipeline) error
}

// UnregisterHook is notified when the plugin is removed or replaced.
type UnregisterHook interface {
	OnUnregister(p *Pipeline)
}

// BeforeAction selects what the pipeline does after a BeforeExecute call.
type BeforeAction int

const (
	// ActionContinue proceeds to the next plugin.
	ActionContinue BeforeAction = iota
	// ActionAbort returns Result without invoking the tool or any AfterExecute.
	ActionAbort
	// ActionModifyArgs replaces the arguments seen by later plugins and the tool.
	ActionModifyArgs
)

// BeforeResult is the outcome of a BeforeExecute call. Build it with Continue, Abort or ModifyArgs.
type BeforeResult struct {
	Action BeforeAction
	Result interface{}
	Args   map[string]interface{}
}

// Continue lets the call proceed unchanged.
func Continue() BeforeResult {
	return BeforeResult{Action: ActionContinue}
}

// Abort short-circuits the call with result.
func Abort(result interface{}) BeforeResult {
	return BeforeResult{Action: ActionAbort, Result: result}
}

// ModifyArgs replaces the call's mutable arguments.
func ModifyArgs(args map[string]interface{}) BeforeResult {
	if args == nil {
		args = map[string]interface{}{}
	}
	return BeforeResult{Action: ActionModifyArgs, Args: args}
}

// PluginFuncs builds a plugin from functions. Nil functions are skipped.
type PluginFuncs struct {
	PluginName string
	// PluginPriority orders the plugin. Zero means DefaultPriority; a plugin that must run
	// at priority 0 implements PrioritizedPlugin itself.
	PluginPriority int
	Before         func(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error)
	After          func(ctx context.Context, pctx *PluginExecutionContext, result interface{}) (interface{}, error)
	Error          func(ctx context.Context, pctx *PluginExecutionContext, err error) (interface{}, bool, error)
}

func (f *PluginFuncs) Name() string  { return f.PluginName }
func (f *PluginFuncs) Priority() int {
	if f.PluginPriority == 0 {
		return DefaultPriority
	}
	return f.PluginPriority
}

func (f *PluginFuncs) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	if f.Before == nil {
		return Continue(), nil
	}
	return f.Before(ctx, pctx)
}

func (f *PluginFuncs) AfterExecute(ctx context.Context, pctx *PluginExecutionContext, result interface{}) (interface{}, error) {
	if f.After == nil {
		return result, nil
	}
	return f.After(ctx, pctx, result)
}

func (f *PluginFuncs) OnError(ctx context.Context, pctx *PluginExecutionContext, err error) (interface{}, bool, error) {
	if f.Error == nil {
		return nil, false, nil
	}
	return f.Error(ctx, pctx, err)
}

func pluginPriority(p Plugin) int {
	if pp, ok := p.(PrioritizedPlugin); ok {
		return pp.Priority()
	}
	return DefaultPriority
}
