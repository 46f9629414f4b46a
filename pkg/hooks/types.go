package hooks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Name is one of the fixed lifecycle points a hook can attach to.
type Name string

const (
	BeforeExecution Name = "before:execution"
	AfterExecution  Name = "after:execution"
	BeforeLLM       Name = "before:llm"
	AfterLLM        Name = "after:llm"
	BeforeTool      Name = "before:tool"
	AfterTool       Name = "after:tool"
	ApproveTool     Name = "approve:tool"
	PauseCheck      Name = "pause:check"
)

// Names lists every lifecycle point in loop order.
var Names = []Name{
	BeforeExecution, BeforeLLM, AfterLLM, BeforeTool, ApproveTool, AfterTool, PauseCheck, AfterExecution,
}

// Valid reports whether n is a known lifecycle point.
func (n Name) Valid() bool {
	for _, known := range Names {
		if n == known {
			return true
		}
	}
	return false
}

var (
	// ErrUnknownHook is returned when registering under a name outside Names.
	ErrUnknownHook = errors.New("unknown hook name")
	// ErrTooManyHooks is returned when a name already has the maximum number of hooks.
	ErrTooManyHooks = errors.New("too many hooks registered")
	// ErrInvalidHook is returned for nil hook functions.
	ErrInvalidHook = errors.New("hook function cannot be nil")
	// ErrHookTimeout is matched by hook invocations that exceed the manager timeout.
	ErrHookTimeout = errors.New("hook timed out")
)

// MetricsSink accumulates hook run time. Implementations must be safe for concurrent use.
type MetricsSink interface {
	ObserveHook(name Name, hook string, elapsed time.Duration)
}

// Context is what a hook sees. In parallel mode it is shared between hooks, which must
// treat it as read-only.
type Context struct {
	ExecutionID string
	Event       Name
	ToolName    string
	Args        map[string]interface{}
	Output      interface{}
	Err         error
	// Data carries event-specific values such as the LLM request or iteration number.
	Data map[string]interface{}
	// Metrics, when set, receives the run time of every successful hook.
	Metrics MetricsSink
}

// Result is a hook's partial contribution. Non-zero fields override earlier values when
// results are merged; Values are merged key by key.
type Result struct {
	// Skip stops later hooks of the same event in sequential mode and asks the caller to
	// skip the guarded step.
	Skip bool
	// Args replaces tool arguments (before:tool).
	Args map[string]interface{}
	// Output replaces the step's output (after:tool, after:llm, or the skip result).
	Output interface{}
	// Approved is the approval decision (approve:tool).
	Approved *bool
	Reason   string
	// Pause asks the loop to pause (pause:check).
	Pause  *bool
	Values map[string]interface{}
}

// Bool returns a pointer to b for the Approved and Pause fields.
func Bool(b bool) *bool {
	return &b
}

// Merge applies r on top of base and returns a new Result. Neither input is modified.
func Merge(base, r *Result) *Result {
	out := &Result{}
	if base != nil {
		*out = *base
		out.Values = copyValues(base.Values)
	}
	if r == nil {
		return out
	}

	if r.Skip {
		out.Skip = true
	}
	if r.Args != nil {
		out.Args = r.Args
	}
	if r.Output != nil {
		out.Output = r.Output
	}
	if r.Approved != nil {
		out.Approved = r.Approved
	}
	if r.Reason != "" {
		out.Reason = r.Reason
	}
	if r.Pause != nil {
		out.Pause = r.Pause
	}
	if len(r.Values) > 0 {
		if out.Values == nil {
			out.Values = make(map[string]interface{}, len(r.Values))
		}
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	return out
}

func copyValues(values map[string]interface{}) map[string]interface{} {
	if values == nil {
		return nil
	}
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Func is a lifecycle hook. Returning a nil Result contributes nothing. The context is
// cancelled when the manager's hook timeout expires.
type Func func(ctx context.Context, hc *Context) (*Result, error)

// Timings is a MetricsSink that sums run time per hook.
type Timings struct {
	mu    sync.Mutex
	total map[string]time.Duration
	calls map[string]int
}

// ObserveHook implements MetricsSink.
func (t *Timings) ObserveHook(name Name, hook string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total == nil {
		t.total = make(map[string]time.Duration)
		t.calls = make(map[string]int)
	}
	key := string(name) + "/" + hook
	t.total[key] += elapsed
	t.calls[key]++
}

// Total returns the accumulated run time of hook under name.
func (t *Timings) Total(name Name, hook string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total[string(name)+"/"+hook]
}

// Calls returns how many successful runs of hook under name were observed.
func (t *Timings) Calls(name Name, hook string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[string(name)+"/"+hook]
}
