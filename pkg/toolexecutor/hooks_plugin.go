package toolexecutor

import (
	"context"

	"github.com/harun/callguard/pkg/hooks"
)

// HooksPlugin runs the before:tool, approve:tool and after:tool lifecycle hooks around
// every call.
//
// A before:tool hook may rewrite arguments, or skip the call with its Output as result.
// An approve:tool hook answering Approved=false fails the call with *NotApprovedError.
// An after:tool hook may replace the output.
type HooksPlugin struct {
	manager *hooks.Manager
	metrics hooks.MetricsSink
}

// NewHooksPlugin bridges manager into a pipeline. metrics may be nil.
func NewHooksPlugin(manager *hooks.Manager, metrics hooks.MetricsSink) *HooksPlugin {
	return &HooksPlugin{manager: manager, metrics: metrics}
}

func (p *HooksPlugin) Name() string  { return "hooks" }
func (p *HooksPlugin) Priority() int { return PriorityHooks }

func (p *HooksPlugin) hookContext(pctx *PluginExecutionContext) *hooks.Context {
	hc := &hooks.Context{
		ExecutionID: pctx.ExecutionID,
		ToolName:    pctx.ToolName,
		Args:        pctx.Args,
		Metrics:     p.metrics,
	}
	if pctx.ExecCtx != nil {
		hc.Data = map[string]interface{}{
			"agent_id":    pctx.ExecCtx.AgentID,
			"session_key": pctx.ExecCtx.SessionKey,
		}
	}
	return hc
}

func (p *HooksPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	action := Continue()

	if p.manager.HasHooks(hooks.BeforeTool) {
		res := p.manager.ExecuteHooks(ctx, hooks.BeforeTool, p.hookContext(pctx), nil)
		if res.Skip {
			return Abort(res.Output), nil
		}
		if res.Args != nil {
			action = ModifyArgs(res.Args)
			pctx.Args = action.Args
		}
	}

	if p.manager.HasHooks(hooks.ApproveTool) {
		res := p.manager.ExecuteHooks(ctx, hooks.ApproveTool, p.hookContext(pctx), nil)
		if res.Approved != nil && !*res.Approved {
			return Continue(), &NotApprovedError{Tool: pctx.ToolName, Reason: res.Reason}
		}
	}

	return action, nil
}

func (p *HooksPlugin) AfterExecute(ctx context.Context, pctx *PluginExecutionContext, result interface{}) (interface{}, error) {
	if !p.manager.HasHooks(hooks.AfterTool) {
		return result, nil
	}

	hc := p.hookContext(pctx)
	hc.Output = result
	res := p.manager.ExecuteHooks(ctx, hooks.AfterTool, hc, &hooks.Result{Output: result})
	return res.Output, nil
}
