package toolexecutor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// Err is the failure behind Error, for errors.Is / errors.As.
	Err error `json:"-"`
}

// ToolExecutor resolves tools from a Registry and runs them through a Pipeline.
type ToolExecutor struct {
	registry *Registry
	pipeline *Pipeline
	logger   zerolog.Logger
}

// NewExecutor creates an executor. Each agent owns its registry and pipeline.
func NewExecutor(registry *Registry, pipeline *Pipeline, logger zerolog.Logger) *ToolExecutor {
	te := &ToolExecutor{
		registry: registry,
		pipeline: pipeline,
		logger:   logger.With().Str("component", "tool_executor").Logger(),
	}

	te.logger.Info().Strs("plugins", pipeline.Plugins()).Msg("Tool executor initialized")

	return te
}

// Registry returns the executor's tool registry.
func (te *ToolExecutor) Registry() *Registry {
	return te.registry
}

// Pipeline returns the executor's pipeline.
func (te *ToolExecutor) Pipeline() *Pipeline {
	return te.pipeline
}

// Execute runs a registered tool and renders the outcome as a ToolResult. Every call
// passes through the whole pipeline under its own context and ExecutionContext.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	tool, err := te.registry.Get(toolName)
	if err != nil {
		te.logger.Error().Str("tool", toolName).Msg("Tool not found")
		return ToolResult{Success: false, Error: err.Error(), Err: err}
	}
	return te.execute(ctx, tool, params, execCtx)
}

func (te *ToolExecutor) execute(ctx context.Context, tool *ToolDefinition, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	output, pctx, err := te.pipeline.ExecuteWithContext(ctx, tool, params, execCtx)
	duration := time.Since(startTime)

	metadata := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	}
	truncated := false
	if pctx != nil {
		metadata["execution_id"] = pctx.ExecutionID
		metadata["attempts"] = pctx.Attempts
		for _, key := range []string{"recovered_by", "aborted_by", "idempotency_hit", "idempotency_shared"} {
			if v, ok := pctx.Get(key); ok {
				metadata[key] = v
			}
		}
		if v, ok := pctx.Get(MetadataTruncated); ok {
			truncated, _ = v.(bool)
		}
	}

	if err != nil {
		te.logger.Error().
			Str("tool", tool.Name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		return ToolResult{
			Success:  false,
			Error:    err.Error(),
			Metadata: metadata,
			Err:      err,
		}
	}

	te.logger.Debug().
		Str("tool", tool.Name).
		Dur("duration", duration).
		Bool("truncated", truncated).
		Msg("Tool execution completed")

	return ToolResult{
		Success:   true,
		Output:    output,
		Truncated: truncated,
		Metadata:  metadata,
	}
}
