package toolexecutor

import (
	"context"
	"fmt"
)

// ValidationPlugin checks arguments against the schema compiled when the tool was registered.
type ValidationPlugin struct {
	registry *Registry
}

// NewValidationPlugin validates against schemas held by registry.
func NewValidationPlugin(registry *Registry) *ValidationPlugin {
	return &ValidationPlugin{registry: registry}
}

func (p *ValidationPlugin) Name() string  { return "validation" }
func (p *ValidationPlugin) Priority() int { return PriorityValidation }

func (p *ValidationPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	schema := p.registry.Schema(pctx.ToolName)
	if schema == nil {
		return Continue(), nil
	}

	problems, err := validateParameters(schema, pctx.Args)
	if err != nil {
		return Continue(), fmt.Errorf("validate %s arguments: %w", pctx.ToolName, err)
	}
	if len(problems) > 0 {
		return Continue(), &ValidationError{Tool: pctx.ToolName, Problems: problems}
	}
	return Continue(), nil
}
