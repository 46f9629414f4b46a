package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Redactor scrubs secrets from logged text.
type Redactor interface {
	Redact(s string) string
}

// LoggingPlugin logs every call with its (redacted) arguments, duration and outcome.
type LoggingPlugin struct {
	logger   zerolog.Logger
	redactor Redactor
}

// NewLoggingPlugin creates a logging plugin. redactor may be nil.
func NewLoggingPlugin(logger zerolog.Logger, redactor Redactor) *LoggingPlugin {
	return &LoggingPlugin{
		logger:   logger.With().Str("component", "tool_calls").Logger(),
		redactor: redactor,
	}
}

func (p *LoggingPlugin) Name() string  { return "logging" }
func (p *LoggingPlugin) Priority() int { return PriorityLogging }

func (p *LoggingPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	event := p.logger.Debug()
	if event.Enabled() {
		event.
			Str("tool", pctx.ToolName).
			Str("execution_id", pctx.ExecutionID).
			Str("args", p.formatArgs(pctx.OriginalArgs)).
			Bool("args_isolated", pctx.ArgsIsolated).
			Msg("Executing tool")
	}
	return Continue(), nil
}

func (p *LoggingPlugin) AfterExecute(ctx context.Context, pctx *PluginExecutionContext, result interface{}) (interface{}, error) {
	p.logger.Debug().
		Str("tool", pctx.ToolName).
		Str("execution_id", pctx.ExecutionID).
		Int("attempts", pctx.Attempts).
		Dur("duration", time.Since(pctx.StartTime)).
		Msg("Tool execution completed")
	return result, nil
}

func (p *LoggingPlugin) OnError(ctx context.Context, pctx *PluginExecutionContext, err error) (interface{}, bool, error) {
	p.logger.Warn().
		Str("tool", pctx.ToolName).
		Str("execution_id", pctx.ExecutionID).
		Str("phase", pctx.Phase.String()).
		Int("attempts", pctx.Attempts).
		Dur("duration", time.Since(pctx.StartTime)).
		Err(err).
		Msg("Tool execution failed")
	return nil, false, nil
}

func (p *LoggingPlugin) formatArgs(args map[string]interface{}) string {
	data, err := json.Marshal(args)
	text := string(data)
	if err != nil {
		text = fmt.Sprintf("%v", args)
	}
	if p.redactor != nil {
		text = p.redactor.Redact(text)
	}
	return text
}
