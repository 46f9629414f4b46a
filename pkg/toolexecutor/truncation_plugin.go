package toolexecutor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultMaxOutputBytes is the output size above which results are truncated.
const DefaultMaxOutputBytes = 10 * 1024

// MetadataTruncated is set to true on the execution context when output was truncated.
const MetadataTruncated = "truncated"

// TruncationPlugin normalizes oversized results to a truncated string.
type TruncationPlugin struct {
	maxBytes int
	logger   zerolog.Logger
}

// NewTruncationPlugin truncates output longer than maxBytes (default 10KB).
func NewTruncationPlugin(maxBytes int, logger zerolog.Logger) *TruncationPlugin {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	return &TruncationPlugin{
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "truncation_plugin").Logger(),
	}
}

func (p *TruncationPlugin) Name() string  { return "truncation" }
func (p *TruncationPlugin) Priority() int { return PriorityTruncation }

func (p *TruncationPlugin) AfterExecute(ctx context.Context, pctx *PluginExecutionContext, result interface{}) (interface{}, error) {
	output, truncated := p.truncateOutput(result)
	if truncated {
		pctx.Set(MetadataTruncated, true)
		p.logger.Warn().
			Str("tool", pctx.ToolName).
			Str("execution_id", pctx.ExecutionID).
			Int("limit", p.maxBytes).
			Msg("Output truncated")
	}
	return output, nil
}

func (p *TruncationPlugin) truncateOutput(output interface{}) (interface{}, bool) {
	if output == nil {
		return nil, false
	}

	str, ok := output.(string)
	if !ok {
		str = fmt.Sprintf("%v", output)
	}
	if len(str) <= p.maxBytes {
		return output, false
	}

	return str[:p.maxBytes] + "\n... [output truncated]", true
}
