package toolexecutor

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingPlugin records one span per tool call. The tool handler runs inside it.
type TracingPlugin struct {
	tracer trace.Tracer
}

// NewTracingPlugin creates a tracing plugin. A nil provider uses the global one.
func NewTracingPlugin(provider trace.TracerProvider) *TracingPlugin {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracingPlugin{tracer: provider.Tracer("github.com/harun/callguard/pkg/toolexecutor")}
}

func (p *TracingPlugin) Name() string  { return "tracing" }
func (p *TracingPlugin) Priority() int { return PriorityTracing }

func (p *TracingPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	_, span := p.tracer.Start(ctx, "tool."+pctx.ToolName, trace.WithAttributes(
		attribute.String("tool.name", pctx.ToolName),
		attribute.String("tool.execution_id", pctx.ExecutionID),
		attribute.Bool("tool.args_isolated", pctx.ArgsIsolated),
	))

	pctx.DecorateToolContext(func(ctx context.Context) context.Context {
		return trace.ContextWithSpan(ctx, span)
	})
	pctx.OnFinish(func(result interface{}, err error) {
		span.SetAttributes(attribute.Int("tool.attempts", pctx.Attempts))
		if v, ok := pctx.Get("aborted_by"); ok {
			span.SetAttributes(attribute.String("tool.aborted_by", v.(string)))
		}
		if v, ok := pctx.Get("recovered_by"); ok {
			span.SetAttributes(attribute.String("tool.recovered_by", v.(string)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	})

	return Continue(), nil
}

// MetricsPlugin exports call counts and latency per tool and outcome.
type MetricsPlugin struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.HistogramVec
}

// NewMetricsPlugin creates the plugin and registers its collectors on reg.
func NewMetricsPlugin(reg prometheus.Registerer) (*MetricsPlugin, error) {
	p := &MetricsPlugin{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_tool_calls_total",
				Help: "Tool calls by outcome (success, error, aborted, recovered, timeout)",
			},
			[]string{"tool_name", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callguard_tool_call_duration_seconds",
				Help:    "Duration of tool calls through the pipeline in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callguard_tool_call_attempts",
				Help:    "Tool invocations per call, including retries",
				Buckets: []float64{0, 1, 2, 3, 5, 8},
			},
			[]string{"tool_name"},
		),
	}

	for _, c := range []prometheus.Collector{p.calls, p.duration, p.attempts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *MetricsPlugin) Name() string  { return "metrics" }
func (p *MetricsPlugin) Priority() int { return PriorityMetrics }

func (p *MetricsPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	pctx.OnFinish(func(result interface{}, err error) {
		p.calls.WithLabelValues(pctx.ToolName, outcomeOf(pctx, err)).Inc()
		p.duration.WithLabelValues(pctx.ToolName).Observe(time.Since(pctx.StartTime).Seconds())
		p.attempts.WithLabelValues(pctx.ToolName).Observe(float64(pctx.Attempts))
	})
	return Continue(), nil
}

func outcomeOf(pctx *PluginExecutionContext, err error) string {
	switch {
	case err != nil && errors.Is(err, ErrToolTimeout):
		return "timeout"
	case err != nil:
		return "error"
	}
	if _, ok := pctx.Get("aborted_by"); ok {
		return "aborted"
	}
	if _, ok := pctx.Get("recovered_by"); ok {
		return "recovered"
	}
	return "success"
}
