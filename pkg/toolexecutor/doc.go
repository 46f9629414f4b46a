// Package toolexecutor registers tools and executes them through a plugin pipeline.
//
// A Pipeline runs every call through its plugins in ascending priority order
// (BeforeExecute), invokes the tool handler under a timeout with a deep copy of the
// caller's arguments, then runs AfterExecute in descending order. A BeforeExecute hook
// may continue, abort with a result, or replace the arguments. Errors from any phase
// are offered to ErrorPlugins in ascending priority order; the first to recover
// supplies the result.
//
// Built-in plugins cover logging, tracing, metrics, tool policy, schema validation,
// lifecycle hooks, idempotency, rate limiting, circuit breaking, retry and output
// truncation. Their priorities are spaced so callers can slot their own in between.
//
// Usage:
//
//	registry := toolexecutor.NewRegistry(logger)
//	_ = registry.Register(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//
//	pipeline := toolexecutor.NewPipeline(toolexecutor.PipelineConfig{Logger: logger})
//	_ = pipeline.Use(toolexecutor.NewValidationPlugin(registry))
//	_ = pipeline.Use(toolexecutor.NewTruncationPlugin(0, logger))
//
//	exec := toolexecutor.NewExecutor(registry, pipeline, logger)
//	result := exec.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}, nil)
package toolexecutor
