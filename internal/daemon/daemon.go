// Package daemon assembles callguard's components from configuration and runs them as
// a long-lived service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/callguard/internal/config"
	"github.com/harun/callguard/internal/logger"
	"github.com/harun/callguard/internal/metrics"
	"github.com/harun/callguard/internal/tracing"
	"github.com/harun/callguard/pkg/circuitbreaker"
	"github.com/harun/callguard/pkg/eventbus"
	"github.com/harun/callguard/pkg/hooks"
	"github.com/harun/callguard/pkg/idempotency"
	"github.com/harun/callguard/pkg/ratelimit"
	"github.com/harun/callguard/pkg/toolexecutor"
)

// Options holds settings that do not live in the config file.
type Options struct {
	// PIDFile is written on Start and removed on Stop. Empty disables it.
	PIDFile string
	// Loader enables config hot reload when set; it must have loaded the config.
	Loader *config.Loader
}

// Status describes a running daemon.
type Status struct {
	Running     bool
	StartTime   time.Time
	Uptime      time.Duration
	MetricsAddr string
}

// Daemon owns every callguard component built from one Config.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	log     zerolog.Logger
	options Options

	bus          *eventbus.Bus
	breakers     *circuitbreaker.Registry
	limiters     *ratelimit.Registry
	cache        *idempotency.Cache
	hookManager  *hooks.Manager
	registry     *toolexecutor.Registry
	pipeline     *toolexecutor.Pipeline
	toolExecutor *toolexecutor.ToolExecutor
	metrics      *metrics.Metrics
	tracer       *tracing.Provider

	metricsServer   *http.Server
	metricsListener net.Listener
	unsubscribe     []eventbus.Unsubscribe

	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		log:     log.Component("daemon"),
		options: opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := d.initializeCoreModules(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializePipeline(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d, opts.PIDFile)

	return d, nil
}

// initializeCoreModules builds the resilience primitives in dependency order.
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	d.bus = eventbus.New()
	d.metrics = metrics.NewMetrics()
	d.unsubscribe = append(d.unsubscribe, d.metrics.Subscribe(d.bus))
	d.unsubscribe = append(d.unsubscribe,
		d.bus.Subscribe(eventbus.KindCircuitStateChanged, d.logCircuitChange),
		d.bus.Subscribe(eventbus.KindHookError, d.logHookErrors),
	)

	tracer, err := tracing.Setup(d.ctx, cfg.Tracing.TracerConfig())
	if err != nil {
		return err
	}
	d.tracer = tracer
	d.log.Info().Bool("enabled", cfg.Tracing.Enabled).Msg("Tracing initialized")

	defaults, overrides := cfg.CircuitBreakers.RegistryConfigs(d.bus, d.logger.Component("circuitbreaker"))
	d.breakers = circuitbreaker.NewRegistry(defaults, overrides)
	if err := d.metrics.WatchBreakers(d.breakers); err != nil {
		return fmt.Errorf("failed to export circuit breakers: %w", err)
	}
	d.log.Info().Int("overrides", len(overrides)).Msg("Circuit breakers initialized")

	d.limiters = ratelimit.NewRegistry(cfg.LimiterConfigs(d.logger.Component("ratelimit")))
	if err := d.metrics.WatchLimiters(d.limiters); err != nil {
		return fmt.Errorf("failed to export rate limiters: %w", err)
	}
	d.log.Info().Int("dependencies", len(cfg.RateLimits)).Msg("Rate limiters initialized")

	if cfg.Idempotency.Enabled {
		d.cache = idempotency.New(cfg.Idempotency.CacheConfig(d.logger.Component("idempotency")))
		if err := d.metrics.WatchCache(d.cache); err != nil {
			return fmt.Errorf("failed to export idempotency cache: %w", err)
		}
		d.log.Info().Int("max_entries", cfg.Idempotency.MaxEntries).Msg("Idempotency cache initialized")
	}

	hookManager, err := newHookManager(cfg.Hooks, d.bus, d.logger.Component("hooks"))
	if err != nil {
		return fmt.Errorf("failed to create hook manager: %w", err)
	}
	d.hookManager = hookManager
	d.log.Info().Int("hooks", hookManager.TotalHookCount()).Msg("Hook manager initialized")

	return nil
}

// initializePipeline registers the built-in plugins and builds the tool executor.
func (d *Daemon) initializePipeline() error {
	cfg := d.config

	d.registry = toolexecutor.NewRegistry(d.logger.Component("tool_registry"))
	d.pipeline = toolexecutor.NewPipeline(cfg.Pipeline.ExecutorConfig(d.logger.Logger))

	var redactor toolexecutor.Redactor
	if r := d.logger.Redactor(); r != nil {
		redactor = r
	}

	metricsPlugin, err := toolexecutor.NewMetricsPlugin(d.metrics.Registry())
	if err != nil {
		return fmt.Errorf("failed to register tool metrics: %w", err)
	}

	breakerPlugin := toolexecutor.NewCircuitBreakerPlugin(d.breakers)
	breakerPlugin.IsFailure = cfg.CircuitBreakers.IsFailure()

	plugins := []toolexecutor.Plugin{
		toolexecutor.NewLoggingPlugin(d.logger.Logger, redactor),
		toolexecutor.NewTracingPlugin(d.tracer),
		metricsPlugin,
		toolexecutor.NewPolicyPlugin(cfg.Pipeline.ToolPolicy(), d.logger.Logger),
		toolexecutor.NewValidationPlugin(d.registry),
		toolexecutor.NewHooksPlugin(d.hookManager, d.metrics),
		toolexecutor.NewRateLimitPlugin(d.limiters),
		breakerPlugin,
		toolexecutor.NewRetryPlugin(cfg.Backoff.BackoffConfig(), cfg.Backoff.MaxAttempts, d.logger.Logger),
		toolexecutor.NewTruncationPlugin(cfg.Pipeline.MaxOutputBytes, d.logger.Logger),
	}
	if d.cache != nil {
		plugins = append(plugins, toolexecutor.NewIdempotencyPlugin(d.cache))
	}

	for _, p := range plugins {
		if err := d.pipeline.Use(p); err != nil {
			return err
		}
	}

	d.toolExecutor = toolexecutor.NewExecutor(d.registry, d.pipeline, d.logger.Logger)
	d.log.Info().Strs("plugins", d.pipeline.Plugins()).Msg("Tool pipeline initialized")

	return nil
}

// Start starts the background services: cache janitor, metrics endpoint, config
// watcher and event loop.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.log.Info().Msg("Starting callguard daemon")

	if err := d.lifecycle.Start(); err != nil {
		// The PID file may belong to another process; leave it alone.
		d.abortStart(false)
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.cache != nil {
		if err := d.cache.StartJanitor(d.config.Idempotency.CleanupSchedule); err != nil {
			d.abortStart(true)
			return fmt.Errorf("failed to start idempotency janitor: %w", err)
		}
		d.log.Info().Str("schedule", d.config.Idempotency.CleanupSchedule).Msg("Idempotency janitor started")
	}

	if d.config.Metrics.Enabled {
		if err := d.startMetricsServer(); err != nil {
			d.abortStart(true)
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if d.options.Loader != nil {
		if err := d.options.Loader.Watch(d.ApplyConfig); err != nil {
			d.log.Warn().Err(err).Msg("Config hot reload unavailable")
		} else {
			d.log.Info().Str("path", d.options.Loader.GetConfigPath()).Msg("Watching config for changes")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	d.log.Info().Msg("Daemon started")
	return nil
}

// abortStart undoes a partial Start so the daemon can be started again.
func (d *Daemon) abortStart(removePID bool) {
	if d.cache != nil {
		d.cache.Stop()
	}
	if removePID {
		if err := d.lifecycle.Stop(); err != nil {
			d.log.Error().Err(err).Msg("Failed to remove PID file")
		}
	}

	d.mu.Lock()
	d.running = false
	d.startTime = time.Time{}
	d.mu.Unlock()
}

func (d *Daemon) startMetricsServer() error {
	listener, err := net.Listen("tcp", d.config.Metrics.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(d.config.Metrics.Path, d.metrics.Handler())

	d.metricsListener = listener
	d.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	d.log.Info().
		Str("addr", listener.Addr().String()).
		Str("path", d.config.Metrics.Path).
		Msg("Metrics server started")
	return nil
}

// Stop shuts every component down. In-flight tool calls are not waited for.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.log.Info().Msg("Stopping callguard daemon")

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
			d.log.Error().Err(err).Msg("Failed to stop metrics server")
		}
		cancel()
	}

	if d.cache != nil {
		d.cache.Stop()
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Debug().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		d.log.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	d.release()

	if err := d.lifecycle.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.log.Info().Msg("Daemon stopped")
	return nil
}

// release frees components that hold goroutines or global state.
func (d *Daemon) release() {
	d.cancel()
	for _, unsubscribe := range d.unsubscribe {
		unsubscribe()
	}
	d.unsubscribe = nil

	if d.pipeline != nil {
		d.pipeline.Close()
	}
	if d.limiters != nil {
		d.limiters.Close()
	}
	if d.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.tracer.Shutdown(shutdownCtx); err != nil {
			d.log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
	}
}

// Status returns the daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
		if d.metricsListener != nil {
			status.MetricsAddr = d.metricsListener.Addr().String()
		}
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.log.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Execute runs a registered tool through the pipeline.
func (d *Daemon) Execute(ctx context.Context, toolName string, args map[string]interface{}, execCtx *toolexecutor.ExecutionContext) toolexecutor.ToolResult {
	return d.toolExecutor.Execute(ctx, toolName, args, execCtx)
}

func (d *Daemon) logCircuitChange(evt eventbus.Event) {
	e, ok := evt.(eventbus.CircuitStateChangedEvent)
	if !ok {
		return
	}
	level := zerolog.InfoLevel
	if e.To == string(circuitbreaker.Open) {
		level = zerolog.WarnLevel
	}
	d.log.WithLevel(level).
		Str("dependency", e.Name).
		Str("from", e.From).
		Str("to", e.To).
		Msg("Circuit state changed")
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetLogger returns the daemon logger.
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetBus returns the event bus.
func (d *Daemon) GetBus() *eventbus.Bus {
	return d.bus
}

// GetCircuitBreakers returns the circuit breaker registry.
func (d *Daemon) GetCircuitBreakers() *circuitbreaker.Registry {
	return d.breakers
}

// GetRateLimiters returns the rate limiter registry.
func (d *Daemon) GetRateLimiters() *ratelimit.Registry {
	return d.limiters
}

// GetIdempotencyCache returns the idempotency cache, nil when disabled.
func (d *Daemon) GetIdempotencyCache() *idempotency.Cache {
	return d.cache
}

// GetHookManager returns the hook manager.
func (d *Daemon) GetHookManager() *hooks.Manager {
	return d.hookManager
}

// GetToolRegistry returns the tool registry.
func (d *Daemon) GetToolRegistry() *toolexecutor.Registry {
	return d.registry
}

// GetToolExecutor returns the tool executor.
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.toolExecutor
}

// GetMetrics returns the metrics registry wrapper.
func (d *Daemon) GetMetrics() *metrics.Metrics {
	return d.metrics
}
