package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/callguard/pkg/eventbus"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func returning(res *Result) Func {
	return func(ctx context.Context, hc *Context) (*Result, error) { return res, nil }
}

func failing(err error) Func {
	return func(ctx context.Context, hc *Context) (*Result, error) { return nil, err }
}

func TestManager_RegisterValidation(t *testing.T) {
	m := newTestManager(t, Config{})

	_, err := m.Register("before:everything", "x", returning(nil))
	assert.ErrorIs(t, err, ErrUnknownHook)

	_, err = m.Register(BeforeTool, "x", nil)
	assert.ErrorIs(t, err, ErrInvalidHook)

	for i := 0; i < DefaultMaxHooksPerName; i++ {
		_, err := m.Register(BeforeTool, "", returning(nil))
		require.NoError(t, err)
	}
	_, err = m.Register(BeforeTool, "one-too-many", returning(nil))
	assert.ErrorIs(t, err, ErrTooManyHooks)

	assert.Equal(t, DefaultMaxHooksPerName, m.GetHookCount(BeforeTool))
	assert.Equal(t, 0, m.GetHookCount(AfterTool))
}

func TestManager_SequentialMergeInRegistrationOrder(t *testing.T) {
	m := newTestManager(t, Config{})

	var order []string
	record := func(label string, res *Result) Func {
		return func(ctx context.Context, hc *Context) (*Result, error) {
			order = append(order, label)
			return res, nil
		}
	}

	_, err := m.Register(AfterTool, "first", record("first", &Result{Output: "a", Values: map[string]interface{}{"x": 1}}))
	require.NoError(t, err)
	_, err = m.Register(AfterTool, "second", record("second", nil))
	require.NoError(t, err)
	_, err = m.Register(AfterTool, "third", record("third", &Result{Output: "c", Values: map[string]interface{}{"y": 2}}))
	require.NoError(t, err)

	defaults := &Result{Output: "default", Values: map[string]interface{}{"z": 3}}
	res := m.ExecuteHooks(context.Background(), AfterTool, &Context{ToolName: "t"}, defaults)

	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, "c", res.Output)
	assert.Equal(t, map[string]interface{}{"x": 1, "y": 2, "z": 3}, res.Values)
	assert.Equal(t, map[string]interface{}{"z": 3}, defaults.Values, "default result is not mutated")
}

func TestManager_SkipStopsLaterHooks(t *testing.T) {
	m := newTestManager(t, Config{})

	var laterCalls atomic.Int32
	_, err := m.Register(BeforeTool, "gate", returning(&Result{Skip: true, Values: map[string]interface{}{"value": 1}}))
	require.NoError(t, err)
	_, err = m.Register(BeforeTool, "later", func(ctx context.Context, hc *Context) (*Result, error) {
		laterCalls.Add(1)
		return &Result{Values: map[string]interface{}{"later": true}}, nil
	})
	require.NoError(t, err)

	res := m.ExecuteHooks(context.Background(), BeforeTool, nil, nil)

	assert.True(t, res.Skip)
	assert.Equal(t, map[string]interface{}{"value": 1}, res.Values)
	assert.Equal(t, int32(0), laterCalls.Load())
}

func TestManager_PerHookIsolation(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var events []eventbus.HookErrorEvent
	unsubscribe := bus.Subscribe(eventbus.KindHookError, func(evt eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt.(eventbus.HookErrorEvent))
	})
	defer unsubscribe()

	m := newTestManager(t, Config{Bus: bus})

	var aCalls, bCalls atomic.Int32
	errBoom := errors.New("boom")
	idA, err := m.Register(BeforeTool, "a", func(ctx context.Context, hc *Context) (*Result, error) {
		aCalls.Add(1)
		return nil, errBoom
	})
	require.NoError(t, err)
	_, err = m.Register(BeforeTool, "b", func(ctx context.Context, hc *Context) (*Result, error) {
		bCalls.Add(1)
		return &Result{Values: map[string]interface{}{"b": true}}, nil
	})
	require.NoError(t, err)

	for i := 0; i < DefaultMaxConsecutiveErrors; i++ {
		res := m.ExecuteHooks(context.Background(), BeforeTool, &Context{ExecutionID: "exec-1"}, nil)
		assert.Equal(t, true, res.Values["b"])
	}

	disabled := m.DisabledHooks()
	require.Len(t, disabled, 1)
	assert.Equal(t, "a#0", disabled[0].Key)
	assert.Equal(t, idA, disabled[0].ID)

	res := m.ExecuteHooks(context.Background(), BeforeTool, &Context{}, nil)
	assert.Equal(t, true, res.Values["b"])
	assert.Equal(t, int32(DefaultMaxConsecutiveErrors), aCalls.Load(), "disabled hook is skipped")
	assert.Equal(t, int32(DefaultMaxConsecutiveErrors+1), bCalls.Load())
	assert.True(t, m.HasHooks(BeforeTool))

	mu.Lock()
	require.Len(t, events, DefaultMaxConsecutiveErrors)
	for i, evt := range events {
		assert.Equal(t, "exec-1", evt.ExecutionID)
		assert.Equal(t, "a#0", evt.HookName)
		assert.Equal(t, string(BeforeTool), evt.Event)
		assert.ErrorIs(t, evt.Err, errBoom)
		assert.Equal(t, i+1, evt.ConsecutiveErrors)
		assert.Equal(t, i == DefaultMaxConsecutiveErrors-1, evt.Disabled)
	}
	mu.Unlock()

	require.True(t, m.Enable(BeforeTool, idA))
	assert.Empty(t, m.DisabledHooks())
	m.ExecuteHooks(context.Background(), BeforeTool, &Context{}, nil)
	assert.Equal(t, int32(DefaultMaxConsecutiveErrors+1), aCalls.Load())
}

func TestManager_DuplicateLabelsHaveSeparateCounters(t *testing.T) {
	m := newTestManager(t, Config{MaxConsecutiveErrors: 2})

	_, err := m.Register(AfterLLM, "audit", failing(errors.New("down")))
	require.NoError(t, err)
	_, err = m.Register(AfterLLM, "audit", returning(&Result{Reason: "ok"}))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res := m.ExecuteHooks(context.Background(), AfterLLM, nil, nil)
		assert.Equal(t, "ok", res.Reason)
	}

	disabled := m.DisabledHooks()
	require.Len(t, disabled, 1)
	assert.Equal(t, "audit#0", disabled[0].Key)
}

func TestManager_SuccessResetsFailureCount(t *testing.T) {
	m := newTestManager(t, Config{MaxConsecutiveErrors: 2})

	var calls atomic.Int32
	_, err := m.Register(PauseCheck, "flaky", func(ctx context.Context, hc *Context) (*Result, error) {
		if calls.Add(1)%2 == 1 {
			return nil, errors.New("odd call")
		}
		return &Result{Pause: Bool(false)}, nil
	})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		m.ExecuteHooks(context.Background(), PauseCheck, nil, nil)
	}
	assert.Empty(t, m.DisabledHooks())
	assert.Equal(t, int32(6), calls.Load())
}

func TestManager_TimeoutCancelsHookAndCountsAsFailure(t *testing.T) {
	bus := eventbus.New()
	var timeouts atomic.Int32
	defer bus.Subscribe(eventbus.KindHookError, func(evt eventbus.Event) {
		if errors.Is(evt.(eventbus.HookErrorEvent).Err, ErrHookTimeout) {
			timeouts.Add(1)
		}
	})()

	m := newTestManager(t, Config{Timeout: 20 * time.Millisecond, Bus: bus})

	cancelled := make(chan struct{})
	_, err := m.Register(BeforeLLM, "slow", func(ctx context.Context, hc *Context) (*Result, error) {
		<-ctx.Done()
		close(cancelled)
		return &Result{Reason: "too late"}, nil
	})
	require.NoError(t, err)

	start := time.Now()
	res := m.ExecuteHooks(context.Background(), BeforeLLM, nil, &Result{Reason: "default"})
	assert.Equal(t, "default", res.Reason)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("hook context was not cancelled")
	}
	assert.Equal(t, int32(1), timeouts.Load())
	assert.Equal(t, 1, m.Hooks()[0].ConsecutiveFailures)
}

func TestManager_CallerCancellationIsNotAHookFailure(t *testing.T) {
	m := newTestManager(t, Config{MaxConsecutiveErrors: 1})

	_, err := m.Register(BeforeLLM, "waits", func(ctx context.Context, hc *Context) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	m.ExecuteHooks(ctx, BeforeLLM, nil, nil)

	assert.Empty(t, m.DisabledHooks())
}

func TestManager_PanickingHookIsContained(t *testing.T) {
	m := newTestManager(t, Config{})

	_, err := m.Register(AfterExecution, "panics", func(ctx context.Context, hc *Context) (*Result, error) {
		panic("boom")
	})
	require.NoError(t, err)
	_, err = m.Register(AfterExecution, "fine", returning(&Result{Reason: "fine"}))
	require.NoError(t, err)

	res := m.ExecuteHooks(context.Background(), AfterExecution, nil, nil)
	assert.Equal(t, "fine", res.Reason)
	assert.Equal(t, 1, m.Hooks()[0].ConsecutiveFailures)
}

func TestManager_ParallelRunsConcurrentlyAndFoldsInOrder(t *testing.T) {
	m := newTestManager(t, Config{Parallel: true, Timeout: time.Second})

	var started sync.WaitGroup
	started.Add(2)
	rendezvous := func(res *Result) Func {
		return func(ctx context.Context, hc *Context) (*Result, error) {
			started.Done()
			waitCh := make(chan struct{})
			go func() { started.Wait(); close(waitCh) }()
			select {
			case <-waitCh:
				return res, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	_, err := m.Register(BeforeTool, "first", rendezvous(&Result{Skip: true, Output: "first", Values: map[string]interface{}{"a": 1}}))
	require.NoError(t, err)
	_, err = m.Register(BeforeTool, "second", rendezvous(&Result{Output: "second", Values: map[string]interface{}{"b": 2}}))
	require.NoError(t, err)

	res := m.ExecuteHooks(context.Background(), BeforeTool, nil, nil)

	assert.True(t, res.Skip)
	assert.Equal(t, "second", res.Output, "later registration wins on conflicts")
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, res.Values)
	assert.Empty(t, m.DisabledHooks())
}

func TestManager_ParallelSlowHookDoesNotBlockSiblings(t *testing.T) {
	m := newTestManager(t, Config{Parallel: true, Timeout: 50 * time.Millisecond})

	_, err := m.Register(BeforeTool, "hangs", func(ctx context.Context, hc *Context) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	_, err = m.Register(BeforeTool, "fast", returning(&Result{Reason: "fast"}))
	require.NoError(t, err)

	res := m.ExecuteHooks(context.Background(), BeforeTool, nil, nil)
	assert.Equal(t, "fast", res.Reason)
	assert.Equal(t, 1, m.Hooks()[0].ConsecutiveFailures)
}

func TestManager_MetricsSinkReceivesRunTime(t *testing.T) {
	m := newTestManager(t, Config{})
	_, err := m.Register(AfterLLM, "measure", returning(nil))
	require.NoError(t, err)
	_, err = m.Register(AfterLLM, "broken", failing(errors.New("x")))
	require.NoError(t, err)

	timings := &Timings{}
	m.ExecuteHooks(context.Background(), AfterLLM, &Context{Metrics: timings}, nil)
	m.ExecuteHooks(context.Background(), AfterLLM, &Context{Metrics: timings}, nil)

	assert.Equal(t, 2, timings.Calls(AfterLLM, "measure"))
	assert.Equal(t, 0, timings.Calls(AfterLLM, "broken"))
	assert.GreaterOrEqual(t, timings.Total(AfterLLM, "measure"), time.Duration(0))
}

func TestManager_UnregisterAndClear(t *testing.T) {
	m := newTestManager(t, Config{})

	id, err := m.Register(ApproveTool, "approve", returning(&Result{Approved: Bool(true)}))
	require.NoError(t, err)
	_, err = m.Register(PauseCheck, "pause", returning(&Result{Pause: Bool(true)}))
	require.NoError(t, err)

	assert.Equal(t, 2, m.TotalHookCount())
	assert.False(t, m.Unregister(ApproveTool, "missing"))
	assert.True(t, m.Unregister(ApproveTool, id))
	assert.False(t, m.HasHooks(ApproveTool))

	res := m.ExecuteHooks(context.Background(), ApproveTool, nil, &Result{Approved: Bool(false)})
	require.NotNil(t, res.Approved)
	assert.False(t, *res.Approved)

	m.Clear()
	assert.Equal(t, 0, m.TotalHookCount())
	assert.False(t, m.HasHooks(PauseCheck))
}

func TestManager_NilManagerReturnsDefault(t *testing.T) {
	var m *Manager
	res := m.ExecuteHooks(context.Background(), BeforeTool, nil, &Result{Reason: "default"})
	assert.Equal(t, "default", res.Reason)
}
