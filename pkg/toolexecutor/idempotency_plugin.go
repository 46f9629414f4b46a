package toolexecutor

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"

	"github.com/harun/callguard/pkg/idempotency"
)

// errNotExecuted tells waiting callers that the leading call never reached the tool.
var errNotExecuted = errors.New("leading call did not execute the tool")

// IdempotencyPlugin answers repeated calls of non-safe tools from the cache and stores
// successful results. Concurrent identical calls that have passed every earlier plugin
// wait for the first of them and share its result. Safe tools and tools without a
// policy pass through.
type IdempotencyPlugin struct {
	cache    *idempotency.Cache
	inflight singleflight.Group
}

type callOutcome struct {
	result interface{}
	err    error
}

// NewIdempotencyPlugin creates an idempotency plugin over cache.
func NewIdempotencyPlugin(cache *idempotency.Cache) *IdempotencyPlugin {
	return &IdempotencyPlugin{cache: cache}
}

func (p *IdempotencyPlugin) Name() string  { return "idempotency" }
func (p *IdempotencyPlugin) Priority() int { return PriorityIdempotency }

func (p *IdempotencyPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	if !idempotency.Cacheable(pctx.Tool) {
		return Continue(), nil
	}

	if cached, ok := p.cache.Get(pctx.Tool, pctx.Args); ok {
		pctx.Set("idempotency_hit", true)
		return Abort(cached), nil
	}

	// Key by the arguments the tool will actually see.
	args := pctx.Args
	leading := make(chan struct{})
	outcome := make(chan callOutcome, 1)
	shared := p.inflight.DoChan(idempotency.CallKey(pctx.Tool, args), func() (interface{}, error) {
		close(leading)
		o := <-outcome
		return o.result, o.err
	})

	select {
	case <-leading:
		pctx.OnFinish(func(result interface{}, err error) {
			if err == nil && pctx.Attempts == 0 {
				err = errNotExecuted
			}
			if err == nil {
				p.cache.Set(pctx.Tool, args, result)
			}
			outcome <- callOutcome{result: result, err: err}
		})
		return Continue(), nil

	case res := <-shared:
		if res.Err != nil {
			// The leader failed or was cancelled; this caller makes its own attempt.
			p.storeOnSuccess(pctx, args)
			return Continue(), nil
		}
		pctx.Set("idempotency_shared", true)
		return Abort(res.Val), nil

	case <-ctx.Done():
		return Continue(), ctx.Err()
	}
}

func (p *IdempotencyPlugin) storeOnSuccess(pctx *PluginExecutionContext, args map[string]interface{}) {
	pctx.OnFinish(func(result interface{}, err error) {
		if err != nil || pctx.Attempts == 0 {
			return
		}
		p.cache.Set(pctx.Tool, args, result)
	})
}

// OnUnregister drops cached results so a re-registered plugin starts cold.
func (p *IdempotencyPlugin) OnUnregister(*Pipeline) {
	p.cache.Clear()
}
