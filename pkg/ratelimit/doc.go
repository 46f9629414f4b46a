// Package ratelimit throttles calls to a dependency with a full-window token bucket.
//
// The bucket holds at most MaxRequests permits and is refilled to MaxRequests only
// when a whole Window has passed since the last refill, matching the fixed-window
// quotas LLM providers report. Callers that cannot be served either fail with *Error
// (OnLimit Throw) or queue FIFO until the next refill (OnLimit Wait), bounded by MaxWait.
package ratelimit
