// Package hooks runs lifecycle hooks around an agent loop.
//
// Each of the eight lifecycle points owns an ordered list of at most ten hooks. A hook
// that fails or times out contributes nothing to the merged result; after
// MaxConsecutiveErrors failures in a row it alone is disabled until Enable is called.
// ExecuteHooks never fails outward.
package hooks
