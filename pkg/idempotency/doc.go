// Package idempotency deduplicates non-safe tool calls by argument identity.
//
// Invariants:
// - Safe tools and tools without a Policy are never stored and always miss.
// - Keys ignore argument field order; a Policy.KeyFunc replaces the hash entirely.
// - Exceeding MaxEntries evicts the oldest insertion (not least recently used).
package idempotency
