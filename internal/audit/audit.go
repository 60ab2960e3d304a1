// Package audit implements the hash-chained operation log and the session
// tracker.
//
// Every successful state-mutating operation appends exactly one Entry inside
// the same store transaction that applies its effects, so the log records
// effects rather than attempts. Entry ids start at 1 and increase by one.
// Entry 1 chains from GenesisHash (64 hex zeros); every later entry records
// the hash of its predecessor, making tampering detectable via Verify.
//
// Counters (log length, chain tip, session ids, per-session operation counts)
// live in the store alongside the entries, which is what makes replay
// reproduce identical id allocation.
package audit
