// Package storage defines the backend contract the queue engine consumes,
// the stored record types, and the shared error taxonomy.
//
// The engine is oblivious to the backing technology. It requires of a
// Backend exactly four properties:
//
//   - conditional (compare-and-set) per-message update of the
//     (claim id, claim expiry) pair, the sole synchronization primitive,
//   - id-ordered range scans over messages with a visibility filter and a
//     resumable cursor,
//   - existence checks on queues before queue-scoped operations,
//   - monotonically increasing id assignment on insert.
//
// Three backends implement the contract: memory (reference, used by tests
// and as a dev driver), pebble (embedded, persistent), and postgres
// (networked). Every failure a backend or the engine reports is one of the
// typed errors in this package; callers branch on them with errors.As.
package storage
