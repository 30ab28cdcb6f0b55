// Package id provides a 128-bit, lexicographically sortable identifier.
//
// # Format
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison preserves chronological order, and IDs generated
// within the same millisecond remain strictly increasing by sequence. The
// external form is the 32-character lowercase hex encoding, which sorts the
// same way as the raw bytes; Parse rejects anything else.
//
// # Monotonicity
//
// The Generator ensures per-process monotonicity:
//   - If the system clock regresses, it pins to the last seen millisecond and
//     increments the sequence to avoid going backwards.
//   - If the sequence counter would overflow within a millisecond, it waits
//     for the next millisecond before emitting the next ID.
//
// Each Generator salts the top 32 bits of its sequence with a random value,
// so two processes writing into one shared store do not mint identical ids
// within the same millisecond.
//
// Usage
//
//	g := id.NewGenerator()
//	newID := g.Next()
//	s := newID.String()      // hex token
//	back, err := id.Parse(s) // round-trip
package id
