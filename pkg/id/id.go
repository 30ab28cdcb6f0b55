package id

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable message identifier encoded as
// 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
type ID [16]byte

// Zero is the empty identifier.
var Zero ID

// EncodedLen is the length of the hex form produced by String.
const EncodedLen = 32

// ErrMalformed is returned by Parse and FromBytes on invalid input.
var ErrMalformed = errors.New("id: malformed identifier")

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// String returns the canonical lowercase hex form.
func (i ID) String() string { return fmtHex(i[:]) }

// IsZero reports whether the identifier is unset.
func (i ID) IsZero() bool { return i == Zero }

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < 16; idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// Less reports whether i orders before other.
func (i ID) Less(other ID) bool { return i.Compare(other) < 0 }

// Parse decodes the canonical hex form back into an ID.
func Parse(s string) (ID, error) {
	if len(s) != EncodedLen {
		return Zero, ErrMalformed
	}
	var id ID
	for idx := 0; idx < 16; idx++ {
		hi, ok1 := unhex(s[idx*2])
		lo, ok2 := unhex(s[idx*2+1])
		if !ok1 || !ok2 {
			return Zero, ErrMalformed
		}
		id[idx] = hi<<4 | lo
	}
	return id, nil
}

// FromBytes copies a 16-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	if len(b) != 16 {
		return Zero, ErrMalformed
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// Generator produces monotonically increasing IDs per process. The top 32
// bits of every sequence carry a random per-generator salt, so two
// processes writing into one shared store cannot mint the same id within
// the same millisecond; the low 32 bits count within it.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	salt     uint64
	sequence uint64
}

// seqCounterMask isolates the counter half of a sequence.
const seqCounterMask = uint64(1)<<32 - 1

// NewGenerator creates a Generator with a fresh random salt.
func NewGenerator() *Generator {
	return &Generator{salt: uint64(rand.Uint32()) << 32}
}

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. If the clock goes backwards, it reuses lastMs and
// increments the sequence. If the counter overflows within the same
// millisecond, it waits for the next ms.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		if g.sequence&seqCounterMask == seqCounterMask {
			for {
				ms = NowMs()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = g.salt
		} else {
			g.sequence++
		}
	} else {
		g.sequence = g.salt
	}

	g.lastMs = ms
	return makeID(ms, g.sequence)
}

func makeID(ms int64, seq uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint64(id[8:16], seq)
	return id
}

// fmtHex is a small, allocation-lean hex encoder for fixed-size IDs.
func fmtHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
