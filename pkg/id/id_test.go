package id

import (
	"testing"
	"time"
)

func TestParseRoundTrip(t *testing.T) {
	g := NewGenerator()
	orig := g.Next()
	back, err := Parse(orig.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back != orig {
		t.Fatalf("round-trip mismatch: %v vs %v", back, orig)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"abc",
		"zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",   // bad digits
		"0102030405060708090a0b0c0d0e0f",     // too short
		"0102030405060708090a0b0c0d0e0f1011", // too long
		"0102030405060708090A0B0C0D0E0F10",   // uppercase is not canonical
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestOrderingMonotonic(t *testing.T) {
	g := NewGenerator()
	NowMs = func() int64 { return 1000 }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	a := g.Next()
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a<b")
	}
}

func TestClockRegressionGuard(t *testing.T) {
	g := NewGenerator()
	seq := int64(1000)
	NowMs = func() int64 { return seq }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	a := g.Next() // uses 1000
	seq = 900     // clock went backwards
	b := g.Next() // should still be >= a
	if a.Compare(b) >= 0 {
		t.Fatalf("expected b>a despite clock regression")
	}
}

func TestGeneratorsDisjointWithinSameMillisecond(t *testing.T) {
	// two generators stand in for two processes sharing one store
	g1 := NewGenerator()
	g2 := NewGenerator()
	if g1.salt == g2.salt {
		t.Skip("salts collided; one-in-four-billion draw")
	}
	NowMs = func() int64 { return 3000 }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	seen := map[ID]bool{}
	for i := 0; i < 100; i++ {
		for _, g := range []*Generator{g1, g2} {
			next := g.Next()
			if seen[next] {
				t.Fatalf("duplicate id %v across generators", next)
			}
			seen[next] = true
		}
	}
}

func TestSequenceOverflowWaitsNextMs(t *testing.T) {
	g := NewGenerator()
	NowMs = func() int64 { return 2000 }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	// Simulate near-overflow of the counter half
	g.lastMs = 2000
	g.sequence = g.salt | (seqCounterMask - 1)

	_ = g.Next() // counter becomes all ones

	done := make(chan struct{})
	go func() {
		_ = g.Next() // should wait for next ms and reset seq
		close(done)
	}()

	// Advance time after a brief moment to let goroutine reach wait loop
	time.AfterFunc(10*time.Millisecond, func() { NowMs = func() int64 { return 2001 } })

	select {
	case <-done:
		// ok
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for overflow handling")
	}
}
