package xattrop

import (
	"testing"
)

// TestRoundTripLaw exercises spec §8 R1: encode_increment(S) followed by
// encode_decrement(S) merged over any non-negative starting vector yields
// the starting vector.
func TestRoundTripLaw(t *testing.T) {
	c := New(4)
	start := c.zero()
	for i := 0; i < 4; i++ {
		start[i*8+7] = byte(i + 1) // seed a nonzero, non-negative starting vector
	}

	peers := map[int]struct{}{0: {}, 2: {}}
	inc := c.EncodeIncrement(peers)
	afterInc, err := c.Merge(start, inc)
	if err != nil {
		t.Fatalf("merge inc: %v", err)
	}

	dec := c.EncodeDecrement(peers)
	afterDec, err := c.Merge(afterInc, dec)
	if err != nil {
		t.Fatalf("merge dec: %v", err)
	}

	gotV, _ := c.Decode(afterDec)
	wantV, _ := c.Decode(start)
	for i := range gotV {
		if gotV[i] != wantV[i] {
			t.Fatalf("round trip mismatch at %d: got %v want %v", i, gotV, wantV)
		}
	}
}

func TestMergeFloorsAtZero(t *testing.T) {
	c := New(2)
	start := c.zero()
	dec := c.EncodeDecrement(map[int]struct{}{0: {}, 1: {}})
	out, err := c.Merge(start, dec)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	v, _ := c.Decode(out)
	for i, x := range v {
		if x != 0 {
			t.Fatalf("index %d: want floored 0, got %d", i, x)
		}
	}
}

func TestMalformedWidth(t *testing.T) {
	c := New(3)
	_, err := c.Decode([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected malformed-width error")
	}
}

func TestEncodeIncrementIgnoresOutOfRange(t *testing.T) {
	c := New(2)
	got := c.EncodeIncrement(map[int]struct{}{5: {}})
	v, _ := c.Decode(got)
	for i, x := range v {
		if x != 0 {
			t.Fatalf("index %d: want 0, got %d", i, x)
		}
	}
}
