package heal

import (
	"testing"

	"github.com/replifs/afr/xattrop"
)

func encodeRow(codec *xattrop.Codec, blames map[int]int64) []byte {
	buf := codec.Zero()
	zeroDelta := codec.EncodeIncrement(nil)
	merged, _ := codec.Merge(buf, zeroDelta)
	for i, v := range blames {
		delta := codec.Zero()
		// directly poke the encoded big-endian int64 since EncodeIncrement
		// only supports +/-1 deltas and tests need arbitrary values.
		pokeInt64(delta, i, v)
		merged, _ = codec.Merge(merged, delta)
	}
	return merged
}

func pokeInt64(buf []byte, idx int, v int64) {
	for i := 7; i >= 0; i-- {
		buf[idx*8+i] = byte(v)
		v >>= 8
	}
}

func TestClassifySourcesAndSinks(t *testing.T) {
	codec := xattrop.New(3)
	// child 0 is blamed by child 1 (pending[1][0] = 1): child 0 is a sink,
	// children 1 and 2 are clean sources.
	blobs := map[int][]byte{
		0: encodeRow(codec, nil),
		1: encodeRow(codec, map[int]int64{0: 1}),
		2: encodeRow(codec, nil),
	}
	m, err := BuildMatrix(codec, xattrop.KindData, blobs, []int{0, 1, 2})
	if err != nil {
		t.Fatalf("BuildMatrix: %v", err)
	}
	cls := Classify(m, []int{0, 1, 2})
	if cls.SplitBrain {
		t.Fatal("unexpected split brain")
	}
	if len(cls.Sinks) != 1 || cls.Sinks[0] != 0 {
		t.Fatalf("want sinks=[0], got %v", cls.Sinks)
	}
	src, ok := PickSource(cls)
	if !ok || src != 1 {
		t.Fatalf("want source=1 (lowest of {1,2}), got %d ok=%v", src, ok)
	}
}

func TestClassifySplitBrain(t *testing.T) {
	codec := xattrop.New(2)
	// each child blames the other: no source exists.
	blobs := map[int][]byte{
		0: encodeRow(codec, map[int]int64{1: 1}),
		1: encodeRow(codec, map[int]int64{0: 1}),
	}
	m, err := BuildMatrix(codec, xattrop.KindData, blobs, []int{0, 1})
	if err != nil {
		t.Fatalf("BuildMatrix: %v", err)
	}
	cls := Classify(m, []int{0, 1})
	if !cls.SplitBrain {
		t.Fatal("expected split brain when no source exists but matrix is non-zero")
	}
}

func TestClassifyAllClean(t *testing.T) {
	codec := xattrop.New(2)
	blobs := map[int][]byte{
		0: encodeRow(codec, nil),
		1: encodeRow(codec, nil),
	}
	m, err := BuildMatrix(codec, xattrop.KindMetadata, blobs, []int{0, 1})
	if err != nil {
		t.Fatalf("BuildMatrix: %v", err)
	}
	cls := Classify(m, []int{0, 1})
	if !cls.AllClean {
		t.Fatal("want AllClean when the matrix has no non-zero entries")
	}
}
