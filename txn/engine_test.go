package txn

import (
	"context"
	"sync"
	"testing"

	"github.com/replifs/afr/cmn"
	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/inode"
	"github.com/replifs/afr/lock"
	"github.com/replifs/afr/xattrop"
)

type fakeChild struct {
	fops.NotImplementedDispatcher
	mu       sync.Mutex
	codec    *xattrop.Codec
	xattr    map[string][]byte
	locks    map[string]bool
	failThis bool
}

func newFakeChild(codec *xattrop.Codec) *fakeChild {
	return &fakeChild{
		codec: codec,
		xattr: map[string][]byte{"trusted.afr.data": codec.Zero()},
		locks: make(map[string]bool),
	}
}

func (c *fakeChild) Inodelk(ctx context.Context, op *fops.InodelkOp) error {
	return nil
}
func (c *fakeChild) Entrylk(ctx context.Context, op *fops.EntrylkOp) error {
	return nil
}

func (c *fakeChild) Xattrop(ctx context.Context, op *fops.XattropOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged, err := c.codec.Merge(c.xattr[op.Name], op.Delta)
	if err != nil {
		return err
	}
	c.xattr[op.Name] = merged
	op.Result = merged
	return nil
}

func TestEngineRunHappyPathClearsPending(t *testing.T) {
	codec := xattrop.New(3)
	children := []*fakeChild{newFakeChild(codec), newFakeChild(codec), newFakeChild(codec)}
	disp := make([]fops.Dispatcher, 3)
	for i, c := range children {
		disp[i] = c
	}

	arena := inode.NewArena()
	e, err := NewEngine(disp, lock.NewManager(), arena, codec, "afr.txn", "afr.txn")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	rec := NewRecord("", cmn.OpWritev, fops.Loc{GFID: fops.GFID{9}}, "", []int{0, 1, 2})
	fn := func(ctx context.Context, child int, d fops.Dispatcher) (fops.XErrno, error) {
		return fops.XOK, nil
	}

	if err := e.Run(context.Background(), rec, "trusted.afr.data", fn); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.AnyError {
		t.Fatalf("unexpected error recorded: %v", rec.FirstError)
	}
	for i, c := range children {
		v, err := codec.Decode(c.xattr["trusted.afr.data"])
		if err != nil {
			t.Fatalf("decode child %d: %v", i, err)
		}
		for j, x := range v {
			if x != 0 {
				t.Fatalf("child %d pending[%d] = %d, want 0 after full success", i, j, x)
			}
		}
	}
}

func TestEngineRunLeavesPendingOnFailedChild(t *testing.T) {
	codec := xattrop.New(2)
	c0, c1 := newFakeChild(codec), newFakeChild(codec)
	disp := []fops.Dispatcher{c0, c1}

	arena := inode.NewArena()
	e, err := NewEngine(disp, lock.NewManager(), arena, codec, "afr.txn", "afr.txn")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	rec := NewRecord("", cmn.OpWritev, fops.Loc{GFID: fops.GFID{7}}, "", []int{0, 1})
	fn := func(ctx context.Context, child int, d fops.Dispatcher) (fops.XErrno, error) {
		if child == 1 {
			return fops.XEIO, nil
		}
		return fops.XOK, nil
	}

	err = e.Run(context.Background(), rec, "trusted.afr.data", fn)
	if err == nil {
		t.Fatalf("expected aggregated error from failed child 1")
	}
	if !rec.AnyError || rec.FirstErrorChild != 1 {
		t.Fatalf("want error attributed to child 1, got child=%d any=%v", rec.FirstErrorChild, rec.AnyError)
	}

	v1, err := codec.Decode(c1.xattr["trusted.afr.data"])
	if err != nil {
		t.Fatalf("decode child 1: %v", err)
	}
	if v1[0] == 0 {
		t.Fatalf("failed child's pending counter should remain set, got %v", v1)
	}

	// Child 0 succeeded both PRE_OP and the FOP, but its peer (child 1)
	// failed the FOP, so POST_OP must NOT clear child 0's blame against
	// child 1 — that's what later lets self-heal classify child 1 as the
	// sink on reconnect.
	v0, err := codec.Decode(c0.xattr["trusted.afr.data"])
	if err != nil {
		t.Fatalf("decode child 0: %v", err)
	}
	if v0[1] == 0 {
		t.Fatalf("child 0 should still blame failed child 1, got %v", v0)
	}
}

// TestEngineRunBlamesDownChildInPendingVector covers spec boundary B1/E2: a
// write during a partial outage (child 2 down, excluded from rec.Live
// entirely) must still leave every live child's pending vector blaming
// position 2, so a later reconnect (E6) has something to heal.
func TestEngineRunBlamesDownChildInPendingVector(t *testing.T) {
	codec := xattrop.New(3)
	c0, c1 := newFakeChild(codec), newFakeChild(codec)
	disp := []fops.Dispatcher{c0, c1, nil}

	arena := inode.NewArena()
	e, err := NewEngine(disp, lock.NewManager(), arena, codec, "afr.txn", "afr.txn")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Only children 0 and 1 are live; child 2 is down, the same as
	// mirror/translator.go passing t.Router.LiveChildren() into a Record.
	rec := NewRecord("", cmn.OpWritev, fops.Loc{GFID: fops.GFID{3}}, "", []int{0, 1})
	fn := func(ctx context.Context, child int, d fops.Dispatcher) (fops.XErrno, error) {
		return fops.XOK, nil
	}

	if err := e.Run(context.Background(), rec, "trusted.afr.data", fn); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.AnyError {
		t.Fatalf("unexpected error recorded: %v", rec.FirstError)
	}

	for i, c := range []*fakeChild{c0, c1} {
		v, err := codec.Decode(c.xattr["trusted.afr.data"])
		if err != nil {
			t.Fatalf("decode child %d: %v", i, err)
		}
		if v[2] == 0 {
			t.Fatalf("child %d should blame down child 2, got %v", i, v)
		}
	}
}
