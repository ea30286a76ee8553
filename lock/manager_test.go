package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/replifs/afr/fops"
)

// fakeDisp is a minimal in-memory Dispatcher exercising only the lock calls,
// enough to drive Manager without a real subvolume.
type fakeDisp struct {
	fops.NotImplementedDispatcher

	mu        sync.Mutex
	held      map[string]bool
	denyNB    bool // reject every non-blocking attempt regardless of held state
}

func newFakeDisp() *fakeDisp {
	return &fakeDisp{held: make(map[string]bool)}
}

func (f *fakeDisp) Inodelk(ctx context.Context, op *fops.InodelkOp) error {
	k := Key{Domain: op.Domain, GFID: op.GFID, Offset: op.Offset, Len: op.Len}.String()
	f.mu.Lock()
	defer f.mu.Unlock()
	if op.Type == fops.LockUnlock {
		delete(f.held, k)
		return nil
	}
	if !op.Block && (f.denyNB || f.held[k]) {
		op.Reply.Errno = fops.XEAGAIN
		return nil
	}
	f.held[k] = true
	return nil
}

func (f *fakeDisp) Entrylk(ctx context.Context, op *fops.EntrylkOp) error {
	k := Key{Domain: op.Domain, GFID: op.Parent, Basename: op.Basename}.String()
	f.mu.Lock()
	defer f.mu.Unlock()
	if op.Type == fops.LockUnlock {
		delete(f.held, k)
		return nil
	}
	if f.held[k] && !op.Block {
		op.Reply.Errno = fops.XEAGAIN
		return nil
	}
	f.held[k] = true
	return nil
}

func TestAcquireAllNonBlockingHappyPath(t *testing.T) {
	m := NewManager()
	disp := Dispatchers{newFakeDisp(), newFakeDisp(), newFakeDisp()}
	key := Key{Domain: "afr.txn", GFID: fops.GFID{1}, Offset: 0, Len: 0}

	granted, err := m.AcquireAll(context.Background(), disp, []int{0, 1, 2}, key)
	if err != nil {
		t.Fatalf("AcquireAll: %v", err)
	}
	if len(granted) != 3 {
		t.Fatalf("want 3 grants, got %d", len(granted))
	}
	m.Release(context.Background(), disp, granted)
}

func TestAcquireAllFallsBackToSerialOnContention(t *testing.T) {
	m := NewManager()
	d0, d1 := newFakeDisp(), newFakeDisp()
	key := Key{Domain: "afr.txn", GFID: fops.GFID{2}}

	// Force the parallel non-blocking pass to fail on child 1; the serial
	// blocking fallback must still succeed since nothing else actually
	// holds the lock.
	d1.denyNB = true

	disp := Dispatchers{d0, d1}
	granted, err := m.AcquireAll(context.Background(), disp, []int{0, 1}, key)
	if err != nil {
		t.Fatalf("AcquireAll fallback: %v", err)
	}
	if len(granted) != 2 {
		t.Fatalf("want 2 grants from serial fallback, got %d", len(granted))
	}
	m.Release(context.Background(), disp, granted)
}
