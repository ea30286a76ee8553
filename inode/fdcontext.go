package inode

import (
	"sync"

	"github.com/replifs/afr/fops"
)

// OpenState is per-child open-descriptor state, spec §3 FDC: opened_on[N].
type OpenState int

const (
	Unopened OpenState = iota
	Opened
	NotOpened // explicitly attempted and failed, distinct from never-tried
)

// FDContext is the per-open-file state of spec §3. Lifecycle: created on the
// first successful open/opendir/create; destroyed when the last reference
// from the caller and from any pending transaction is gone (spec §3 FDC
// Lifecycle).
type FDContext struct {
	mu sync.Mutex

	GFID      fops.GFID
	openedOn  map[int]OpenState
	childFD   map[int]fops.FileHandle
	Flags     int

	// ReaddirSubvol is fixed for the lifetime of a directory stream by the
	// first BindReaddirSubvol call (spec §3 FDC, property P5).
	ReaddirSubvol int
	readdirBound  bool

	// ownerLocks records lock owners with granted advisory locks on this fd;
	// nothing replays them on reconnect.
	ownerLocks map[uint64]struct{}
}

func NewFDContext(gfid fops.GFID, flags int, n int) *FDContext {
	return &FDContext{
		GFID:       gfid,
		Flags:      flags,
		openedOn:   make(map[int]OpenState, n),
		childFD:    make(map[int]fops.FileHandle, n),
		ownerLocks: make(map[uint64]struct{}),
	}
}

func (f *FDContext) SetOpened(child int, fh fops.FileHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openedOn[child] = Opened
	f.childFD[child] = fh
}

func (f *FDContext) SetNotOpened(child int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openedOn[child] = NotOpened
}

func (f *FDContext) State(child int) OpenState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.openedOn[child]; ok {
		return s
	}
	return Unopened
}

func (f *FDContext) Handle(child int) (fops.FileHandle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, ok := f.childFD[child]
	return fh, ok
}

// OpenChildren returns the set of children currently OPENED, the set a
// Release must be issued against on cleanup (spec §3 FDC: "Cleanup MUST
// emit a release on each child where opened_on[i] == OPENED").
func (f *FDContext) OpenChildren() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.openedOn))
	for i, s := range f.openedOn {
		if s == Opened {
			out = append(out, i)
		}
	}
	return out
}

// BindReaddirSubvol fixes the stream's subvolume on first use; subsequent
// calls are no-ops, enforcing spec P5 ("Readdir over one fd returns entries
// from exactly one child for the lifetime of that fd").
func (f *FDContext) BindReaddirSubvol(child int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.readdirBound {
		f.ReaddirSubvol = child
		f.readdirBound = true
	}
	return f.ReaddirSubvol
}

func (f *FDContext) ReaddirBound() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReaddirSubvol, f.readdirBound
}

func (f *FDContext) AddOwnerLock(owner uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownerLocks[owner] = struct{}{}
}

func (f *FDContext) RemoveOwnerLock(owner uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ownerLocks, owner)
}

func (f *FDContext) OwnerLocks() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, 0, len(f.ownerLocks))
	for o := range f.ownerLocks {
		out = append(out, o)
	}
	return out
}

// FDTable is a simple refcounted registry of FDContexts keyed by an
// opaque caller-facing handle, mirroring the allocateInode/deallocateInode
// free-list pattern in the teacher's memfs sample but keyed by fd rather
// than inode ID.
type FDTable struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]*fdEntry
}

type fdEntry struct {
	ctx    *FDContext
	refs   int
}

func NewFDTable() *FDTable {
	return &FDTable{entries: make(map[uint64]*fdEntry)}
}

func (t *FDTable) Alloc(ctx *FDContext) fops.FileHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := t.next
	t.entries[id] = &fdEntry{ctx: ctx, refs: 1}
	return fops.FileHandle(id)
}

func (t *FDTable) Get(fh fops.FileHandle) (*FDContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[uint64(fh)]
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

func (t *FDTable) Ref(fh fops.FileHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[uint64(fh)]; ok {
		e.refs++
	}
}

// Release decrements the refcount and reports whether this was the last
// reference (spec §3 FDC Lifecycle: destroyed when the last reference from
// the caller and from any pending transaction is gone).
func (t *FDTable) Release(fh fops.FileHandle) (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[uint64(fh)]
	if !ok {
		return false
	}
	e.refs--
	if e.refs <= 0 {
		delete(t.entries, uint64(fh))
		return true
	}
	return false
}
