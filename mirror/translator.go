// Package mirror wires subvol, inode, xattrop, lock, txn, readsel, heal and
// event into one caller-facing fops.Dispatcher: the translator itself, spec
// SPEC_FULL §3's package-mapping table entry "wires the above into one
// fops.Dispatcher implementation". Shaped after the teacher's jacobsa-fuse
// memfs sample (one struct embedding NotImplementedDispatcher, a handle
// table, and a single guarded arena) but generalized from one inode table
// shadowing a single backing store to one shadowing N replicated children.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package mirror

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/replifs/afr/cmn"
	"github.com/replifs/afr/cmn/nlog"
	"github.com/replifs/afr/event"
	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/heal"
	"github.com/replifs/afr/inode"
	"github.com/replifs/afr/lock"
	"github.com/replifs/afr/readsel"
	"github.com/replifs/afr/subvol"
	"github.com/replifs/afr/txn"
	"github.com/replifs/afr/xattrop"
)

// Translator is the single fops.Dispatcher callers (cmd/mirrord's protocol
// front-end, or a test harness) issue fops against. Mutating calls are
// driven through txns; reads through selector; divergence observed along
// either path can trigger healer via router's dedup.
type Translator struct {
	fops.NotImplementedDispatcher

	cfg *cmn.Config

	Subvols  []subvol.Subvol
	children []fops.Dispatcher

	Arena *inode.Arena
	fds   *inode.FDTable
	locks *lock.Manager
	codec *xattrop.Codec

	txns     *txn.Engine
	selector *readsel.Selector
	Healer   *heal.Engine
	Router   *event.Router

	mu   sync.Mutex
	locs map[fops.GFID]fops.Loc // last observed (parent, basename) per gfid, for heal's entry-sync context
}

// New builds a Translator over subvols in index order; index position is
// the child index every lock/pending/lock-domain computation in the
// engines below keys off of.
func New(cfg *cmn.Config, subvols []subvol.Subvol) (*Translator, error) {
	children := make([]fops.Dispatcher, len(subvols))
	for i, s := range subvols {
		children[i] = s
	}

	arena := inode.NewArena()
	codec := xattrop.New(len(subvols))
	locks := lock.NewManager()

	t := &Translator{
		cfg:      cfg,
		Subvols:  subvols,
		children: children,
		Arena:    arena,
		fds:      inode.NewFDTable(),
		locks:    locks,
		codec:    codec,
		locs:     make(map[fops.GFID]fops.Loc),
	}

	t.Router = event.NewRouter(len(subvols), arena, t.triggerHeal)
	t.selector = readsel.NewSelector(arena, cfg.ConsistentMetadata, cfg.ReadChild, t.Router.LiveChildren)
	t.Healer = heal.NewEngine(children, arena, locks, codec, cfg.HealLockDomain, cfg.HealLockDomain)

	txns, err := txn.NewEngine(children, locks, arena, codec, cfg.EntrylkDomain, cfg.InodelkDomain)
	if err != nil {
		return nil, err
	}
	t.txns = txns
	return t, nil
}

func (t *Translator) rememberLoc(gfid fops.GFID, parent fops.GFID, basename string) {
	if basename == "" {
		return
	}
	t.mu.Lock()
	t.locs[gfid] = fops.Loc{GFID: gfid, Parent: parent, Basename: basename}
	t.mu.Unlock()
}

// triggerHeal is the event.Router.HealTrigger hook: it runs synchronously
// on the goroutine that called TriggerIfNew, which is always an internal
// background caller (maybeTriggerHeal's own goroutine, or the event
// source's transition handler), never a caller-facing fop path.
func (t *Translator) triggerHeal(ctx context.Context, gfid fops.GFID) {
	t.mu.Lock()
	loc, ok := t.locs[gfid]
	t.mu.Unlock()

	req := heal.Request{GFID: gfid, Up: t.Router.LiveChildren()}
	if ok {
		req.Parent = loc.Parent
		req.Basename = loc.Basename
	}

	results, err := t.Healer.RunInode(ctx, req)
	if err != nil {
		nlog.Warningf("mirror: heal gfid=%s: %v", gfid, err)
		return
	}
	for _, r := range results {
		if r.Healed {
			t.Router.ForgetTrigger(gfid)
		}
	}
}

// maybeTriggerHeal implements spec §4.6's "lookup that observed a
// non-zero pending matrix" trigger: this child's DATA pending row
// carrying any nonzero entry means this child blames some peer, which is
// enough to schedule a heal regardless of which peer it is.
func (t *Translator) maybeTriggerHeal(gfid fops.GFID, child int) {
	go func() {
		ctx := context.Background()
		op := &fops.GetxattrOp{Loc: fops.Loc{GFID: gfid}, Name: xattrop.KindData.XattrName()}
		if err := t.children[child].Getxattr(ctx, op); err != nil || op.Reply.Errno != fops.XOK {
			return
		}
		vec, err := t.codec.Decode(op.Value)
		if err != nil {
			return
		}
		for _, v := range vec {
			if v != 0 {
				t.Arena.Snapshot(gfid, func(c *inode.Context) { c.NeedHeal = true })
				t.Router.TriggerIfNew(ctx, gfid)
				return
			}
		}
	}()
}

func fromCmnErrno(e cmn.Errno) fops.XErrno {
	switch e {
	case cmn.ENOSPC:
		return fops.XENOSPC
	case cmn.EDQUOT:
		return fops.XEDQUOT
	case cmn.EROFS:
		return fops.XEROFS
	case cmn.EACCES:
		return fops.XEACCES
	case cmn.EEXIST:
		return fops.XEEXIST
	case cmn.ENOENT:
		return fops.XENOENT
	case cmn.ENOTEMPTY:
		return fops.XENOTEMPTY
	case cmn.ENOTCONN:
		return fops.XENOTCONN
	case cmn.EAGAIN:
		return fops.XEAGAIN
	case cmn.EDEADLK:
		return fops.XEDEADLK
	case cmn.EIO:
		return fops.XEIO
	default:
		return fops.XEOTHER
	}
}

func (t *Translator) classXattrName(k cmn.OpKind) string {
	switch k.Class() {
	case cmn.ClassEntry, cmn.ClassEntryRename:
		return xattrop.KindEntry.XattrName()
	case cmn.ClassData:
		return xattrop.KindData.XattrName()
	default:
		return xattrop.KindMetadata.XattrName()
	}
}

////////////////////////////////////////////////////////////////////////
// Read path (RSS-driven)
////////////////////////////////////////////////////////////////////////

func (t *Translator) Lookup(ctx context.Context, op *fops.LookupOp) error {
	child, err := t.selector.ReadSubvol(op.Loc.Parent, readsel.ClassEntry)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	if err := t.children[child].Lookup(ctx, op); err != nil {
		op.Reply.Errno = fops.XENOTCONN
		return nil
	}
	if op.Reply.Errno == fops.XOK {
		t.rememberLoc(op.Reply.Stat.GFID, op.Loc.Parent, op.Loc.Basename)
		t.maybeTriggerHeal(op.Reply.Stat.GFID, child)
	}
	return nil
}

func (t *Translator) Stat(ctx context.Context, op *fops.StatOp) error {
	child, err := t.selector.ReadSubvol(op.Loc.GFID, readsel.ClassMetadata)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	if err := t.children[child].Stat(ctx, op); err != nil {
		next, ferr := t.selector.Failover(op.Loc.GFID, readsel.ClassMetadata, child)
		if ferr != nil {
			op.Reply.Errno = fops.XEIO
			return nil
		}
		return t.children[next].Stat(ctx, op)
	}
	return nil
}

func (t *Translator) Fstat(ctx context.Context, op *fops.FstatOp) error {
	fc, ok := t.fds.Get(op.FD)
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	child, err := t.selector.ReadSubvol(fc.GFID, readsel.ClassMetadata)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	fh, ok := fc.Handle(child)
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	childOp := &fops.FstatOp{FD: fh}
	if err := t.children[child].Fstat(ctx, childOp); err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.Reply = childOp.Reply
	return nil
}

func (t *Translator) Access(ctx context.Context, op *fops.AccessOp) error {
	child, err := t.selector.ReadSubvol(op.Loc.GFID, readsel.ClassMetadata)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	return t.children[child].Access(ctx, op)
}

func (t *Translator) Getxattr(ctx context.Context, op *fops.GetxattrOp) error {
	child, err := t.selector.ReadSubvol(op.Loc.GFID, readsel.ClassMetadata)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	return t.children[child].Getxattr(ctx, op)
}

func (t *Translator) Readdir(ctx context.Context, op *fops.ReaddirOp) error {
	fc, ok := t.fds.Get(op.FD)
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	child, bound := fc.ReaddirBound()
	if !bound {
		picked, err := t.selector.ReadSubvol(fc.GFID, readsel.ClassEntry)
		if err != nil {
			op.Reply.Errno = fops.XEIO
			return nil
		}
		child = fc.BindReaddirSubvol(picked)
	}
	fh, ok := fc.Handle(child)
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	childOp := &fops.ReaddirOp{FD: fh, Offset: op.Offset}
	if err := t.children[child].Readdir(ctx, childOp); err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.Entries = childOp.Entries
	op.Reply = childOp.Reply
	return nil
}

func (t *Translator) Statfs(ctx context.Context, op *fops.StatfsOp) error {
	live := t.Router.LiveChildren()
	var worst *fops.StatfsOp
	for _, c := range live {
		childOp := &fops.StatfsOp{Loc: op.Loc}
		if err := t.children[c].Statfs(ctx, childOp); err != nil || childOp.Reply.Errno != fops.XOK {
			continue
		}
		if worst == nil || childOp.BlocksFree < worst.BlocksFree {
			worst = childOp
		}
	}
	if worst == nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.Blocks, op.BlocksFree, op.BlocksAvail = worst.Blocks, worst.BlocksFree, worst.BlocksAvail
	op.Files, op.FilesFree = worst.Files, worst.FilesFree
	return nil
}

////////////////////////////////////////////////////////////////////////
// Entry-mutating ops (TXE-driven, class ENTRY / ENTRY_RENAME)
////////////////////////////////////////////////////////////////////////

func (t *Translator) Create(ctx context.Context, op *fops.CreateOp) error {
	var mu sync.Mutex
	fds := make(map[int]fops.FileHandle)
	var st fops.Stat

	rec := txn.NewRecord("", cmn.OpCreate, op.Loc, op.Loc.Basename, t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, t.classXattrName(cmn.OpCreate), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.CreateOp{Loc: op.Loc, Mode: op.Mode, Flags: op.Flags}
		if err := disp.Create(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		if childOp.Reply.Errno == fops.XOK {
			mu.Lock()
			fds[child] = childOp.FD
			st = childOp.Reply.Stat
			mu.Unlock()
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
		return nil
	}

	fc := inode.NewFDContext(st.GFID, op.Flags, len(t.children))
	for c, fh := range fds {
		fc.SetOpened(c, fh)
	}
	op.FD = t.fds.Alloc(fc)
	op.Reply.Stat = st
	t.rememberLoc(st.GFID, op.Loc.Parent, op.Loc.Basename)
	return nil
}

func (t *Translator) Mkdir(ctx context.Context, op *fops.MkdirOp) error {
	var mu sync.Mutex
	var st fops.Stat

	rec := txn.NewRecord("", cmn.OpMkdir, op.Loc, op.Loc.Basename, t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, t.classXattrName(cmn.OpMkdir), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.MkdirOp{Loc: op.Loc, Mode: op.Mode}
		if err := disp.Mkdir(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		if childOp.Reply.Errno == fops.XOK {
			mu.Lock()
			st = childOp.Reply.Stat
			mu.Unlock()
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
		return nil
	}
	op.Reply.Stat = st
	t.rememberLoc(st.GFID, op.Loc.Parent, op.Loc.Basename)
	return nil
}

func (t *Translator) Mknod(ctx context.Context, op *fops.MknodOp) error {
	var mu sync.Mutex
	var st fops.Stat

	rec := txn.NewRecord("", cmn.OpMknod, op.Loc, op.Loc.Basename, t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, t.classXattrName(cmn.OpMknod), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.MknodOp{Loc: op.Loc, Mode: op.Mode, Dev: op.Dev}
		if err := disp.Mknod(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		if childOp.Reply.Errno == fops.XOK {
			mu.Lock()
			st = childOp.Reply.Stat
			mu.Unlock()
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
		return nil
	}
	op.Reply.Stat = st
	t.rememberLoc(st.GFID, op.Loc.Parent, op.Loc.Basename)
	return nil
}

func (t *Translator) Symlink(ctx context.Context, op *fops.SymlinkOp) error {
	var mu sync.Mutex
	var st fops.Stat

	rec := txn.NewRecord("", cmn.OpSymlink, op.Loc, op.Loc.Basename, t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, t.classXattrName(cmn.OpSymlink), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.SymlinkOp{Loc: op.Loc, LinkTarget: op.LinkTarget}
		if err := disp.Symlink(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		if childOp.Reply.Errno == fops.XOK {
			mu.Lock()
			st = childOp.Reply.Stat
			mu.Unlock()
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
		return nil
	}
	op.Reply.Stat = st
	t.rememberLoc(st.GFID, op.Loc.Parent, op.Loc.Basename)
	return nil
}

func (t *Translator) Link(ctx context.Context, op *fops.LinkOp) error {
	rec := txn.NewRecord("", cmn.OpLink, op.Loc, op.Loc.Basename, t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, t.classXattrName(cmn.OpLink), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.LinkOp{Loc: op.Loc, TargetGFID: op.TargetGFID}
		if err := disp.Link(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Rename(ctx context.Context, op *fops.RenameOp) error {
	rec := txn.NewRecord("", cmn.OpRename, op.Loc, op.Loc.Basename, t.Router.LiveChildren())
	rec.Parent2 = op.NewLoc
	rec.NewBasename = op.NewLoc.Basename

	err := t.txns.Run(ctx, rec, xattrop.KindEntry.XattrName(), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.RenameOp{Loc: op.Loc, NewLoc: op.NewLoc}
		if err := disp.Rename(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Unlink(ctx context.Context, op *fops.UnlinkOp) error {
	rec := txn.NewRecord("", cmn.OpUnlink, op.Loc, op.Loc.Basename, t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, t.classXattrName(cmn.OpUnlink), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.UnlinkOp{Loc: op.Loc}
		if err := disp.Unlink(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Rmdir(ctx context.Context, op *fops.RmdirOp) error {
	rec := txn.NewRecord("", cmn.OpRmdir, op.Loc, op.Loc.Basename, t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, t.classXattrName(cmn.OpRmdir), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.RmdirOp{Loc: op.Loc}
		if err := disp.Rmdir(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Open/handle lifecycle (fan-out across all live children, no txn: open
// itself carries no pending-vector semantics, spec §3 FDC)
////////////////////////////////////////////////////////////////////////

func (t *Translator) Open(ctx context.Context, op *fops.OpenOp) error {
	fc := inode.NewFDContext(op.Loc.GFID, op.Flags, len(t.children))
	if err := t.openAll(ctx, fc, func(ctx context.Context, disp fops.Dispatcher) (fops.FileHandle, bool) {
		childOp := &fops.OpenOp{Loc: op.Loc, Flags: op.Flags}
		if err := disp.Open(ctx, childOp); err != nil || childOp.Reply.Errno != fops.XOK {
			return 0, false
		}
		return childOp.FD, true
	}); err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.FD = t.fds.Alloc(fc)
	return nil
}

func (t *Translator) Opendir(ctx context.Context, op *fops.OpendirOp) error {
	fc := inode.NewFDContext(op.Loc.GFID, 0, len(t.children))
	if err := t.openAll(ctx, fc, func(ctx context.Context, disp fops.Dispatcher) (fops.FileHandle, bool) {
		childOp := &fops.OpendirOp{Loc: op.Loc}
		if err := disp.Opendir(ctx, childOp); err != nil || childOp.Reply.Errno != fops.XOK {
			return 0, false
		}
		return childOp.FD, true
	}); err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.FD = t.fds.Alloc(fc)
	return nil
}

func (t *Translator) openAll(ctx context.Context, fc *inode.FDContext, open func(context.Context, fops.Dispatcher) (fops.FileHandle, bool)) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range t.Router.LiveChildren() {
		c := c
		g.Go(func() error {
			fh, ok := open(gctx, t.children[c])
			mu.Lock()
			if ok {
				fc.SetOpened(c, fh)
			} else {
				fc.SetNotOpened(c)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if len(fc.OpenChildren()) == 0 {
		return cmn.ErrAllChildrenDown
	}
	return nil
}

func (t *Translator) Release(ctx context.Context, op *fops.ReleaseOp) error {
	fc, ok := t.fds.Get(op.FD)
	if !ok {
		return nil
	}
	if last := t.fds.Release(op.FD); last {
		for _, c := range fc.OpenChildren() {
			fh, _ := fc.Handle(c)
			_ = t.children[c].Release(ctx, &fops.ReleaseOp{FD: fh})
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Data path: Readv is RSS-driven with failover, data-mutating calls drive
// the TXE across every child the fd is open on.
////////////////////////////////////////////////////////////////////////

func (t *Translator) Readv(ctx context.Context, op *fops.ReadvOp) error {
	fc, ok := t.fds.Get(op.FD)
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	child, err := t.selector.ReadSubvol(fc.GFID, readsel.ClassData)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	if fh, ok := fc.Handle(child); ok {
		childOp := &fops.ReadvOp{FD: fh, Offset: op.Offset, Size: op.Size}
		if err := t.children[child].Readv(ctx, childOp); err == nil {
			op.Data = childOp.Data
			op.Reply = childOp.Reply
			return nil
		}
	}
	next, ferr := t.selector.Failover(fc.GFID, readsel.ClassData, child)
	if ferr != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	fh, ok := fc.Handle(next)
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	childOp := &fops.ReadvOp{FD: fh, Offset: op.Offset, Size: op.Size}
	if err := t.children[next].Readv(ctx, childOp); err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.Data = childOp.Data
	op.Reply = childOp.Reply
	return nil
}

func (t *Translator) Writev(ctx context.Context, op *fops.WritevOp) error {
	fc, ok := t.fds.Get(op.FD)
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	var mu sync.Mutex
	var written int

	rec := txn.NewRecord("", cmn.OpWritev, fops.Loc{GFID: fc.GFID}, "", fc.OpenChildren())
	err := t.txns.Run(ctx, rec, xattrop.KindData.XattrName(), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		fh, ok := fc.Handle(child)
		if !ok {
			return fops.XEIO, nil
		}
		childOp := &fops.WritevOp{FD: fh, Offset: op.Offset, Data: op.Data}
		if err := disp.Writev(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		if childOp.Reply.Errno == fops.XOK {
			mu.Lock()
			if childOp.Written > written {
				written = childOp.Written
			}
			mu.Unlock()
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
		return nil
	}
	op.Written = written
	return nil
}

func (t *Translator) Truncate(ctx context.Context, op *fops.TruncateOp) error {
	rec := txn.NewRecord("", cmn.OpTruncate, op.Loc, "", t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, xattrop.KindData.XattrName(), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.TruncateOp{Loc: op.Loc, Size: op.Size}
		if err := disp.Truncate(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) fdDataTxn(ctx context.Context, fh fops.FileHandle, kind cmn.OpKind, run func(context.Context, fops.Dispatcher, fops.FileHandle) fops.XErrno) (*txn.Record, error) {
	fc, ok := t.fds.Get(fh)
	if !ok {
		rec := txn.NewRecord("", kind, fops.Loc{}, "", nil)
		rec.FirstError = cmn.EIO
		rec.AnyError = true
		return rec, cmn.EIO
	}
	rec := txn.NewRecord("", kind, fops.Loc{GFID: fc.GFID}, "", fc.OpenChildren())
	err := t.txns.Run(ctx, rec, xattrop.KindData.XattrName(), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childFH, ok := fc.Handle(child)
		if !ok {
			return fops.XEIO, nil
		}
		return run(ctx, disp, childFH), nil
	})
	return rec, err
}

func (t *Translator) Ftruncate(ctx context.Context, op *fops.FtruncateOp) error {
	rec, err := t.fdDataTxn(ctx, op.FD, cmn.OpFtruncate, func(ctx context.Context, disp fops.Dispatcher, fh fops.FileHandle) fops.XErrno {
		childOp := &fops.FtruncateOp{FD: fh, Size: op.Size}
		if err := disp.Ftruncate(ctx, childOp); err != nil {
			return fops.XENOTCONN
		}
		return childOp.Reply.Errno
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Fallocate(ctx context.Context, op *fops.FallocateOp) error {
	rec, err := t.fdDataTxn(ctx, op.FD, cmn.OpFallocate, func(ctx context.Context, disp fops.Dispatcher, fh fops.FileHandle) fops.XErrno {
		childOp := &fops.FallocateOp{FD: fh, Mode: op.Mode, Offset: op.Offset, Len: op.Len}
		if err := disp.Fallocate(ctx, childOp); err != nil {
			return fops.XENOTCONN
		}
		return childOp.Reply.Errno
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Discard(ctx context.Context, op *fops.DiscardOp) error {
	rec, err := t.fdDataTxn(ctx, op.FD, cmn.OpDiscard, func(ctx context.Context, disp fops.Dispatcher, fh fops.FileHandle) fops.XErrno {
		childOp := &fops.DiscardOp{FD: fh, Offset: op.Offset, Len: op.Len}
		if err := disp.Discard(ctx, childOp); err != nil {
			return fops.XENOTCONN
		}
		return childOp.Reply.Errno
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Zerofill(ctx context.Context, op *fops.ZerofillOp) error {
	rec, err := t.fdDataTxn(ctx, op.FD, cmn.OpZerofill, func(ctx context.Context, disp fops.Dispatcher, fh fops.FileHandle) fops.XErrno {
		childOp := &fops.ZerofillOp{FD: fh, Offset: op.Offset, Len: op.Len}
		if err := disp.Zerofill(ctx, childOp); err != nil {
			return fops.XENOTCONN
		}
		return childOp.Reply.Errno
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Metadata-mutating ops
////////////////////////////////////////////////////////////////////////

func (t *Translator) Setattr(ctx context.Context, op *fops.SetattrOp) error {
	rec := txn.NewRecord("", cmn.OpSetattr, op.Loc, "", t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, xattrop.KindMetadata.XattrName(), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.SetattrOp{Loc: op.Loc, Stat: op.Stat, Valid: op.Valid}
		if err := disp.Setattr(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Fsetattr(ctx context.Context, op *fops.FsetattrOp) error {
	rec, err := t.fdDataTxn(ctx, op.FD, cmn.OpFsetattr, func(ctx context.Context, disp fops.Dispatcher, fh fops.FileHandle) fops.XErrno {
		childOp := &fops.FsetattrOp{FD: fh, Stat: op.Stat, Valid: op.Valid}
		if err := disp.Fsetattr(ctx, childOp); err != nil {
			return fops.XENOTCONN
		}
		return childOp.Reply.Errno
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Setxattr(ctx context.Context, op *fops.SetxattrOp) error {
	rec := txn.NewRecord("", cmn.OpSetxattr, op.Loc, "", t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, xattrop.KindMetadata.XattrName(), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.SetxattrOp{Loc: op.Loc, Name: op.Name, Value: op.Value}
		if err := disp.Setxattr(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

func (t *Translator) Removexattr(ctx context.Context, op *fops.RemovexattrOp) error {
	rec := txn.NewRecord("", cmn.OpRemovexattr, op.Loc, "", t.Router.LiveChildren())
	err := t.txns.Run(ctx, rec, xattrop.KindMetadata.XattrName(), func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error) {
		childOp := &fops.RemovexattrOp{Loc: op.Loc, Name: op.Name}
		if err := disp.Removexattr(ctx, childOp); err != nil {
			return fops.XENOTCONN, err
		}
		return childOp.Reply.Errno, nil
	})
	if err != nil {
		op.Reply.Errno = fromCmnErrno(rec.FirstError)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Lifecycle fan-out: every open child gets Fsync/Flush; Fsync reports EIO
// if any child fails, Flush ignores per-child errors (these never touch
// the pending vector, so they don't go through txn).
////////////////////////////////////////////////////////////////////////

func (t *Translator) Fsync(ctx context.Context, op *fops.FsyncOp) error {
	fc, ok := t.fds.Get(op.FD)
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	var firstBad fops.XErrno
	for _, c := range fc.OpenChildren() {
		fh, ok := fc.Handle(c)
		if !ok {
			continue
		}
		childOp := &fops.FsyncOp{FD: fh, DataOnly: op.DataOnly}
		if err := t.children[c].Fsync(ctx, childOp); err != nil || childOp.Reply.Errno != fops.XOK {
			if firstBad == fops.XOK {
				firstBad = fops.XEIO
			}
		}
	}
	op.Reply.Errno = firstBad
	return nil
}

func (t *Translator) Flush(ctx context.Context, op *fops.FlushOp) error {
	fc, ok := t.fds.Get(op.FD)
	if !ok {
		return nil
	}
	for _, c := range fc.OpenChildren() {
		fh, ok := fc.Handle(c)
		if !ok {
			continue
		}
		_ = t.children[c].Flush(ctx, &fops.FlushOp{FD: fh})
	}
	return nil
}
