package txn

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"

	"github.com/replifs/afr/cmn"
	"github.com/replifs/afr/cmn/metrics"
	"github.com/replifs/afr/cmn/nlog"
	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/inode"
	"github.com/replifs/afr/lock"
	"github.com/replifs/afr/xattrop"
)

// FopFunc runs the actual mutating fop against one child, filling in the
// reply the caller wants; it returns the effective errno (post the §4.3
// step-3 retained-on-failure rule), not a raw transport error.
type FopFunc func(ctx context.Context, child int, disp fops.Dispatcher) (fops.XErrno, error)

// Engine drives Records through the five phases, spec §4.2/§4.3.
type Engine struct {
	Children []fops.Dispatcher
	Locks    *lock.Manager
	Arena    *inode.Arena
	Codec    *xattrop.Codec

	EntrylkDomain string
	InodelkDomain string

	sid *shortid.Shortid
}

func NewEngine(children []fops.Dispatcher, locks *lock.Manager, arena *inode.Arena, codec *xattrop.Codec, entrylkDomain, inodelkDomain string) (*Engine, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		return nil, err
	}
	return &Engine{
		Children:      children,
		Locks:         locks,
		Arena:         arena,
		Codec:         codec,
		EntrylkDomain: entrylkDomain,
		InodelkDomain: inodelkDomain,
		sid:           sid,
	}, nil
}

func (e *Engine) newID() string {
	id, err := e.sid.Generate()
	if err != nil {
		return "txn-fallback"
	}
	return id
}

// Run drives one Record through LOCKING -> PRE_OP -> FOP -> POST_OP ->
// UNLOCKING, in that fixed order (spec §4.2). fn performs the actual
// mutating operation against a live child; xattrName selects which
// counter kind's pending xattr to pre/post-op.
func (e *Engine) Run(ctx context.Context, rec *Record, xattrName string, fn FopFunc) error {
	if rec.ID == "" {
		rec.ID = e.newID()
	}

	if err := e.phase(rec, PhaseLocking, func() error { return e.lockPhase(ctx, rec) }); err != nil {
		return err
	}
	defer e.unlockPhase(ctx, rec)

	if err := e.phase(rec, PhasePreOp, func() error { return e.preOpPhase(ctx, rec, xattrName) }); err != nil {
		return err
	}

	if err := e.phase(rec, PhaseFOP, func() error { return e.fopPhase(ctx, rec, fn) }); err != nil {
		return err
	}

	if err := e.phase(rec, PhasePostOp, func() error { return e.postOpPhase(ctx, rec, xattrName) }); err != nil {
		return err
	}

	rec.Phase = PhaseUnlocking
	e.aggregateError(rec)
	e.Arena.BumpGeneration(rec.Parent.GFID)

	result := "ok"
	if rec.AnyError {
		result = "error"
	}
	metrics.TxnTotal.WithLabelValues(result).Inc()

	if rec.AnyError {
		return rec.FirstError
	}
	return nil
}

func (e *Engine) phase(rec *Record, p Phase, fn func() error) error {
	rec.Phase = p
	start := time.Now()
	err := fn()
	metrics.TxnPhaseLatency.WithLabelValues(p.String()).Observe(time.Since(start).Seconds())
	return err
}

func (e *Engine) dispatchers() lock.Dispatchers {
	return lock.Dispatchers(e.Children)
}

func (e *Engine) lockDomain(rec *Record) string {
	switch rec.OpKind.Class() {
	case cmn.ClassEntry, cmn.ClassEntryRename:
		return e.EntrylkDomain
	default:
		return e.InodelkDomain
	}
}

func (e *Engine) lockPhase(ctx context.Context, rec *Record) error {
	key := rec.LockKey(e.lockDomain(rec))
	grants, err := e.Locks.AcquireAll(ctx, e.dispatchers(), rec.Live, key)
	if err != nil {
		return errors.Wrapf(err, "txn %s: acquire %v", rec.ID, key)
	}
	rec.Grants = grants
	return nil
}

func (e *Engine) unlockPhase(ctx context.Context, rec *Record) {
	rec.Phase = PhaseUnlocking
	e.Locks.Release(ctx, e.dispatchers(), rec.Grants)
}

// preOpPhase increments the pending counter for every OTHER configured
// child (0..Codec.N()-1, not just the currently-live set) on each live
// child itself: a down peer must still be blamed, since v[i][j]>0 on child
// i meaning "i observed j hasn't ack'd" is exactly how a reconnecting child
// gets picked up by self-heal (spec §3, boundary B1/E2/E6). A per-child
// failure here is data, not a fan-out abort (mirrors fopPhase below): per
// spec §4.3 step 2, the phase only aborts the whole transaction when ZERO
// children ack PRE_OP; otherwise FOP/POST_OP proceed against whichever
// children did.
func (e *Engine) preOpPhase(ctx context.Context, rec *Record, xattrName string) error {
	n := e.Codec.N()

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, c := range rec.Live {
		c := c
		peers := make(map[int]struct{}, n-1)
		for p := 0; p < n; p++ {
			if p != c {
				peers[p] = struct{}{}
			}
		}
		delta := e.Codec.EncodeIncrement(peers)
		rec.PreOpPending[c] = delta
		g.Go(func() error {
			op := &fops.XattropOp{Name: xattrName, Flag: fops.XattropAddArray, Delta: delta}
			err := e.Children[c].Xattrop(gctx, op)
			mu.Lock()
			if err == nil {
				rec.PreOpOK[c] = true
			} else {
				nlog.Warningf("txn %s: pre-op child %d: %v", rec.ID, c, err)
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait() // nolint:errcheck — per-child errors are recorded in rec.PreOpOK, never returned

	if len(rec.PreOpOK) == 0 {
		return errors.Errorf("txn %s: pre-op acked by zero children", rec.ID)
	}
	return nil
}

// fopPhase dispatches only to children that acked PRE_OP — a child PRE_OP
// failed on never takes part in the FOP, per spec §4.3 step 3.
func (e *Engine) fopPhase(ctx context.Context, rec *Record, fn FopFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu lockedReplies
	mu.replies = rec.Replies
	mu.failed = rec.Failed

	for _, c := range rec.Live {
		if !rec.PreOpOK[c] {
			continue
		}
		c := c
		g.Go(func() error {
			errno, err := fn(gctx, c, e.Children[c])
			mu.set(c, errno, err, rec.OpKind)
			return nil // per-child failure is data, not a fan-out abort
		})
	}
	return g.Wait()
}

// postOpPhase clears pending for every child that acked PRE_OP and
// succeeded the FOP, and — for each such child — only against the peers
// that ALSO succeeded; a peer that failed or never ran the FOP stays
// blamed in that child's vector, which is the mechanism that later marks
// it as a self-heal sink (spec §4.3 step 4).
func (e *Engine) postOpPhase(ctx context.Context, rec *Record, xattrName string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range rec.Live {
		c := c
		if !rec.PreOpOK[c] || rec.Failed[c] {
			continue // leave this child's pending bit set for every peer
		}
		peers := make(map[int]struct{})
		for _, p := range rec.Live {
			if p == c || !rec.PreOpOK[p] || rec.Failed[p] {
				continue // p failed or never ran the FOP: stays blamed
			}
			peers[p] = struct{}{}
		}
		delta := e.Codec.EncodeDecrement(peers)
		g.Go(func() error {
			op := &fops.XattropOp{Name: xattrName, Flag: fops.XattropAddArray, Delta: delta}
			return e.Children[c].Xattrop(gctx, op)
		})
	}
	return g.Wait()
}

func (e *Engine) aggregateError(rec *Record) {
	byChild := make(map[int]cmn.Errno)
	for c, reply := range rec.Replies {
		if reply.Errno == fops.XOK {
			continue
		}
		byChild[c] = toErrno(reply.Errno)
	}
	child, errno, any := cmn.PickFirstError(byChild)
	rec.FirstErrorChild = child
	rec.FirstError = errno
	rec.AnyError = any
	if any {
		nlog.Warningf("txn %s: op=%v first_error=child%d:%v", rec.ID, rec.OpKind, child, errno)
	}
}

func toErrno(x fops.XErrno) cmn.Errno {
	switch x {
	case fops.XENOSPC:
		return cmn.ENOSPC
	case fops.XEDQUOT:
		return cmn.EDQUOT
	case fops.XEROFS:
		return cmn.EROFS
	case fops.XEACCES:
		return cmn.EACCES
	case fops.XEEXIST:
		return cmn.EEXIST
	case fops.XENOENT:
		return cmn.ENOENT
	case fops.XENOTEMPTY:
		return cmn.ENOTEMPTY
	case fops.XENOTCONN:
		return cmn.ENOTCONN
	case fops.XEAGAIN:
		return cmn.EAGAIN
	case fops.XEDEADLK:
		return cmn.EDEADLK
	case fops.XEIO:
		return cmn.EIO
	default:
		return cmn.EOther
	}
}

type lockedReplies struct {
	mu      sync.Mutex
	replies map[int]fops.Reply
	failed  map[int]bool
}

func (l *lockedReplies) set(child int, errno fops.XErrno, err error, opKind cmn.OpKind) {
	reply := fops.Reply{Errno: errno}
	if err != nil {
		reply.Errno = fops.XENOTCONN
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replies[child] = reply
	if reply.Errno != fops.XOK && !cmn.IsRetainedOnFailure(toErrno(reply.Errno), opKind) {
		l.failed[child] = true
	}
}
