package heal

import (
	"bytes"
	"context"
	"io"

	"github.com/OneOfOne/xxhash"
	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"

	"github.com/replifs/afr/cmn/metrics"
	"github.com/replifs/afr/cmn/nlog"
	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/inode"
	"github.com/replifs/afr/lock"
	"github.com/replifs/afr/xattrop"
)

const maxChunk = 4 << 20 // bounded chunk size, spec §4.5 step 6b "saturated to an implementation maximum"

// Engine runs the ten-step heal procedure of spec §4.5 for one inode, one
// counter kind at a time.
type Engine struct {
	Children []fops.Dispatcher
	Arena    *inode.Arena
	Locks    *lock.Manager
	Codec    *xattrop.Codec

	InodelkDomain string
	EntrylkDomain string

	// Compress enables lz4 framing of the source->sink content stream
	// (spec §11 domain-stack wiring of pierrec/lz4).
	Compress bool
}

func NewEngine(children []fops.Dispatcher, arena *inode.Arena, locks *lock.Manager, codec *xattrop.Codec, inodelkDomain, entrylkDomain string) *Engine {
	return &Engine{
		Children:      children,
		Arena:         arena,
		Locks:         locks,
		Codec:         codec,
		InodelkDomain: inodelkDomain,
		EntrylkDomain: entrylkDomain,
	}
}

// Request names one heal trigger (spec §4.5: "explicit request, lookup that
// observed a non-zero pending matrix, RSS that produced EIO, ER after a
// child returns up").
type Request struct {
	GFID     fops.GFID
	Parent   fops.GFID
	Basename string
	Up       []int
}

// Result summarizes the outcome for diagnostics and backlog bookkeeping.
type Result struct {
	Kind       xattrop.Kind
	SplitBrain bool
	Healed     bool
	Skipped    []int
}

// RunInode serializes per-inode heal via the arena's healing flag (spec
// §4.5: "only one heal per inode progresses at a time") and runs every
// counter kind independently, each kind's failure isolated from the others
// (spec §4.5 step 3: "Other counter kinds may proceed independently").
func (e *Engine) RunInode(ctx context.Context, req Request) ([]Result, error) {
	if !e.Arena.TryStartHeal(req.GFID) {
		return nil, nil // another heal already in flight for this inode
	}
	kinds := []xattrop.Kind{xattrop.KindData, xattrop.KindMetadata, xattrop.KindEntry}
	results := make([]Result, 0, len(kinds))
	defer func() { e.Arena.FinishHeal(req.GFID, allHealed(results)) }()

	for _, k := range kinds {
		r, err := e.runKind(ctx, req, k)
		if err != nil {
			nlog.Warningf("heal: gfid=%s kind=%s: %v", req.GFID, k, err)
			r = Result{Kind: k}
		}
		results = append(results, r)
	}
	return results, nil
}

// allHealed reports whether every counter kind finished healed, the
// condition under which the inode's NeedHeal flag is cleared.
func allHealed(results []Result) bool {
	for _, r := range results {
		if !r.Healed {
			return false
		}
	}
	return len(results) > 0
}

func (e *Engine) runKind(ctx context.Context, req Request, kind xattrop.Kind) (Result, error) {
	blobs, err := e.fetchPending(ctx, req.GFID, kind.XattrName(), req.Up)
	if err != nil {
		return Result{}, err
	}
	matrix, err := BuildMatrix(e.Codec, kind, blobs, req.Up)
	if err != nil {
		return Result{}, err
	}
	cls := Classify(matrix, req.Up)
	if cls.SplitBrain {
		nlog.Errorf("heal: split brain gfid=%s kind=%s matrix=%s", req.GFID, kind, matrix)
		return Result{Kind: kind, SplitBrain: true}, nil
	}
	if cls.AllClean {
		return Result{Kind: kind, Healed: true}, nil
	}
	src, ok := PickSource(cls)
	if !ok {
		return Result{Kind: kind}, errors.New("heal: no source selected")
	}

	key := e.lockKeyFor(req, kind)
	grants, err := e.Locks.AcquireAll(ctx, lock.Dispatchers(e.Children), req.Up, key)
	if err != nil {
		return Result{}, err
	}
	defer e.Locks.Release(ctx, lock.Dispatchers(e.Children), grants)

	var skipped []int
	switch kind {
	case xattrop.KindData:
		skipped, err = e.syncContent(ctx, req.GFID, src, cls.Sinks)
	case xattrop.KindMetadata:
		skipped, err = e.syncMetadata(ctx, req.GFID, src, cls.Sinks)
	case xattrop.KindEntry:
		skipped, err = e.syncEntry(ctx, req, src, cls.Sinks)
	}
	if err != nil {
		return Result{}, err
	}

	if err := e.clearPending(ctx, req.GFID, kind.XattrName(), req.Up, cls.Sinks, skipped); err != nil {
		return Result{}, err
	}

	return Result{Kind: kind, Healed: len(skipped) == 0, Skipped: skipped}, nil
}

func (e *Engine) lockKeyFor(req Request, kind xattrop.Kind) lock.Key {
	switch kind {
	case xattrop.KindEntry:
		return lock.Key{Domain: e.EntrylkDomain, GFID: req.Parent, Basename: req.Basename}
	default:
		return lock.Key{Domain: e.InodelkDomain, GFID: req.GFID}
	}
}

func (e *Engine) fetchPending(ctx context.Context, gfid fops.GFID, xattrName string, up []int) (map[int][]byte, error) {
	out := make(map[int][]byte, len(up))
	for _, i := range up {
		op := &fops.GetxattrOp{Loc: fops.Loc{GFID: gfid}, Name: xattrName}
		if err := e.Children[i].Getxattr(ctx, op); err != nil {
			continue // treat as transiently down, not fatal to the whole matrix build
		}
		if op.Reply.Errno != fops.XOK {
			continue
		}
		out[i] = op.Value
	}
	return out, nil
}

// syncContent implements spec §4.5 step 6: stream src's content to every
// sink in bounded chunks, tolerating individual sink failures, then
// truncate any sink left larger than src.
func (e *Engine) syncContent(ctx context.Context, gfid fops.GFID, src int, sinks []int) ([]int, error) {
	statOp := &fops.StatOp{Loc: fops.Loc{GFID: gfid}}
	if err := e.Children[src].Stat(ctx, statOp); err != nil {
		return sinks, err
	}
	size := statOp.Reply.Stat.Size

	openSrc := &fops.OpenOp{Loc: fops.Loc{GFID: gfid}, Flags: 0}
	if err := e.Children[src].Open(ctx, openSrc); err != nil {
		return sinks, err
	}
	defer e.Children[src].Release(ctx, &fops.ReleaseOp{FD: openSrc.FD})

	sinkFDs := make(map[int]fops.FileHandle)
	bad := make(map[int]bool)
	for _, s := range sinks {
		openSink := &fops.OpenOp{Loc: fops.Loc{GFID: gfid}, Flags: 0}
		if err := e.Children[s].Open(ctx, openSink); err != nil || openSink.Reply.Errno != fops.XOK {
			bad[s] = true
			continue
		}
		sinkFDs[s] = openSink.FD
	}
	defer func() {
		for s, fd := range sinkFDs {
			e.Children[s].Release(ctx, &fops.ReleaseOp{FD: fd})
		}
	}()

	var offset int64
	hasher := xxhash.New64()
	for offset < size {
		chunkLen := int64(maxChunk)
		if size-offset < chunkLen {
			chunkLen = size - offset
		}
		readOp := &fops.ReadvOp{FD: openSrc.FD, Offset: offset, Size: int(chunkLen)}
		if err := e.Children[src].Readv(ctx, readOp); err != nil || readOp.Reply.Errno != fops.XOK {
			return sinks, errors.Wrapf(err, "heal: read source chunk at %d", offset)
		}
		if len(readOp.Data) == 0 {
			break
		}
		hasher.Write(readOp.Data)

		payload := readOp.Data
		if e.Compress {
			payload = lz4Compress(readOp.Data)
		}
		for s, fd := range sinkFDs {
			if bad[s] {
				continue
			}
			data := payload
			if e.Compress {
				var err error
				data, err = lz4Decompress(payload)
				if err != nil {
					bad[s] = true
					continue
				}
			}
			writeOp := &fops.WritevOp{FD: fd, Offset: offset, Data: data}
			if err := e.Children[s].Writev(ctx, writeOp); err != nil || writeOp.Reply.Errno != fops.XOK {
				bad[s] = true
			}
		}
		offset += int64(len(readOp.Data))
		metrics.HealBytesTotal.Add(float64(len(readOp.Data)))
	}

	// Verify via rchecksum where the backend supports it; a mismatch marks
	// the sink bad without aborting the rest (spec §4.5 step 6c).
	for s, fd := range sinkFDs {
		if bad[s] {
			continue
		}
		sumOp := &fops.RchecksumOp{FD: fd, Offset: 0, Len: size}
		if err := e.Children[s].Rchecksum(ctx, sumOp); err == nil && sumOp.Reply.Errno == fops.XOK {
			if sumOp.Sum != hasher.Sum64() {
				bad[s] = true
			}
		}
	}

	for s, fd := range sinkFDs {
		if bad[s] {
			continue
		}
		truncOp := &fops.FtruncateOp{FD: fd, Size: size}
		_ = e.Children[s].Ftruncate(ctx, truncOp)
		_ = e.Children[s].Fsync(ctx, &fops.FsyncOp{FD: fd})
	}

	var skipped []int
	for _, s := range sinks {
		if bad[s] {
			skipped = append(skipped, s)
		}
	}
	return skipped, nil
}

// syncMetadata implements spec §4.5 step 7: copy mode/owner/times from src.
func (e *Engine) syncMetadata(ctx context.Context, gfid fops.GFID, src int, sinks []int) ([]int, error) {
	statOp := &fops.StatOp{Loc: fops.Loc{GFID: gfid}}
	if err := e.Children[src].Stat(ctx, statOp); err != nil {
		return sinks, err
	}
	st := statOp.Reply.Stat

	var skipped []int
	for _, s := range sinks {
		setOp := &fops.SetattrOp{
			Loc:   fops.Loc{GFID: gfid},
			Stat:  st,
			Valid: fops.AttrMode | fops.AttrUID | fops.AttrGID | fops.AttrAtime | fops.AttrMtime,
		}
		if err := e.Children[s].Setattr(ctx, setOp); err != nil || setOp.Reply.Errno != fops.XOK {
			skipped = append(skipped, s)
		}
	}
	return skipped, nil
}

// syncEntry implements spec §4.5 step 8: recreate or remove the named
// entry under the locked parent so every sink agrees with src.
func (e *Engine) syncEntry(ctx context.Context, req Request, src int, sinks []int) ([]int, error) {
	lookupSrc := &fops.LookupOp{Loc: fops.Loc{Parent: req.Parent, Basename: req.Basename}}
	srcErr := e.Children[src].Lookup(ctx, lookupSrc)
	srcHas := srcErr == nil && lookupSrc.Reply.Errno == fops.XOK

	var skipped []int
	for _, s := range sinks {
		lookupSink := &fops.LookupOp{Loc: fops.Loc{Parent: req.Parent, Basename: req.Basename}}
		_ = e.Children[s].Lookup(ctx, lookupSink)
		sinkHas := lookupSink.Reply.Errno == fops.XOK

		switch {
		case srcHas && !sinkHas:
			op := &fops.MknodOp{Loc: fops.Loc{Parent: req.Parent, Basename: req.Basename}, Mode: lookupSrc.Reply.Stat.Mode}
			if err := e.Children[s].Mknod(ctx, op); err != nil || op.Reply.Errno != fops.XOK {
				skipped = append(skipped, s)
			}
		case !srcHas && sinkHas:
			op := &fops.UnlinkOp{Loc: fops.Loc{Parent: req.Parent, Basename: req.Basename}}
			if err := e.Children[s].Unlink(ctx, op); err != nil || op.Reply.Errno != fops.XOK {
				skipped = append(skipped, s)
			}
		}
	}
	return skipped, nil
}

// clearPending implements spec §4.5 step 9: decrement every up child's
// pending xattr for every sink that completed without error, leaving
// skipped sinks' entries set for retry.
func (e *Engine) clearPending(ctx context.Context, gfid fops.GFID, xattrName string, up, sinks, skipped []int) error {
	skip := make(map[int]bool, len(skipped))
	for _, s := range skipped {
		skip[s] = true
	}
	healed := make(map[int]struct{})
	for _, s := range sinks {
		if !skip[s] {
			healed[s] = struct{}{}
		}
	}
	if len(healed) == 0 {
		return nil
	}
	delta := e.Codec.EncodeDecrement(healed)
	for _, i := range up {
		op := &fops.XattropOp{Loc: fops.Loc{GFID: gfid}, Name: xattrName, Flag: fops.XattropAddArray, Delta: delta}
		if err := e.Children[i].Xattrop(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func lz4Compress(p []byte) []byte {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, _ = w.Write(p)
	_ = w.Close()
	return buf.Bytes()
}

func lz4Decompress(p []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(p))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}
