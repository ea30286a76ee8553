package subvol

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/detailyang/go-fallocate"
	"github.com/jacobsa/timeutil"
	"github.com/lufia/iostat"
	"golang.org/x/sys/unix"

	"github.com/replifs/afr/cmn/nlog"
	"github.com/replifs/afr/fops"
)

// LocalDisk is the real-syscall CSH backend: each GFID is a flat file under
// root/objects/, with the changelog/pending vectors and other metadata
// carried as real extended attributes on that file (golang.org/x/sys/unix),
// matching how the original system stores AFR's pending xattrs directly on
// the brick filesystem.
type LocalDisk struct {
	name string
	root string

	mu      sync.Mutex
	byFD    map[fops.FileHandle]*os.File
	nextFD  fops.FileHandle
	dirents map[fops.GFID]map[string]fops.GFID // parent -> basename -> child gfid

	locks *lockTable

	// Clock is injectable so atime/mtime-sensitive tests (heal metadata
	// sync, GFID stamping) don't depend on wall-clock timing.
	Clock timeutil.Clock

	// Mountpoint names the device iostat should sample for this disk's
	// liveness signal; empty disables the sample (e.g. in tests).
	Mountpoint string

	fops.NotImplementedDispatcher
}

func NewLocalDisk(name, root string) (*LocalDisk, error) {
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o755); err != nil {
		return nil, err
	}
	return &LocalDisk{
		name:    name,
		root:    root,
		byFD:    make(map[fops.FileHandle]*os.File),
		dirents: make(map[fops.GFID]map[string]fops.GFID),
		locks:   newLockTable(),
		Clock:   timeutil.RealClock(),
	}, nil
}

func (d *LocalDisk) Name() string { return d.name }

// Root returns the local filesystem root backing this child, for callers
// that need to crawl it directly (the background self-heal scheduler).
func (d *LocalDisk) Root() string { return d.root }

// Ping reports the disk unusable if the root path is gone, and additionally
// samples iostat counters when Mountpoint is set so a caller logging child
// health can see a device stalled on I/O even while still statable.
func (d *LocalDisk) Ping(ctx context.Context) error {
	if _, err := os.Stat(d.root); err != nil {
		return err
	}
	if d.Mountpoint == "" {
		return nil
	}
	stats, err := iostat.ReadDriveStats()
	if err != nil {
		nlog.Warningf("subvol %s: iostat sample failed: %v", d.name, err)
		return nil
	}
	for _, s := range stats {
		if s.Name == d.Mountpoint {
			if nlog.V(2) {
				nlog.Infof("subvol %s: iostat %s read=%d write=%d", d.name, s.Name, s.ReadCount, s.WriteCount)
			}
			break
		}
	}
	return nil
}

func (d *LocalDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for _, f := range d.byFD {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (d *LocalDisk) path(gfid fops.GFID) string {
	return filepath.Join(d.root, "objects", gfid.String())
}

func xerrnoFromErr(err error) fops.XErrno {
	switch {
	case err == nil:
		return fops.XOK
	case os.IsNotExist(err):
		return fops.XENOENT
	case os.IsExist(err):
		return fops.XEEXIST
	case os.IsPermission(err):
		return fops.XEACCES
	default:
		return fops.XEIO
	}
}

func (d *LocalDisk) resolve(loc fops.Loc) (fops.GFID, bool) {
	if loc.Basename == "" {
		return loc.GFID, true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	children, ok := d.dirents[loc.Parent]
	if !ok {
		return fops.GFID{}, false
	}
	g, ok := children[loc.Basename]
	return g, ok
}

func (d *LocalDisk) Lookup(ctx context.Context, op *fops.LookupOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	fi, err := os.Stat(d.path(gfid))
	if err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	op.Reply.Stat = statFromFileInfo(gfid, fi)
	return nil
}

func (d *LocalDisk) Stat(ctx context.Context, op *fops.StatOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	fi, err := os.Stat(d.path(gfid))
	if err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	op.Reply.Stat = statFromFileInfo(gfid, fi)
	return nil
}

func (d *LocalDisk) Create(ctx context.Context, op *fops.CreateOp) error {
	gfid := d.newGFID()
	f, err := os.OpenFile(d.path(gfid), os.O_CREATE|os.O_EXCL|os.O_RDWR, op.Mode.Perm())
	if err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	d.mu.Lock()
	d.nextFD++
	fd := d.nextFD
	d.byFD[fd] = f
	if d.dirents[op.Loc.Parent] == nil {
		d.dirents[op.Loc.Parent] = make(map[string]fops.GFID)
	}
	d.dirents[op.Loc.Parent][op.Loc.Basename] = gfid
	d.mu.Unlock()

	op.FD = fd
	op.Reply.Stat = fops.Stat{GFID: gfid, Mode: op.Mode}
	return nil
}

func (d *LocalDisk) Mkdir(ctx context.Context, op *fops.MkdirOp) error {
	gfid := d.newGFID()
	if err := os.MkdirAll(d.path(gfid), op.Mode.Perm()); err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	d.mu.Lock()
	if d.dirents[op.Loc.Parent] == nil {
		d.dirents[op.Loc.Parent] = make(map[string]fops.GFID)
	}
	d.dirents[op.Loc.Parent][op.Loc.Basename] = gfid
	d.mu.Unlock()
	op.Reply.Stat = fops.Stat{GFID: gfid, Mode: op.Mode | os.ModeDir}
	return nil
}

func (d *LocalDisk) Unlink(ctx context.Context, op *fops.UnlinkOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	if err := os.Remove(d.path(gfid)); err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	d.mu.Lock()
	delete(d.dirents[op.Loc.Parent], op.Loc.Basename)
	d.mu.Unlock()
	return nil
}

func (d *LocalDisk) Rmdir(ctx context.Context, op *fops.RmdirOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	if err := os.Remove(d.path(gfid)); err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	d.mu.Lock()
	delete(d.dirents[op.Loc.Parent], op.Loc.Basename)
	d.mu.Unlock()
	return nil
}

func (d *LocalDisk) Open(ctx context.Context, op *fops.OpenOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	f, err := os.OpenFile(d.path(gfid), toOSFlags(op.Flags), 0o644)
	if err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	d.mu.Lock()
	d.nextFD++
	fd := d.nextFD
	d.byFD[fd] = f
	d.mu.Unlock()
	op.FD = fd
	return nil
}

func (d *LocalDisk) Release(ctx context.Context, op *fops.ReleaseOp) error {
	d.mu.Lock()
	f, ok := d.byFD[op.FD]
	delete(d.byFD, op.FD)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return f.Close()
}

func (d *LocalDisk) Readv(ctx context.Context, op *fops.ReadvOp) error {
	d.mu.Lock()
	f, ok := d.byFD[op.FD]
	d.mu.Unlock()
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	buf := make([]byte, op.Size)
	n, err := f.ReadAt(buf, op.Offset)
	if err != nil && err != io.EOF {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	op.Data = buf[:n]
	return nil
}

func (d *LocalDisk) Writev(ctx context.Context, op *fops.WritevOp) error {
	d.mu.Lock()
	f, ok := d.byFD[op.FD]
	d.mu.Unlock()
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	n, err := f.WriteAt(op.Data, op.Offset)
	if err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	op.Written = n
	return nil
}

func (d *LocalDisk) Ftruncate(ctx context.Context, op *fops.FtruncateOp) error {
	d.mu.Lock()
	f, ok := d.byFD[op.FD]
	d.mu.Unlock()
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	if err := f.Truncate(op.Size); err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
	}
	return nil
}

func (d *LocalDisk) Fsync(ctx context.Context, op *fops.FsyncOp) error {
	d.mu.Lock()
	f, ok := d.byFD[op.FD]
	d.mu.Unlock()
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	if err := f.Sync(); err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
	}
	return nil
}

// Fallocate uses detailyang/go-fallocate to reserve space without writing
// zeros, the real fallocate(2) semantics the original source exposes
// through this fop.
func (d *LocalDisk) Fallocate(ctx context.Context, op *fops.FallocateOp) error {
	d.mu.Lock()
	f, ok := d.byFD[op.FD]
	d.mu.Unlock()
	if !ok {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	if err := fallocate.Fallocate(f, op.Offset, op.Len); err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
	}
	return nil
}

func (d *LocalDisk) Setattr(ctx context.Context, op *fops.SetattrOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	path := d.path(gfid)
	if op.Valid&fops.AttrMode != 0 {
		if err := os.Chmod(path, op.Stat.Mode.Perm()); err != nil {
			op.Reply.Errno = xerrnoFromErr(err)
			return nil
		}
	}
	if op.Valid&(fops.AttrUID|fops.AttrGID) != 0 {
		if err := os.Chown(path, int(op.Stat.Uid), int(op.Stat.Gid)); err != nil {
			op.Reply.Errno = xerrnoFromErr(err)
			return nil
		}
	}
	if op.Valid&(fops.AttrAtime|fops.AttrMtime) != 0 {
		if err := os.Chtimes(path, op.Stat.Atime, op.Stat.Mtime); err != nil {
			op.Reply.Errno = xerrnoFromErr(err)
			return nil
		}
	}
	return nil
}

// Getxattr/Setxattr/Xattrop read real extended attributes via
// golang.org/x/sys/unix, the mechanism the pending vectors actually ride
// on in production (spec §6: "xattrop ADD_ARRAY is the atomic
// read-modify-write primitive").
func (d *LocalDisk) Getxattr(ctx context.Context, op *fops.GetxattrOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	buf := make([]byte, 256)
	n, err := unix.Getxattr(d.path(gfid), op.Name, buf)
	if err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	op.Value = buf[:n]
	return nil
}

func (d *LocalDisk) Setxattr(ctx context.Context, op *fops.SetxattrOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	if err := unix.Setxattr(d.path(gfid), op.Name, op.Value, 0); err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
	}
	return nil
}

// Xattrop performs the atomic read-modify-write against the real xattr
// using this backend's own lock table entry as the serialization point
// (a single LocalDisk process has no concurrent external writer, so a
// mutex is sufficient — a networked child would need a real CAS).
func (d *LocalDisk) Xattrop(ctx context.Context, op *fops.XattropOp) error {
	gfid, ok := d.resolve(op.Loc)
	if !ok {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	key := lockKey{domain: "xattrop", gfid: gfid}
	d.locks.lock(key)
	defer d.locks.unlock(key)

	path := d.path(gfid)
	buf := make([]byte, len(op.Delta))
	n, err := unix.Getxattr(path, op.Name, buf)
	if err != nil && !os.IsNotExist(err) {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	existing := buf[:n]
	if len(existing) != len(op.Delta) {
		existing = make([]byte, len(op.Delta))
	}
	merged := make([]byte, len(op.Delta))
	for i := 0; i+8 <= len(op.Delta); i += 8 {
		a := int64(binary.BigEndian.Uint64(existing[i : i+8]))
		b := int64(binary.BigEndian.Uint64(op.Delta[i : i+8]))
		sum := a + b
		if sum < 0 {
			sum = 0
		}
		binary.BigEndian.PutUint64(merged[i:i+8], uint64(sum))
	}
	if err := unix.Setxattr(path, op.Name, merged, 0); err != nil {
		op.Reply.Errno = xerrnoFromErr(err)
		return nil
	}
	op.Result = merged
	return nil
}

func (d *LocalDisk) Inodelk(ctx context.Context, op *fops.InodelkOp) error {
	key := lockKey{domain: op.Domain, gfid: op.GFID}
	return d.doLock(key, op.Type, op.Block, &op.Reply)
}

func (d *LocalDisk) Entrylk(ctx context.Context, op *fops.EntrylkOp) error {
	key := lockKey{domain: op.Domain, gfid: op.Parent, basename: op.Basename}
	return d.doLock(key, op.Type, op.Block, &op.Reply)
}

func (d *LocalDisk) doLock(key lockKey, t fops.LockType, block bool, reply *fops.Reply) error {
	switch t {
	case fops.LockUnlock:
		d.locks.unlock(key)
	case fops.LockRead, fops.LockWrite:
		if block {
			d.locks.lock(key)
		} else if !d.locks.tryLock(key) {
			reply.Errno = fops.XEAGAIN
		}
	}
	return nil
}

func statFromFileInfo(gfid fops.GFID, fi os.FileInfo) fops.Stat {
	return fops.Stat{
		GFID:  gfid,
		Size:  fi.Size(),
		Mode:  fi.Mode(),
		Mtime: fi.ModTime(),
	}
}

func toOSFlags(flags int) int {
	return flags | os.O_RDWR
}

var gfidCounter uint64

func (d *LocalDisk) newGFID() fops.GFID {
	gfidCounter++
	var g fops.GFID
	binary.BigEndian.PutUint64(g[8:], gfidCounter)
	binary.BigEndian.PutUint64(g[:8], uint64(d.Clock.Now().UnixNano()))
	return g
}
