package fops

import (
	"context"
	"os"
)

////////////////////////////////////////////////////////////////////////
// Inode / lookup ops
////////////////////////////////////////////////////////////////////////

type LookupOp struct {
	Loc   Loc
	XData XData
	Reply
}

type StatOp struct {
	Loc Loc
	Reply
}

type FstatOp struct {
	FD    FileHandle
	Reply
}

type AccessOp struct {
	Loc  Loc
	Mode os.FileMode
	Reply
}

type ReadlinkOp struct {
	Loc    Loc
	Target string // filled by backend
	Reply
}

////////////////////////////////////////////////////////////////////////
// Entry (namespace) ops
////////////////////////////////////////////////////////////////////////

type CreateOp struct {
	Loc   Loc
	Mode  os.FileMode
	Flags int
	FD    FileHandle
	Reply
}

type MknodOp struct {
	Loc  Loc
	Mode os.FileMode
	Dev  uint64
	Reply
}

type MkdirOp struct {
	Loc  Loc
	Mode os.FileMode
	Reply
}

type SymlinkOp struct {
	Loc       Loc
	LinkTarget string
	Reply
}

type LinkOp struct {
	Loc       Loc
	TargetGFID GFID
	Reply
}

type RenameOp struct {
	Loc    Loc // (old parent, old basename)
	NewLoc Loc // (new parent, new basename)
	Reply
}

type UnlinkOp struct {
	Loc Loc
	Reply
}

type RmdirOp struct {
	Loc Loc
	Reply
}

////////////////////////////////////////////////////////////////////////
// Open / handle ops
////////////////////////////////////////////////////////////////////////

type FileHandle uint64

type OpenOp struct {
	Loc   Loc
	Flags int
	FD    FileHandle
	Reply
}

type OpendirOp struct {
	Loc Loc
	FD  FileHandle
	Reply
}

type FlushOp struct {
	FD FileHandle
	Reply
}

type FsyncOp struct {
	FD       FileHandle
	DataOnly bool
	Reply
}

type FsyncdirOp struct {
	FD       FileHandle
	DataOnly bool
	Reply
}

type ReleaseOp struct {
	FD FileHandle
	Reply
}

////////////////////////////////////////////////////////////////////////
// Data ops
////////////////////////////////////////////////////////////////////////

type ReadvOp struct {
	FD     FileHandle
	Offset int64
	Size   int
	Data   []byte // filled by backend
	Reply
}

type WritevOp struct {
	FD     FileHandle
	Offset int64
	Data   []byte
	Written int
	Reply
}

type TruncateOp struct {
	Loc  Loc
	Size int64
	Reply
}

type FtruncateOp struct {
	FD   FileHandle
	Size int64
	Reply
}

type FallocateOp struct {
	FD     FileHandle
	Mode   uint32
	Offset int64
	Len    int64
	Reply
}

type DiscardOp struct {
	FD     FileHandle
	Offset int64
	Len    int64
	Reply
}

type ZerofillOp struct {
	FD     FileHandle
	Offset int64
	Len    int64
	Reply
}

type RchecksumOp struct {
	FD     FileHandle
	Offset int64
	Len    int64
	Sum    uint64 // filled by a backend that implements Rchecksum (none in subvol does)
	Reply
}

////////////////////////////////////////////////////////////////////////
// Directory listing
////////////////////////////////////////////////////////////////////////

type ReaddirOp struct {
	FD      FileHandle
	Offset  int64
	Entries []DirEntry
	Reply
}

type ReaddirpOp struct {
	FD      FileHandle
	Offset  int64
	Entries []DirEntry
	Stats   []Stat
	Reply
}

////////////////////////////////////////////////////////////////////////
// Metadata / xattr
////////////////////////////////////////////////////////////////////////

type SetattrOp struct {
	Loc   Loc
	Stat  Stat
	Valid AttrMask
	Reply
}

type FsetattrOp struct {
	FD    FileHandle
	Stat  Stat
	Valid AttrMask
	Reply
}

type AttrMask uint32

const (
	AttrMode AttrMask = 1 << iota
	AttrUID
	AttrGID
	AttrSize
	AttrAtime
	AttrMtime
)

type SetxattrOp struct {
	Loc   Loc
	Name  string
	Value []byte
	Reply
}

type FsetxattrOp struct {
	FD    FileHandle
	Name  string
	Value []byte
	Reply
}

type GetxattrOp struct {
	Loc   Loc
	Name  string
	Value []byte // filled by backend
	Reply
}

type FgetxattrOp struct {
	FD    FileHandle
	Name  string
	Value []byte
	Reply
}

type RemovexattrOp struct {
	Loc  Loc
	Name string
	Reply
}

type FremovexattrOp struct {
	FD   FileHandle
	Name string
	Reply
}

// XattropFlag selects the atomic read-modify-write mode (spec §6:
// "xattrop ADD_ARRAY is the atomic read-modify-write primitive").
type XattropFlag int

const (
	XattropAddArray XattropFlag = iota
	XattropGetAndSet
)

type XattropOp struct {
	Loc   Loc
	Name  string
	Flag  XattropFlag
	Delta []byte // N-element encoded vector to add
	Result []byte // resulting vector, filled by backend
	Reply
}

type FxattropOp struct {
	FD    FileHandle
	Name  string
	Flag  XattropFlag
	Delta []byte
	Result []byte
	Reply
}

type StatfsOp struct {
	Loc Loc
	Blocks, BlocksFree, BlocksAvail uint64
	Files, FilesFree                uint64
	Reply
}

////////////////////////////////////////////////////////////////////////
// Locks (§6 lock interface)
////////////////////////////////////////////////////////////////////////

type LockType int

const (
	LockUnlock LockType = iota
	LockRead
	LockWrite
)

type LkOp struct {
	FD     FileHandle
	Owner  uint64
	Type   LockType
	Offset int64
	Len    int64
	Block  bool
	Reply
}

// InodelkOp locks a byte-range of an inode under a named domain (spec §6:
// "volume is an opaque domain string that partitions lock namespaces").
type InodelkOp struct {
	Domain string
	GFID   GFID
	Type   LockType
	Offset int64
	Len    int64
	Block  bool
	Reply
}

type FinodelkOp struct {
	Domain string
	FD     FileHandle
	Type   LockType
	Offset int64
	Len    int64
	Block  bool
	Reply
}

type EntrylkOp struct {
	Domain   string
	Parent   GFID
	Basename string
	Type     LockType
	Block    bool
	Reply
}

type FentrylkOp struct {
	Domain   string
	FD       FileHandle
	Basename string
	Type     LockType
	Block    bool
	Reply
}

// Dispatcher is the full downstream fop interface a child subvolume must
// satisfy, spec §6. Every method takes ctx for cancellation/timeout and the
// request-specific op struct, and mutates that struct's embedded Reply in
// place — errors are communicated via Reply.Errno, not the Go error return,
// except for transport-level failures (down child, timeout) which do return
// a Go error so the caller can distinguish "no reply" from "replied with an
// errno".
type Dispatcher interface {
	Lookup(ctx context.Context, op *LookupOp) error
	Stat(ctx context.Context, op *StatOp) error
	Fstat(ctx context.Context, op *FstatOp) error
	Access(ctx context.Context, op *AccessOp) error
	Readlink(ctx context.Context, op *ReadlinkOp) error
	Truncate(ctx context.Context, op *TruncateOp) error
	Ftruncate(ctx context.Context, op *FtruncateOp) error
	Open(ctx context.Context, op *OpenOp) error
	Opendir(ctx context.Context, op *OpendirOp) error
	Create(ctx context.Context, op *CreateOp) error
	Mknod(ctx context.Context, op *MknodOp) error
	Mkdir(ctx context.Context, op *MkdirOp) error
	Symlink(ctx context.Context, op *SymlinkOp) error
	Link(ctx context.Context, op *LinkOp) error
	Rename(ctx context.Context, op *RenameOp) error
	Unlink(ctx context.Context, op *UnlinkOp) error
	Rmdir(ctx context.Context, op *RmdirOp) error
	Readv(ctx context.Context, op *ReadvOp) error
	Writev(ctx context.Context, op *WritevOp) error
	Fsync(ctx context.Context, op *FsyncOp) error
	Flush(ctx context.Context, op *FlushOp) error
	Fsyncdir(ctx context.Context, op *FsyncdirOp) error
	Release(ctx context.Context, op *ReleaseOp) error
	Statfs(ctx context.Context, op *StatfsOp) error
	Setxattr(ctx context.Context, op *SetxattrOp) error
	Getxattr(ctx context.Context, op *GetxattrOp) error
	Fsetxattr(ctx context.Context, op *FsetxattrOp) error
	Fgetxattr(ctx context.Context, op *FgetxattrOp) error
	Removexattr(ctx context.Context, op *RemovexattrOp) error
	Fremovexattr(ctx context.Context, op *FremovexattrOp) error
	Readdir(ctx context.Context, op *ReaddirOp) error
	Readdirp(ctx context.Context, op *ReaddirpOp) error
	Xattrop(ctx context.Context, op *XattropOp) error
	Fxattrop(ctx context.Context, op *FxattropOp) error
	Setattr(ctx context.Context, op *SetattrOp) error
	Fsetattr(ctx context.Context, op *FsetattrOp) error
	Lk(ctx context.Context, op *LkOp) error
	Inodelk(ctx context.Context, op *InodelkOp) error
	Finodelk(ctx context.Context, op *FinodelkOp) error
	Entrylk(ctx context.Context, op *EntrylkOp) error
	Fentrylk(ctx context.Context, op *FentrylkOp) error
	Rchecksum(ctx context.Context, op *RchecksumOp) error
	Fallocate(ctx context.Context, op *FallocateOp) error
	Discard(ctx context.Context, op *DiscardOp) error
	Zerofill(ctx context.Context, op *ZerofillOp) error
}
