package fops

import (
	"context"
	"fmt"
)

// NotImplementedDispatcher can be embedded by a partial backend (e.g. a
// read-only cloud backend) so it only needs to override the methods it
// actually supports, mirroring fuseutil.NotImplementedFileSystem.
type NotImplementedDispatcher struct{}

func (NotImplementedDispatcher) notImplemented(name string) error {
	return fmt.Errorf("fops: %s not implemented", name)
}

func (d NotImplementedDispatcher) Lookup(context.Context, *LookupOp) error { return d.notImplemented("Lookup") }
func (d NotImplementedDispatcher) Stat(context.Context, *StatOp) error     { return d.notImplemented("Stat") }
func (d NotImplementedDispatcher) Fstat(context.Context, *FstatOp) error   { return d.notImplemented("Fstat") }
func (d NotImplementedDispatcher) Access(context.Context, *AccessOp) error { return d.notImplemented("Access") }
func (d NotImplementedDispatcher) Readlink(context.Context, *ReadlinkOp) error {
	return d.notImplemented("Readlink")
}
func (d NotImplementedDispatcher) Truncate(context.Context, *TruncateOp) error {
	return d.notImplemented("Truncate")
}
func (d NotImplementedDispatcher) Ftruncate(context.Context, *FtruncateOp) error {
	return d.notImplemented("Ftruncate")
}
func (d NotImplementedDispatcher) Open(context.Context, *OpenOp) error { return d.notImplemented("Open") }
func (d NotImplementedDispatcher) Opendir(context.Context, *OpendirOp) error {
	return d.notImplemented("Opendir")
}
func (d NotImplementedDispatcher) Create(context.Context, *CreateOp) error { return d.notImplemented("Create") }
func (d NotImplementedDispatcher) Mknod(context.Context, *MknodOp) error   { return d.notImplemented("Mknod") }
func (d NotImplementedDispatcher) Mkdir(context.Context, *MkdirOp) error   { return d.notImplemented("Mkdir") }
func (d NotImplementedDispatcher) Symlink(context.Context, *SymlinkOp) error {
	return d.notImplemented("Symlink")
}
func (d NotImplementedDispatcher) Link(context.Context, *LinkOp) error { return d.notImplemented("Link") }
func (d NotImplementedDispatcher) Rename(context.Context, *RenameOp) error {
	return d.notImplemented("Rename")
}
func (d NotImplementedDispatcher) Unlink(context.Context, *UnlinkOp) error { return d.notImplemented("Unlink") }
func (d NotImplementedDispatcher) Rmdir(context.Context, *RmdirOp) error   { return d.notImplemented("Rmdir") }
func (d NotImplementedDispatcher) Readv(context.Context, *ReadvOp) error   { return d.notImplemented("Readv") }
func (d NotImplementedDispatcher) Writev(context.Context, *WritevOp) error { return d.notImplemented("Writev") }
func (d NotImplementedDispatcher) Fsync(context.Context, *FsyncOp) error   { return d.notImplemented("Fsync") }
func (d NotImplementedDispatcher) Flush(context.Context, *FlushOp) error   { return d.notImplemented("Flush") }
func (d NotImplementedDispatcher) Fsyncdir(context.Context, *FsyncdirOp) error {
	return d.notImplemented("Fsyncdir")
}
func (d NotImplementedDispatcher) Release(context.Context, *ReleaseOp) error {
	return d.notImplemented("Release")
}
func (d NotImplementedDispatcher) Statfs(context.Context, *StatfsOp) error { return d.notImplemented("Statfs") }
func (d NotImplementedDispatcher) Setxattr(context.Context, *SetxattrOp) error {
	return d.notImplemented("Setxattr")
}
func (d NotImplementedDispatcher) Getxattr(context.Context, *GetxattrOp) error {
	return d.notImplemented("Getxattr")
}
func (d NotImplementedDispatcher) Fsetxattr(context.Context, *FsetxattrOp) error {
	return d.notImplemented("Fsetxattr")
}
func (d NotImplementedDispatcher) Fgetxattr(context.Context, *FgetxattrOp) error {
	return d.notImplemented("Fgetxattr")
}
func (d NotImplementedDispatcher) Removexattr(context.Context, *RemovexattrOp) error {
	return d.notImplemented("Removexattr")
}
func (d NotImplementedDispatcher) Fremovexattr(context.Context, *FremovexattrOp) error {
	return d.notImplemented("Fremovexattr")
}
func (d NotImplementedDispatcher) Readdir(context.Context, *ReaddirOp) error {
	return d.notImplemented("Readdir")
}
func (d NotImplementedDispatcher) Readdirp(context.Context, *ReaddirpOp) error {
	return d.notImplemented("Readdirp")
}
func (d NotImplementedDispatcher) Xattrop(context.Context, *XattropOp) error {
	return d.notImplemented("Xattrop")
}
func (d NotImplementedDispatcher) Fxattrop(context.Context, *FxattropOp) error {
	return d.notImplemented("Fxattrop")
}
func (d NotImplementedDispatcher) Setattr(context.Context, *SetattrOp) error {
	return d.notImplemented("Setattr")
}
func (d NotImplementedDispatcher) Fsetattr(context.Context, *FsetattrOp) error {
	return d.notImplemented("Fsetattr")
}
func (d NotImplementedDispatcher) Lk(context.Context, *LkOp) error { return d.notImplemented("Lk") }
func (d NotImplementedDispatcher) Inodelk(context.Context, *InodelkOp) error {
	return d.notImplemented("Inodelk")
}
func (d NotImplementedDispatcher) Finodelk(context.Context, *FinodelkOp) error {
	return d.notImplemented("Finodelk")
}
func (d NotImplementedDispatcher) Entrylk(context.Context, *EntrylkOp) error {
	return d.notImplemented("Entrylk")
}
func (d NotImplementedDispatcher) Fentrylk(context.Context, *FentrylkOp) error {
	return d.notImplemented("Fentrylk")
}
func (d NotImplementedDispatcher) Rchecksum(context.Context, *RchecksumOp) error {
	return d.notImplemented("Rchecksum")
}
func (d NotImplementedDispatcher) Fallocate(context.Context, *FallocateOp) error {
	return d.notImplemented("Fallocate")
}
func (d NotImplementedDispatcher) Discard(context.Context, *DiscardOp) error {
	return d.notImplemented("Discard")
}
func (d NotImplementedDispatcher) Zerofill(context.Context, *ZerofillOp) error {
	return d.notImplemented("Zerofill")
}

var _ Dispatcher = NotImplementedDispatcher{}
