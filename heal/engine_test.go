package heal

import (
	"context"
	"sync"
	"testing"

	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/inode"
	"github.com/replifs/afr/lock"
	"github.com/replifs/afr/xattrop"
)

// fakeChild is a tiny in-memory backend sufficient to drive content,
// metadata, and pending-xattr sync through Engine.
type fakeChild struct {
	fops.NotImplementedDispatcher
	mu      sync.Mutex
	data    []byte
	xattr   map[string][]byte
	stat    fops.Stat
	exists  bool
}

func newFakeChild(codec *xattrop.Codec, content string) *fakeChild {
	return &fakeChild{
		data:   []byte(content),
		xattr:  map[string][]byte{xattrop.KindData.XattrName(): codec.Zero(), xattrop.KindMetadata.XattrName(): codec.Zero(), xattrop.KindEntry.XattrName(): codec.Zero()},
		stat:   fops.Stat{Size: int64(len(content))},
		exists: true,
	}
}

func (c *fakeChild) Inodelk(ctx context.Context, op *fops.InodelkOp) error  { return nil }
func (c *fakeChild) Entrylk(ctx context.Context, op *fops.EntrylkOp) error  { return nil }

func (c *fakeChild) Getxattr(ctx context.Context, op *fops.GetxattrOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	op.Value = append([]byte(nil), c.xattr[op.Name]...)
	return nil
}

func (c *fakeChild) Xattrop(ctx context.Context, op *fops.XattropOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	codec := xattrop.New(2)
	merged, err := codec.Merge(c.xattr[op.Name], op.Delta)
	if err != nil {
		return err
	}
	c.xattr[op.Name] = merged
	op.Result = merged
	return nil
}

func (c *fakeChild) Stat(ctx context.Context, op *fops.StatOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	op.Reply.Stat = c.stat
	return nil
}

func (c *fakeChild) Open(ctx context.Context, op *fops.OpenOp) error {
	op.FD = 1
	return nil
}
func (c *fakeChild) Release(ctx context.Context, op *fops.ReleaseOp) error { return nil }

func (c *fakeChild) Readv(ctx context.Context, op *fops.ReadvOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := op.Offset + int64(op.Size)
	if end > int64(len(c.data)) {
		end = int64(len(c.data))
	}
	if op.Offset >= int64(len(c.data)) {
		op.Data = nil
		return nil
	}
	op.Data = append([]byte(nil), c.data[op.Offset:end]...)
	return nil
}

func (c *fakeChild) Writev(ctx context.Context, op *fops.WritevOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := op.Offset + int64(len(op.Data))
	if int64(len(c.data)) < end {
		grown := make([]byte, end)
		copy(grown, c.data)
		c.data = grown
	}
	copy(c.data[op.Offset:end], op.Data)
	c.stat.Size = int64(len(c.data))
	return nil
}

func (c *fakeChild) Ftruncate(ctx context.Context, op *fops.FtruncateOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int64(len(c.data)) > op.Size {
		c.data = c.data[:op.Size]
	}
	c.stat.Size = op.Size
	return nil
}

func (c *fakeChild) Fsync(ctx context.Context, op *fops.FsyncOp) error { return nil }

func (c *fakeChild) Rchecksum(ctx context.Context, op *fops.RchecksumOp) error {
	op.Reply.Errno = fops.XEIO // backend doesn't support it; engine should tolerate
	return nil
}

func (c *fakeChild) Setattr(ctx context.Context, op *fops.SetattrOp) error { return nil }

func TestRunInodeHealsDataAfterReconnect(t *testing.T) {
	codec := xattrop.New(2)
	c0 := newFakeChild(codec, "hello world")
	c1 := newFakeChild(codec, "")

	// child 0 recorded +1 against child 1 while child 1 was down (spec B1).
	c0.xattr[xattrop.KindData.XattrName()] = codec.EncodeIncrement(map[int]struct{}{1: {}})

	children := []fops.Dispatcher{c0, c1}
	arena := inode.NewArena()
	e := NewEngine(children, arena, lock.NewManager(), codec, "afr.heal", "afr.heal")

	req := Request{GFID: fops.GFID{1}, Up: []int{0, 1}}
	results, err := e.RunInode(context.Background(), req)
	if err != nil {
		t.Fatalf("RunInode: %v", err)
	}

	var dataResult *Result
	for i := range results {
		if results[i].Kind == xattrop.KindData {
			dataResult = &results[i]
		}
	}
	if dataResult == nil || !dataResult.Healed {
		t.Fatalf("want data heal to complete, got %+v", results)
	}
	if string(c1.data) != "hello world" {
		t.Fatalf("sink content after heal = %q, want %q", c1.data, "hello world")
	}

	v0, _ := codec.Decode(c0.xattr[xattrop.KindData.XattrName()])
	for i, x := range v0 {
		if x != 0 {
			t.Fatalf("pending not cleared at %d: %v", i, v0)
		}
	}
}

func TestRunInodeDetectsSplitBrain(t *testing.T) {
	codec := xattrop.New(2)
	c0 := newFakeChild(codec, "A")
	c1 := newFakeChild(codec, "B")
	c0.xattr[xattrop.KindData.XattrName()] = codec.EncodeIncrement(map[int]struct{}{1: {}})
	c1.xattr[xattrop.KindData.XattrName()] = codec.EncodeIncrement(map[int]struct{}{0: {}})

	children := []fops.Dispatcher{c0, c1}
	arena := inode.NewArena()
	e := NewEngine(children, arena, lock.NewManager(), codec, "afr.heal", "afr.heal")

	req := Request{GFID: fops.GFID{2}, Up: []int{0, 1}}
	results, err := e.RunInode(context.Background(), req)
	if err != nil {
		t.Fatalf("RunInode: %v", err)
	}
	var sawSplitBrain bool
	for _, r := range results {
		if r.Kind == xattrop.KindData && r.SplitBrain {
			sawSplitBrain = true
		}
	}
	if !sawSplitBrain {
		t.Fatalf("want DATA split-brain classification, got %+v", results)
	}
}
