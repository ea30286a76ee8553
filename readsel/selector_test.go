package readsel

import (
	"testing"

	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/inode"
)

func liveAll(n int) func() []int {
	return func() []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
}

func TestReadSubvolPicksLowestReadable(t *testing.T) {
	arena := inode.NewArena()
	gfid := fops.GFID{1}
	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = inode.Mask(0).Set(1).Set(2) // child 0 not readable
	})

	sel := NewSelector(arena, false, -1, liveAll(3))
	child, err := sel.ReadSubvol(gfid, ClassData)
	if err != nil {
		t.Fatalf("ReadSubvol: %v", err)
	}
	if child != 1 {
		t.Fatalf("want lowest readable child 1, got %d", child)
	}
}

func TestReadSubvolFailsEIOWhenNoneReadable(t *testing.T) {
	arena := inode.NewArena()
	gfid := fops.GFID{2}
	sel := NewSelector(arena, false, -1, liveAll(3))
	_, err := sel.ReadSubvol(gfid, ClassData)
	if err == nil {
		t.Fatal("expected EIO when no child is readable")
	}
}

func TestReadSubvolCacheInvalidatedByGenerationBump(t *testing.T) {
	arena := inode.NewArena()
	gfid := fops.GFID{3}
	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = inode.Mask(0).Set(0)
	})
	sel := NewSelector(arena, false, -1, liveAll(3))

	first, err := sel.ReadSubvol(gfid, ClassData)
	if err != nil || first != 0 {
		t.Fatalf("first selection: child=%d err=%v", first, err)
	}

	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = inode.Mask(0).Set(2)
	})
	arena.BumpGeneration(gfid)

	second, err := sel.ReadSubvol(gfid, ClassData)
	if err != nil {
		t.Fatalf("second selection: %v", err)
	}
	if second != 2 {
		t.Fatalf("want recomputed child 2 after generation bump, got %d", second)
	}
}

func TestArbitrationSubvolPrefersFullyReadable(t *testing.T) {
	arena := inode.NewArena()
	gfid := fops.GFID{4}
	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = inode.Mask(0).Set(1)
		c.MetadataReadable = inode.Mask(0).Set(1)
	})
	sel := NewSelector(arena, false, -1, liveAll(3))

	replies := map[int]fops.Reply{
		0: {Errno: fops.XOK},
		1: {Errno: fops.XOK},
	}
	child, needHeal, ok := sel.ArbitrationSubvol(gfid, replies)
	if !ok {
		t.Fatal("expected a successful arbitration child")
	}
	if needHeal {
		t.Fatal("should not need heal: child 1 is fully readable")
	}
	if child != 1 {
		t.Fatalf("want child 1 (fully readable), got %d", child)
	}
}

func TestArbitrationSubvolFallsBackAndFlagsHeal(t *testing.T) {
	arena := inode.NewArena() // no readability bits set anywhere
	gfid := fops.GFID{5}
	sel := NewSelector(arena, false, -1, liveAll(3))

	replies := map[int]fops.Reply{
		2: {Errno: fops.XOK},
	}
	child, needHeal, ok := sel.ArbitrationSubvol(gfid, replies)
	if !ok {
		t.Fatal("expected fallback success")
	}
	if !needHeal {
		t.Fatal("fallback arbitration must set need_heal")
	}
	if child != 2 {
		t.Fatalf("want lowest (only) successful child 2, got %d", child)
	}
}

// TestArbitrationSubvolIgnoresMetaWhenNotConsistent covers spec R2: with
// consistent_metadata=false, data-readability alone must qualify a child —
// metadata-readability is not required.
func TestArbitrationSubvolIgnoresMetaWhenNotConsistent(t *testing.T) {
	arena := inode.NewArena()
	gfid := fops.GFID{6}
	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = inode.Mask(0).Set(0).Set(1)
		// MetadataReadable left at zero for both: neither child is
		// metadata-readable, but that must not matter here.
	})
	sel := NewSelector(arena, false, -1, liveAll(3))

	replies := map[int]fops.Reply{
		0: {Errno: fops.XOK},
		1: {Errno: fops.XOK},
	}
	child, needHeal, ok := sel.ArbitrationSubvol(gfid, replies)
	if !ok {
		t.Fatal("expected a successful arbitration child")
	}
	if needHeal {
		t.Fatal("data-readable child should not need heal when consistent_metadata is false")
	}
	if child != 0 {
		t.Fatalf("want lowest data-readable child 0, got %d", child)
	}
}

// TestArbitrationSubvolRequiresMetaWhenConsistent covers the complementary
// case: with consistent_metadata=true, a data-readable-only child does not
// qualify and arbitration falls back to the lowest successful child with
// need_heal set.
func TestArbitrationSubvolRequiresMetaWhenConsistent(t *testing.T) {
	arena := inode.NewArena()
	gfid := fops.GFID{7}
	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = inode.Mask(0).Set(0).Set(1)
		c.MetadataReadable = inode.Mask(0) // nobody is metadata-readable
	})
	sel := NewSelector(arena, true, -1, liveAll(3))

	replies := map[int]fops.Reply{
		0: {Errno: fops.XOK},
		1: {Errno: fops.XOK},
	}
	child, needHeal, ok := sel.ArbitrationSubvol(gfid, replies)
	if !ok {
		t.Fatal("expected fallback success")
	}
	if !needHeal {
		t.Fatal("fallback arbitration must set need_heal when no child is both data- and metadata-readable")
	}
	if child != 0 {
		t.Fatalf("want lowest successful child 0, got %d", child)
	}
}

// TestReadSubvolPrefersConfiguredReadChild covers spec §6's read_child
// option: a configured preference must win over the ascending scan as long
// as it is live and readable for the requested class.
func TestReadSubvolPrefersConfiguredReadChild(t *testing.T) {
	arena := inode.NewArena()
	gfid := fops.GFID{8}
	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = inode.Mask(0).Set(0).Set(1).Set(2)
	})
	sel := NewSelector(arena, false, 2, liveAll(3))

	child, err := sel.ReadSubvol(gfid, ClassData)
	if err != nil {
		t.Fatalf("ReadSubvol: %v", err)
	}
	if child != 2 {
		t.Fatalf("want configured read_child 2, got %d", child)
	}
}

// TestReadSubvolFailsOverWhenPreferredUnreadable covers the read_child
// fallback: if the preferred child isn't readable for this class (modeling
// it having gone ENOTCONN), RSS falls back to the normal ascending scan.
func TestReadSubvolFailsOverWhenPreferredUnreadable(t *testing.T) {
	arena := inode.NewArena()
	gfid := fops.GFID{9}
	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = inode.Mask(0).Set(1) // child 2 not readable
	})
	sel := NewSelector(arena, false, 2, liveAll(3))

	child, err := sel.ReadSubvol(gfid, ClassData)
	if err != nil {
		t.Fatalf("ReadSubvol: %v", err)
	}
	if child != 1 {
		t.Fatalf("want fallback to lowest readable child 1, got %d", child)
	}
}
