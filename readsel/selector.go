// Package readsel implements the Read-Subvol Selector (RSS, spec §4.4):
// picks a single readable child for pure reads and for answering a mutating
// call's arbitration subvolume, and performs failover.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package readsel

import (
	"context"

	"github.com/replifs/afr/cmn"
	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/inode"
	"github.com/replifs/afr/xattrop"
)

// Class selects which readability bitmask (data/metadata/entry) a read
// decision is computed against.
type Class int

const (
	ClassData Class = iota
	ClassMetadata
	ClassEntry
)

// Selector computes read and arbitration subvolumes from the cached
// readability masks an inode's Context carries, recomputing whenever the
// inode's event generation has advanced past the cached decision (spec
// §4.4 "Event generation").
type Selector struct {
	Arena            *inode.Arena
	ConsistentMeta   bool // spec §6 consistent_metadata
	PreferredChild   int  // -1 for none; spec §6 read_child
	LiveChildren     func() []int
}

func NewSelector(arena *inode.Arena, consistentMeta bool, preferredChild int, liveFn func() []int) *Selector {
	return &Selector{Arena: arena, ConsistentMeta: consistentMeta, PreferredChild: preferredChild, LiveChildren: liveFn}
}

// ReadSubvol returns the lowest-index child readable for class, failing
// with cmn.ErrAllChildrenDown-flavored EIO if none qualify (spec §4.4 "If
// none are readable, fail with EIO"). A cached, still-fresh decision is
// reused rather than recomputed (spec §4.4 event-generation rule).
func (s *Selector) ReadSubvol(gfid fops.GFID, class Class) (child int, err error) {
	live := s.liveSet()

	var picked int = -1
	s.Arena.Snapshot(gfid, func(c *inode.Context) {
		// spec §6 read_child: a configured preference wins over both the
		// cached last-read subvol and the ascending scan, as long as it is
		// currently live and readable for this class.
		if s.PreferredChild >= 0 {
			if _, ok := live[s.PreferredChild]; ok && s.maskFor(c, class).Has(s.PreferredChild) {
				picked = s.PreferredChild
				c.LastReadSubvol = picked
				c.LastReadGeneration = c.EventGeneration
				c.HasLastRead = true
				return
			}
		}
		if c.HasLastRead && c.LastReadGeneration == c.EventGeneration {
			if _, ok := live[c.LastReadSubvol]; ok && s.maskFor(c, class).Has(c.LastReadSubvol) {
				picked = c.LastReadSubvol
				return
			}
		}
		mask := s.maskFor(c, class)
		for i := 0; i < 64; i++ {
			if _, ok := live[i]; !ok {
				continue
			}
			if mask.Has(i) {
				picked = i
				break
			}
		}
		if picked >= 0 {
			c.LastReadSubvol = picked
			c.LastReadGeneration = c.EventGeneration
			c.HasLastRead = true
		}
	})

	if picked < 0 {
		return 0, cmn.EIO
	}
	return picked, nil
}

func (s *Selector) maskFor(c *inode.Context, class Class) inode.Mask {
	switch class {
	case ClassData:
		return c.DataReadable
	case ClassEntry:
		return c.EntryReadable
	default:
		return c.MetadataReadable
	}
}

func (s *Selector) liveSet() map[int]struct{} {
	out := make(map[int]struct{})
	for _, c := range s.LiveChildren() {
		out[c] = struct{}{}
	}
	return out
}

// Failover advances past a child that returned ENOTCONN mid-read, trying
// successive readable children in ascending order (spec §4.4 Failover).
func (s *Selector) Failover(gfid fops.GFID, class Class, failed int) (next int, err error) {
	live := s.liveSet()
	delete(live, failed)

	var picked = -1
	s.Arena.Snapshot(gfid, func(c *inode.Context) {
		mask := s.maskFor(c, class)
		for i := 0; i < 64; i++ {
			if i == failed {
				continue
			}
			if _, ok := live[i]; !ok {
				continue
			}
			if mask.Has(i) {
				picked = i
				break
			}
		}
		if picked >= 0 {
			c.LastReadSubvol = picked
			c.LastReadGeneration = c.EventGeneration
			c.HasLastRead = true
		}
	})
	if picked < 0 {
		return 0, cmn.EIO
	}
	return picked, nil
}

// ArbitrationSubvol implements spec §4.4's three-step arbitration policy for
// answering a mutating call, given each live child's FOP-phase reply.
func (s *Selector) ArbitrationSubvol(gfid fops.GFID, replies map[int]fops.Reply) (child int, needHeal bool, ok bool) {
	var succeeded []int
	for i, r := range replies {
		if r.Errno == fops.XOK {
			succeeded = append(succeeded, i)
		}
	}
	if len(succeeded) == 0 {
		return 0, false, false
	}
	sortInts(succeeded)

	var readableChild = -1
	s.Arena.Snapshot(gfid, func(c *inode.Context) {
		for _, i := range succeeded {
			dataOK := c.DataReadable.Has(i)
			// consistent_metadata ⇒ metadata_readable (spec §4.4.b, R2): the
			// implication only binds metaOK into the decision when the
			// option is set, not unconditionally.
			if s.ConsistentMeta && !c.MetadataReadable.Has(i) {
				continue
			}
			if dataOK {
				readableChild = i
				return
			}
		}
	})
	if readableChild >= 0 {
		return readableChild, false, true
	}
	return succeeded[0], true, true
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// RecomputeReadability rebuilds an inode's readability masks from the raw
// pending-matrix rows observed across live children (spec §4.4: "A child i
// is DATA-readable iff pending.data[j][i] == 0 for all j != i"). matrix is
// indexed [observer][subject]; codec selects the counter width.
func RecomputeReadability(ctx context.Context, arena *inode.Arena, gfid fops.GFID, codec *xattrop.Codec, dataMatrix, metaMatrix, entryMatrix [][]byte, live []int) error {
	dataMask, err := readableMask(codec, dataMatrix, live)
	if err != nil {
		return err
	}
	metaMask, err := readableMask(codec, metaMatrix, live)
	if err != nil {
		return err
	}
	entryMask, err := readableMask(codec, entryMatrix, live)
	if err != nil {
		return err
	}
	arena.Snapshot(gfid, func(c *inode.Context) {
		c.DataReadable = dataMask
		c.MetadataReadable = metaMask
		c.EntryReadable = entryMask
	})
	return nil
}

func readableMask(codec *xattrop.Codec, rows [][]byte, live []int) (inode.Mask, error) {
	var mask inode.Mask
	for _, i := range live {
		readable := true
		for _, j := range live {
			if j == i {
				continue
			}
			v, err := codec.Decode(rows[j])
			if err != nil {
				return 0, err
			}
			if v[i] != 0 {
				readable = false
				break
			}
		}
		if readable {
			mask = mask.Set(i)
		}
	}
	return mask, nil
}
