// Package txn implements the Transaction Engine (TXE, spec §4.2-§4.3): the
// five-phase state machine — LOCKING, PRE_OP, FOP, POST_OP, UNLOCKING —
// every mutating fop is driven through.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package txn

import (
	"github.com/replifs/afr/cmn"
	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/lock"
)

// Phase is the TXE's current position in the five-phase machine, spec §4.2.
type Phase int

const (
	PhaseLocking Phase = iota
	PhasePreOp
	PhaseFOP
	PhasePostOp
	PhaseUnlocking
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseLocking:
		return "LOCKING"
	case PhasePreOp:
		return "PRE_OP"
	case PhaseFOP:
		return "FOP"
	case PhasePostOp:
		return "POST_OP"
	case PhaseUnlocking:
		return "UNLOCKING"
	default:
		return "DONE"
	}
}

// Record is the TXR of spec §4.2: per-transaction state carried across all
// five phases. One Record drives exactly one logical operation (a single
// fop, or the two-location pair a rename needs).
type Record struct {
	ID string

	OpKind   cmn.OpKind
	Parent   fops.Loc
	Parent2  fops.Loc // only set for OpRename's new-location half
	Basename string
	NewBasename string

	Live []int // indices of children considered live at LOCKING time

	Grants []lock.Grant

	PreOpPending map[int][]byte // encoded pending delta sent to each child, pre-FOP
	PreOpOK      map[int]bool   // children that acked PRE_OP; FOP/POST_OP only run against these

	Failed  map[int]bool
	Replies map[int]fops.Reply

	Phase Phase

	// FirstError is the §4.3 UNLOCKING-phase aggregated errno, computed from
	// Replies via cmn.PickFirstError.
	FirstErrorChild int
	FirstError      cmn.Errno
	AnyError        bool
}

func NewRecord(id string, opKind cmn.OpKind, parent fops.Loc, basename string, live []int) *Record {
	return &Record{
		ID:           id,
		OpKind:       opKind,
		Parent:       parent,
		Basename:     basename,
		Live:         append([]int(nil), live...),
		PreOpPending: make(map[int][]byte),
		PreOpOK:      make(map[int]bool),
		Failed:       make(map[int]bool),
		Replies:      make(map[int]fops.Reply),
		Phase:        PhaseLocking,
	}
}

// LockKey derives the Key this record's class of operation must take,
// spec §4.2's per-op-kind lock target specialization.
func (r *Record) LockKey(domain string) lock.Key {
	switch r.OpKind.Class() {
	case cmn.ClassEntry, cmn.ClassEntryRename:
		return lock.Key{Domain: domain, GFID: r.Parent.Parent, Basename: r.Basename}
	default:
		return lock.Key{Domain: domain, GFID: r.Parent.GFID}
	}
}
