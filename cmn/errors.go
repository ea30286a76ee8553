// Package cmn holds the configuration and error taxonomy shared by every
// translator package — the ambient stack a reader of the teacher repo would
// expect to find under `cmn`.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package cmn

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy of spec §7. Kinds, not library
// identifiers: callers type-switch or errors.Is against these, never
// against a raw errno.
var (
	ErrChildDown        = errors.New("child currently down")
	ErrAllChildrenDown   = errors.New("all children down")
	ErrLockContention    = errors.New("lock contention")
	ErrMalformedPending  = errors.New("malformed pending vector")
	ErrSplitBrain        = errors.New("split brain")
	ErrNeedHeal          = errors.New("inode needs heal")
	ErrCanceled          = errors.New("transaction canceled")
)

// Errno is the small, POSIX-flavored error-kind set the engine reasons
// about. It is not an attempt to model every errno in existence — just the
// ones spec §7's priority list and §4.3's FOP-phase exception list name.
type Errno int

const (
	EOK Errno = iota
	ENOSPC
	EDQUOT
	EROFS
	EACCES
	EEXIST
	ENOENT
	ENOTEMPTY
	ENOTCONN
	EAGAIN
	EDEADLK
	ECANCELED
	EIO
	EOther
)

func (e Errno) String() string {
	switch e {
	case EOK:
		return "OK"
	case ENOSPC:
		return "ENOSPC"
	case EDQUOT:
		return "EDQUOT"
	case EROFS:
		return "EROFS"
	case EACCES:
		return "EACCES"
	case EEXIST:
		return "EEXIST"
	case ENOENT:
		return "ENOENT"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case ENOTCONN:
		return "ENOTCONN"
	case EAGAIN:
		return "EAGAIN"
	case EDEADLK:
		return "EDEADLK"
	case ECANCELED:
		return "ECANCELED"
	case EIO:
		return "EIO"
	default:
		return "EOTHER"
	}
}

func (e Errno) Error() string { return e.String() }

// priority ranks errno severity for POST_OP/UNLOCK aggregation: spec §4.3
// "ENOSPC > EDQUOT > EROFS > EACCES > EEXIST > ENOENT > EIO > other".
var priority = map[Errno]int{
	ENOSPC: 0,
	EDQUOT: 1,
	EROFS:  2,
	EACCES: 3,
	EEXIST: 4,
	ENOENT: 5,
	EIO:    6,
	EOther: 7,
}

func rank(e Errno) int {
	if p, ok := priority[e]; ok {
		return p
	}
	return len(priority) // unranked errnos sort after EOther
}

// PickFirstError implements the §4.3 UNLOCKING aggregation rule: pick by
// priority, breaking ties by the lowest child index.
func PickFirstError(byChild map[int]Errno) (child int, errno Errno, any bool) {
	best := -1
	bestRank := 1 << 30
	for i, e := range byChild {
		r := rank(e)
		if r < bestRank || (r == bestRank && i < best) {
			bestRank = r
			best = i
		}
	}
	if best == -1 {
		return 0, EOK, false
	}
	return best, byChild[best], true
}

// IsRetainedOnFailure reports whether an errno from the FOP phase should
// still count the child as "succeeded" for pending-counter purposes (spec
// §4.3 step 3: ENOTEMPTY for rmdir/unlink-class, EEXIST for create-class
// are not failures worth marking pending over).
func IsRetainedOnFailure(errno Errno, opKind OpKind) bool {
	switch {
	case errno == ENOTEMPTY && (opKind == OpRmdir || opKind == OpUnlink):
		return true
	case errno == EEXIST && opKind == OpCreate:
		return true
	default:
		return false
	}
}

// OpKind classifies a mutating fop for lock-target and exception purposes.
type OpKind int

const (
	OpUnknown OpKind = iota
	OpCreate
	OpMkdir
	OpMknod
	OpSymlink
	OpLink
	OpRename
	OpUnlink
	OpRmdir
	OpWritev
	OpTruncate
	OpFtruncate
	OpFallocate
	OpDiscard
	OpZerofill
	OpSetattr
	OpFsetattr
	OpSetxattr
	OpFsetxattr
	OpRemovexattr
	OpFremovexattr
)

// Class buckets an OpKind into the three lock/changelog classes of spec §3.
type Class int

const (
	ClassData Class = iota
	ClassMetadata
	ClassEntry
	ClassEntryRename
)

func (k OpKind) Class() Class {
	switch k {
	case OpCreate, OpMkdir, OpMknod, OpSymlink, OpLink, OpUnlink, OpRmdir:
		return ClassEntry
	case OpRename:
		return ClassEntryRename
	case OpWritev, OpTruncate, OpFtruncate, OpFallocate, OpDiscard, OpZerofill:
		return ClassData
	default:
		return ClassMetadata
	}
}

// WrapMalformed annotates a malformed-pending-vector error with the
// observed/expected widths, matching original_source's afr_set_pending_dict
// diagnostic (SPEC_FULL §12).
func WrapMalformed(peer int, gotWidth, wantWidth int) error {
	return fmt.Errorf("%w: peer %d width %d, want %d", ErrMalformedPending, peer, gotWidth, wantWidth)
}
