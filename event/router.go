// Package event implements the Event Router (ER, spec §4.6): translates
// child_up/child_down/parent_down transitions into liveness state and
// inode-generation bumps, and dedups self-heal triggers. It does not cancel
// fops in flight on a child that went down and emits no upward
// CHILD_UP/CHILD_DOWN notification.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package event

import (
	"context"
	"sync"

	"github.com/seiflotfy/cuckoofilter"

	"github.com/replifs/afr/cmn/metrics"
	"github.com/replifs/afr/cmn/nlog"
	"github.com/replifs/afr/fops"
	"github.com/replifs/afr/inode"
)

// Transition is one liveness change observed for a child.
type Transition int

const (
	ChildUp Transition = iota
	ChildDown
	ParentDown
)

func (t Transition) String() string {
	switch t {
	case ChildUp:
		return "CHILD_UP"
	case ChildDown:
		return "CHILD_DOWN"
	default:
		return "PARENT_DOWN"
	}
}

// HealTrigger is handed to whatever runs self-heal; Router never imports
// package heal directly (avoiding the import cycle heal->lock/txn->... and
// keeping ER's job limited to "decide something needs healing").
type HealTrigger func(ctx context.Context, gfid fops.GFID)

// Router holds live/down child state, fans transitions out to the inode
// arena (generation bump), and hands heal triggers to OnTrigger, deduping a
// storm of repeated lookup-observed-divergence events with an approximate
// recently-triggered-heal set (spec §11 domain-stack: cuckoofilter).
type Router struct {
	mu   sync.Mutex
	live map[int]bool

	Arena       *inode.Arena
	OnTrigger   HealTrigger
	recentHeals *cuckoofilter.CuckooFilter
}

func NewRouter(n int, arena *inode.Arena, onTrigger HealTrigger) *Router {
	live := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		live[i] = true
		metrics.ChildUp.WithLabelValues(childLabel(i)).Set(1)
	}
	return &Router{
		live:        live,
		Arena:       arena,
		OnTrigger:   onTrigger,
		recentHeals: cuckoofilter.NewCuckooFilter(1 << 16),
	}
}

func childLabel(i int) string {
	return string(rune('0' + i))
}

// Observe records a transition for child i, bumps every live inode's event
// generation (spec §4.6's global-counter concession, matching
// inode.Arena.BumpAllGenerations), and logs the transition. It neither
// cancels in-flight fops nor triggers a heal; triggers go through
// TriggerIfNew.
func (r *Router) Observe(i int, t Transition) {
	r.mu.Lock()
	switch t {
	case ChildUp:
		r.live[i] = true
		metrics.ChildUp.WithLabelValues(childLabel(i)).Set(1)
	case ChildDown, ParentDown:
		r.live[i] = false
		metrics.ChildUp.WithLabelValues(childLabel(i)).Set(0)
	}
	r.mu.Unlock()

	nlog.Warningf("event: child %d -> %s", i, t)
	r.Arena.BumpAllGenerations()

	if t == ChildUp {
		// a reconnect is exactly when pending-matrix-driven heal becomes
		// actionable again; the caller supplies which inodes to check via
		// TriggerIfNew, this just logs the transition itself.
		return
	}
}

// LiveChildren returns the current set of up child indices, suitable as the
// readsel.Selector.LiveChildren callback.
func (r *Router) LiveChildren() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.live))
	for i, up := range r.live {
		if up {
			out = append(out, i)
		}
	}
	return out
}

func (r *Router) IsLive(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[i]
}

// TriggerIfNew fires OnTrigger for gfid unless a heal was already
// triggered for it recently (cuckoofilter dedup), so a storm of
// lookup-observed-divergence calls across many clients doesn't re-enqueue
// the same inode on every tick.
func (r *Router) TriggerIfNew(ctx context.Context, gfid fops.GFID) {
	if r.OnTrigger == nil {
		return
	}
	key := gfid[:]
	r.mu.Lock()
	seen := r.recentHeals.Lookup(key)
	if !seen {
		r.recentHeals.InsertUnique(key)
	}
	r.mu.Unlock()
	if seen {
		return
	}
	r.OnTrigger(ctx, gfid)
}

// ForgetTrigger clears gfid from the dedup filter once its heal genuinely
// completes, so a later real divergence can be re-triggered. cuckoofilter
// supports targeted deletion, unlike a bloom filter.
func (r *Router) ForgetTrigger(gfid fops.GFID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recentHeals.Delete(gfid[:])
}
