package heal

import (
	"context"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/replifs/afr/cmn/nlog"
)

// Scheduler runs the background self_heal_daemon crawl (spec §6): a
// recursive walk of a root-inode's on-disk shadow tree, enqueuing any path
// whose lookup shows a non-zero pending matrix into the Backlog for the
// Engine to pick up.
type Scheduler struct {
	Engine  *Engine
	Backlog *Backlog
	Root    string // local filesystem root backing this mirror, for crawl purposes only
	Period  time.Duration

	lookupPending func(path string) (Request, bool)
}

func NewScheduler(engine *Engine, backlog *Backlog, root string, period time.Duration, lookupPending func(path string) (Request, bool)) *Scheduler {
	return &Scheduler{Engine: engine, Backlog: backlog, Root: root, Period: period, lookupPending: lookupPending}
}

// Run crawls Root on Period until ctx is canceled. Each tick walks the tree
// with godirwalk's low-allocation Walk (chosen over filepath.Walk for the
// same reason the teacher picks it for large local trees: no per-entry
// os.Lstat beyond what the walker already does).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.crawlOnce(ctx)
		}
	}
}

func (s *Scheduler) crawlOnce(ctx context.Context) {
	err := godirwalk.Walk(s.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.lookupPending == nil {
				return nil
			}
			req, needsHeal := s.lookupPending(path)
			if !needsHeal {
				return nil
			}
			rec := &HealJobRecord{GFID: req.GFID, Parent: req.Parent, Basename: req.Basename}
			if err := s.Backlog.Put(rec); err != nil {
				nlog.Warningf("heal: crawl: enqueue %s: %v", path, err)
			}
			return nil
		},
	})
	if err != nil {
		nlog.Warningf("heal: crawl of %s: %v", s.Root, err)
	}
}

// Drain pulls every backlog entry and runs RunInode for it, removing the
// entry on success (or on a permanent split-brain classification, which
// would otherwise spin forever).
func (s *Scheduler) Drain(ctx context.Context, up []int) {
	records, err := s.Backlog.All()
	if err != nil {
		nlog.Warningf("heal: backlog scan: %v", err)
		return
	}
	for _, rec := range records {
		req := Request{GFID: rec.GFID, Parent: rec.Parent, Basename: rec.Basename, Up: up}
		results, err := s.Engine.RunInode(ctx, req)
		if err != nil {
			continue
		}
		done := len(results) > 0 // nil: another heal of this inode was in flight
		for _, r := range results {
			if !r.Healed && !r.SplitBrain {
				done = false
			}
		}
		if done {
			_ = s.Backlog.Delete(rec.GFID)
		}
	}
}
