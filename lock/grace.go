package lock

import (
	"fmt"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/replifs/afr/fops"
)

// GraceLedger persists which (child, key) pairs a disconnected child still
// holds locks for, so a transaction can decide whether to retain them across
// a transient outage instead of releasing (spec §6 lock_heal / grace_timeout:
// "on a transient disconnect shorter than grace_timeout, held locks MAY be
// retained rather than released").
//
// Grounded on buntdb's in-memory-with-optional-persistence model, the same
// shape the teacher uses for small amounts of structured local state that
// must survive a process restart without running a real database.
type GraceLedger struct {
	db *buntdb.DB
}

// OpenGraceLedger opens (creating if absent) a buntdb file at path. An empty
// path uses buntdb's in-memory mode, useful for tests.
func OpenGraceLedger(path string) (*GraceLedger, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &GraceLedger{db: db}, nil
}

func (g *GraceLedger) Close() error { return g.db.Close() }

func graceKey(child int, gfid fops.GFID, key Key) string {
	return fmt.Sprintf("grace/%d/%s", child, key.String())
}

// MarkRetained records that child went down while holding key, with a TTL
// of grace so an expired entry reads back as gone (buntdb's SetOptions.TTL,
// the same mechanism aistore-adjacent tools use for lease-style records).
func (g *GraceLedger) MarkRetained(child int, gfid fops.GFID, key Key, grace time.Duration) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(graceKey(child, gfid, key), "retained", &buntdb.SetOptions{
			Expires: true,
			TTL:     grace,
		})
		return err
	})
}

// Retained reports whether child's hold on key is still within its grace
// window.
func (g *GraceLedger) Retained(child int, gfid fops.GFID, key Key) bool {
	var found bool
	_ = g.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(graceKey(child, gfid, key))
		found = err == nil
		return nil
	})
	return found
}

// Clear drops the ledger entry, used once the original lock is actually
// released or the child reconnects and replays it.
func (g *GraceLedger) Clear(child int, gfid fops.GFID, key Key) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(graceKey(child, gfid, key))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}
