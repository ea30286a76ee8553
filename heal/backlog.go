package heal

import (
	"fmt"

	"github.com/tidwall/buntdb"
	"github.com/tinylib/msgp/msgp"

	"github.com/replifs/afr/fops"
)

// HealJobRecord is one persisted backlog entry: an inode known to need heal,
// surviving a daemon restart (spec §6 self_heal_daemon + SPEC_FULL §12's
// crash-recovery supplement). Encoding is hand-written against msgp's
// low-level Append/Read helpers rather than generated, since no code
// generation step runs in this build.
type HealJobRecord struct {
	GFID        fops.GFID
	Parent      fops.GFID
	Basename    string
	EnqueuedAt  int64 // unix nanos, stamped by the caller
	Attempts    uint32
}

// MarshalMsg appends the msgpack encoding of r to b.
func (r *HealJobRecord) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 5)
	b = msgp.AppendBytes(b, r.GFID[:])
	b = msgp.AppendBytes(b, r.Parent[:])
	b = msgp.AppendString(b, r.Basename)
	b = msgp.AppendInt64(b, r.EnqueuedAt)
	b = msgp.AppendUint32(b, r.Attempts)
	return b, nil
}

// UnmarshalMsg decodes r from b, returning the unconsumed remainder.
func (r *HealJobRecord) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 5 {
		return b, fmt.Errorf("heal: HealJobRecord: want 5 fields, got %d", n)
	}
	gfid, b, err := msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return b, err
	}
	copy(r.GFID[:], gfid)
	parent, b, err := msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return b, err
	}
	copy(r.Parent[:], parent)
	r.Basename, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return b, err
	}
	r.EnqueuedAt, b, err = msgp.ReadInt64Bytes(b)
	if err != nil {
		return b, err
	}
	r.Attempts, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	return b, nil
}

// Backlog persists HealJobRecords in a buntdb file so the background
// self-heal daemon survives a restart without losing track of inodes it
// already knew needed work.
type Backlog struct {
	db *buntdb.DB
}

func OpenBacklog(path string) (*Backlog, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Backlog{db: db}, nil
}

func (bl *Backlog) Close() error { return bl.db.Close() }

func backlogKey(gfid fops.GFID) string { return "backlog/" + gfid.String() }

func (bl *Backlog) Put(rec *HealJobRecord) error {
	buf, err := rec.MarshalMsg(nil)
	if err != nil {
		return err
	}
	return bl.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(backlogKey(rec.GFID), string(buf), nil)
		return err
	})
}

func (bl *Backlog) Delete(gfid fops.GFID) error {
	return bl.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(backlogKey(gfid))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// All returns every pending backlog record, used on daemon startup to
// resume a crawl where it left off.
func (bl *Backlog) All() ([]*HealJobRecord, error) {
	var out []*HealJobRecord
	err := bl.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("backlog/*", func(key, value string) bool {
			rec := &HealJobRecord{}
			if _, err := rec.UnmarshalMsg([]byte(value)); err != nil {
				return true // skip corrupt entries rather than abort the scan
			}
			out = append(out, rec)
			return true
		})
	})
	return out, err
}
