package subvol

import (
	"sync"

	"github.com/replifs/afr/fops"
)

// lockKey identifies one lockable resource within a LocalDisk, mirroring
// lock.Key's shape without importing package lock (a CSH backend has no
// business depending on the lock manager that calls it).
type lockKey struct {
	domain   string
	gfid     fops.GFID
	basename string
}

// lockTable is an in-memory per-key mutex table. A real networked backend
// would need a distributed equivalent; for the local-disk child, a
// process-local table is the actual mechanism the original source uses
// (POSIX byte-range and flock locks scoped to this process).
type lockTable struct {
	mu    sync.Mutex
	byKey map[lockKey]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{byKey: make(map[lockKey]*sync.Mutex)}
}

func (t *lockTable) entry(key lockKey) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byKey[key]
	if !ok {
		m = &sync.Mutex{}
		t.byKey[key] = m
	}
	return m
}

func (t *lockTable) lock(key lockKey) {
	t.entry(key).Lock()
}

func (t *lockTable) tryLock(key lockKey) bool {
	return t.entry(key).TryLock()
}

func (t *lockTable) unlock(key lockKey) {
	t.entry(key).Unlock()
}
