package sync

import "sync"

// tableLocks hands out one mutex per table id. The engine holds the table's
// lock across the whole read-apply-write of an operation so two concurrent
// pushes cannot clobber each other's preimage of the same table.
type tableLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newTableLocks() *tableLocks {
	return &tableLocks{m: make(map[string]*sync.Mutex)}
}

func (tl *tableLocks) forTable(id string) *sync.Mutex {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	l, ok := tl.m[id]
	if !ok {
		l = &sync.Mutex{}
		tl.m[id] = l
	}
	return l
}
