package scheduler

import "sync"

// lockTable hands out one RWMutex per calendar. Mutations take the write
// side across conflict check, store write and index update; read-only
// operations share the read side. This is the atomicity boundary: two
// concurrent creates on one calendar can never both observe "no conflict".
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.RWMutex)}
}

func (t *lockTable) get(calendarID string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	lk, ok := t.locks[calendarID]
	if !ok {
		lk = &sync.RWMutex{}
		t.locks[calendarID] = lk
	}
	return lk
}
