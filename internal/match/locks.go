package match

import "sync"

// lockTable hands out one mutex per match. Entries are refcounted and
// dropped when nobody holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the match lock is held and returns its release func.
func (t *lockTable) Lock(matchID string) func() {
	t.mu.Lock()
	e, ok := t.locks[matchID]
	if !ok {
		e = &lockEntry{}
		t.locks[matchID] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, matchID)
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
