package installs

import "sync"

// Locks hands out one mutex per install ID. Entries are reference counted
// and dropped once no goroutine holds or waits on them.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// For returns a sync.Locker guarding installID.
func (l *Locks) For(installID string) sync.Locker {
	return keyLocker{locks: l, key: installID}
}

func (l *Locks) acquire(key string) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

func (l *Locks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		panic("installs: unlock of unlocked install " + key)
	}
	e.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many install IDs currently have a live entry.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type keyLocker struct {
	locks *Locks
	key   string
}

func (k keyLocker) Lock()   { k.locks.acquire(k.key) }
func (k keyLocker) Unlock() { k.locks.release(k.key) }
