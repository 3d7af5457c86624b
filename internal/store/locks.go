package store

import "sync"

// keyLocks hands out one mutex per subject/predicate pair so that concurrent
// insert/upsert calls on the same pair run one at a time. Entries are dropped
// once no caller holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*refMutex)}
}

func pairKey(subject, predicate string) string {
	return subject + "\x00" + predicate
}

// lock blocks until the pair is free and returns its unlock func.
func (k *keyLocks) lock(subject, predicate string) func() {
	key := pairKey(subject, predicate)

	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
