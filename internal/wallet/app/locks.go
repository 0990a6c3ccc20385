package app

import "sync"

// ownerLocks serializes mutations per owner in-process, in front of the
// database row lock. Locks are acquired for the duration of the atomic
// mutation only; callers must release before touching the broker.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *ownerLocks) get(owner string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[owner]
	if !ok {
		m = &sync.Mutex{}
		l.locks[owner] = m
	}
	return m
}

func (l *ownerLocks) lock(owner string) func() {
	m := l.get(owner)
	m.Lock()
	return m.Unlock
}

// lockPair acquires both owners' locks in lexicographic order so two
// opposite-direction transfers between the same pair cannot deadlock.
func (l *ownerLocks) lockPair(a, b string) func() {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	firstMu := l.get(first)
	secondMu := l.get(second)
	firstMu.Lock()
	secondMu.Lock()
	return func() {
		secondMu.Unlock()
		firstMu.Unlock()
	}
}
