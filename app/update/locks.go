package update

import (
	"sync"
)

// NamespaceLocks provides per-namespace mutual exclusion over the item
// and cache stores. The watcher and the on-demand HTTP path can both
// trigger a node update; holding the namespace lock keeps them from
// interleaving writes to the same stores.
type NamespaceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewNamespaceLocks() *NamespaceLocks {
	return &NamespaceLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *NamespaceLocks) Lock(namespace string) func() {
	l.mu.Lock()
	m, ok := l.locks[namespace]
	if !ok {
		m = &sync.Mutex{}
		l.locks[namespace] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
