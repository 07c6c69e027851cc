package docstore

import "sync"

// NamedLocks hands out one mutex per name, created on first use.
type NamedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewNamedLocks returns an empty lock table.
func NewNamedLocks() *NamedLocks {
	return &NamedLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for name and returns its unlock function.
func (n *NamedLocks) Lock(name string) func() {
	n.mu.Lock()
	l, ok := n.locks[name]
	if !ok {
		l = &sync.Mutex{}
		n.locks[name] = l
	}
	n.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// fileLocks is shared by every Store so two stores opened on the same root
// still serialize writes to a file.
var fileLocks = NewNamedLocks()
