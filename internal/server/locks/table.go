// Package locks provides a resource-keyed lock table: one exclusive scope per
// logical storage resource, created on demand and dropped when unused.
package locks

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Table maps resource names to exclusive locks. The zero value is ready to use.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Lock blocks until the exclusive scope for resource is acquired and returns
// the function that releases it. Callers must call it exactly once, usually
// via defer.
func (t *Table) Lock(resource string) (unlock func()) {
	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]*entry)
	}
	e, ok := t.entries[resource]
	if !ok {
		e = &entry{}
		t.entries[resource] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			t.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(t.entries, resource)
			}
			t.mu.Unlock()
		})
	}
}

// With runs fn while holding the lock of resource.
func (t *Table) With(resource string, fn func() error) error {
	unlock := t.Lock(resource)
	defer unlock()
	return fn()
}

// Len returns the number of resources currently locked or waited on.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
