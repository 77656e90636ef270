package ledger

import (
	"slices"
	"sync"
)

// lockTable hands out one mutex per key. Multi-key acquisitions take keys
// in sorted order so two sales touching overlapping items cannot deadlock.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

// Lock acquires every key and returns a func releasing them.
func (lt *lockTable) Lock(keys ...string) (unlock func()) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*lockEntry, 0, len(sorted))
	for _, k := range sorted {
		e := lt.acquire(k)
		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			lt.release(sorted[i])
		}
	}
}

func (lt *lockTable) acquire(key string) *lockEntry {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	e, ok := lt.entries[key]
	if !ok {
		e = &lockEntry{}
		lt.entries[key] = e
	}
	e.refs++
	return e
}

func (lt *lockTable) release(key string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	e := lt.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(lt.entries, key)
	}
}

// size is the number of keys currently referenced.
func (lt *lockTable) size() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.entries)
}

func itemKey(id ItemID) string      { return "item:" + string(id) }
func productKey(name string) string { return "product:" + NameKey(name) }
func saleKey(id SaleID) string      { return "sale:" + string(id) }
