package ledger

import (
	"sort"
	"sync"
)

// lockTable hands out one exclusive mutex per object key. Entries are
// reference counted and dropped when no transaction holds or waits on them.
type lockTable struct {
	mu      sync.Mutex
	entries map[Key]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[Key]*lockEntry)}
}

// acquire locks every key in sorted order and returns the release func.
func (t *lockTable) acquire(keys []Key) func() {
	ordered := sortedUnique(keys)
	held := make([]*lockEntry, 0, len(ordered))
	for _, k := range ordered {
		t.mu.Lock()
		e, ok := t.entries[k]
		if !ok {
			e = &lockEntry{}
			t.entries[k] = e
		}
		e.refs++
		t.mu.Unlock()

		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		t.mu.Lock()
		for i, k := range ordered {
			e := held[i]
			e.refs--
			if e.refs == 0 {
				delete(t.entries, k)
			}
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func sortedUnique(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}
