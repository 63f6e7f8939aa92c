package layout

import (
	"sync"

	"reclayout/internal/decl"
)

type cacheEntry struct {
	Layout *RecordLayout
	Err    *LayoutError
}

// cache memoises record layouts. Population is idempotent: racing callers
// may compute the same record twice, the first stored entry wins and every
// caller observes it. Invalidation drops the record and, transitively, every
// record whose layout was computed from it.
type cache struct {
	mu         sync.RWMutex
	byRecord   map[decl.RecordID]cacheEntry
	dependents map[decl.RecordID]map[decl.RecordID]struct{}
}

func newCache() *cache {
	return &cache{
		byRecord:   make(map[decl.RecordID]cacheEntry, 64),
		dependents: make(map[decl.RecordID]map[decl.RecordID]struct{}, 64),
	}
}

func (c *cache) get(id decl.RecordID) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byRecord[id]
	return entry, ok
}

// put stores entry unless one is already present and returns the stored one.
func (c *cache) put(id decl.RecordID, entry cacheEntry, deps []decl.RecordID) cacheEntry {
	if c == nil {
		return entry
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byRecord[id]; ok {
		return prev
	}
	c.byRecord[id] = entry
	for _, d := range deps {
		set := c.dependents[d]
		if set == nil {
			set = make(map[decl.RecordID]struct{}, 2)
			c.dependents[d] = set
		}
		set[id] = struct{}{}
	}
	return entry
}

// invalidate removes id and every cached record depending on it. It returns
// the number of dropped entries.
func (c *cache) invalidate(id decl.RecordID) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	work := []decl.RecordID{id}
	seen := make(map[decl.RecordID]struct{}, 8)
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		if _, ok := c.byRecord[cur]; ok {
			delete(c.byRecord, cur)
			dropped++
		}
		for dep := range c.dependents[cur] {
			work = append(work, dep)
		}
		delete(c.dependents, cur)
	}
	return dropped
}

func (c *cache) reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byRecord = make(map[decl.RecordID]cacheEntry, 64)
	c.dependents = make(map[decl.RecordID]map[decl.RecordID]struct{}, 64)
}

func (c *cache) len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byRecord)
}
