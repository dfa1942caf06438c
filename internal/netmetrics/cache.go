package netmetrics

import "iter"

// Cache is a reusable sequence of connection records that tracks the length
// of a backing list across updates without reallocating in steady state.
//
// Slots are recycled by index: an update overwrites the slots it already
// has, appends one slot per record beyond them, and zeroes the slots past
// the new length so no stale record stays reachable. Slots are never handed
// out by pointer, so no slot is shared between positions.
//
// A Cache is not safe for concurrent use; its owner serializes access.
type Cache struct {
	slots  []Connection
	n      int
	allocs int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Update copies src into the cache and returns the number of records
// copied, which is also the new Len.
func (c *Cache) Update(src iter.Seq[Connection]) int {
	i := 0
	for rec := range src {
		if i < len(c.slots) {
			c.slots[i] = rec
		} else {
			c.slots = append(c.slots, rec)
			c.allocs++
		}
		i++
	}
	if i < c.n {
		clear(c.slots[i:c.n])
	}
	c.n = i
	return i
}

// Len returns the number of records held after the last update.
func (c *Cache) Len() int {
	return c.n
}

// At returns the record at position i. It panics if i is out of range.
func (c *Cache) At(i int) Connection {
	if i < 0 || i >= c.n {
		panic("netmetrics: cache index out of range")
	}
	return c.slots[i]
}

// All yields the held records in order.
func (c *Cache) All() iter.Seq[Connection] {
	return func(yield func(Connection) bool) {
		for i := 0; i < c.n; i++ {
			if !yield(c.slots[i]) {
				return
			}
		}
	}
}

// CopyTo copies up to len(dst) records into dst and returns how many were
// copied.
func (c *Cache) CopyTo(dst []Connection) int {
	return copy(dst, c.slots[:c.n])
}

// Allocations returns how many slots have been created over the cache's
// lifetime. Without an intervening Release it equals the largest length
// ever seen.
func (c *Cache) Allocations() int {
	return c.allocs
}

// Release drops every slot. The next update starts from empty.
func (c *Cache) Release() {
	c.slots = nil
	c.n = 0
}
