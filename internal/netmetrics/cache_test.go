package netmetrics

import (
	"slices"
	"testing"
)

func records(n int) []Connection {
	out := make([]Connection, n)
	for i := range out {
		out[i] = conn("10.0.0.1", uint16(100+i), "10.0.0.2", uint16(200+i))
	}
	return out
}

func TestCacheTracksLengthAndAllocatesHighWaterMark(t *testing.T) {
	c := NewCache()

	for _, n := range []int{3, 7, 2, 5} {
		src := records(n)
		if got := c.Update(slices.Values(src)); got != n {
			t.Fatalf("Update returned %d, want %d", got, n)
		}
		if c.Len() != n {
			t.Fatalf("Len = %d, want %d", c.Len(), n)
		}
		if !slices.Equal(slices.Collect(c.All()), src) {
			t.Fatalf("cache contents differ after update to %d", n)
		}
	}

	if got := c.Allocations(); got != 7 {
		t.Fatalf("Allocations = %d, want 7", got)
	}
}

func TestCacheZeroesReleasedTail(t *testing.T) {
	c := NewCache()
	c.Update(slices.Values(records(4)))
	c.Update(slices.Values(records(1)))

	for i := 1; i < len(c.slots); i++ {
		if c.slots[i] != (Connection{}) {
			t.Fatalf("slot %d still holds %+v after shrink", i, c.slots[i])
		}
	}
}

func TestCacheSteadyStateReusesSlots(t *testing.T) {
	c := NewCache()
	src := records(16)
	c.Update(slices.Values(src))

	backing := &c.slots[0]
	for i := 0; i < 100; i++ {
		c.Update(slices.Values(src))
	}
	if &c.slots[0] != backing {
		t.Fatal("steady-state update reallocated the slot array")
	}
	if c.Allocations() != 16 {
		t.Fatalf("Allocations = %d, want 16", c.Allocations())
	}
}

func TestCacheCopyToAndAt(t *testing.T) {
	c := NewCache()
	src := records(3)
	c.Update(slices.Values(src))

	dst := make([]Connection, 2)
	if n := c.CopyTo(dst); n != 2 {
		t.Fatalf("CopyTo = %d, want 2", n)
	}
	if dst[1] != src[1] || c.At(2) != src[2] {
		t.Fatal("CopyTo/At returned wrong records")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("At past Len should panic")
		}
	}()
	c.At(3)
}

func TestCacheRelease(t *testing.T) {
	c := NewCache()
	c.Update(slices.Values(records(5)))
	c.Release()

	if c.Len() != 0 {
		t.Fatalf("Len after Release = %d, want 0", c.Len())
	}
	c.Update(slices.Values(records(2)))
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
}
