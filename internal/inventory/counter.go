package inventory

import (
	"sync"

	"github.com/ayusman/steadyscan/internal/payload"
)

// Counter counts appearances per symbology. It is owned by whoever creates it;
// there is no package-level state.
type Counter struct {
	mu     sync.Mutex
	counts map[payload.Symbology]int
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[payload.Symbology]int)}
}

// Add increments the count for sym.
func (c *Counter) Add(sym payload.Symbology) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[sym]++
}

// Get returns the count for sym.
func (c *Counter) Get(sym payload.Symbology) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[sym]
}

// Total returns the sum over all symbologies.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Snapshot returns the counts keyed by symbology name.
func (c *Counter) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for sym, n := range c.counts {
		out[sym.String()] = n
	}
	return out
}

// Reset zeroes all counts.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[payload.Symbology]int)
}
