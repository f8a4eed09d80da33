// Package inventory keeps the set of currently visible codes, built from the
// stabilized change stream.
package inventory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/timeutil"
	"github.com/ayusman/steadyscan/internal/tracking"
)

// Item is a visible code.
type Item struct {
	ID        uuid.UUID        `json:"id"`
	Payload   payload.Payload  `json:"payload"`
	Metadata  payload.Metadata `json:"metadata"`
	FirstSeen time.Time        `json:"first_seen"`
	LastSeen  time.Time        `json:"last_seen"`
	Moves     int              `json:"moves"`
}

// Inventory is safe for concurrent use. Apply is meant to be registered as a
// pipeline subscriber; the read methods may be called from any goroutine.
type Inventory struct {
	clock   timeutil.Clock
	counter *Counter

	mu    sync.RWMutex
	items map[uuid.UUID]*Item
	// unknown counts Moved/Disappeared changes for ids never seen appear.
	unknown int
}

// New creates an empty inventory. Every Appeared change is also counted in
// counter when it is non-nil.
func New(clock timeutil.Clock, counter *Counter) *Inventory {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Inventory{
		clock:   clock,
		counter: counter,
		items:   make(map[uuid.UUID]*Item),
	}
}

// Apply updates the inventory with one change.
func (inv *Inventory) Apply(c tracking.Change) {
	now := inv.clock.Now()

	inv.mu.Lock()
	defer inv.mu.Unlock()

	switch c.Kind {
	case tracking.Appeared:
		inv.items[c.ID] = &Item{
			ID:        c.ID,
			Payload:   c.Payload,
			Metadata:  c.Metadata,
			FirstSeen: now,
			LastSeen:  now,
		}
		if inv.counter != nil {
			inv.counter.Add(c.Payload.Symbology)
		}
	case tracking.Moved:
		item, ok := inv.items[c.ID]
		if !ok {
			inv.unknown++
			return
		}
		item.Metadata = c.Metadata
		item.LastSeen = now
		item.Moves++
	case tracking.Disappeared:
		if _, ok := inv.items[c.ID]; !ok {
			inv.unknown++
			return
		}
		delete(inv.items, c.ID)
	}
}

// Get returns the visible item with the given id.
func (inv *Inventory) Get(id uuid.UUID) (Item, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	item, ok := inv.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Snapshot returns the visible items, oldest first.
func (inv *Inventory) Snapshot() []Item {
	inv.mu.RLock()
	items := make([]Item, 0, len(inv.items))
	for _, item := range inv.items {
		items = append(items, *item)
	}
	inv.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].FirstSeen.Equal(items[j].FirstSeen) {
			return items[i].FirstSeen.Before(items[j].FirstSeen)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items
}

// Len returns the number of visible items.
func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.items)
}

// Unknown returns how many changes referred to ids that were never seen.
func (inv *Inventory) Unknown() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.unknown
}

// Counter returns the appearance counter, or nil.
func (inv *Inventory) Counter() *Counter {
	return inv.counter
}
