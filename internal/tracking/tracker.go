package tracking

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ayusman/steadyscan/internal/geometry"
	"github.com/ayusman/steadyscan/internal/payload"
)

var (
	// ErrFrameNotStarted is returned for Detected or FrameEnded outside a frame.
	ErrFrameNotStarted = errors.New("frame not started")
	// ErrFrameNotEnded is returned for FrameStarted while a frame is still open.
	ErrFrameNotEnded = errors.New("frame not ended")
)

type entity struct {
	id       uuid.UUID
	payload  payload.Payload
	metadata payload.Metadata
}

// Tracker assigns identities to detections by matching each frame's batch
// against the entities seen in earlier frames. It is not safe for concurrent use;
// callers serialize access.
type Tracker struct {
	expansion geometry.Expansion
	registry  []entity
	batch     []payload.Detection
	open      bool
}

// NewTracker creates a tracker that matches regions with the given expansion.
func NewTracker(exp geometry.Expansion) *Tracker {
	return &Tracker{expansion: exp}
}

// Process consumes one frame event. Changes are only produced by FrameEnded, in
// the order Disappeared, Moved, Appeared.
//
// Out-of-order events return ErrFrameNotStarted or ErrFrameNotEnded and leave
// the registry untouched. A FrameStarted that arrives while a frame is open
// discards the open batch and starts a new frame.
func (t *Tracker) Process(ev payload.FrameEvent) ([]Change, error) {
	switch ev.Kind {
	case payload.FrameStarted:
		wasOpen := t.open
		t.batch = t.batch[:0]
		t.open = true
		if wasOpen {
			return nil, fmt.Errorf("frame started: %w", ErrFrameNotEnded)
		}
		return nil, nil

	case payload.Detected:
		if !t.open {
			return nil, fmt.Errorf("detected %s: %w", ev.Payload, ErrFrameNotStarted)
		}
		t.batch = append(t.batch, payload.Detection{Payload: ev.Payload, Metadata: ev.Metadata})
		return nil, nil

	case payload.FrameEnded:
		if !t.open {
			return nil, fmt.Errorf("frame ended: %w", ErrFrameNotStarted)
		}
		changes := t.endFrame(ev.LookedFor)
		t.batch = t.batch[:0]
		t.open = false
		return changes, nil

	default:
		return nil, fmt.Errorf("unknown frame event kind %v", ev.Kind)
	}
}

func (t *Tracker) endFrame(lookedFor payload.Symbologies) []Change {
	var relevant []entity
	for _, e := range t.registry {
		if lookedFor.Contains(e.payload.Symbology) {
			relevant = append(relevant, e)
		}
	}

	var changes []Change

	for _, e := range relevant {
		if t.batchHas(e) {
			continue
		}
		changes = append(changes, DisappearedChange(e.id))
		t.remove(e.id)
	}

	var fresh []payload.Detection
	for _, d := range t.batch {
		if id, ok := t.firstMatch(relevant, d); ok {
			changes = append(changes, MovedChange(id, d.Metadata))
			t.refresh(id, d.Metadata)
			continue
		}
		fresh = append(fresh, d)
	}

	for _, d := range fresh {
		id := uuid.New()
		changes = append(changes, AppearedChange(id, d.Payload, d.Metadata))
		t.registry = append(t.registry, entity{id: id, payload: d.Payload, metadata: d.Metadata})
	}

	return changes
}

func (t *Tracker) matches(e entity, d payload.Detection) bool {
	return e.payload == d.Payload && payload.Overlaps(t.expansion, e.metadata, d.Metadata)
}

func (t *Tracker) batchHas(e entity) bool {
	for _, d := range t.batch {
		if t.matches(e, d) {
			return true
		}
	}
	return false
}

// firstMatch matches against the entities as they were when the frame ended, so
// refreshed metadata from earlier detections in the same batch is not used.
func (t *Tracker) firstMatch(relevant []entity, d payload.Detection) (uuid.UUID, bool) {
	for _, e := range relevant {
		if t.matches(e, d) {
			return e.id, true
		}
	}
	return uuid.Nil, false
}

func (t *Tracker) refresh(id uuid.UUID, m payload.Metadata) {
	for i := range t.registry {
		if t.registry[i].id == id {
			t.registry[i].metadata = m
			return
		}
	}
}

func (t *Tracker) remove(id uuid.UUID) {
	for i := range t.registry {
		if t.registry[i].id == id {
			t.registry = append(t.registry[:i], t.registry[i+1:]...)
			return
		}
	}
}

// Flush reports every registered entity as disappeared and resets the tracker.
func (t *Tracker) Flush() []Change {
	changes := make([]Change, 0, len(t.registry))
	for _, e := range t.registry {
		changes = append(changes, DisappearedChange(e.id))
	}
	t.registry = nil
	t.batch = t.batch[:0]
	t.open = false
	return changes
}

// Len returns the number of registered entities.
func (t *Tracker) Len() int {
	return len(t.registry)
}
