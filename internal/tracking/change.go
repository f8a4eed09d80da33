// Package tracking diffs per-frame detection batches against a registry of known
// entities and reports what appeared, moved or disappeared.
package tracking

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ayusman/steadyscan/internal/payload"
)

// Kind is the lifecycle transition a Change describes.
type Kind int

const (
	Appeared Kind = iota
	Moved
	Disappeared
)

func (k Kind) String() string {
	switch k {
	case Appeared:
		return "appeared"
	case Moved:
		return "moved"
	case Disappeared:
		return "disappeared"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "appeared":
		*k = Appeared
	case "moved":
		*k = Moved
	case "disappeared":
		*k = Disappeared
	default:
		return fmt.Errorf("unknown change kind %q", text)
	}
	return nil
}

// Change is a single lifecycle event for one entity.
//
// Payload is set on Appeared. Metadata is set on Appeared and Moved.
// Disappeared carries only the ID.
type Change struct {
	Kind     Kind             `json:"kind"`
	ID       uuid.UUID        `json:"id"`
	Payload  payload.Payload  `json:"payload"`
	Metadata payload.Metadata `json:"metadata"`
}

// AppearedChange returns an Appeared change.
func AppearedChange(id uuid.UUID, p payload.Payload, m payload.Metadata) Change {
	return Change{Kind: Appeared, ID: id, Payload: p, Metadata: m}
}

// MovedChange returns a Moved change.
func MovedChange(id uuid.UUID, m payload.Metadata) Change {
	return Change{Kind: Moved, ID: id, Metadata: m}
}

// DisappearedChange returns a Disappeared change.
func DisappearedChange(id uuid.UUID) Change {
	return Change{Kind: Disappeared, ID: id}
}

func (c Change) String() string {
	switch c.Kind {
	case Appeared:
		return fmt.Sprintf("appeared(%s, %s)", c.ID, c.Payload)
	default:
		return fmt.Sprintf("%s(%s)", c.Kind, c.ID)
	}
}

// MarshalJSON omits the fields a kind does not carry.
func (c Change) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind     Kind              `json:"kind"`
		ID       uuid.UUID         `json:"id"`
		Payload  *payload.Payload  `json:"payload,omitempty"`
		Metadata *payload.Metadata `json:"metadata,omitempty"`
	}
	w := wire{Kind: c.Kind, ID: c.ID}
	switch c.Kind {
	case Appeared:
		w.Payload = &c.Payload
		w.Metadata = &c.Metadata
	case Moved:
		w.Metadata = &c.Metadata
	}
	return json.Marshal(w)
}
