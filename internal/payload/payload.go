package payload

import (
	"fmt"

	"github.com/ayusman/steadyscan/internal/geometry"
)

// Payload identifies what was decoded. Two payloads are equal when both the
// symbology and the value match.
type Payload struct {
	Symbology Symbology `json:"symbology"`
	Value     string    `json:"value"`
}

func (p Payload) String() string {
	return fmt.Sprintf("%s:%s", p.Symbology, p.Value)
}

// Metadata describes one occurrence of a payload in a frame.
type Metadata struct {
	// Region is where the payload was seen, in normalized frame coordinates.
	// Nil when the detector reported no location.
	Region *geometry.Region `json:"region,omitempty"`
}

// Overlaps reports whether two occurrences plausibly mark the same physical
// object. Occurrences without a region never overlap.
func Overlaps(exp geometry.Expansion, a, b Metadata) bool {
	if a.Region == nil || b.Region == nil {
		return false
	}
	return exp.Overlap(*a.Region, *b.Region)
}

// WithRegion returns metadata located at r.
func WithRegion(r geometry.Region) Metadata {
	return Metadata{Region: &r}
}

// Detection is one payload occurrence reported by a detector.
type Detection struct {
	Payload  Payload  `json:"payload"`
	Metadata Metadata `json:"metadata"`
}

// Result is everything a detector found in one frame.
type Result struct {
	Detections []Detection `json:"detections"`
	// LookedFor is the set of symbologies the detector searched for. Entities of
	// other symbologies are unaffected by this frame.
	LookedFor Symbologies `json:"looked_for"`
}

// EventKind discriminates FrameEvent.
type EventKind int

const (
	FrameStarted EventKind = iota
	Detected
	FrameEnded
)

func (k EventKind) String() string {
	switch k {
	case FrameStarted:
		return "frame_started"
	case Detected:
		return "detected"
	case FrameEnded:
		return "frame_ended"
	default:
		return fmt.Sprintf("event_kind(%d)", int(k))
	}
}

// FrameEvent is one element of the raw per-frame stream: FrameStarted, zero or
// more Detected, then FrameEnded.
type FrameEvent struct {
	Kind EventKind
	// Payload and Metadata are set for Detected.
	Payload  Payload
	Metadata Metadata
	// LookedFor is set for FrameEnded.
	LookedFor Symbologies
}

// StartFrame returns a FrameStarted event.
func StartFrame() FrameEvent {
	return FrameEvent{Kind: FrameStarted}
}

// Detect returns a Detected event.
func Detect(p Payload, m Metadata) FrameEvent {
	return FrameEvent{Kind: Detected, Payload: p, Metadata: m}
}

// EndFrame returns a FrameEnded event.
func EndFrame(lookedFor Symbologies) FrameEvent {
	return FrameEvent{Kind: FrameEnded, LookedFor: lookedFor}
}

// Events expands a result into its frame event sequence.
func (r Result) Events() []FrameEvent {
	events := make([]FrameEvent, 0, len(r.Detections)+2)
	events = append(events, StartFrame())
	for _, d := range r.Detections {
		events = append(events, Detect(d.Payload, d.Metadata))
	}
	return append(events, EndFrame(r.LookedFor))
}
