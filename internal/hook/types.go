// Package hook runs external programs when tracked codes appear, move or
// disappear.
//
// A hook lives in its own directory under the hooks directory and is described
// by a hook.json manifest. For every matching change the hook's executable is
// started with a Request as JSON on stdin and must print a Response as JSON on
// stdout.
package hook

import (
	"encoding/json"

	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/tracking"
)

// ManifestFile is the manifest name looked for in each hook directory.
const ManifestFile = "hook.json"

// Manifest describes a hook and which changes it wants.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Executable  string `json:"executable"`
	// Events limits the hook to these change kinds. Empty means all.
	Events []tracking.Kind `json:"events,omitempty"`
	// Symbologies limits the hook to codes of these symbologies. Empty
	// means all.
	Symbologies payload.Symbologies `json:"symbologies,omitempty"`
	// Config is passed through to the hook unchanged.
	Config json.RawMessage `json:"config,omitempty"`
}

// Request is what a hook receives on stdin.
type Request struct {
	Hook   string          `json:"hook"`
	Change tracking.Change `json:"change"`
	// Payload is the code's content. Unlike Change.Payload it is set for
	// every kind, not only Appeared.
	Payload payload.Payload `json:"payload"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Response is what a hook prints on stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook and its location on disk.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Matches reports whether the hook wants a change of kind k for a code of
// symbology s.
func (h *Hook) Matches(k tracking.Kind, s payload.Symbology) bool {
	if !h.Manifest.Symbologies.IsEmpty() && !h.Manifest.Symbologies.Contains(s) {
		return false
	}
	if len(h.Manifest.Events) == 0 {
		return true
	}
	for _, e := range h.Manifest.Events {
		if e == k {
			return true
		}
	}
	return false
}
