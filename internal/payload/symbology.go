// Package payload defines the detector-facing data model: what was read, where it
// was seen and which symbologies a frame was searched for.
package payload

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Symbology is the classification of a payload. Each value is a single bit so
// sets of symbologies can be combined into Symbologies.
type Symbology uint32

const (
	ImageWatermark Symbology = 1 << iota
	AudioWatermark
	UPCA
	UPCE
	EAN13
	EAN8
	DataBar
	QRCode
	Code39
	Code128
	ITF
	ITFGTIN14
)

var symbologyNames = map[Symbology]string{
	ImageWatermark: "image_watermark",
	AudioWatermark: "audio_watermark",
	UPCA:           "upca",
	UPCE:           "upce",
	EAN13:          "ean13",
	EAN8:           "ean8",
	DataBar:        "databar",
	QRCode:         "qr",
	Code39:         "code39",
	Code128:        "code128",
	ITF:            "itf",
	ITFGTIN14:      "itf_gtin14",
}

// String returns the canonical lower-case name.
func (s Symbology) String() string {
	if name, ok := symbologyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("symbology(%d)", uint32(s))
}

// ParseSymbology parses a canonical symbology name, case-insensitively.
func ParseSymbology(name string) (Symbology, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range symbologyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown symbology %q", name)
}

// MarshalText implements encoding.TextMarshaler. The zero value encodes as an
// empty string.
func (s Symbology) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	if _, ok := symbologyNames[s]; !ok {
		return nil, fmt.Errorf("invalid symbology %d", uint32(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Symbology) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = 0
		return nil
	}
	parsed, err := ParseSymbology(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Symbologies is a set of symbologies.
type Symbologies uint32

// Barcodes is every linear and matrix barcode symbology.
const Barcodes = Symbologies(UPCA | UPCE | EAN13 | EAN8 | DataBar | QRCode | Code39 | Code128 | ITF | ITFGTIN14)

// AllImage is every symbology readable from a camera frame.
const AllImage = Barcodes | Symbologies(ImageWatermark)

// NewSymbologies builds a set from individual symbologies.
func NewSymbologies(ss ...Symbology) Symbologies {
	var set Symbologies
	for _, s := range ss {
		set |= Symbologies(s)
	}
	return set
}

// ParseSymbologies parses a list of names into a set.
func ParseSymbologies(names []string) (Symbologies, error) {
	var set Symbologies
	for _, name := range names {
		s, err := ParseSymbology(name)
		if err != nil {
			return 0, err
		}
		set |= Symbologies(s)
	}
	return set, nil
}

// Contains reports whether s is in the set.
func (set Symbologies) Contains(s Symbology) bool {
	return s != 0 && Symbologies(s)&set == Symbologies(s)
}

// Union returns the set of symbologies in either set.
func (set Symbologies) Union(other Symbologies) Symbologies {
	return set | other
}

// Intersect returns the set of symbologies in both sets.
func (set Symbologies) Intersect(other Symbologies) Symbologies {
	return set & other
}

// IsEmpty reports whether the set has no members.
func (set Symbologies) IsEmpty() bool {
	return set == 0
}

// Len returns the number of members.
func (set Symbologies) Len() int {
	return bits.OnesCount32(uint32(set))
}

// Members returns the set's symbologies in bit order.
func (set Symbologies) Members() []Symbology {
	var out []Symbology
	for s := Symbology(1); s != 0 && Symbologies(s) <= set; s <<= 1 {
		if set.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

// Names returns the sorted canonical names of the members.
func (set Symbologies) Names() []string {
	members := set.Members()
	names := make([]string, len(members))
	for i, s := range members {
		names[i] = s.String()
	}
	sort.Strings(names)
	return names
}

func (set Symbologies) String() string {
	return "[" + strings.Join(set.Names(), " ") + "]"
}

// MarshalJSON encodes the set as a list of names.
func (set Symbologies) MarshalJSON() ([]byte, error) {
	return json.Marshal(set.Names())
}

// UnmarshalJSON decodes a list of names.
func (set *Symbologies) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseSymbologies(names)
	if err != nil {
		return err
	}
	*set = parsed
	return nil
}
