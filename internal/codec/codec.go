// Package codec maintains the catalog of audio codecs the SBC advertises
// and negotiates in SDP offers/answers. It never touches RTP payloads —
// only the codec metadata needed to build rtpmap/fmtp lines and to pick a
// common codec between two legs of a call.
package codec

import (
	"fmt"
	"sort"
)

// Codec describes one negotiable audio codec.
type Codec struct {
	Name       string
	PayloadType int
	ClockRate  int
	Channels   int
	Fmtp       string

	Enabled    bool
	IsStandard bool
	// Priority, when non-zero, overrides catalog order for negotiation
	// preference; lower values are preferred. Zero means "use catalog
	// order."
	Priority int
}

// RTPMap formats the codec as an SDP "a=rtpmap" attribute value, e.g.
// "0 PCMU/8000".
func (c Codec) RTPMap() string {
	if c.Channels > 1 {
		return fmt.Sprintf("%d %s/%d/%d", c.PayloadType, c.Name, c.ClockRate, c.Channels)
	}
	return fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
}

// standardCodecs is the built-in codec table, grounded on the classic
// static and commonly-negotiated dynamic RTP payload types.
func standardCodecs() []Codec {
	return []Codec{
		{Name: "PCMU", PayloadType: 0, ClockRate: 8000, Channels: 1, Enabled: true, IsStandard: true},
		{Name: "PCMA", PayloadType: 8, ClockRate: 8000, Channels: 1, Enabled: true, IsStandard: true},
		{Name: "G722", PayloadType: 9, ClockRate: 8000, Channels: 1, Enabled: true, IsStandard: true},
		{Name: "GSM", PayloadType: 3, ClockRate: 8000, Channels: 1, Enabled: true, IsStandard: true},
		{Name: "G729", PayloadType: 18, ClockRate: 8000, Channels: 1, Fmtp: "annexb=no", Enabled: true, IsStandard: true},
		{Name: "iLBC", PayloadType: 97, ClockRate: 8000, Channels: 1, Enabled: false, IsStandard: true},
		{Name: "opus", PayloadType: 111, ClockRate: 48000, Channels: 2, Fmtp: "useinbandfec=1", Enabled: true, IsStandard: true},
		{Name: "AMR", PayloadType: 96, ClockRate: 8000, Channels: 1, Enabled: false, IsStandard: true},
		{Name: "AMR-WB", PayloadType: 98, ClockRate: 16000, Channels: 1, Enabled: false, IsStandard: true},
		{Name: "SILK", PayloadType: 99, ClockRate: 16000, Channels: 1, Enabled: false, IsStandard: true},
	}
}

// ErrDuplicatePayloadType is returned when adding a codec whose payload
// type is already registered.
var ErrDuplicatePayloadType = fmt.Errorf("codec: payload type already registered")

// ErrStandardCodecImmutable is returned when attempting to remove a
// built-in codec entry.
var ErrStandardCodecImmutable = fmt.Errorf("codec: standard codec entries cannot be removed")

// ErrNoCommonCodec is returned when two codec lists share no enabled
// payload type during negotiation.
var ErrNoCommonCodec = fmt.Errorf("codec: no common codec between offer and local catalog")

// Catalog is the operator-editable set of codecs the SBC may offer.
type Catalog struct {
	codecs []Codec
}

// NewCatalog creates a catalog pre-populated with the standard codec table.
func NewCatalog() *Catalog {
	return &Catalog{codecs: standardCodecs()}
}

// All returns every codec in the catalog, standard and custom, in catalog
// order.
func (c *Catalog) All() []Codec {
	out := make([]Codec, len(c.codecs))
	copy(out, c.codecs)
	return out
}

// Enabled returns enabled codecs ordered by Priority (when set) and then
// catalog order, which is the order used to build SDP offers.
func (c *Catalog) Enabled() []Codec {
	var out []Codec
	for _, cd := range c.codecs {
		if cd.Enabled {
			out = append(out, cd)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		if pi == 0 && pj == 0 {
			return false
		}
		if pi == 0 {
			return false
		}
		if pj == 0 {
			return true
		}
		return pi < pj
	})
	return out
}

// ByPayloadType looks up a codec by its RTP payload type.
func (c *Catalog) ByPayloadType(pt int) (Codec, bool) {
	for _, cd := range c.codecs {
		if cd.PayloadType == pt {
			return cd, true
		}
	}
	return Codec{}, false
}

// ByName looks up a codec by name, case-sensitive per RFC 4566 encoding
// name convention.
func (c *Catalog) ByName(name string) (Codec, bool) {
	for _, cd := range c.codecs {
		if cd.Name == name {
			return cd, true
		}
	}
	return Codec{}, false
}

// Add registers a custom (non-standard) codec. Duplicate payload types are
// rejected, and custom additions are always marked non-standard regardless
// of the IsStandard field passed in.
func (c *Catalog) Add(cd Codec) error {
	if _, exists := c.ByPayloadType(cd.PayloadType); exists {
		return fmt.Errorf("%w: %d", ErrDuplicatePayloadType, cd.PayloadType)
	}
	cd.IsStandard = false
	c.codecs = append(c.codecs, cd)
	return nil
}

// Remove deletes a custom codec by payload type. Standard codecs can be
// disabled but never removed outright.
func (c *Catalog) Remove(payloadType int) error {
	for i, cd := range c.codecs {
		if cd.PayloadType == payloadType {
			if cd.IsStandard {
				return fmt.Errorf("%w: %s", ErrStandardCodecImmutable, cd.Name)
			}
			c.codecs = append(c.codecs[:i], c.codecs[i+1:]...)
			return nil
		}
	}
	return nil
}

// SetEnabled toggles whether a codec (standard or custom) participates in
// negotiation.
func (c *Catalog) SetEnabled(payloadType int, enabled bool) {
	for i := range c.codecs {
		if c.codecs[i].PayloadType == payloadType {
			c.codecs[i].Enabled = enabled
			return
		}
	}
}

// Intersect returns the codecs present both in offered (by payload type,
// in the offerer's preference order) and in this catalog's enabled set,
// preserving the offerer's order — the conventional SDP answerer
// preference rule. Returns ErrNoCommonCodec if the intersection is empty.
func (c *Catalog) Intersect(offered []Codec) ([]Codec, error) {
	enabled := make(map[int]bool, len(c.codecs))
	for _, cd := range c.Enabled() {
		enabled[cd.PayloadType] = true
	}

	var out []Codec
	for _, o := range offered {
		if enabled[o.PayloadType] {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoCommonCodec
	}
	return out, nil
}
