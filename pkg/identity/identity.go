// Package identity resolves opaque identity references into addressable profiles.
package identity

import (
	"strings"

	"github.com/kart-io/commshub/pkg/audience"
)

// Reference is an opaque pointer to an external identity.
type Reference struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// NewReference creates a reference.
func NewReference(typ, id string) Reference {
	return Reference{Type: typ, ID: id}
}

func (r Reference) String() string {
	return r.Type + ":" + r.ID
}

// Profile is the resolved form of a Reference.
type Profile struct {
	ID                 string             `json:"id,omitempty"`
	Type               string             `json:"type,omitempty"`
	Addresses          []audience.Address `json:"addresses"`
	ChannelPreferences []string           `json:"channel_preferences,omitempty"`
	Attributes         map[string]string  `json:"attributes,omitempty"`
}

// Anonymous wraps raw addresses in a profile with no id or type.
func Anonymous(addresses ...audience.Address) *Profile {
	return &Profile{Addresses: addresses}
}

// Attribute returns an attribute value and whether it was present.
func (p *Profile) Attribute(key string) (string, bool) {
	if p == nil || p.Attributes == nil {
		return "", false
	}
	v, ok := p.Attributes[key]
	return v, ok
}

// PrefersChannel reports whether channelID is in the profile's preferences.
// An empty preference list prefers nothing in particular and returns false.
func (p *Profile) PrefersChannel(channelID string) bool {
	for _, c := range p.ChannelPreferences {
		if strings.EqualFold(c, channelID) {
			return true
		}
	}
	return false
}

// IsType compares the profile type case-insensitively.
func (p *Profile) IsType(t string) bool {
	return strings.EqualFold(p.Type, t)
}
