// Package audience models the addresses communications are sent to.
package audience

import (
	"fmt"
	"strings"
)

// Well-known address types. The set is open: channels may declare their own.
const (
	TypeEmail       = "email"
	TypePhoneNumber = "phone-number"
	TypeDeviceToken = "device-token"
	TypeTopic       = "topic"
	TypeWebhook     = "webhook"
)

// Well-known address purposes.
const (
	PurposeSender    = "sender"
	PurposeRecipient = "recipient"
	PurposeCc        = "cc"
	PurposeBcc       = "bcc"
	PurposeReplyTo   = "reply-to"
)

// Address is a typed, taggable contact point.
type Address struct {
	Value        string            `json:"value" yaml:"value"`
	Type         string            `json:"type,omitempty" yaml:"type,omitempty"`
	Display      string            `json:"display,omitempty" yaml:"display,omitempty"`
	Purposes     []string          `json:"purposes,omitempty" yaml:"purposes,omitempty"`
	AddressParts map[string]string `json:"address_parts,omitempty" yaml:"address_parts,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Option customizes an Address built with New.
type Option func(*Address)

// WithType sets an explicit address type.
func WithType(t string) Option {
	return func(a *Address) { a.Type = t }
}

// WithDisplay sets the display name.
func WithDisplay(display string) Option {
	return func(a *Address) { a.Display = display }
}

// WithPurposes tags the address with purposes.
func WithPurposes(purposes ...string) Option {
	return func(a *Address) { a.Purposes = append(a.Purposes, purposes...) }
}

// WithAttribute sets one attribute.
func WithAttribute(key, value string) Option {
	return func(a *Address) {
		if a.Attributes == nil {
			a.Attributes = make(map[string]string)
		}
		a.Attributes[key] = value
	}
}

// New creates an address with the trimmed value.
func New(value string, opts ...Option) Address {
	a := Address{Value: strings.TrimSpace(value)}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// IsType compares the explicit type case-insensitively.
func (a Address) IsType(t string) bool {
	return strings.EqualFold(a.Type, t)
}

// HasPurpose reports whether the address is tagged with purpose.
func (a Address) HasPurpose(purpose string) bool {
	for _, p := range a.Purposes {
		if strings.EqualFold(p, purpose) {
			return true
		}
	}
	return false
}

// IsEmail reports whether the address is an email address, either by type or by shape.
func (a Address) IsEmail() bool {
	if a.Type != "" {
		return a.IsType(TypeEmail)
	}
	return defaultDetector.IsEmail(a.Value)
}

// IsPhoneNumber reports whether the address is a phone number, either by type or by shape.
func (a Address) IsPhoneNumber() bool {
	if a.Type != "" {
		return a.IsType(TypePhoneNumber)
	}
	return defaultDetector.IsPhoneNumber(a.Value)
}

// IsDeviceToken reports whether the address is tagged as a push device token.
func (a Address) IsDeviceToken() bool {
	return a.IsType(TypeDeviceToken)
}

// IsTopic reports whether the address is tagged as a push topic.
func (a Address) IsTopic() bool {
	return a.IsType(TypeTopic)
}

// Validate checks the address against a vocabulary of recognized types.
// A nil vocabulary accepts any type.
func (a Address) Validate(v *Vocabulary) error {
	if a.Value == "" {
		return fmt.Errorf("address value cannot be empty")
	}
	if a.Type != "" && v != nil && !v.Recognized(a.Type) {
		return fmt.Errorf("unrecognized address type %q", a.Type)
	}
	return nil
}

func (a Address) String() string {
	if a.Display != "" {
		return fmt.Sprintf("%s <%s>", a.Display, a.Value)
	}
	return a.Value
}
