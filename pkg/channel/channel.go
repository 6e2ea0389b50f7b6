// Package channel defines communication channels: units that decide which
// addresses they can reach and render provider-agnostic communications.
package channel

import (
	"context"
	"strings"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/content"
	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/identity"
	"github.com/kart-io/commshub/pkg/template"
)

// CommunicationType tags the modality a channel produces.
type CommunicationType string

const (
	TypeEmail CommunicationType = "email"
	TypeSms   CommunicationType = "sms"
	TypeVoice CommunicationType = "voice"
	TypePush  CommunicationType = "push"
)

// Priority is the transport priority forwarded to providers.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority maps "low", "normal" and "high"; anything else is normal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Channel is a communication modality with its own addressing rules and templates.
// Channel configuration is read-only after construction.
type Channel interface {
	ID() string
	CommunicationType() CommunicationType
	// AllowedProviderIDs lists permitted providers; empty means any.
	AllowedProviderIDs() []string
	// AddressTypes lists the explicit address types the channel recognizes.
	AddressTypes() []string
	// SupportsAddress must be total and deterministic.
	SupportsAddress(a audience.Address) bool
	Generate(ctx context.Context, dc *DispatchContext) (Communication, error)
}

// Communication is a rendered, provider-agnostic message.
type Communication interface {
	CommunicationType() CommunicationType
	Recipients() []audience.Address
}

// DispatchContext carries everything one channel invocation renders against.
// It is created fresh per channel and never shared across channels.
type DispatchContext struct {
	DispatchID        string
	Intent            string
	PipelineID        string
	ChannelID         string
	ProviderID        string
	Culture           string
	TransportPriority Priority
	Model             *content.Model
	Recipients        []*identity.Profile
	Engine            template.Engine
	Properties        map[string]any
}

// Property returns an extended property.
func (dc *DispatchContext) Property(key string) (any, bool) {
	if dc == nil || dc.Properties == nil {
		return nil, false
	}
	v, ok := dc.Properties[key]
	return v, ok
}

// Addresses returns recipient addresses accepted by supports, deduplicated by
// value case-insensitively, in recipient order. Addresses tagged only for
// sender or reply-to purposes are excluded.
func (dc *DispatchContext) Addresses(supports func(audience.Address) bool) []audience.Address {
	var out []audience.Address
	seen := make(map[string]bool)
	for _, p := range dc.Recipients {
		if p == nil {
			continue
		}
		for _, a := range p.Addresses {
			if a.Value == "" || !isRecipient(a) || !supports(a) {
				continue
			}
			k := strings.ToLower(a.Value)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, a)
		}
	}
	return out
}

func (dc *DispatchContext) render(ctx context.Context, src template.Source) (string, error) {
	var data any
	if dc.Model != nil {
		data = dc.Model.Data()
	}
	text, err := template.Render(ctx, dc.Engine, src, dc.Culture, data)
	if err != nil {
		return "", commserrors.Wrap(err, commserrors.ErrCommunications, "template rendering failed").
			WithContext("channel", dc.ChannelID)
	}
	return text, nil
}

func (dc *DispatchContext) resources() []content.Resource {
	if dc.Model == nil {
		return nil
	}
	return append(append([]content.Resource(nil), dc.Model.Resources...), dc.Model.LinkedResources...)
}

func isRecipient(a audience.Address) bool {
	if len(a.Purposes) == 0 {
		return true
	}
	return a.HasPurpose(audience.PurposeRecipient) || a.HasPurpose(audience.PurposeCc) || a.HasPurpose(audience.PurposeBcc)
}

// base holds the identity shared by built-in channels.
type base struct {
	id        string
	providers []string
}

func (b base) ID() string { return b.id }

func (b base) AllowedProviderIDs() []string { return append([]string(nil), b.providers...) }

func guard(dc *DispatchContext, id string) error {
	if dc == nil {
		return commserrors.Argument("context", "dispatch context must not be nil").WithContext("channel", id)
	}
	return nil
}

func missing(id, name string) error {
	return commserrors.Communications(commserrors.ErrMissingContent, name+" template produced no content").
		WithContext("channel", id)
}

// Vocabulary builds the address type vocabulary declared by channels.
func Vocabulary(channels ...Channel) *audience.Vocabulary {
	v := audience.NewVocabulary()
	for _, c := range channels {
		v.Register(c.AddressTypes()...)
	}
	return v
}
