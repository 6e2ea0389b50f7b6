package channel

import (
	"context"
	"strings"

	"github.com/kart-io/commshub/pkg/audience"
	commserrors "github.com/kart-io/commshub/pkg/errors"
)

// RenderFunc produces the payload of a custom communication.
type RenderFunc func(ctx context.Context, dc *DispatchContext, to []audience.Address) (any, error)

// Capability is the record describing a user-defined channel.
type Capability struct {
	ID                string
	CommunicationType CommunicationType
	AddressTypes      []string
	// Supports decides address support; when nil an address is supported if
	// its explicit type is one of AddressTypes.
	Supports  func(a audience.Address) bool
	Render    RenderFunc
	Providers []string
}

// CustomChannel adapts a Capability to Channel.
type CustomChannel struct {
	cap Capability
}

// NewCustom validates a capability record and wraps it.
func NewCustom(c Capability) (*CustomChannel, error) {
	if strings.TrimSpace(c.ID) == "" {
		return nil, commserrors.Empty("channel id")
	}
	if c.CommunicationType == "" {
		return nil, commserrors.Empty("communication type").WithContext("channel", c.ID)
	}
	if c.Render == nil {
		return nil, commserrors.Argument("Render", "custom channel requires a render function").WithContext("channel", c.ID)
	}
	return &CustomChannel{cap: c}, nil
}

// CustomCommunication carries an arbitrary rendered payload.
type CustomCommunication struct {
	Type    CommunicationType
	To      []audience.Address
	Payload any
}

// CommunicationType returns the declared type.
func (c *CustomCommunication) CommunicationType() CommunicationType { return c.Type }

// Recipients returns To.
func (c *CustomCommunication) Recipients() []audience.Address { return c.To }

// ID returns the channel id.
func (c *CustomChannel) ID() string { return c.cap.ID }

// CommunicationType returns the declared type.
func (c *CustomChannel) CommunicationType() CommunicationType { return c.cap.CommunicationType }

// AllowedProviderIDs returns the provider allow-list.
func (c *CustomChannel) AllowedProviderIDs() []string {
	return append([]string(nil), c.cap.Providers...)
}

// AddressTypes returns the declared address types.
func (c *CustomChannel) AddressTypes() []string {
	return append([]string(nil), c.cap.AddressTypes...)
}

// SupportsAddress applies the capability predicate. A panicking predicate
// counts as unsupported.
func (c *CustomChannel) SupportsAddress(a audience.Address) (ok bool) {
	if a.Value == "" {
		return false
	}
	if c.cap.Supports == nil {
		for _, t := range c.cap.AddressTypes {
			if a.IsType(t) {
				return true
			}
		}
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return c.cap.Supports(a)
}

// Generate calls the capability render function.
func (c *CustomChannel) Generate(ctx context.Context, dc *DispatchContext) (Communication, error) {
	if err := guard(dc, c.cap.ID); err != nil {
		return nil, err
	}
	to := dc.Addresses(c.SupportsAddress)
	payload, err := c.cap.Render(ctx, dc, to)
	if err != nil {
		return nil, commserrors.Wrap(err, commserrors.ErrCommunications, "custom channel render failed").
			WithContext("channel", c.cap.ID)
	}
	if payload == nil {
		return nil, missing(c.cap.ID, "payload")
	}
	return &CustomCommunication{Type: c.cap.CommunicationType, To: to, Payload: payload}, nil
}
