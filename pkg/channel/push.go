package channel

import (
	"context"
	"maps"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/template"
)

// PushConfig configures a push notification channel.
type PushConfig struct {
	Title     template.Source
	Body      template.Source
	ImageURL  template.Source
	Data      map[string]string
	Providers []string
}

// PushChannel renders push notifications for device tokens and topics.
// At least one of title or body is required.
type PushChannel struct {
	base
	cfg PushConfig
}

// NewPush creates a push channel.
func NewPush(id string, cfg PushConfig) *PushChannel {
	return &PushChannel{base: base{id: id, providers: cfg.Providers}, cfg: cfg}
}

// PushCommunication is a rendered push notification.
type PushCommunication struct {
	To       []audience.Address
	Title    string
	Body     string
	ImageURL string
	Data     map[string]string
}

// CommunicationType returns TypePush.
func (*PushCommunication) CommunicationType() CommunicationType { return TypePush }

// Recipients returns device tokens and topics.
func (p *PushCommunication) Recipients() []audience.Address { return p.To }

// DeviceTokens returns the device token recipients.
func (p *PushCommunication) DeviceTokens() []string {
	var out []string
	for _, a := range p.To {
		if a.IsDeviceToken() {
			out = append(out, a.Value)
		}
	}
	return out
}

// Topics returns the topic recipients.
func (p *PushCommunication) Topics() []string {
	var out []string
	for _, a := range p.To {
		if a.IsTopic() {
			out = append(out, a.Value)
		}
	}
	return out
}

// CommunicationType returns TypePush.
func (*PushChannel) CommunicationType() CommunicationType { return TypePush }

// AddressTypes returns the device token and topic address types.
func (*PushChannel) AddressTypes() []string {
	return []string{audience.TypeDeviceToken, audience.TypeTopic}
}

// SupportsAddress accepts only addresses explicitly typed as device tokens or topics.
func (*PushChannel) SupportsAddress(a audience.Address) bool {
	return a.Value != "" && (a.IsDeviceToken() || a.IsTopic())
}

// Generate renders the notification for the context's recipients.
func (c *PushChannel) Generate(ctx context.Context, dc *DispatchContext) (Communication, error) {
	if err := guard(dc, c.id); err != nil {
		return nil, err
	}
	title, err := dc.render(ctx, c.cfg.Title)
	if err != nil {
		return nil, err
	}
	body, err := dc.render(ctx, c.cfg.Body)
	if err != nil {
		return nil, err
	}
	if title == "" && body == "" {
		return nil, missing(c.id, "title/body")
	}
	image, err := dc.render(ctx, c.cfg.ImageURL)
	if err != nil {
		return nil, err
	}
	return &PushCommunication{
		To:       dc.Addresses(c.SupportsAddress),
		Title:    title,
		Body:     body,
		ImageURL: image,
		Data:     maps.Clone(c.cfg.Data),
	}, nil
}
