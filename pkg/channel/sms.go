package channel

import (
	"context"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/template"
)

// SmsConfig configures an SMS channel.
type SmsConfig struct {
	Message   template.Source
	From      string
	Providers []string
}

// SmsChannel renders text messages. Message is required.
type SmsChannel struct {
	base
	cfg SmsConfig
}

// NewSms creates an SMS channel.
func NewSms(id string, cfg SmsConfig) *SmsChannel {
	return &SmsChannel{base: base{id: id, providers: cfg.Providers}, cfg: cfg}
}

// SmsCommunication is a rendered text message.
type SmsCommunication struct {
	From    string
	To      []audience.Address
	Message string
}

// CommunicationType returns TypeSms.
func (*SmsCommunication) CommunicationType() CommunicationType { return TypeSms }

// Recipients returns To.
func (s *SmsCommunication) Recipients() []audience.Address { return s.To }

// CommunicationType returns TypeSms.
func (*SmsChannel) CommunicationType() CommunicationType { return TypeSms }

// AddressTypes returns the phone number address type.
func (*SmsChannel) AddressTypes() []string { return []string{audience.TypePhoneNumber} }

// SupportsAddress accepts phone-typed addresses and untyped E.164 or national numbers.
func (*SmsChannel) SupportsAddress(a audience.Address) bool {
	return a.Value != "" && a.IsPhoneNumber()
}

// Generate renders the message for the context's recipients.
func (c *SmsChannel) Generate(ctx context.Context, dc *DispatchContext) (Communication, error) {
	if err := guard(dc, c.id); err != nil {
		return nil, err
	}
	msg, err := dc.render(ctx, c.cfg.Message)
	if err != nil {
		return nil, err
	}
	if msg == "" {
		return nil, missing(c.id, "message")
	}
	return &SmsCommunication{From: c.cfg.From, To: dc.Addresses(c.SupportsAddress), Message: msg}, nil
}

// VoiceConfig configures a voice channel.
type VoiceConfig struct {
	Message   template.Source
	From      string
	Voice     string
	Language  string
	Providers []string
}

// VoiceChannel renders text-to-speech calls. Message is required.
type VoiceChannel struct {
	base
	cfg VoiceConfig
}

// NewVoice creates a voice channel.
func NewVoice(id string, cfg VoiceConfig) *VoiceChannel {
	return &VoiceChannel{base: base{id: id, providers: cfg.Providers}, cfg: cfg}
}

// VoiceCommunication is a rendered voice call.
type VoiceCommunication struct {
	From     string
	To       []audience.Address
	Message  string
	Voice    string
	Language string
}

// CommunicationType returns TypeVoice.
func (*VoiceCommunication) CommunicationType() CommunicationType { return TypeVoice }

// Recipients returns To.
func (v *VoiceCommunication) Recipients() []audience.Address { return v.To }

// CommunicationType returns TypeVoice.
func (*VoiceChannel) CommunicationType() CommunicationType { return TypeVoice }

// AddressTypes returns the phone number address type.
func (*VoiceChannel) AddressTypes() []string { return []string{audience.TypePhoneNumber} }

// SupportsAddress accepts phone-typed addresses and untyped E.164 or national numbers.
func (*VoiceChannel) SupportsAddress(a audience.Address) bool {
	return a.Value != "" && a.IsPhoneNumber()
}

// Generate renders the call for the context's recipients. The language
// defaults to the dispatch culture.
func (c *VoiceChannel) Generate(ctx context.Context, dc *DispatchContext) (Communication, error) {
	if err := guard(dc, c.id); err != nil {
		return nil, err
	}
	msg, err := dc.render(ctx, c.cfg.Message)
	if err != nil {
		return nil, err
	}
	if msg == "" {
		return nil, missing(c.id, "message")
	}
	lang := c.cfg.Language
	if lang == "" {
		lang = dc.Culture
	}
	return &VoiceCommunication{
		From:     c.cfg.From,
		To:       dc.Addresses(c.SupportsAddress),
		Message:  msg,
		Voice:    c.cfg.Voice,
		Language: lang,
	}, nil
}
