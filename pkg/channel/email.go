package channel

import (
	"context"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/content"
	"github.com/kart-io/commshub/pkg/template"
)

// EmailConfig configures an email channel.
type EmailConfig struct {
	Subject   template.Source
	HTMLBody  template.Source
	TextBody  template.Source
	From      string
	ReplyTo   string
	Providers []string
}

// EmailChannel renders email communications. Subject is required.
type EmailChannel struct {
	base
	cfg EmailConfig
}

// NewEmail creates an email channel.
func NewEmail(id string, cfg EmailConfig) *EmailChannel {
	return &EmailChannel{base: base{id: id, providers: cfg.Providers}, cfg: cfg}
}

// EmailCommunication is a rendered email.
type EmailCommunication struct {
	From        audience.Address
	ReplyTo     *audience.Address
	To          []audience.Address
	Cc          []audience.Address
	Bcc         []audience.Address
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []content.Resource
}

// CommunicationType returns TypeEmail.
func (*EmailCommunication) CommunicationType() CommunicationType { return TypeEmail }

// Recipients returns To, Cc and Bcc addresses.
func (e *EmailCommunication) Recipients() []audience.Address {
	out := append([]audience.Address(nil), e.To...)
	out = append(out, e.Cc...)
	return append(out, e.Bcc...)
}

// CommunicationType returns TypeEmail.
func (*EmailChannel) CommunicationType() CommunicationType { return TypeEmail }

// AddressTypes returns the email address type.
func (*EmailChannel) AddressTypes() []string { return []string{audience.TypeEmail} }

// SupportsAddress accepts email-typed addresses and untyped values with email grammar.
func (*EmailChannel) SupportsAddress(a audience.Address) bool {
	return a.Value != "" && a.IsEmail()
}

// Generate renders the email for the context's recipients.
func (c *EmailChannel) Generate(ctx context.Context, dc *DispatchContext) (Communication, error) {
	if err := guard(dc, c.id); err != nil {
		return nil, err
	}
	subject, err := dc.render(ctx, c.cfg.Subject)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, missing(c.id, "subject")
	}
	html, err := dc.render(ctx, c.cfg.HTMLBody)
	if err != nil {
		return nil, err
	}
	text, err := dc.render(ctx, c.cfg.TextBody)
	if err != nil {
		return nil, err
	}

	comm := &EmailCommunication{
		Subject:     subject,
		HTMLBody:    html,
		TextBody:    text,
		Attachments: dc.resources(),
	}
	if c.cfg.From != "" {
		comm.From = audience.Parse(c.cfg.From)
	}
	if c.cfg.ReplyTo != "" {
		r := audience.Parse(c.cfg.ReplyTo)
		comm.ReplyTo = &r
	}
	for _, a := range dc.Addresses(c.SupportsAddress) {
		switch {
		case a.HasPurpose(audience.PurposeCc):
			comm.Cc = append(comm.Cc, a)
		case a.HasPurpose(audience.PurposeBcc):
			comm.Bcc = append(comm.Bcc, a)
		default:
			comm.To = append(comm.To, a)
		}
	}
	return comm, nil
}
