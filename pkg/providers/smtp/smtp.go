// Package smtp provides an email channel provider backed by go-mail.
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/channel"
	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/provider"
	"github.com/kart-io/commshub/pkg/status"
)

// TLS modes.
const (
	TLSNone      = "none"
	TLSStartTLS  = "starttls"
	TLSMandatory = "mandatory"
	TLSSSL       = "ssl"
)

// Config configures the SMTP connection.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is used when a communication carries no sender.
	From    string
	TLS     string
	Timeout time.Duration
}

// Sender delivers built messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// Provider sends EmailCommunications over SMTP.
type Provider struct {
	config    Config
	logger    logger.Logger
	newSender func() (Sender, error)
}

// New creates an SMTP provider.
func New(config Config, log logger.Logger) (*Provider, error) {
	if config.Host == "" {
		return nil, commserrors.Empty("host")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	p := &Provider{config: config, logger: logger.OrDiscard(log)}
	p.newSender = p.client
	p.logger.Info("SMTP provider created", "host", config.Host, "port", config.Port, "tls", config.TLS)
	return p, nil
}

// Registration returns a provider registration for id.
func (p *Provider) Registration(id string) provider.Registration {
	return provider.Registration{ID: id, CommunicationType: channel.TypeEmail, New: provider.Static(p)}
}

func (p *Provider) client() (Sender, error) {
	opts := []mail.Option{
		mail.WithTimeout(p.config.Timeout),
		mail.WithPort(p.config.Port),
	}
	switch strings.ToLower(p.config.TLS) {
	case TLSSSL:
		opts = append(opts, mail.WithSSLPort(true))
	case TLSNone:
		p.logger.Warn("Using plain SMTP without encryption", "host", p.config.Host)
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	case TLSMandatory:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if p.config.Username != "" && p.config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(p.config.Username),
			mail.WithPassword(p.config.Password),
		)
	}
	c, err := mail.NewClient(p.config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}
	return c, nil
}

// Dispatch sends one message to every recipient of comm. Delivery failures
// are returned as DispatcherFailed results rather than errors.
func (p *Provider) Dispatch(ctx context.Context, comm channel.Communication, dc *channel.DispatchContext) ([]*status.DispatchResult, error) {
	email, ok := comm.(*channel.EmailCommunication)
	if !ok {
		return nil, commserrors.Argument("communication", fmt.Sprintf("smtp cannot send %s communications", comm.CommunicationType()))
	}
	if len(email.Recipients()) == 0 {
		return []*status.DispatchResult{status.NewResult(status.NoChannelMatched.WithReason("email has no recipients"))}, nil
	}

	msg, err := p.Build(email, dc)
	if err != nil {
		return failed(email, err), nil
	}
	sender, err := p.newSender()
	if err != nil {
		return failed(email, err), nil
	}

	start := time.Now()
	if err := sender.DialAndSendWithContext(ctx, msg); err != nil {
		p.logger.Error("Failed to send email", "host", p.config.Host, "error", err)
		return failed(email, fmt.Errorf("send email: %w", err)), nil
	}
	id := msg.GetGenHeader(mail.HeaderMessageID)
	p.logger.Debug("Email sent", "recipients", len(email.Recipients()), "duration", time.Since(start))

	out := make([]*status.DispatchResult, 0, len(email.Recipients()))
	for _, a := range email.Recipients() {
		res := status.NewResult(status.Dispatched)
		res.Recipient = a.Value
		if len(id) > 0 {
			res.ResourceID = id[0]
		}
		out = append(out, res)
	}
	return out, nil
}

// Build converts a rendered email into a go-mail message.
func (p *Provider) Build(email *channel.EmailCommunication, dc *channel.DispatchContext) (*mail.Msg, error) {
	m := mail.NewMsg()

	from := email.From
	if from.Value == "" {
		from = audience.Parse(p.config.From)
	}
	if from.Value == "" {
		return nil, commserrors.Empty("from")
	}
	if err := setAddress(m.FromFormat, from); err != nil {
		return nil, fmt.Errorf("set From address: %w", err)
	}
	if email.ReplyTo != nil {
		if err := setAddress(m.ReplyToFormat, *email.ReplyTo); err != nil {
			return nil, fmt.Errorf("set Reply-To address: %w", err)
		}
	}
	for _, a := range email.To {
		if err := setAddress(m.AddToFormat, a); err != nil {
			return nil, fmt.Errorf("set To address: %w", err)
		}
	}
	for _, a := range email.Cc {
		if err := setAddress(m.AddCcFormat, a); err != nil {
			return nil, fmt.Errorf("set Cc address: %w", err)
		}
	}
	for _, a := range email.Bcc {
		if err := setAddress(m.AddBccFormat, a); err != nil {
			return nil, fmt.Errorf("set Bcc address: %w", err)
		}
	}

	m.Subject(email.Subject)
	m.SetMessageID()
	m.SetDate()

	switch {
	case email.HTMLBody != "" && email.TextBody != "":
		m.SetBodyString(mail.TypeTextPlain, email.TextBody)
		m.AddAlternativeString(mail.TypeTextHTML, email.HTMLBody)
	case email.HTMLBody != "":
		m.SetBodyString(mail.TypeTextHTML, email.HTMLBody)
	default:
		m.SetBodyString(mail.TypeTextPlain, email.TextBody)
	}

	if dc != nil {
		switch dc.TransportPriority {
		case channel.PriorityHigh:
			m.SetImportance(mail.ImportanceHigh)
		case channel.PriorityLow:
			m.SetImportance(mail.ImportanceLow)
		}
	}

	for _, r := range email.Attachments {
		if len(r.Data) == 0 {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}
		var opts []mail.FileOption
		if r.ContentType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(r.ContentType)))
		}
		attach := m.AttachReader
		if r.Inline {
			attach = m.EmbedReader
		}
		if err := attach(name, bytes.NewReader(r.Data), opts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", name, err)
		}
	}
	return m, nil
}

func setAddress(set func(name, addr string) error, a audience.Address) error {
	return set(a.Display, a.Value)
}

func failed(email *channel.EmailCommunication, err error) []*status.DispatchResult {
	out := make([]*status.DispatchResult, 0, len(email.Recipients()))
	for _, a := range email.Recipients() {
		res := status.NewResult(status.DispatcherFailed.WithReason(err.Error()))
		res.Recipient = a.Value
		out = append(out, res)
	}
	return out
}
