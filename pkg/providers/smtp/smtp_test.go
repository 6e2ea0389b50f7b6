package smtp

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/channel"
	"github.com/kart-io/commshub/pkg/content"
	"github.com/kart-io/commshub/pkg/status"
)

type fakeSender struct {
	msgs []*mail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func newProvider(t *testing.T, sender *fakeSender) *Provider {
	t.Helper()
	p, err := New(Config{Host: "smtp.example.com", From: "Commshub <noreply@example.com>"}, nil)
	require.NoError(t, err)
	p.newSender = func() (Sender, error) { return sender, nil }
	return p
}

func sample() *channel.EmailCommunication {
	return &channel.EmailCommunication{
		To:       []audience.Address{audience.Parse("ada@example.com")},
		Cc:       []audience.Address{audience.Parse("Grace <grace@example.com>")},
		Subject:  "Welcome",
		TextBody: "Hello Ada",
		HTMLBody: "<p>Hello Ada</p>",
		Attachments: []content.Resource{
			{ID: "r1", Name: "terms.txt", ContentType: "text/plain", Data: []byte("terms")},
		},
	}
}

func TestDispatch(t *testing.T) {
	sender := &fakeSender{}
	p := newProvider(t, sender)

	results, err := p.Dispatch(context.Background(), sample(), &channel.DispatchContext{TransportPriority: channel.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Status.Is(status.Dispatched))
		assert.NotEmpty(t, r.ResourceID)
	}
	assert.Equal(t, "ada@example.com", results[0].Recipient)

	require.Len(t, sender.msgs, 1)
	var buf bytes.Buffer
	_, err = sender.msgs[0].WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: Welcome")
	assert.Contains(t, raw, "Commshub")
	assert.Contains(t, raw, "<noreply@example.com>")
	assert.Contains(t, raw, "grace@example.com")
	assert.Contains(t, raw, "terms.txt")
	assert.Contains(t, strings.ToLower(raw), "importance: high")
}

func TestDispatchFailureBecomesResults(t *testing.T) {
	p := newProvider(t, &fakeSender{err: errors.New("550 mailbox unavailable")})

	results, err := p.Dispatch(context.Background(), sample(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Status.Is(status.DispatcherFailed))
	assert.True(t, strings.Contains(results[0].Status.Reason, "550"))
}

func TestDispatchRejectsOtherCommunications(t *testing.T) {
	p := newProvider(t, &fakeSender{})
	_, err := p.Dispatch(context.Background(), &channel.SmsCommunication{Message: "hi"}, nil)
	assert.Error(t, err)
}

func TestBuildRequiresSender(t *testing.T) {
	p, err := New(Config{Host: "localhost"}, nil)
	require.NoError(t, err)
	_, err = p.Build(&channel.EmailCommunication{To: []audience.Address{audience.Parse("a@example.com")}, Subject: "s"}, nil)
	assert.Error(t, err)

	_, err = New(Config{}, nil)
	assert.Error(t, err)
}

func TestRegistration(t *testing.T) {
	p := newProvider(t, &fakeSender{})
	reg := p.Registration("mailer")
	assert.Equal(t, channel.TypeEmail, reg.CommunicationType)
	d, err := reg.New()
	require.NoError(t, err)
	assert.Same(t, p, d)
}
