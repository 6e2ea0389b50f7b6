package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/commshub/pkg/channel"
	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/status"
)

var okDispatcher = DispatcherFunc(func(context.Context, channel.Communication, *channel.DispatchContext) ([]*status.DispatchResult, error) {
	return []*status.DispatchResult{status.NewResult(status.Dispatched)}, nil
})

func TestRegister(t *testing.T) {
	r, err := NewRegistry(
		Registration{ID: "twilio", CommunicationType: channel.TypeSms, New: Static(okDispatcher)},
		Registration{ID: "twilio", CommunicationType: channel.TypeVoice, New: Static(okDispatcher)},
	)
	require.NoError(t, err)

	err = r.Register(Registration{ID: "TWILIO", CommunicationType: channel.TypeSms, New: Static(okDispatcher)})
	assert.True(t, commserrors.HasCode(err, commserrors.ErrDuplicateProvider))

	assert.True(t, commserrors.IsArgument(r.Register(Registration{CommunicationType: channel.TypeSms, New: Static(okDispatcher)})))
	assert.True(t, commserrors.IsArgument(r.Register(Registration{ID: "x", New: Static(okDispatcher)})))
	assert.True(t, commserrors.IsArgument(r.Register(Registration{ID: "x", CommunicationType: channel.TypeSms})))

	assert.Equal(t, []string{"twilio", "twilio"}, r.IDs())
}

func TestResolve(t *testing.T) {
	r, err := NewRegistry(
		Registration{ID: "sendgrid", CommunicationType: channel.TypeEmail, New: Static(okDispatcher)},
		Registration{ID: "smtp", CommunicationType: channel.TypeEmail, New: Static(okDispatcher)},
		Registration{ID: "twilio", CommunicationType: channel.TypeSms, New: Static(okDispatcher)},
	)
	require.NoError(t, err)

	tests := []struct {
		name    string
		channel channel.Channel
		want    string
		wantErr bool
	}{
		{"any provider takes first registered", channel.NewEmail("e", channel.EmailConfig{}), "sendgrid", false},
		{"allow-list order wins", channel.NewEmail("e", channel.EmailConfig{Providers: []string{"SMTP", "sendgrid"}}), "smtp", false},
		{"allow-list outside registry", channel.NewEmail("e", channel.EmailConfig{Providers: []string{"mailgun"}}), "", true},
		{"wrong communication type", channel.NewSms("s", channel.SmsConfig{Providers: []string{"smtp"}}), "", true},
		{"no provider for type", channel.NewPush("p", channel.PushConfig{}), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := r.Resolve(tt.channel)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, commserrors.HasCode(err, commserrors.ErrProviderNotResolved))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, reg.ID)
		})
	}
}

func TestConstruct(t *testing.T) {
	d, err := Construct(Registration{ID: "ok", New: Static(okDispatcher)})
	require.NoError(t, err)
	results, err := d.Dispatch(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, results[0].Status.IsSuccess())

	_, err = Construct(Registration{ID: "broken", New: func() (Dispatcher, error) { return nil, errors.New("no credentials") }})
	assert.True(t, commserrors.IsResolution(err))

	_, err = Construct(Registration{ID: "nil", New: func() (Dispatcher, error) { return nil, nil }})
	assert.True(t, commserrors.IsResolution(err))
}
