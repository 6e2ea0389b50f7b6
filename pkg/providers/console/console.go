// Package console provides a channel provider that prints communications as
// JSON lines instead of delivering them. It serves local runs and dry runs.
package console

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kart-io/commshub/pkg/channel"
	"github.com/kart-io/commshub/pkg/provider"
	"github.com/kart-io/commshub/pkg/status"
)

// Provider writes one JSON line per communication.
type Provider struct {
	mu  sync.Mutex
	out zerolog.Logger
}

// New creates a provider writing to w, or stdout when w is nil.
func New(w io.Writer) *Provider {
	if w == nil {
		w = os.Stdout
	}
	return &Provider{out: zerolog.New(w).With().Timestamp().Logger()}
}

// Registrations registers the provider as id for each communication type,
// or for every built-in type when none are given.
func (p *Provider) Registrations(id string, types ...channel.CommunicationType) []provider.Registration {
	if len(types) == 0 {
		types = []channel.CommunicationType{channel.TypeEmail, channel.TypeSms, channel.TypeVoice, channel.TypePush}
	}
	regs := make([]provider.Registration, 0, len(types))
	for _, t := range types {
		regs = append(regs, provider.Registration{ID: id, CommunicationType: t, New: provider.Static(p)})
	}
	return regs
}

// Dispatch prints comm and reports one Dispatched result per recipient.
func (p *Provider) Dispatch(_ context.Context, comm channel.Communication, dc *channel.DispatchContext) ([]*status.DispatchResult, error) {
	id := uuid.NewString()

	p.mu.Lock()
	ev := p.out.Info().
		Str("resource_id", id).
		Str("type", string(comm.CommunicationType()))
	if dc != nil {
		ev = ev.Str("dispatch_id", dc.DispatchID).
			Str("intent", dc.Intent).
			Str("channel", dc.ChannelID).
			Str("culture", dc.Culture).
			Str("priority", dc.TransportPriority.String())
	}
	ev.Interface("communication", comm).Msg("communication")
	p.mu.Unlock()

	recipients := comm.Recipients()
	if len(recipients) == 0 {
		res := status.NewResult(status.Dispatched)
		res.ResourceID = id
		return []*status.DispatchResult{res}, nil
	}
	out := make([]*status.DispatchResult, 0, len(recipients))
	for _, a := range recipients {
		res := status.NewResult(status.Dispatched)
		res.ResourceID = id
		res.Recipient = a.Value
		out = append(out, res)
	}
	return out, nil
}
