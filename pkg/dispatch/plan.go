package dispatch

import (
	"strings"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/channel"
	"github.com/kart-io/commshub/pkg/identity"
	"github.com/kart-io/commshub/pkg/pipeline"
	"github.com/kart-io/commshub/pkg/provider"
)

// delivery is one (pipeline, channel) unit of work: one render, one provider call.
type delivery struct {
	pipeline   *pipeline.Pipeline
	channel    channel.Channel
	recipients []*identity.Profile
	provider   provider.Registration
	dispatcher provider.Dispatcher
}

// plan selects the deliveries of p for identities, in configured channel order.
func (c *Client) plan(p *pipeline.Pipeline, identities []*identity.Profile, req *Request) ([]*delivery, error) {
	if len(p.PersonaFilters) > 0 {
		var err error
		if identities, err = c.personas.FilterAll(p.PersonaFilters, identities); err != nil {
			return nil, err
		}
	}

	groups := make([][]*identity.Profile, len(p.Channels))
	for _, id := range identities {
		for _, idx := range c.eligible(p, id, req) {
			groups[idx] = append(groups[idx], id)
		}
	}

	var out []*delivery
	for i, ch := range p.Channels {
		if len(groups[i]) == 0 {
			continue
		}
		out = append(out, &delivery{pipeline: p, channel: ch, recipients: groups[i]})
	}
	return out, nil
}

// eligible returns the channel indexes of p that id should be reached on.
func (c *Client) eligible(p *pipeline.Pipeline, id *identity.Profile, req *Request) []int {
	var candidates []int
	for i, ch := range p.Channels {
		if !supportsAny(ch, id.Addresses) {
			continue
		}
		if len(req.AllowedChannelIDs) > 0 && !containsFold(req.AllowedChannelIDs, ch.ID()) {
			continue
		}
		candidates = append(candidates, i)
	}

	if len(req.ChannelPreferences) > 0 {
		candidates = c.narrow(p, candidates, func(channelID string) bool {
			return containsFold(req.ChannelPreferences, channelID)
		})
	}
	if len(id.ChannelPreferences) > 0 {
		candidates = c.narrow(p, candidates, id.PrefersChannel)
	}

	if p.Strategy == pipeline.FirstMatch && len(candidates) > 1 {
		candidates = candidates[:1]
	}
	return candidates
}

// narrow keeps the candidates whose channel is preferred. A preference list
// that excludes every candidate empties the selection unless preference
// fallback is enabled.
func (c *Client) narrow(p *pipeline.Pipeline, candidates []int, prefers func(channelID string) bool) []int {
	if len(candidates) == 0 {
		return candidates
	}
	var kept []int
	for _, idx := range candidates {
		if prefers(p.Channels[idx].ID()) {
			kept = append(kept, idx)
		}
	}
	if len(kept) == 0 && c.preferenceFallback {
		return candidates
	}
	return kept
}

// bind resolves and constructs the provider of every delivery. Dispatchers are
// shared between deliveries bound to the same provider.
func (c *Client) bind(deliveries []*delivery) error {
	built := make(map[string]provider.Dispatcher)
	for _, d := range deliveries {
		reg, err := c.providers.Resolve(d.channel)
		if err != nil {
			return err
		}
		key := string(reg.CommunicationType) + "/" + strings.ToLower(reg.ID)
		disp, ok := built[key]
		if !ok {
			if disp, err = provider.Construct(reg); err != nil {
				return err
			}
			built[key] = disp
		}
		d.provider = reg
		d.dispatcher = disp
	}
	return nil
}

func supportsAny(ch channel.Channel, addrs []audience.Address) bool {
	for _, a := range addrs {
		if ch.SupportsAddress(a) {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
