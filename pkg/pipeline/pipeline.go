// Package pipeline bundles channels into named communication intents and
// selects the pipelines applicable to a dispatch.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/kart-io/commshub/pkg/channel"
	commserrors "github.com/kart-io/commshub/pkg/errors"
)

// DeliveryStrategy selects how many eligible channels a pipeline uses.
type DeliveryStrategy int

const (
	// AllMatching dispatches through every eligible channel.
	AllMatching DeliveryStrategy = iota
	// FirstMatch dispatches through the first eligible channel in configured order.
	FirstMatch
)

func (s DeliveryStrategy) String() string {
	if s == FirstMatch {
		return "first-match"
	}
	return "all-matching"
}

// ParseStrategy parses "all-matching" or "first-match" (case and separator insensitive).
func ParseStrategy(s string) (DeliveryStrategy, error) {
	switch strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s)) {
	case "", "allmatching", "all":
		return AllMatching, nil
	case "firstmatch", "first":
		return FirstMatch, nil
	default:
		return AllMatching, fmt.Errorf("unknown delivery strategy %q", s)
	}
}

// Pipeline is a configured bundle of channels and delivery policy for one intent.
// Pipelines are read-only once built.
type Pipeline struct {
	Intent                      string
	ID                          string
	Channels                    []channel.Channel
	Strategy                    DeliveryStrategy
	PersonaFilters              []string
	DispatchRequirementsAllowed bool
	// Concurrency bounds parallel channel dispatches; 0 means unbounded.
	Concurrency       int
	TransportPriority channel.Priority
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithID sets the pipeline id used for variant selection.
func WithID(id string) Option {
	return func(p *Pipeline) error {
		p.ID = strings.TrimSpace(id)
		return nil
	}
}

// WithChannels appends channels in dispatch order.
func WithChannels(channels ...channel.Channel) Option {
	return func(p *Pipeline) error {
		for _, c := range channels {
			if c == nil {
				return commserrors.Argument("channels", "channel must not be nil")
			}
		}
		p.Channels = append(p.Channels, channels...)
		return nil
	}
}

// WithStrategy sets the delivery strategy.
func WithStrategy(s DeliveryStrategy) Option {
	return func(p *Pipeline) error {
		p.Strategy = s
		return nil
	}
}

// WithPersonaFilters restricts the pipeline to identities in every named persona.
func WithPersonaFilters(names ...string) Option {
	return func(p *Pipeline) error {
		for _, n := range names {
			if strings.TrimSpace(n) == "" {
				return commserrors.Empty("persona filter")
			}
		}
		p.PersonaFilters = append(p.PersonaFilters, names...)
		return nil
	}
}

// WithDispatchRequirementsAllowed lets callers restrict the pipeline to a channel subset.
func WithDispatchRequirementsAllowed(allowed bool) Option {
	return func(p *Pipeline) error {
		p.DispatchRequirementsAllowed = allowed
		return nil
	}
}

// WithConcurrency bounds parallel channel dispatches.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) error {
		if n < 0 {
			return commserrors.Argument("concurrency", "concurrency must not be negative")
		}
		p.Concurrency = n
		return nil
	}
}

// WithTransportPriority sets the priority forwarded to providers.
func WithTransportPriority(prio channel.Priority) Option {
	return func(p *Pipeline) error {
		p.TransportPriority = prio
		return nil
	}
}

// New builds a pipeline. The intent must be non-empty and at least one
// channel with a unique id is required.
func New(intent string, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{Intent: strings.TrimSpace(intent)}
	if p.Intent == "" {
		return nil, commserrors.Empty("intent")
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if len(p.Channels) == 0 {
		return nil, commserrors.Empty("channels").WithContext("intent", p.Intent)
	}
	seen := make(map[string]bool, len(p.Channels))
	for _, c := range p.Channels {
		id := strings.ToLower(c.ID())
		if id == "" {
			return nil, commserrors.Empty("channel id").WithContext("intent", p.Intent)
		}
		if seen[id] {
			return nil, commserrors.Argument("channels", "duplicate channel id "+c.ID()).WithContext("intent", p.Intent)
		}
		seen[id] = true
	}
	return p, nil
}

// Channel returns the channel with id.
func (p *Pipeline) Channel(id string) (channel.Channel, bool) {
	for _, c := range p.Channels {
		if strings.EqualFold(c.ID(), id) {
			return c, true
		}
	}
	return nil, false
}

// Name returns "intent" or "intent/id".
func (p *Pipeline) Name() string {
	if p.ID == "" {
		return p.Intent
	}
	return p.Intent + "/" + p.ID
}
