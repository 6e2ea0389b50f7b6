// Package provider maps channel provider ids to the dispatchers that send
// rendered communications to third-party delivery services.
package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kart-io/commshub/pkg/channel"
	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/status"
)

// Dispatcher sends a communication. Expected delivery failures are reported
// through result statuses; a returned error signals misconfiguration.
type Dispatcher interface {
	Dispatch(ctx context.Context, comm channel.Communication, dc *channel.DispatchContext) ([]*status.DispatchResult, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, comm channel.Communication, dc *channel.DispatchContext) ([]*status.DispatchResult, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, comm channel.Communication, dc *channel.DispatchContext) ([]*status.DispatchResult, error) {
	return f(ctx, comm, dc)
}

// Registration binds a provider id to a dispatcher constructor for one
// communication type.
type Registration struct {
	ID                string
	CommunicationType channel.CommunicationType
	New               func() (Dispatcher, error)
}

// Static returns a constructor that always yields d.
func Static(d Dispatcher) func() (Dispatcher, error) {
	return func() (Dispatcher, error) { return d, nil }
}

// Registry holds provider registrations in insertion order.
type Registry struct {
	mu            sync.RWMutex
	registrations []Registration
}

// NewRegistry creates a registry with optional initial registrations.
func NewRegistry(regs ...Registration) (*Registry, error) {
	r := &Registry{}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider. Ids are unique per communication type.
func (r *Registry) Register(reg Registration) error {
	if strings.TrimSpace(reg.ID) == "" {
		return commserrors.Empty("provider id")
	}
	if reg.CommunicationType == "" {
		return commserrors.Empty("communication type").WithContext("provider", reg.ID)
	}
	if reg.New == nil {
		return commserrors.Argument("New", "provider registration requires a constructor").WithContext("provider", reg.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.registrations {
		if existing.CommunicationType == reg.CommunicationType && strings.EqualFold(existing.ID, reg.ID) {
			return commserrors.Newf(commserrors.ErrDuplicateProvider, "provider %s already registered for %s", reg.ID, reg.CommunicationType).
				WithContext("provider", reg.ID)
		}
	}
	r.registrations = append(r.registrations, reg)
	return nil
}

// ForType returns the registrations for a communication type in insertion order.
func (r *Registry) ForType(t channel.CommunicationType) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Registration
	for _, reg := range r.registrations {
		if reg.CommunicationType == t {
			out = append(out, reg)
		}
	}
	return out
}

// IDs returns every registered provider id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.registrations))
	for _, reg := range r.registrations {
		out = append(out, reg.ID)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the provider for ch from the intersection of the channel's
// allowed provider ids and the providers known for its communication type.
// The channel's allow-list order wins; an empty allow-list takes the first
// registered provider.
func (r *Registry) Resolve(ch channel.Channel) (Registration, error) {
	known := r.ForType(ch.CommunicationType())
	allowed := ch.AllowedProviderIDs()

	if len(allowed) == 0 && len(known) > 0 {
		return known[0], nil
	}
	for _, id := range allowed {
		for _, reg := range known {
			if strings.EqualFold(reg.ID, id) {
				return reg, nil
			}
		}
	}
	return Registration{}, commserrors.Communications(commserrors.ErrProviderNotResolved, "no channel provider available").
		WithContext("channel", ch.ID()).
		WithContext("communication_type", string(ch.CommunicationType()))
}

// Construct builds the dispatcher for reg.
func Construct(reg Registration) (Dispatcher, error) {
	d, err := reg.New()
	if err != nil {
		return nil, commserrors.Resolution("channel provider "+reg.ID, err)
	}
	if d == nil {
		return nil, commserrors.Resolution("channel provider "+reg.ID, nil).WithDetails("constructor returned nil")
	}
	return d, nil
}
