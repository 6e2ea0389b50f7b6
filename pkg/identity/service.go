package identity

import (
	"context"
	"strings"
	"sync"

	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/logger"
)

// Resolver turns references of one platform identity type into profiles.
type Resolver interface {
	Resolve(ctx context.Context, refs []Reference) ([]*Profile, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, refs []Reference) ([]*Profile, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, refs []Reference) ([]*Profile, error) {
	return f(ctx, refs)
}

// Registration binds a resolver constructor to a platform identity type.
// An empty PlatformIdentityType makes the resolver a wildcard for every type.
type Registration struct {
	Name                 string
	PlatformIdentityType string
	New                  func() (Resolver, error)
}

// Static returns a constructor that always yields r.
func Static(r Resolver) func() (Resolver, error) {
	return func() (Resolver, error) { return r, nil }
}

// Registry holds resolver registrations in insertion order.
type Registry struct {
	mu            sync.RWMutex
	registrations []Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a registration.
func (r *Registry) Register(reg Registration) error {
	if reg.New == nil {
		return commserrors.Argument("New", "resolver registration requires a constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations = append(r.registrations, reg)
	return nil
}

// Matching returns registrations whose type is one of types, plus wildcards.
func (r *Registry) Matching(types []string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Registration
	for _, reg := range r.registrations {
		if reg.PlatformIdentityType == "" || containsFold(types, reg.PlatformIdentityType) {
			out = append(out, reg)
		}
	}
	return out
}

// Service resolves references through the registry.
type Service struct {
	registry *Registry
	logger   logger.Logger
}

// NewService creates a resolution service.
func NewService(registry *Registry, log logger.Logger) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{registry: registry, logger: logger.OrDiscard(log)}
}

// ResolveProfiles resolves refs into profiles. Resolvers are constructed fresh
// for every call and only see the references of their own type; wildcard
// resolvers see all of them. Outputs are concatenated without deduplication.
func (s *Service) ResolveProfiles(ctx context.Context, refs []Reference) ([]*Profile, error) {
	if len(refs) == 0 {
		return nil, commserrors.Empty("identityReferences")
	}

	types := distinctTypes(refs)
	var profiles []*Profile
	for _, reg := range s.registry.Matching(types) {
		resolver, err := reg.New()
		if err != nil {
			return nil, commserrors.Resolution("identity resolver "+reg.Name, err)
		}
		if resolver == nil {
			return nil, commserrors.Resolution("identity resolver "+reg.Name, nil).
				WithDetails("constructor returned nil")
		}

		subset := refs
		if reg.PlatformIdentityType != "" {
			subset = filterByType(refs, reg.PlatformIdentityType)
		}
		if len(subset) == 0 {
			continue
		}

		resolved, err := resolver.Resolve(ctx, subset)
		if err != nil {
			return nil, commserrors.Wrap(err, commserrors.ErrResolverFailed, "identity resolver failed").
				WithContext("resolver", reg.Name)
		}
		for _, p := range resolved {
			if p != nil {
				profiles = append(profiles, p)
			}
		}
		s.logger.Debug("Identity resolver completed", "resolver", reg.Name, "references", len(subset), "profiles", len(resolved))
	}
	return profiles, nil
}

func distinctTypes(refs []Reference) []string {
	var out []string
	for _, r := range refs {
		if !containsFold(out, r.Type) {
			out = append(out, r.Type)
		}
	}
	return out
}

func filterByType(refs []Reference, t string) []Reference {
	var out []Reference
	for _, r := range refs {
		if strings.EqualFold(r.Type, t) {
			out = append(out, r)
		}
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
