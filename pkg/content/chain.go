package content

import (
	"context"
	"sort"
	"sync"

	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/logger"
)

// Scope selects when a resolver runs during a dispatch.
type Scope int

const (
	// PipelineLevel resolvers run once per pipeline before channel iteration.
	PipelineLevel Scope = iota
	// PerChannel resolvers run once per selected channel on an independent copy.
	PerChannel
)

func (s Scope) String() string {
	if s == PerChannel {
		return "per-channel"
	}
	return "pipeline"
}

// ResolveContext describes the dispatch position a resolver is invoked for.
type ResolveContext struct {
	Intent     string
	PipelineID string
	ChannelID  string
	Culture    string
	Properties map[string]any
}

// Resolver rewrites a model. Returning nil leaves the current model in place.
type Resolver interface {
	Resolve(ctx context.Context, rc *ResolveContext, current *Model) (*Model, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, rc *ResolveContext, current *Model) (*Model, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, rc *ResolveContext, current *Model) (*Model, error) {
	return f(ctx, rc, current)
}

// Registration binds a resolver constructor to a scope.
type Registration struct {
	Name                    string
	Scope                   Scope
	ContinueOnResolvedModel bool
	Predicate               func(rc *ResolveContext) bool
	Order                   *int
	New                     func() (Resolver, error)
}

// Static returns a constructor that always yields r.
func Static(r Resolver) func() (Resolver, error) {
	return func() (Resolver, error) { return r, nil }
}

// Order is a helper for Registration.Order literals.
func Order(n int) *int {
	return &n
}

type entry struct {
	Registration
	seq int
}

// Chain runs registered resolvers in order.
type Chain struct {
	mu      sync.RWMutex
	entries []entry
	logger  logger.Logger
}

// NewChain creates an empty chain.
func NewChain(log logger.Logger) *Chain {
	return &Chain{logger: logger.OrDiscard(log)}
}

// Register appends a registration.
func (c *Chain) Register(reg Registration) error {
	if reg.New == nil {
		return commserrors.Argument("New", "model resolver registration requires a constructor")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{Registration: reg, seq: len(c.entries)})
	return nil
}

// HasResolvers reports whether any resolver is registered for scope.
func (c *Chain) HasResolvers(scope Scope) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Scope == scope {
			return true
		}
	}
	return false
}

// ordered returns scope registrations by Order ascending, nil last, ties by
// registration sequence.
func (c *Chain) ordered(scope Scope) []entry {
	c.mu.RLock()
	var out []entry
	for _, e := range c.entries {
		if e.Scope == scope {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Order, out[j].Order
		switch {
		case a != nil && b != nil:
			if *a != *b {
				return *a < *b
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Resolve runs the scope's resolvers against initial and returns the final
// model. ctx is checked before each resolver is invoked.
func (c *Chain) Resolve(ctx context.Context, rc *ResolveContext, initial *Model, scope Scope) (*Model, error) {
	if c == nil {
		return initial, nil
	}
	if rc == nil {
		rc = &ResolveContext{}
	}
	current := initial
	for _, e := range c.ordered(scope) {
		if e.Predicate != nil && !e.Predicate(rc) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return current, err
		}

		resolver, err := e.New()
		if err != nil {
			return current, commserrors.Resolution("model resolver "+e.Name, err)
		}
		if resolver == nil {
			return current, commserrors.Resolution("model resolver "+e.Name, nil).
				WithDetails("constructor returned nil")
		}

		next, err := resolver.Resolve(ctx, rc, current)
		if err != nil {
			return current, commserrors.Wrap(err, commserrors.ErrResolverFailed, "model resolver failed").
				WithContext("resolver", e.Name)
		}
		if next == nil {
			continue
		}
		current = next
		c.logger.Debug("Model resolved", "resolver", e.Name, "scope", scope.String(), "channel", rc.ChannelID)
		if !e.ContinueOnResolvedModel {
			break
		}
	}
	return current, nil
}
