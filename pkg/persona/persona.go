// Package persona classifies resolved identities with named predicates.
package persona

import (
	"strings"
	"sync"

	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/identity"
)

// Predicate decides persona membership for one profile. It must be pure.
type Predicate func(p *identity.Profile) bool

// Registration names a predicate. A non-empty PlatformIdentityType restricts
// the predicate to profiles of that type.
type Registration struct {
	Name                 string
	PlatformIdentityType string
	Predicate            Predicate
}

// Matcher evaluates persona registrations against identities.
type Matcher struct {
	mu            sync.RWMutex
	registrations []Registration
}

// NewMatcher creates a matcher with optional initial registrations.
func NewMatcher(regs ...Registration) (*Matcher, error) {
	m := &Matcher{}
	for _, r := range regs {
		if err := m.Register(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds a persona predicate.
func (m *Matcher) Register(r Registration) error {
	if strings.TrimSpace(r.Name) == "" {
		return commserrors.Empty("persona name")
	}
	if r.Predicate == nil {
		return commserrors.Argument("Predicate", "persona "+r.Name+" requires a predicate")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations = append(m.registrations, r)
	return nil
}

// Names returns the distinct registered persona names.
func (m *Matcher) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, r := range m.registrations {
		dup := false
		for _, n := range out {
			if strings.EqualFold(n, r.Name) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r.Name)
		}
	}
	return out
}

// AnyMatch reports whether any predicate registered under name matches any identity.
func (m *Matcher) AnyMatch(name string, identities []*identity.Profile) (bool, error) {
	regs, err := m.lookup(name, identities)
	if err != nil {
		return false, err
	}
	for _, p := range identities {
		if matchesAny(regs, p) {
			return true, nil
		}
	}
	return false, nil
}

// IsMatch reports whether one identity belongs to persona name.
func (m *Matcher) IsMatch(name string, p *identity.Profile) (bool, error) {
	return m.AnyMatch(name, []*identity.Profile{p})
}

// Filter returns the identities that belong to persona name, in input order.
func (m *Matcher) Filter(name string, identities []*identity.Profile) ([]*identity.Profile, error) {
	regs, err := m.lookup(name, identities)
	if err != nil {
		return nil, err
	}
	out := make([]*identity.Profile, 0, len(identities))
	for _, p := range identities {
		if matchesAny(regs, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FilterAll keeps identities that belong to every persona in names.
// An empty names list keeps everything.
func (m *Matcher) FilterAll(names []string, identities []*identity.Profile) ([]*identity.Profile, error) {
	out := identities
	for _, name := range names {
		var err error
		if out, err = m.Filter(name, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Matcher) lookup(name string, identities []*identity.Profile) ([]Registration, error) {
	if strings.TrimSpace(name) == "" {
		return nil, commserrors.Empty("personaName")
	}
	if identities == nil {
		return nil, commserrors.Argument("identities", "identities must not be nil")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var regs []Registration
	for _, r := range m.registrations {
		if strings.EqualFold(r.Name, name) {
			regs = append(regs, r)
		}
	}
	return regs, nil
}

func matchesAny(regs []Registration, p *identity.Profile) bool {
	if p == nil {
		return false
	}
	for _, r := range regs {
		if r.PlatformIdentityType != "" && !p.IsType(r.PlatformIdentityType) {
			continue
		}
		if r.Predicate(p) {
			return true
		}
	}
	return false
}

// AttributeEquals is a predicate matching profiles whose attribute key equals value.
func AttributeEquals(key, value string) Predicate {
	return func(p *identity.Profile) bool {
		v, ok := p.Attribute(key)
		return ok && strings.EqualFold(v, value)
	}
}

// HasAttribute is a predicate matching profiles that carry attribute key.
func HasAttribute(key string) Predicate {
	return func(p *identity.Profile) bool {
		_, ok := p.Attribute(key)
		return ok
	}
}
