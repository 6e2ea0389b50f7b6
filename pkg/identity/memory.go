package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryResolver serves profiles from an in-memory directory keyed by type and id.
type MemoryResolver struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryResolver creates a resolver preloaded with profiles.
func NewMemoryResolver(profiles ...*Profile) *MemoryResolver {
	m := &MemoryResolver{profiles: make(map[string]*Profile)}
	for _, p := range profiles {
		m.Put(p)
	}
	return m
}

// Put stores or replaces a profile.
func (m *MemoryResolver) Put(p *Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[key(p.Type, p.ID)] = p
}

// Resolve returns the known profiles for refs; unknown references are skipped.
func (m *MemoryResolver) Resolve(_ context.Context, refs []Reference) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Profile, 0, len(refs))
	for _, r := range refs {
		if p, ok := m.profiles[key(r.Type, r.ID)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func key(typ, id string) string {
	return strings.ToLower(typ) + "\x00" + id
}
