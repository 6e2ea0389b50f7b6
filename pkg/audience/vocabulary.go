package audience

import (
	"sort"
	"strings"
	"sync"
)

// Vocabulary is the open set of address types recognized by the configured channels.
type Vocabulary struct {
	mu    sync.RWMutex
	types map[string]struct{}
}

// NewVocabulary creates a vocabulary seeded with types.
func NewVocabulary(types ...string) *Vocabulary {
	v := &Vocabulary{types: make(map[string]struct{})}
	v.Register(types...)
	return v
}

// Register adds types to the vocabulary. Matching is case-insensitive.
func (v *Vocabulary) Register(types ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			v.types[t] = struct{}{}
		}
	}
}

// Recognized reports whether t has been registered.
func (v *Vocabulary) Recognized(t string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.types[strings.ToLower(strings.TrimSpace(t))]
	return ok
}

// Types returns the registered types in sorted order.
func (v *Vocabulary) Types() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.types))
	for t := range v.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
