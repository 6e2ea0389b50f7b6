// Package content holds the content model handed to template rendering and the
// scope-gated chain of resolvers that may rewrite it before rendering.
package content

import "maps"

// Kind tags the variant carried by a Model.
type Kind int

const (
	// KindStructured carries a typed value supplied by the caller.
	KindStructured Kind = iota
	// KindRaw carries an untyped key/value map.
	KindRaw
)

func (k Kind) String() string {
	if k == KindRaw {
		return "raw"
	}
	return "structured"
}

// Resource is an attachment or asset carried alongside a model.
type Resource struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
	URL         string
	Inline      bool
}

// Cloner lets structured values control how they are copied per channel.
type Cloner interface {
	CloneModel() any
}

// Model is the opaque value rendered by channel templates.
// The dispatch core never introspects it; it only hands Data to engines.
type Model struct {
	kind       Kind
	structured any
	raw        map[string]any

	Resources       []Resource
	LinkedResources []Resource
}

// Structured wraps a typed value.
func Structured(v any) *Model {
	return &Model{kind: KindStructured, structured: v}
}

// Raw wraps an untyped map. A nil map is replaced with an empty one.
func Raw(m map[string]any) *Model {
	if m == nil {
		m = map[string]any{}
	}
	return &Model{kind: KindRaw, raw: m}
}

// Kind returns the variant tag.
func (m *Model) Kind() Kind {
	return m.kind
}

// Data returns the value to render templates against.
func (m *Model) Data() any {
	if m == nil {
		return nil
	}
	if m.kind == KindRaw {
		return m.raw
	}
	return m.structured
}

// WithResources appends resources and returns m.
func (m *Model) WithResources(res ...Resource) *Model {
	m.Resources = append(m.Resources, res...)
	return m
}

// WithLinkedResources appends linked resources and returns m.
func (m *Model) WithLinkedResources(res ...Resource) *Model {
	m.LinkedResources = append(m.LinkedResources, res...)
	return m
}

// Clone returns an independent copy. Raw maps are deep-copied through nested
// maps and slices; structured values are copied with CloneModel when they
// implement Cloner and by assignment otherwise.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	c := &Model{kind: m.kind}
	switch m.kind {
	case KindRaw:
		c.raw = cloneMap(m.raw)
	default:
		if cl, ok := m.structured.(Cloner); ok {
			c.structured = cl.CloneModel()
		} else {
			c.structured = m.structured
		}
	}
	c.Resources = cloneResources(m.Resources)
	c.LinkedResources = cloneResources(m.LinkedResources)
	return c
}

func cloneResources(in []Resource) []Resource {
	if in == nil {
		return nil
	}
	out := make([]Resource, len(in))
	for i, r := range in {
		out[i] = r
		if r.Data != nil {
			out[i].Data = append([]byte(nil), r.Data...)
		}
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := maps.Clone(in)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
