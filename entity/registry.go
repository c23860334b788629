package entity

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Registry is the closed, exhaustive classification of entity types. It is
// sealed at construction: there is no way to add or reclassify a type on a
// live registry, so the unknown branch stays meaningful for fail-closed
// handling.
type Registry struct {
	descs map[Name]*Descriptor
}

// NewRegistry validates and seals the given descriptors.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	byName := make(map[Name]*Descriptor, len(descs))
	byTable := make(map[string]Name, len(descs))

	for i := range descs {
		d := descs[i]
		if err := d.normalize(); err != nil {
			return nil, err
		}

		if _, ok := byName[d.Name]; ok {
			return nil, fmt.Errorf("entity: duplicate entity %q", d.Name)
		}

		if prev, ok := byTable[d.Table]; ok {
			return nil, fmt.Errorf("entity: table %q declared by both %q and %q", d.Table, prev, d.Name)
		}

		byName[d.Name] = &d
		byTable[d.Table] = d.Name
	}

	return &Registry{descs: byName}, nil
}

// Lookup returns the descriptor for a name. The second result is false for
// unknown types; callers must treat that as a denial, never as "no
// restriction".
func (r *Registry) Lookup(name Name) (*Descriptor, bool) {
	d, ok := r.descs[name]

	return d, ok
}

// Kind classifies a name, returning KindUnknown for unregistered types.
func (r *Registry) Kind(name Name) Kind {
	d, ok := r.descs[name]
	if !ok {
		return KindUnknown
	}

	return d.Kind
}

// Descriptors returns all registered descriptors, ordered by name.
func (r *Registry) Descriptors() []*Descriptor {
	out := lo.Values(r.descs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
