package entitycache

import (
	"fmt"
	"slices"

	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// Entity is a persistent object tracked by the cache.
type Entity interface {
	storage.Row
	EntityType() string
	SetRevision(revision int)
	// PersistentState returns a comparable snapshot of the persisted fields.
	// A loaded entity whose state differs from the snapshot taken at load time
	// is flushed as an update.
	PersistentState() any
}

// Mapping tells the flush engine how to write one entity type.
type Mapping struct {
	Type   string
	Insert string
	Update string
	Delete string
	// DependsOn lists types whose rows must exist before rows of this type are
	// inserted. Deletes run in the opposite order.
	DependsOn []string
	// ParentID returns the id of another entity of the same type the entity
	// references, "" when it has none.
	ParentID func(e Entity) string
}

// Mappings is an immutable set of mappings in dependency order.
type Mappings struct {
	byType map[string]*Mapping
	order  []string
}

func NewMappings(mappings ...Mapping) (*Mappings, error) {
	m := &Mappings{byType: map[string]*Mapping{}}
	for i := range mappings {
		mapping := mappings[i]
		if _, exists := m.byType[mapping.Type]; exists {
			return nil, fmt.Errorf("duplicate mapping for %s", mapping.Type)
		}
		m.byType[mapping.Type] = &mapping
	}
	for _, mapping := range mappings {
		for _, dep := range mapping.DependsOn {
			if _, ok := m.byType[dep]; !ok {
				return nil, fmt.Errorf("%s depends on %w %s", mapping.Type, ErrUnknownEntityType, dep)
			}
		}
	}
	// depth first so every type follows the types it depends on, ties keep
	// declaration order
	state := map[string]int{}
	var visit func(t string, path []string) error
	visit = func(t string, path []string) error {
		switch state[t] {
		case 1:
			return fmt.Errorf("cyclic entity dependency %v", append(path, t))
		case 2:
			return nil
		}
		state[t] = 1
		for _, dep := range m.byType[t].DependsOn {
			if err := visit(dep, append(path, t)); err != nil {
				return err
			}
		}
		state[t] = 2
		m.order = append(m.order, t)
		return nil
	}
	for _, mapping := range mappings {
		if err := visit(mapping.Type, nil); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Mappings) Lookup(entityType string) (*Mapping, error) {
	mapping, ok := m.byType[entityType]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownEntityType, entityType)
	}
	return mapping, nil
}

// Order returns entity types in insert order.
func (m *Mappings) Order() []string {
	return slices.Clone(m.order)
}
