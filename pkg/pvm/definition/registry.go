package definition

import (
	"fmt"
	"slices"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/pbinitiative/zenpvm/pkg/pvm"
)

// Factory creates the behavior of one activity from its config map.
type Factory func(config map[string]any) (pvm.ActivityBehavior, error)

// Registry maps activity type names to behavior factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(typeName string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; exists {
		return fmt.Errorf("activity type %q is already registered", typeName)
	}
	r.factories[typeName] = factory
	return nil
}

func (r *Registry) Lookup(typeName string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeName]
	return f, ok
}

// Types returns the registered type names sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.factories))
	for name := range r.factories {
		res = append(res, name)
	}
	slices.Sort(res)
	return res
}

// DecodeConfig decodes an activity config map into T using the mapstructure
// tags of T. Unknown keys are rejected.
func DecodeConfig[T any](config map[string]any) (T, error) {
	var res T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &res,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return res, err
	}
	if err := decoder.Decode(config); err != nil {
		return res, fmt.Errorf("invalid config: %w", err)
	}
	return res, nil
}

// Typed returns a factory decoding the config into a behavior of type T.
func Typed[T pvm.ActivityBehavior]() Factory {
	return func(config map[string]any) (pvm.ActivityBehavior, error) {
		behavior, err := DecodeConfig[T](config)
		if err != nil {
			return nil, err
		}
		return behavior, nil
	}
}
