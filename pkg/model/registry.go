package model

import (
	"fmt"
	"sort"
)

// Factory constructs an unfitted regressor.
type Factory func(p Params) Regressor

// Registry maps family names to constructors. A family is available in the
// running binary only if it has been registered.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in family.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeGBM, func(p Params) Regressor { return NewGBM(p) })
	r.Register(TypeLinear, func(p Params) Regressor { return NewLinear(p) })
	r.Register(TypeForest, func(p Params) Regressor { return NewForest(p) })
	return r
}

// Register adds or replaces a family.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Available reports whether name can be constructed.
func (r *Registry) Available(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Names lists the registered families in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve walks the fallback chain preferred -> secondary -> forest and
// returns the first available family.
func (r *Registry) Resolve(preferred, secondary string) (string, error) {
	for _, name := range []string{preferred, secondary, TypeForest} {
		if name != "" && r.Available(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w (tried %q, %q, %q)", ErrNoCapability, preferred, secondary, TypeForest)
}

// New constructs a regressor of the named family.
func (r *Registry) New(name string, p Params) (Regressor, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown model type %q", name)
	}
	return f(p), nil
}
