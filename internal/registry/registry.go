package registry

import (
	"errors"
	"fmt"
)

// NotFoundError reports a request for a variant name that is not registered.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("variant %q is not registered", e.Name)
}

// Registry is an insertion-ordered catalog of variants. Registration order
// is preserved for listing and "build all" iteration so output ordering is
// deterministic across runs.
type Registry struct {
	byName map[string]Variant
	order  []string
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]Variant)}
}

// Register adds a variant. Names must be unique within the registry.
func (r *Registry) Register(v Variant) error {
	if v.Name == "" {
		return errors.New("variant name is required")
	}
	if !v.SafetyLevel.Valid() {
		return fmt.Errorf("variant %q has unknown safety level %q", v.Name, v.SafetyLevel)
	}
	if v.SourcePath == "" {
		return fmt.Errorf("variant %q has no source path", v.Name)
	}
	if _, exists := r.byName[v.Name]; exists {
		return fmt.Errorf("variant %q is already registered", v.Name)
	}
	r.byName[v.Name] = v
	r.order = append(r.order, v.Name)
	return nil
}

// List returns all variants in registration order.
func (r *Registry) List() []Variant {
	variants := make([]Variant, 0, len(r.order))
	for _, name := range r.order {
		variants = append(variants, r.byName[name])
	}
	return variants
}

// Get returns the variant registered under name.
func (r *Registry) Get(name string) (Variant, error) {
	v, ok := r.byName[name]
	if !ok {
		return Variant{}, &NotFoundError{Name: name}
	}
	return v, nil
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered variants.
func (r *Registry) Len() int {
	return len(r.order)
}
