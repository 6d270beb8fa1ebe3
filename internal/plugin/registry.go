package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/countyops/countysync/internal/errors"
)

// Registry maps plugin names to descriptors. All registration happens during
// startup; Freeze then makes the registry immutable so job dispatch can read
// it without locking against mutation.
type Registry struct {
	mu      sync.Mutex
	frozen  bool
	plugins map[string]Descriptor
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Descriptor)}
}

// Register adds a descriptor. It fails on duplicate names, invalid
// descriptors, and any attempt to register after Freeze.
func (r *Registry) Register(d Descriptor) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register plugin %q: registry is frozen", d.Name)
	}
	if _, exists := r.plugins[d.Name]; exists {
		return fmt.Errorf("register plugin %q: already registered", d.Name)
	}
	r.plugins[d.Name] = d
	return nil
}

// MustRegister registers a descriptor and panics on error. Use during startup
// wiring where a failure is a programming error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Freeze marks the registry immutable. Safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the descriptor for name or an UnknownPlugin error.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.plugins[name]
	if !ok {
		return Descriptor{}, apperrors.UnknownPluginf("plugin %q is not registered", name)
	}
	return d, nil
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateDescriptor(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("register plugin: name is required")
	}
	if d.Action == "" {
		return fmt.Errorf("register plugin %q: action is required", d.Name)
	}
	if d.Runner == nil {
		return fmt.Errorf("register plugin %q: runner is required", d.Name)
	}
	return nil
}
