package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Registry errors.
var (
	ErrDuplicateName    = errors.New("engine: tool name already registered")
	ErrCapacityExceeded = errors.New("engine: registry capacity exceeded")
	ErrNotFound         = errors.New("engine: tool not found")
	ErrBuiltinProtected = errors.New("engine: built-in tools cannot be unregistered")
	ErrInvalidName      = errors.New("engine: invalid tool name")
)

// DefaultCapacity bounds the registry when no explicit capacity is given.
const DefaultCapacity = 128

// Registry is the ordered collection of tool descriptors, keyed by unique
// name. Capacity is fixed at construction; enumeration follows registration
// order. Mutations are expected to happen on the core tick, but the registry
// is guarded so a transport-side reader cannot observe a torn state.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	tools    map[string]*Descriptor
	order    []string
}

// NewRegistry creates an empty registry with the given capacity.
// Non-positive capacities fall back to DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		tools:    make(map[string]*Descriptor, capacity),
	}
}

// Register adds a descriptor under its unique name.
// The registry state is unchanged on any failure.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || !validName(d.Name) {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
	}
	if len(r.tools) >= r.capacity {
		return ErrCapacityExceeded
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Unregister removes a dynamic tool. Built-in descriptors are protected.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, exists := r.tools[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if d.Origin == OriginBuiltin {
		return fmt.Errorf("%w: %s", ErrBuiltinProtected, name)
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// List returns tool names in registration order, optionally filtered by
// prefix.
func (r *Registry) List(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, n := range r.order {
		if prefix == "" || strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	return names
}

// SetPersistent flips the persistent flag of a registered tool. The flag only
// applies to non-native implementations.
func (r *Registry) SetPersistent(name string, persistent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, exists := r.tools[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if d.Implementation.Kind == ImplNative {
		return fmt.Errorf("engine: tool %s is native and cannot be persistent", name)
	}
	d.Persistent = persistent
	return nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Capacity returns the fixed registry capacity.
func (r *Registry) Capacity() int { return r.capacity }
