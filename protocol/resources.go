package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
)

// MemoryResources is a map-backed ResourceProvider. The simulated device
// and the tests use it; real hardware supplies its own provider.
type MemoryResources struct {
	mu     sync.RWMutex
	values map[string]*content.Content
}

// NewMemoryResources creates an empty in-memory resource provider.
func NewMemoryResources() *MemoryResources {
	return &MemoryResources{values: make(map[string]*content.Content)}
}

func (m *MemoryResources) Get(_ context.Context, name string) (*content.Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	if !ok {
		return nil, fmt.Errorf("resource %q not found", name)
	}
	return v, nil
}

func (m *MemoryResources) Set(_ context.Context, name string, value *content.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value.Clone()
	return nil
}
