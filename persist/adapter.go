// Package persist serializes dynamic tool definitions into the key/value
// store so they survive restarts. Records live under "tool:<name>"; every
// other key belongs to the configuration subsystem.
//
// Information Hiding:
// - Record wire format encapsulated
// - Per-name serialization guard internal
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/engine"
	"github.com/MCP-Dev-Studio/autostudio-embedded/kv"
)

// KeyPrefix scopes tool records inside the shared store.
const KeyPrefix = "tool:"

// Adapter errors.
var (
	ErrBusy           = errors.New("persist: concurrent operation on the same tool")
	ErrNotPersistable = errors.New("persist: only composite tools can be persisted")
	ErrNotFound       = errors.New("persist: no record for tool")
)

// record is the JSON document stored per persistent tool.
type record struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Schema      *content.Content      `json:"schema,omitempty"`
	Impl        *engine.CompositeBody `json:"implementation"`
	Persistent  bool                  `json:"persistent"`
}

// Adapter moves composite tool definitions between the registry and the
// key/value store.
type Adapter struct {
	store    kv.Store
	registry *engine.Registry
	log      zerolog.Logger

	mu   sync.Mutex
	busy map[string]bool
}

// NewAdapter creates an adapter bound to a store and a registry.
func NewAdapter(store kv.Store, registry *engine.Registry, log zerolog.Logger) *Adapter {
	return &Adapter{
		store:    store,
		registry: registry,
		log:      log,
		busy:     make(map[string]bool),
	}
}

// acquire guards against concurrent save/load of the same name.
func (a *Adapter) acquire(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy[name] {
		return fmt.Errorf("%w: %s", ErrBusy, name)
	}
	a.busy[name] = true
	return nil
}

func (a *Adapter) release(name string) {
	a.mu.Lock()
	delete(a.busy, name)
	a.mu.Unlock()
}

// Save serializes the named tool's composite body, schema and description
// under "tool:<name>". The store provides write-then-commit semantics, so a
// failed save leaves any previous record intact.
func (a *Adapter) Save(ctx context.Context, name string) error {
	if err := a.acquire(name); err != nil {
		return err
	}
	defer a.release(name)

	desc, err := a.registry.Lookup(name)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if desc.Implementation.Kind != engine.ImplComposite || desc.Implementation.Composite == nil {
		return fmt.Errorf("%w: %s", ErrNotPersistable, name)
	}

	doc, err := json.Marshal(record{
		Name:        desc.Name,
		Description: desc.Description,
		Schema:      desc.Schema,
		Impl:        desc.Implementation.Composite,
		Persistent:  desc.Persistent,
	})
	if err != nil {
		return fmt.Errorf("persist: encode %s: %w", name, err)
	}

	if err := a.store.Set(ctx, KeyPrefix+name, doc); err != nil {
		return fmt.Errorf("persist: write %s: %w", name, err)
	}
	a.log.Debug().Str("tool", name).Msg("tool record saved")
	return nil
}

// Load reads the record for name and registers the reconstructed
// descriptor. A conflict with a registered built-in keeps the built-in; the
// stored record stays dormant.
func (a *Adapter) Load(ctx context.Context, name string) error {
	if err := a.acquire(name); err != nil {
		return err
	}
	defer a.release(name)
	return a.load(ctx, name)
}

func (a *Adapter) load(ctx context.Context, name string) error {
	doc, err := a.store.Get(ctx, KeyPrefix+name)
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("persist: read %s: %w", name, err)
	}

	var rec record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return fmt.Errorf("persist: decode %s: %w", name, err)
	}
	if rec.Impl == nil {
		return fmt.Errorf("persist: record %s has no implementation", name)
	}

	if existing, err := a.registry.Lookup(rec.Name); err == nil {
		if existing.Origin == engine.OriginBuiltin {
			// Built-in wins; the dynamic record stays dormant in the store.
			a.log.Warn().Str("tool", rec.Name).Msg("dormant record shadowed by built-in")
			return nil
		}
		return fmt.Errorf("persist: %s already registered", rec.Name)
	}

	desc := &engine.Descriptor{
		Name:           rec.Name,
		Description:    rec.Description,
		Schema:         rec.Schema,
		Implementation: engine.Implementation{Kind: engine.ImplComposite, Composite: rec.Impl},
		Persistent:     rec.Persistent,
		Origin:         engine.OriginDynamic,
	}
	if err := a.registry.Register(desc); err != nil {
		return fmt.Errorf("persist: register %s: %w", rec.Name, err)
	}
	return nil
}

// LoadAll enumerates every "tool:*" record and registers each. Individual
// record failures are logged and skipped; the count of registered tools is
// returned.
func (a *Adapter) LoadAll(ctx context.Context) (int, error) {
	keys, err := a.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("persist: enumerate records: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		name := strings.TrimPrefix(key, KeyPrefix)
		if err := a.Load(ctx, name); err != nil {
			a.log.Warn().Str("tool", name).Err(err).Msg("skipping unloadable tool record")
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Remove deletes the stored record for name. The registry entry, if any, is
// left alone.
func (a *Adapter) Remove(ctx context.Context, name string) error {
	if err := a.acquire(name); err != nil {
		return err
	}
	defer a.release(name)

	if err := a.store.Delete(ctx, KeyPrefix+name); err != nil {
		return fmt.Errorf("persist: remove %s: %w", name, err)
	}
	return nil
}
