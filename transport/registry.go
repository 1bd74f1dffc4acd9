package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrUnknownBackend is returned by Build when no backend is registered under
// the configured ChannelSystem.
var ErrUnknownBackend = errors.New("unknown transport")

type backend struct {
	build    Builder
	caps     Capabilities
	declared bool
}

// Registry maps ChannelSystem names to backend builders. Names are case
// insensitive, matching how the config validates ChannelSystem.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]backend
}

// DefaultRegistry holds the bundled backends. Each backend package adds
// itself from init.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]backend)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a backend whose guarantees are not declared. The transport
// then skips the ordering checks and loopback emulation for it.
func (r *Registry) Register(name string, builder Builder) {
	r.put(name, backend{build: builder, caps: Capabilities{Name: name}})
}

// RegisterWithCapabilities adds a backend together with what it guarantees.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.put(name, backend{build: builder, caps: caps, declared: true})
}

func (r *Registry) put(name string, b backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[normalizeName(name)] = b
}

func (r *Registry) lookup(name string) (backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[normalizeName(name)]
	return b, ok
}

// GetCapabilities returns what the named backend guarantees. Unknown and
// undeclared backends yield Capabilities carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if b, ok := r.lookup(name); ok && b.declared {
		return b.caps
	}
	return Capabilities{Name: name}
}

// DeclaredCapabilities is like GetCapabilities but reports whether the
// backend was registered with its capabilities.
func (r *Registry) DeclaredCapabilities(name string) (Capabilities, bool) {
	b, ok := r.lookup(name)
	if !ok || !b.declared {
		return Capabilities{}, false
	}
	return b.caps, true
}

// Build runs the builder registered for cfg's ChannelSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	name := cfg.GetChannelSystem()
	b, ok := r.lookup(name)
	if !ok {
		return Transport{}, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, r.Names())
	}
	return b.build(ctx, cfg, logger)
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Register adds a backend to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a backend and its capabilities to DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build runs the DefaultRegistry builder for cfg's ChannelSystem.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
