package core

import (
	"context"
	"sort"
	"sync"
)

// Capability is a coarse label on a source declaring which kind of
// tool it supports.
type Capability string

const (
	CapabilitySQL      Capability = "query.sql"
	CapabilityDocument Capability = "query.document"
	CapabilityGraph    Capability = "query.graph"
	CapabilityVector   Capability = "query.vector"
)

// Manifest describes a registered backend source: where it lives and
// what kind of queries it answers. Manifests live for the process
// lifetime and are mutated only through Register.
type Manifest struct {
	ID           string       `json:"id"`
	Host         string       `json:"host"`
	Capabilities []Capability `json:"capabilities"`
}

// HasCapability reports whether the manifest declares the capability.
func (m *Manifest) HasCapability(c Capability) bool {
	for _, cap := range m.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// SourceRegistry holds the set of known backend sources.
// Registration is performed during setup; reads are concurrent-safe.
type SourceRegistry interface {
	Register(ctx context.Context, manifest *Manifest) error
	Get(ctx context.Context, id string) (*Manifest, bool)
	IDs(ctx context.Context) []string
}

// DefaultManifests are the canonical local-dev sources. They are
// registered when the registry is empty at startup.
var DefaultManifests = []*Manifest{
	{ID: "sql_customers", Host: "http://localhost:8001", Capabilities: []Capability{CapabilitySQL}},
	{ID: "orders_mongo", Host: "http://localhost:8002", Capabilities: []Capability{CapabilityDocument}},
	{ID: "graph_referrals", Host: "http://localhost:8003", Capabilities: []Capability{CapabilityGraph}},
	{ID: "vector_customers", Host: "http://localhost:8004", Capabilities: []Capability{CapabilityVector}},
}

// RegisterDefaults registers every default manifest not already present.
func RegisterDefaults(ctx context.Context, registry SourceRegistry) error {
	for _, m := range DefaultManifests {
		if _, ok := registry.Get(ctx, m.ID); ok {
			continue
		}
		if err := registry.Register(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// MemoryRegistry provides an in-memory SourceRegistry for development
// and testing. Insert-or-replace by id.
type MemoryRegistry struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		manifests: make(map[string]*Manifest),
	}
}

// Register inserts or replaces a manifest by id.
func (r *MemoryRegistry) Register(ctx context.Context, manifest *Manifest) error {
	if manifest == nil || manifest.ID == "" {
		return NewFederationError("registry.Register", "registry", ErrInvalidConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[manifest.ID] = manifest
	return nil
}

// Get returns the manifest for id.
func (r *MemoryRegistry) Get(ctx context.Context, id string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.manifests[id]
	if !ok {
		return nil, false
	}
	// Copy to prevent external modification
	cp := *m
	return &cp, true
}

// IDs returns the registered source ids in sorted order.
func (r *MemoryRegistry) IDs(ctx context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.manifests))
	for id := range r.manifests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
