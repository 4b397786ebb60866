package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/polyfed/federator/core"
)

// schemaFetchTimeout bounds a single get_schema call during population.
const schemaFetchTimeout = 10 * time.Second

// ToolCaller is the slice of the dispatcher the catalog needs.
type ToolCaller interface {
	Call(ctx context.Context, sourceID, tool string, payload map[string]interface{}) (interface{}, error)
}

// SchemaCatalog maintains the per-source typed schemas. Population is
// lazy: the first EnsureLoaded fetches get_schema from every registered
// source exactly once; concurrent first-requests wait for the winner.
// Once loaded, schemas are cached for the process lifetime.
type SchemaCatalog struct {
	mu      sync.RWMutex
	schemas map[string]*SourceSchema

	registry   core.SourceRegistry
	dispatcher ToolCaller
	logger     core.Logger

	loadOnce sync.Once
}

// NewSchemaCatalog creates an empty catalog over the given registry
// and dispatcher.
func NewSchemaCatalog(registry core.SourceRegistry, dispatcher ToolCaller) *SchemaCatalog {
	return &SchemaCatalog{
		schemas:    make(map[string]*SourceSchema),
		registry:   registry,
		dispatcher: dispatcher,
		logger:     &core.NoOpLogger{},
	}
}

// SetLogger sets the logger provider
func (c *SchemaCatalog) SetLogger(logger core.Logger) {
	if logger == nil {
		c.logger = &core.NoOpLogger{}
	} else {
		c.logger = logger
	}
}

// Register inserts or replaces a schema by source id.
func (c *SchemaCatalog) Register(schema *SourceSchema) {
	if schema == nil || schema.MCPID == "" {
		return
	}

	c.logger.Info("Registering source schema", map[string]interface{}{
		"operation": "schema_register",
		"source_id": schema.MCPID,
		"db_type":   string(schema.DBType),
		"entities":  len(schema.Entities),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[schema.MCPID] = schema
}

// Get returns the cached schema for a source id.
func (c *SchemaCatalog) Get(sourceID string) (*SourceSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[sourceID]
	return s, ok
}

// Len returns the number of cached schemas.
func (c *SchemaCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.schemas)
}

// EnsureLoaded populates the catalog from every registered source on
// first use. Individual source failures are logged and skipped; they
// never abort the pass. Subsequent calls are no-ops.
func (c *SchemaCatalog) EnsureLoaded(ctx context.Context) {
	c.loadOnce.Do(func() {
		c.populate(ctx)
	})
}

func (c *SchemaCatalog) populate(ctx context.Context) {
	start := time.Now()
	ids := c.registry.IDs(ctx)

	c.logger.Info("Loading schemas from registered sources", map[string]interface{}{
		"operation":    "catalog_populate",
		"source_count": len(ids),
	})

	loaded := 0
	for _, id := range ids {
		fetchCtx, cancel := context.WithTimeout(ctx, schemaFetchTimeout)
		resp, err := c.dispatcher.Call(fetchCtx, id, ToolGetSchema, map[string]interface{}{})
		cancel()
		if err != nil {
			c.logger.Warn("Schema fetch failed, skipping source", map[string]interface{}{
				"operation": "schema_fetch",
				"source_id": id,
				"error":     err.Error(),
			})
			continue
		}

		schema, err := ParseSourceSchema(resp)
		if err != nil {
			c.logger.Warn("Schema parse failed, skipping source", map[string]interface{}{
				"operation": "schema_parse",
				"source_id": id,
				"error":     err.Error(),
			})
			continue
		}

		c.Register(schema)
		loaded++
	}

	c.logger.Info("Schema loading complete", map[string]interface{}{
		"operation":   "catalog_populate",
		"loaded":      loaded,
		"failed":      len(ids) - loaded,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// sortedSchemas returns cached schemas ordered by source id so that
// every rendering of the catalog is byte-stable.
func (c *SchemaCatalog) sortedSchemas() []*SourceSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.schemas))
	for id := range c.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*SourceSchema, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.schemas[id])
	}
	return out
}

// BuildSourcesForLLM renders the catalog into the compact descriptor
// list the planner embeds in its prompt.
func (c *SchemaCatalog) BuildSourcesForLLM() []SourceDescriptor {
	schemas := c.sortedSchemas()

	sources := make([]SourceDescriptor, 0, len(schemas))
	for _, schema := range schemas {
		entities := make([]EntityDescriptor, 0, len(schema.Entities))
		for _, ent := range schema.Entities {
			fields := make([]FieldDescriptor, 0, len(ent.Fields))
			for _, f := range ent.Fields {
				fields = append(fields, FieldDescriptor{
					Name:         f.Name,
					Type:         f.Type,
					SemanticTags: f.SemanticTags,
				})
			}
			entities = append(entities, EntityDescriptor{
				Name:           ent.Name,
				SemanticTags:   ent.SemanticTags,
				DefaultIDField: ent.DefaultIDField,
				Fields:         fields,
			})
		}
		sources = append(sources, SourceDescriptor{
			MCPID:    schema.MCPID,
			DBType:   schema.DBType,
			Tools:    ToolsFor(schema.DBType),
			Entities: entities,
		})
	}

	return sources
}
