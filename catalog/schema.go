// Package catalog maintains the typed, capability-aware registry of
// backend schemas that grounds the planner. Schemas are fetched lazily
// from each source's get_schema tool and cached for the process lifetime.
package catalog

import (
	"encoding/json"
	"fmt"
)

// DBType classifies a backend source
type DBType string

const (
	DBTypeSQL    DBType = "sql"
	DBTypeNoSQL  DBType = "nosql"
	DBTypeGraph  DBType = "graph"
	DBTypeVector DBType = "vector"
)

// EntityKind classifies an entity within a source
type EntityKind string

const (
	EntityKindTable        EntityKind = "table"
	EntityKindCollection   EntityKind = "collection"
	EntityKindNode         EntityKind = "node"
	EntityKindRelationship EntityKind = "relationship"
	EntityKindIndex        EntityKind = "index"
)

// Tool names a backend operation
const (
	ToolExecuteSQL = "execute_sql"
	ToolFind       = "find"
	ToolTraverse   = "traverse"
	ToolSearch     = "search"
	ToolGetSchema  = "get_schema"
)

// ToolsFor returns the allowed tool set for a db type.
func ToolsFor(db DBType) []string {
	switch db {
	case DBTypeSQL:
		return []string{ToolExecuteSQL, ToolGetSchema}
	case DBTypeNoSQL:
		return []string{ToolFind, ToolGetSchema}
	case DBTypeGraph:
		return []string{ToolTraverse, ToolGetSchema}
	case DBTypeVector:
		return []string{ToolSearch, ToolGetSchema}
	default:
		return []string{ToolGetSchema}
	}
}

// ToolAllowed reports whether tool is valid for the db type.
func ToolAllowed(db DBType, tool string) bool {
	for _, t := range ToolsFor(db) {
		if t == tool {
			return true
		}
	}
	return false
}

// DefaultTool returns the query tool for a db type, falling back to
// execute_sql when the type is unknown.
func DefaultTool(db DBType) string {
	switch db {
	case DBTypeNoSQL:
		return ToolFind
	case DBTypeGraph:
		return ToolTraverse
	case DBTypeVector:
		return ToolSearch
	default:
		return ToolExecuteSQL
	}
}

// Field describes a single attribute of an entity. Semantic tags are
// free-form but conventional (id, email, embedding, entity:customer, ...);
// they drive heuristic fallback and LLM grounding, never enforcement.
type Field struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description,omitempty"`
	SemanticTags []string `json:"semantic_tags,omitempty"`
}

// HasTag reports whether the field carries the semantic tag.
func (f *Field) HasTag(tag string) bool {
	for _, t := range f.SemanticTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Entity describes a table, collection, node label, relationship, or
// vector index within a source.
type Entity struct {
	Name           string     `json:"name"`
	Kind           EntityKind `json:"kind"`
	Fields         []Field    `json:"fields"`
	SemanticTags   []string   `json:"semantic_tags,omitempty"`
	DefaultIDField string     `json:"default_id_field,omitempty"`
}

// HasTag reports whether the entity carries the semantic tag.
func (e *Entity) HasTag(tag string) bool {
	for _, t := range e.SemanticTags {
		if t == tag {
			return true
		}
	}
	return false
}

// SourceSchema is the typed schema of one registered source.
type SourceSchema struct {
	MCPID    string   `json:"mcp_id"`
	DBType   DBType   `json:"db_type"`
	Entities []Entity `json:"entities"`
}

// ParseSourceSchema converts a decoded get_schema response into a
// SourceSchema, applying the conventional defaults for absent fields.
func ParseSourceSchema(v interface{}) (*SourceSchema, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("schema not serializable: %w", err)
	}

	var schema SourceSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("malformed schema: %w", err)
	}

	if schema.MCPID == "" {
		return nil, fmt.Errorf("schema missing mcp_id")
	}
	if schema.DBType == "" {
		schema.DBType = DBTypeSQL
	}
	for i := range schema.Entities {
		if schema.Entities[i].Kind == "" {
			schema.Entities[i].Kind = EntityKindTable
		}
		for j := range schema.Entities[i].Fields {
			if schema.Entities[i].Fields[j].Type == "" {
				schema.Entities[i].Fields[j].Type = "text"
			}
		}
	}

	return &schema, nil
}

// Descriptor types rendered into the planner prompt. Compact on purpose:
// the LLM sees names, tags, and types, not descriptions.

// FieldDescriptor is the per-field slice of a source descriptor.
type FieldDescriptor struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	SemanticTags []string `json:"semantic_tags,omitempty"`
}

// EntityDescriptor is the per-entity slice of a source descriptor.
type EntityDescriptor struct {
	Name           string            `json:"name"`
	SemanticTags   []string          `json:"semantic_tags,omitempty"`
	DefaultIDField string            `json:"default_id_field,omitempty"`
	Fields         []FieldDescriptor `json:"fields"`
}

// SourceDescriptor is what the planner shows the LLM for one source.
type SourceDescriptor struct {
	MCPID    string             `json:"mcp_id"`
	DBType   DBType             `json:"db_type"`
	Tools    []string           `json:"tools"`
	Entities []EntityDescriptor `json:"entities"`
}
