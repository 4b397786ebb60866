// Package orchestration implements the federated query pipeline:
// an LLM-backed planner, a dependency-aware execution engine, and a
// fusion stage that merges heterogeneous per-source results into a
// single typed response with provenance.
package orchestration

import (
	"github.com/polyfed/federator/catalog"
)

// Canonical output aliases routed by fusion.
const (
	AliasCustomer         = "customer"
	AliasCustomers        = "customers"
	AliasRecentOrders     = "recent_orders"
	AliasReferrals        = "referrals"
	AliasSimilarCustomers = "similar_customers"
)

// PlanStep is one step of a federated query plan. Steps form a small
// forward-referencing DAG: depends_on and every *_from input reference
// may only name earlier steps.
type PlanStep struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description,omitempty"`
	MCPID       string                 `json:"mcp_id"`
	DBType      catalog.DBType         `json:"db_type"`
	Tool        string                 `json:"tool,omitempty"`
	Input       map[string]interface{} `json:"input"`
	DependsOn   string                 `json:"depends_on,omitempty"`
	OutputAlias string                 `json:"output_alias,omitempty"`
	Optional    bool                   `json:"optional,omitempty"`
}

// TaskMeta carries source attribution for an executed step. Keys the
// adapter reported beyond the lifted ones flow into Extra.
type TaskMeta struct {
	SourceID    string                 `json:"source_id"`
	SourceType  string                 `json:"source_type"`
	LastUpdated string                 `json:"last_updated,omitempty"`
	OutputAlias string                 `json:"output_alias,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// ExecutionTask is the normalized result of one executed plan step.
// Heterogeneous backend responses are flattened into Rows at this
// boundary; backend-specific nuances live in Meta.Extra.
type ExecutionTask struct {
	TaskID      string                   `json:"task_id"`
	PlanStepID  string                   `json:"plan_step_id"`
	SourceID    string                   `json:"source_id"`
	NativeQuery string                   `json:"native_query"`
	Rows        []map[string]interface{} `json:"rows"`
	Meta        TaskMeta                 `json:"meta"`
}

// Failed reports whether the task carries an execution error.
func (t *ExecutionTask) Failed() bool {
	if t.Meta.Extra == nil {
		return false
	}
	_, ok := t.Meta.Extra["error"]
	return ok
}

// FusedResponse is the stable seven-key response envelope.
type FusedResponse struct {
	Customer         map[string]interface{}   `json:"customer"`
	Customers        []map[string]interface{} `json:"customers"`
	RecentOrders     []map[string]interface{} `json:"recent_orders"`
	Referrals        []map[string]interface{} `json:"referrals"`
	SimilarCustomers []map[string]interface{} `json:"similar_customers"`
	Explain          []string                 `json:"explain"`
	Provenance       map[string]interface{}   `json:"provenance"`
}

// NewFusedResponse returns an envelope with every key present and empty.
func NewFusedResponse() *FusedResponse {
	return &FusedResponse{
		Customer:         map[string]interface{}{},
		Customers:        []map[string]interface{}{},
		RecentOrders:     []map[string]interface{}{},
		Referrals:        []map[string]interface{}{},
		SimilarCustomers: []map[string]interface{}{},
		Explain:          []string{},
		Provenance:       map[string]interface{}{},
	}
}

// QueryResult is the orchestrator's response envelope.
type QueryResult struct {
	RequestID string                 `json:"request_id"`
	Status    string                 `json:"status"`
	FusedData *FusedResponse         `json:"fused_data"`
	Explain   []string               `json:"explain"`
	Context   map[string]interface{} `json:"-"`
}

// capabilityFor maps a db type to its capability label.
func capabilityFor(db catalog.DBType) string {
	switch db {
	case catalog.DBTypeNoSQL:
		return "query.document"
	case catalog.DBTypeGraph:
		return "query.graph"
	case catalog.DBTypeVector:
		return "query.vector"
	default:
		return "query.sql"
	}
}

// listCustomerPhrases trigger the list-of-customers short circuit in
// both the heuristic planner and fusion.
var listCustomerPhrases = []string{
	"list of all customers",
	"all customers",
	"list all customers",
	"give me a list of all customers",
	"show all customers",
	"list customers",
	"list clients",
}

func isListCustomersQuery(nlQuery string) bool {
	q := normalizeQuery(nlQuery)
	for _, phrase := range listCustomerPhrases {
		if q == phrase || containsPhrase(q, phrase) {
			return true
		}
	}
	return false
}
