package orchestration

import (
	"context"
	"fmt"
	"testing"

	"github.com/polyfed/federator/catalog"
	"github.com/polyfed/federator/core"
)

// stubAIClient returns a scripted response, recording the prompt.
type stubAIClient struct {
	response string
	err      error

	gotPrompt string
	calls     int
}

func (s *stubAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	s.calls++
	s.gotPrompt = prompt
	if s.err != nil {
		return nil, s.err
	}
	return &core.AIResponse{Content: s.response, Model: "stub"}, nil
}

// fakeToolCaller serves canned responses keyed by "<source>/<tool>" and
// records every dispatch in order.
type fakeToolCaller struct {
	responses map[string]interface{}
	errors    map[string]error

	calls    []string
	payloads []map[string]interface{}
}

func newFakeToolCaller() *fakeToolCaller {
	return &fakeToolCaller{
		responses: map[string]interface{}{},
		errors:    map[string]error{},
	}
}

func (f *fakeToolCaller) on(sourceID, tool string, response interface{}) {
	f.responses[sourceID+"/"+tool] = response
}

func (f *fakeToolCaller) failOn(sourceID, tool string, err error) {
	f.errors[sourceID+"/"+tool] = err
}

func (f *fakeToolCaller) Call(ctx context.Context, sourceID, tool string, payload map[string]interface{}) (interface{}, error) {
	key := sourceID + "/" + tool
	f.calls = append(f.calls, key)
	f.payloads = append(f.payloads, payload)

	if err, ok := f.errors[key]; ok {
		return nil, err
	}
	if resp, ok := f.responses[key]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no canned response for %s", key)
}

func (f *fakeToolCaller) lastPayload() map[string]interface{} {
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

func testSchemaBodies() map[string]interface{} {
	return map[string]interface{}{
		"sql_customers": map[string]interface{}{
			"mcp_id":  "sql_customers",
			"db_type": "sql",
			"entities": []interface{}{
				map[string]interface{}{
					"name": "customers",
					"kind": "table",
					"fields": []interface{}{
						map[string]interface{}{"name": "id", "type": "text", "semantic_tags": []interface{}{"id", "customer_id"}},
						map[string]interface{}{"name": "name", "type": "text"},
						map[string]interface{}{"name": "email", "type": "text", "semantic_tags": []interface{}{"email"}},
					},
					"semantic_tags":    []interface{}{"entity:customer"},
					"default_id_field": "id",
				},
			},
		},
		"orders_mongo": map[string]interface{}{
			"mcp_id":  "orders_mongo",
			"db_type": "nosql",
			"entities": []interface{}{
				map[string]interface{}{
					"name": "orders",
					"kind": "collection",
					"fields": []interface{}{
						map[string]interface{}{"name": "order_id", "type": "text", "semantic_tags": []interface{}{"id"}},
						map[string]interface{}{"name": "customer_id", "type": "text", "semantic_tags": []interface{}{"customer_id"}},
					},
					"semantic_tags": []interface{}{"entity:order"},
				},
			},
		},
		"graph_referrals": map[string]interface{}{
			"mcp_id":  "graph_referrals",
			"db_type": "graph",
			"entities": []interface{}{
				map[string]interface{}{
					"name": "Customer",
					"kind": "node",
					"fields": []interface{}{
						map[string]interface{}{"name": "id", "type": "text", "semantic_tags": []interface{}{"id"}},
					},
					"semantic_tags": []interface{}{"entity:customer", "referral"},
				},
			},
		},
		"vector_customers": map[string]interface{}{
			"mcp_id":  "vector_customers",
			"db_type": "vector",
			"entities": []interface{}{
				map[string]interface{}{
					"name": "customer_embeddings",
					"kind": "index",
					"fields": []interface{}{
						map[string]interface{}{"name": "id", "type": "text", "semantic_tags": []interface{}{"id"}},
						map[string]interface{}{"name": "embedding", "type": "vector", "semantic_tags": []interface{}{"embedding"}},
					},
					"semantic_tags": []interface{}{"entity:customer"},
				},
			},
		},
	}
}

// newPipelineFixture builds a registry, a loaded catalog, and the fake
// tool caller the executor will dispatch through.
func newPipelineFixture(t *testing.T) (core.SourceRegistry, *catalog.SchemaCatalog, *fakeToolCaller) {
	t.Helper()

	registry := core.NewMemoryRegistry()
	if err := core.RegisterDefaults(context.Background(), registry); err != nil {
		t.Fatalf("RegisterDefaults failed: %v", err)
	}

	caller := newFakeToolCaller()
	for id, schema := range testSchemaBodies() {
		caller.on(id, catalog.ToolGetSchema, schema)
	}

	cat := catalog.NewSchemaCatalog(registry, caller)
	cat.EnsureLoaded(context.Background())

	return registry, cat, caller
}
