package orchestration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyfed/federator/catalog"
)

func TestExecutorRunsStepsInPlanOrder(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	caller.on("sql_customers", catalog.ToolExecuteSQL, map[string]interface{}{
		"rows": []interface{}{map[string]interface{}{"id": "cust001", "name": "Customer 001"}},
	})
	caller.on("orders_mongo", catalog.ToolFind, map[string]interface{}{
		"docs": []interface{}{map[string]interface{}{"order_id": "o1", "customer_id": "cust001"}},
	})

	executor := NewExecutor(caller, cat)
	plan := []PlanStep{
		{ID: "p1", MCPID: "sql_customers", DBType: catalog.DBTypeSQL, Tool: catalog.ToolExecuteSQL,
			Input: map[string]interface{}{"query": "SELECT id, name FROM customers WHERE id = ?", "params": []interface{}{"cust001"}},
			OutputAlias: AliasCustomer},
		{ID: "p2", MCPID: "orders_mongo", DBType: catalog.DBTypeNoSQL, Tool: catalog.ToolFind,
			Input:     map[string]interface{}{"filter": map[string]interface{}{"customer_id": "cust001"}},
			DependsOn: "p1", OutputAlias: AliasRecentOrders},
	}

	tasks := executor.Execute(context.Background(), plan)

	require.Len(t, tasks, 2)
	assert.Equal(t, "p1", tasks[0].PlanStepID)
	assert.Equal(t, "p2", tasks[1].PlanStepID)
	assert.NotEmpty(t, tasks[0].TaskID)
	assert.NotEqual(t, tasks[0].TaskID, tasks[1].TaskID)
	assert.Equal(t, "SELECT id, name FROM customers WHERE id = ?", tasks[0].NativeQuery)
}

func TestExecutorResolvesReferences(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	embedding := []interface{}{0.1, 0.2, 0.3}
	caller.on("vector_customers", catalog.ToolSearch, map[string]interface{}{
		"matches": []interface{}{map[string]interface{}{"id": "cust051", "score": 0.93}},
	})

	executor := NewExecutor(caller, cat)

	// Seed p1 by executing a real step first
	caller.on("sql_customers", catalog.ToolExecuteSQL, map[string]interface{}{
		"rows": []interface{}{map[string]interface{}{"id": "cust050", "embedding": embedding}},
	})
	plan := []PlanStep{
		{ID: "p1", MCPID: "sql_customers", DBType: catalog.DBTypeSQL, Tool: catalog.ToolExecuteSQL,
			Input: map[string]interface{}{"query": "SELECT id, embedding FROM customers WHERE id = ?"}},
		{ID: "p2", MCPID: "vector_customers", DBType: catalog.DBTypeVector, Tool: catalog.ToolSearch,
			Input:     map[string]interface{}{"embedding_from": "p1.embedding", "top_k": 3},
			DependsOn: "p1", OutputAlias: AliasSimilarCustomers},
	}

	tasks := executor.Execute(context.Background(), plan)
	require.Len(t, tasks, 2)

	payload := caller.lastPayload()
	assert.Equal(t, embedding, payload["embedding"])
	assert.NotContains(t, payload, "embedding_from")
	assert.Equal(t, 3, payload["top_k"])
}

func TestExecutorResolvesNestedReferences(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	caller.on("sql_customers", catalog.ToolExecuteSQL, map[string]interface{}{
		"rows": []interface{}{map[string]interface{}{
			"id":      "cust001",
			"profile": map[string]interface{}{"contact": map[string]interface{}{"email": "customer001@example.com"}},
		}},
	})
	caller.on("orders_mongo", catalog.ToolFind, map[string]interface{}{"docs": []interface{}{}})

	executor := NewExecutor(caller, cat)
	plan := []PlanStep{
		{ID: "p1", MCPID: "sql_customers", DBType: catalog.DBTypeSQL, Tool: catalog.ToolExecuteSQL,
			Input: map[string]interface{}{"query": "SELECT * FROM customers"}},
		{ID: "p2", MCPID: "orders_mongo", DBType: catalog.DBTypeNoSQL, Tool: catalog.ToolFind,
			Input:     map[string]interface{}{"email_from": "p1.profile.contact.email"},
			DependsOn: "p1"},
	}

	executor.Execute(context.Background(), plan)

	payload := caller.lastPayload()
	assert.Equal(t, "customer001@example.com", payload["email"])
}

func TestExecutorDropsUnresolvableReference(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	caller.on("sql_customers", catalog.ToolExecuteSQL, map[string]interface{}{
		"rows": []interface{}{map[string]interface{}{"id": "cust001"}},
	})
	caller.on("orders_mongo", catalog.ToolFind, map[string]interface{}{"docs": []interface{}{}})

	executor := NewExecutor(caller, cat)
	plan := []PlanStep{
		{ID: "p1", MCPID: "sql_customers", DBType: catalog.DBTypeSQL, Tool: catalog.ToolExecuteSQL,
			Input: map[string]interface{}{"query": "SELECT id FROM customers"}},
		{ID: "p2", MCPID: "orders_mongo", DBType: catalog.DBTypeNoSQL, Tool: catalog.ToolFind,
			Input:     map[string]interface{}{"email_from": "p1.no_such_field", "limit": 5},
			DependsOn: "p1"},
	}

	tasks := executor.Execute(context.Background(), plan)
	require.Len(t, tasks, 2)

	// The step still ran, minus the unresolvable key
	payload := caller.lastPayload()
	assert.NotContains(t, payload, "email")
	assert.NotContains(t, payload, "email_from")
	assert.Equal(t, 5, payload["limit"])
}

func TestExecutorMissingDependencyFailsTask(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	caller.on("sql_customers", catalog.ToolExecuteSQL, map[string]interface{}{"rows": []interface{}{}})
	caller.on("orders_mongo", catalog.ToolFind, map[string]interface{}{"docs": []interface{}{}})

	executor := NewExecutor(caller, cat)
	plan := []PlanStep{
		{ID: "p1", MCPID: "sql_customers", DBType: catalog.DBTypeSQL, Tool: catalog.ToolExecuteSQL,
			Input: map[string]interface{}{"query": "SELECT id FROM customers WHERE id = ?"}},
		{ID: "p2", MCPID: "orders_mongo", DBType: catalog.DBTypeNoSQL, Tool: catalog.ToolFind,
			Input: map[string]interface{}{"filter": map[string]interface{}{}}, DependsOn: "p1"},
	}

	tasks := executor.Execute(context.Background(), plan)
	require.Len(t, tasks, 2)

	failed := tasks[1]
	assert.True(t, failed.Failed())
	assert.Empty(t, failed.Rows)
	assert.Equal(t, "Dependency p1 not found", failed.Meta.Extra["error"])

	// Only p1 hit the network (plus the schema fetches)
	dispatched := 0
	for _, call := range caller.calls {
		if !strings.HasSuffix(call, "/"+catalog.ToolGetSchema) {
			dispatched++
		}
	}
	assert.Equal(t, 1, dispatched)
}

func TestExecutorOptionalStepSkipped(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	caller.on("sql_customers", catalog.ToolExecuteSQL, map[string]interface{}{"rows": []interface{}{}})

	executor := NewExecutor(caller, cat)
	plan := []PlanStep{
		{ID: "p1", MCPID: "sql_customers", DBType: catalog.DBTypeSQL, Tool: catalog.ToolExecuteSQL,
			Input: map[string]interface{}{"query": "SELECT id FROM customers WHERE id = ?"}},
		{ID: "p2", MCPID: "orders_mongo", DBType: catalog.DBTypeNoSQL, Tool: catalog.ToolFind,
			Input: map[string]interface{}{}, DependsOn: "p1", Optional: true},
	}

	tasks := executor.Execute(context.Background(), plan)

	// Optional step vanishes instead of failing
	require.Len(t, tasks, 1)
	assert.Equal(t, "p1", tasks[0].PlanStepID)
}

func TestExecutorDispatchErrorBecomesFailedTask(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	caller.failOn("graph_referrals", catalog.ToolTraverse, errors.New("connection refused"))

	executor := NewExecutor(caller, cat)
	plan := []PlanStep{
		{ID: "p1", MCPID: "graph_referrals", DBType: catalog.DBTypeGraph, Tool: catalog.ToolTraverse,
			Input:       map[string]interface{}{"start": map[string]interface{}{"property": "id", "value": "cust010"}},
			OutputAlias: AliasReferrals},
	}

	tasks := executor.Execute(context.Background(), plan)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Failed())
	assert.Contains(t, tasks[0].Meta.Extra["error"], "connection refused")
	assert.Empty(t, tasks[0].Rows)
}

func TestExecutorNormalizesResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		rows int
	}{
		{name: "rows key", body: map[string]interface{}{"rows": []interface{}{map[string]interface{}{"id": 1}}}, rows: 1},
		{name: "docs key", body: map[string]interface{}{"docs": []interface{}{map[string]interface{}{"id": 1}, map[string]interface{}{"id": 2}}}, rows: 2},
		{name: "matches key", body: map[string]interface{}{"matches": []interface{}{map[string]interface{}{"id": 1}}}, rows: 1},
		{name: "data key", body: map[string]interface{}{"data": []interface{}{map[string]interface{}{"id": 1}}}, rows: 1},
		{name: "bare list", body: []interface{}{map[string]interface{}{"id": 1}, map[string]interface{}{"id": 2}, map[string]interface{}{"id": 3}}, rows: 3},
		{name: "no recognized key", body: map[string]interface{}{"result": "ok"}, rows: 0},
		{name: "scalar elements wrapped", body: []interface{}{"cust001", "cust002"}, rows: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, _ := normalizeResponse(tt.body)
			assert.Len(t, rows, tt.rows)
		})
	}
}

func TestExecutorLiftsResponseMeta(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	caller.on("orders_mongo", catalog.ToolFind, map[string]interface{}{
		"docs": []interface{}{map[string]interface{}{"order_id": "o1"}},
		"meta": map[string]interface{}{
			"source_id":    "orders_mongo",
			"source_type":  "query.document",
			"last_updated": "2026-08-01T00:00:00Z",
			"shard":        "orders-2",
		},
	})

	executor := NewExecutor(caller, cat)
	plan := []PlanStep{
		{ID: "p1", MCPID: "orders_mongo", DBType: catalog.DBTypeNoSQL, Tool: catalog.ToolFind,
			Input: map[string]interface{}{"filter": map[string]interface{}{}}, OutputAlias: AliasRecentOrders},
	}

	tasks := executor.Execute(context.Background(), plan)
	require.Len(t, tasks, 1)

	meta := tasks[0].Meta
	assert.Equal(t, "orders_mongo", meta.SourceID)
	assert.Equal(t, "query.document", meta.SourceType)
	assert.Equal(t, "2026-08-01T00:00:00Z", meta.LastUpdated)
	assert.Equal(t, "orders-2", meta.Extra["shard"])
	assert.Equal(t, AliasRecentOrders, meta.OutputAlias)
}

func TestExecutorInfersToolFromDBType(t *testing.T) {
	_, cat, caller := newPipelineFixture(t)
	caller.on("graph_referrals", catalog.ToolTraverse, map[string]interface{}{"rows": []interface{}{}})

	executor := NewExecutor(caller, cat)
	plan := []PlanStep{
		{ID: "p1", MCPID: "graph_referrals", Input: map[string]interface{}{
			"start": map[string]interface{}{"property": "id", "value": "cust010"},
		}},
	}

	tasks := executor.Execute(context.Background(), plan)
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Failed())
	assert.Contains(t, caller.calls, "graph_referrals/"+catalog.ToolTraverse)
	// Tool and payload recorded as the native query
	assert.Contains(t, tasks[0].NativeQuery, catalog.ToolTraverse+"(")
}
