package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/polyfed/federator/catalog"
	"github.com/polyfed/federator/core"
)

// Planner turns a natural-language query into a validated plan. The LLM
// is treated as an opaque text operation; parsing, validation, and the
// deterministic heuristic fallback all happen here so the planner stays
// testable with a stub client.
type Planner struct {
	registry core.SourceRegistry
	catalog  *catalog.SchemaCatalog
	aiClient core.AIClient

	logger    core.Logger
	telemetry core.Telemetry
}

// NewPlanner creates a planner. A nil aiClient is legal: every plan
// then comes from the heuristic fallback.
func NewPlanner(registry core.SourceRegistry, cat *catalog.SchemaCatalog, aiClient core.AIClient) *Planner {
	return &Planner{
		registry:  registry,
		catalog:   cat,
		aiClient:  aiClient,
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
}

// SetLogger sets the logger provider
func (p *Planner) SetLogger(logger core.Logger) {
	if logger == nil {
		p.logger = &core.NoOpLogger{}
	} else {
		p.logger = logger
	}
}

// SetTelemetry sets the telemetry provider
func (p *Planner) SetTelemetry(telemetry core.Telemetry) {
	if telemetry == nil {
		p.telemetry = &core.NoOpTelemetry{}
	} else {
		p.telemetry = telemetry
	}
}

// Plan produces a validated plan for the query. Steps the LLM got wrong
// are dropped individually; a missing client, unparsable response, or
// empty result falls back to the deterministic heuristic plan.
func (p *Planner) Plan(ctx context.Context, nlQuery string) ([]PlanStep, error) {
	ctx, span := p.telemetry.StartSpan(ctx, "planner.plan")
	defer span.End()

	p.catalog.EnsureLoaded(ctx)
	sources := p.catalog.BuildSourcesForLLM()

	steps, err := p.llmPlan(ctx, nlQuery, sources)
	if err != nil {
		p.logger.Warn("LLM planning unavailable, using heuristic fallback", map[string]interface{}{
			"operation": "plan_fallback",
			"error":     err.Error(),
		})
		span.RecordError(err)
		steps = nil
	}

	if len(steps) == 0 {
		steps = p.heuristicPlan(ctx, nlQuery)
	}

	if len(steps) == 0 {
		return nil, &core.FederationError{Op: "planner.Plan", Kind: "plan", Err: core.ErrEmptyPlan}
	}

	span.SetAttribute("plan.steps", len(steps))
	p.logger.Info("Plan ready", map[string]interface{}{
		"operation":  "plan_complete",
		"step_count": len(steps),
		"step_ids":   stepIDs(steps),
	})

	return steps, nil
}

func (p *Planner) llmPlan(ctx context.Context, nlQuery string, sources []catalog.SourceDescriptor) ([]PlanStep, error) {
	if p.aiClient == nil {
		return nil, core.ErrPlannerUnavailable
	}

	prompt, err := buildPlanningPrompt(nlQuery, sources)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Calling LLM for plan generation", map[string]interface{}{
		"operation":     "llm_call",
		"prompt_length": len(prompt),
		"source_count":  len(sources),
	})

	resp, err := p.aiClient.GenerateResponse(ctx, prompt, &core.AIOptions{
		Temperature:  0.2,
		MaxTokens:    2000,
		SystemPrompt: "You are a query planner for a federated data system. Respond with JSON only.",
	})
	if err != nil {
		return nil, err
	}

	raw, err := parsePlanSteps(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrPlanParse, err)
	}

	return p.validateSteps(ctx, raw), nil
}

// buildPlanningPrompt substitutes the query and the serialized source
// descriptors into the fixed planning template.
func buildPlanningPrompt(nlQuery string, sources []catalog.SourceDescriptor) (string, error) {
	sourcesJSON, err := json.MarshalIndent(sources, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize sources: %w", err)
	}

	return fmt.Sprintf(`You are planning a federated query across heterogeneous data sources.

Available sources (JSON):
%s

User query: %s

Respond with a JSON array of plan steps ONLY. No prose, no markdown fences.

Each step is an object:
{"id": "p1", "description": "...", "mcp_id": "...", "db_type": "sql|nosql|graph|vector",
 "tool": "...", "input": {...}, "depends_on": "earlier step id (optional)",
 "output_alias": "...", "optional": false}

Rules:
1. Every step MUST set "output_alias" to one of: customer, customers, recent_orders, referrals, similar_customers.
2. Allowed tools: sql -> execute_sql; nosql -> find; graph -> traverse; vector -> search.
3. execute_sql input: {"query": "...", "params": [...]}. SELECT statements only, with ? positional placeholders.
4. find input: {"filter": {...}, "limit": N, "sort": {...}} (limit and sort optional).
5. traverse input: {"start": {"property": "...", "value": "..."}, "rel": "REFERRED", "depth": 1}. Default rel is "REFERRED", default depth is 1.
6. search input: {"embedding": [...], "top_k": N} or {"embedding_from": "<step_id>.<field>", "top_k": N}.
7. To feed a field from an earlier step's first result row into an input key, use "<key>_from": "<step_id>.<field>" (nested fields allowed: "<step_id>.<field>.<field>").
8. "depends_on" must name a step that appears earlier in the array.
9. Only use mcp_id values that appear in the sources above.`, string(sourcesJSON), nlQuery), nil
}

// parsePlanSteps extracts the first JSON array from the LLM response
// and unmarshals it. The response may wrap the array in markdown or
// prose; everything outside the first balanced [...] is ignored.
func parsePlanSteps(llmResponse string) ([]PlanStep, error) {
	start := strings.IndexByte(llmResponse, '[')
	if start == -1 {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	end := findArrayEnd(llmResponse, start)
	if end == -1 {
		return nil, fmt.Errorf("unbalanced JSON array in response")
	}

	var steps []PlanStep
	if err := json.Unmarshal([]byte(llmResponse[start:end]), &steps); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	return steps, nil
}

// findArrayEnd scans for the matching close bracket, skipping brackets
// inside JSON strings.
func findArrayEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

var selectOnly = regexp.MustCompile(`(?i)^\s*select\b`)

// validateSteps drops steps that reference unknown sources, pair a tool
// with the wrong db type, carry a malformed depends_on, or run non-SELECT
// SQL. Surviving steps keep their original order.
func (p *Planner) validateSteps(ctx context.Context, raw []PlanStep) []PlanStep {
	kept := make([]PlanStep, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, step := range raw {
		if step.ID == "" || seen[step.ID] {
			p.dropStep(step, "missing or duplicate step id")
			continue
		}

		if _, ok := p.registry.Get(ctx, step.MCPID); !ok {
			p.dropStep(step, "unknown mcp_id")
			continue
		}

		if step.DBType == "" {
			if schema, ok := p.catalog.Get(step.MCPID); ok {
				step.DBType = schema.DBType
			}
		}

		if step.Tool != "" && !catalog.ToolAllowed(step.DBType, step.Tool) {
			p.dropStep(step, "tool not allowed for db_type")
			continue
		}

		if step.DependsOn != "" && !seen[step.DependsOn] {
			p.dropStep(step, "depends_on does not name an earlier step")
			continue
		}

		if tool := step.Tool; tool == catalog.ToolExecuteSQL || (tool == "" && step.DBType == catalog.DBTypeSQL) {
			if q, ok := step.Input["query"].(string); ok && !selectOnly.MatchString(q) {
				p.dropStep(step, "sql step is not a SELECT")
				continue
			}
		}

		seen[step.ID] = true
		kept = append(kept, step)
	}

	return kept
}

func (p *Planner) dropStep(step PlanStep, reason string) {
	p.logger.Warn("Dropping invalid plan step", map[string]interface{}{
		"operation": "plan_validation",
		"step_id":   step.ID,
		"mcp_id":    step.MCPID,
		"tool":      step.Tool,
		"reason":    reason,
	})
}

var (
	customerIDPattern = regexp.MustCompile(`(?i)\bcust\d+\b`)
	quotedNamePattern = regexp.MustCompile(`'([^']+)'`)
	numberedCustomer  = regexp.MustCompile(`(?i)\bcustomer\s+(\d+)\b`)
)

// heuristicPlan emits a deterministic plan from catalog candidates. It
// only ever references sources present in the registry.
func (p *Planner) heuristicPlan(ctx context.Context, nlQuery string) []PlanStep {
	candidates := p.catalog.DiscoverCandidates(nlQuery)

	var target *catalog.Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.DBType != catalog.DBTypeSQL || !hasTag(c.EntityTags, "entity:customer") {
			continue
		}
		if _, ok := p.registry.Get(ctx, c.MCPID); !ok {
			continue
		}
		target = c
		break
	}

	if target == nil {
		p.logger.Warn("Heuristic fallback found no SQL customer candidate", map[string]interface{}{
			"operation":       "heuristic_plan",
			"candidate_count": len(candidates),
		})
		return nil
	}

	if isListCustomersQuery(nlQuery) {
		return []PlanStep{{
			ID:          "p1",
			Description: "List all customers",
			MCPID:       target.MCPID,
			DBType:      catalog.DBTypeSQL,
			Tool:        catalog.ToolExecuteSQL,
			Input: map[string]interface{}{
				"query":  fmt.Sprintf("SELECT id, name, email FROM %s", target.Entity),
				"params": []interface{}{},
			},
			OutputAlias: AliasCustomers,
		}}
	}

	// Conservative single-row lookup, keyed by whatever identifier the
	// query surfaces: a custNNN token, a "Customer NNN" ordinal, or a
	// quoted name.
	query := fmt.Sprintf("SELECT id, name, email FROM %s LIMIT 1", target.Entity)
	params := []interface{}{}

	if m := customerIDPattern.FindString(nlQuery); m != "" {
		query = fmt.Sprintf("SELECT id, name, email FROM %s WHERE id = ?", target.Entity)
		params = []interface{}{strings.ToLower(m)}
	} else if m := numberedCustomer.FindStringSubmatch(nlQuery); m != nil {
		n, _ := strconv.Atoi(m[1])
		query = fmt.Sprintf("SELECT id, name, email FROM %s WHERE id = ?", target.Entity)
		params = []interface{}{fmt.Sprintf("cust%03d", n)}
	} else if m := quotedNamePattern.FindStringSubmatch(nlQuery); m != nil {
		query = fmt.Sprintf("SELECT id, name, email FROM %s WHERE name = ?", target.Entity)
		params = []interface{}{m[1]}
	}

	return []PlanStep{{
		ID:          "p1",
		Description: "Look up primary customer",
		MCPID:       target.MCPID,
		DBType:      catalog.DBTypeSQL,
		Tool:        catalog.ToolExecuteSQL,
		Input: map[string]interface{}{
			"query":  query,
			"params": params,
		},
		OutputAlias: AliasCustomer,
	}}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func stepIDs(steps []PlanStep) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}
