package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/polyfed/federator/catalog"
	"github.com/polyfed/federator/core"
)

// Executor walks a plan in order, resolves cross-step references from
// earlier results, dispatches each step through the tool dispatcher,
// and normalizes heterogeneous backend responses into row sets.
//
// Execution is strictly sequential. Plans are small forward DAGs, so
// dependency correctness is cheap to guarantee by ordering alone.
type Executor struct {
	dispatcher catalog.ToolCaller
	catalog    *catalog.SchemaCatalog

	logger    core.Logger
	telemetry core.Telemetry
}

// NewExecutor creates an executor over the dispatcher and catalog.
func NewExecutor(dispatcher catalog.ToolCaller, cat *catalog.SchemaCatalog) *Executor {
	return &Executor{
		dispatcher: dispatcher,
		catalog:    cat,
		logger:     &core.NoOpLogger{},
		telemetry:  &core.NoOpTelemetry{},
	}
}

// SetLogger sets the logger provider
func (e *Executor) SetLogger(logger core.Logger) {
	if logger == nil {
		e.logger = &core.NoOpLogger{}
	} else {
		e.logger = logger
	}
}

// SetTelemetry sets the telemetry provider
func (e *Executor) SetTelemetry(telemetry core.Telemetry) {
	if telemetry == nil {
		e.telemetry = &core.NoOpTelemetry{}
	} else {
		e.telemetry = telemetry
	}
}

// Execute runs every step of the plan and returns the tasks in plan
// order. Execution is best-effort: a failed dispatch becomes a task
// with empty rows and an error in meta.extra, and the plan continues.
func (e *Executor) Execute(ctx context.Context, plan []PlanStep) []ExecutionTask {
	ctx, span := e.telemetry.StartSpan(ctx, "executor.execute")
	defer span.End()
	span.SetAttribute("plan.steps", len(plan))

	byStep := make(map[string]*ExecutionTask, len(plan))
	tasks := make([]ExecutionTask, 0, len(plan))

	for _, step := range plan {
		if step.DependsOn != "" {
			dep, ok := byStep[step.DependsOn]
			if !ok || len(dep.Rows) == 0 {
				if step.Optional {
					e.logger.Info("Skipping optional step, dependency unmet", map[string]interface{}{
						"operation":  "step_skip",
						"step_id":    step.ID,
						"depends_on": step.DependsOn,
					})
					continue
				}
				task := e.failedTask(step, nil, fmt.Sprintf("Dependency %s not found", step.DependsOn))
				byStep[step.ID] = &task
				tasks = append(tasks, task)
				continue
			}
		}

		input := e.resolveInput(step, byStep)

		if step.DBType == "" {
			if schema, ok := e.catalog.Get(step.MCPID); ok {
				step.DBType = schema.DBType
			}
		}
		tool := step.Tool
		if tool == "" {
			tool = catalog.DefaultTool(step.DBType)
		}

		e.logger.Debug("Dispatching plan step", map[string]interface{}{
			"operation": "step_dispatch",
			"step_id":   step.ID,
			"source_id": step.MCPID,
			"tool":      tool,
		})

		resp, err := e.dispatcher.Call(ctx, step.MCPID, tool, input)
		if err != nil {
			e.logger.Error("Step dispatch failed", map[string]interface{}{
				"operation": "step_dispatch",
				"step_id":   step.ID,
				"source_id": step.MCPID,
				"tool":      tool,
				"error":     err.Error(),
			})
			span.RecordError(err)
			task := e.failedTask(step, input, err.Error())
			byStep[step.ID] = &task
			tasks = append(tasks, task)
			continue
		}

		task := e.buildTask(step, tool, input, resp)
		byStep[step.ID] = &task
		tasks = append(tasks, task)
	}

	e.logger.Info("Plan execution complete", map[string]interface{}{
		"operation":  "execute_complete",
		"step_count": len(plan),
		"task_count": len(tasks),
	})

	return tasks
}

// resolveInput copies the step input, replacing every <key>_from
// reference with the named field from an earlier task's first row.
// Unresolvable references drop the key and the step proceeds without it.
func (e *Executor) resolveInput(step PlanStep, byStep map[string]*ExecutionTask) map[string]interface{} {
	resolved := make(map[string]interface{}, len(step.Input))

	for key, value := range step.Input {
		if !strings.HasSuffix(key, "_from") {
			resolved[key] = value
			continue
		}

		ref, ok := value.(string)
		if !ok {
			e.logger.Warn("Reference value is not a string, dropping key", map[string]interface{}{
				"operation": "resolve_ref",
				"step_id":   step.ID,
				"key":       key,
			})
			continue
		}

		target, found := resolveRef(byStep, ref)
		if !found {
			e.logger.Warn("Unresolvable reference, dropping key", map[string]interface{}{
				"operation": "resolve_ref",
				"step_id":   step.ID,
				"key":       key,
				"ref":       ref,
			})
			continue
		}

		resolved[strings.TrimSuffix(key, "_from")] = target
	}

	return resolved
}

// resolveRef walks a "<step_id>.<field>[.<field>...]" reference through
// the first row of the named task.
func resolveRef(byStep map[string]*ExecutionTask, ref string) (interface{}, bool) {
	parts := strings.Split(ref, ".")
	if len(parts) < 2 {
		return nil, false
	}

	task, ok := byStep[parts[0]]
	if !ok || len(task.Rows) == 0 {
		return nil, false
	}

	var current interface{} = task.Rows[0]
	for _, field := range parts[1:] {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[field]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// buildTask normalizes the backend response into rows and lifts source
// attribution out of the response meta.
func (e *Executor) buildTask(step PlanStep, tool string, input map[string]interface{}, resp interface{}) ExecutionTask {
	rows, respMeta := normalizeResponse(resp)

	meta := TaskMeta{
		SourceID:    step.MCPID,
		SourceType:  capabilityFor(step.DBType),
		OutputAlias: step.OutputAlias,
	}
	if len(respMeta) > 0 {
		extra := make(map[string]interface{})
		for k, v := range respMeta {
			switch k {
			case "source_id":
				if s, ok := v.(string); ok && s != "" {
					meta.SourceID = s
				}
			case "source_type":
				if s, ok := v.(string); ok && s != "" {
					meta.SourceType = s
				}
			case "last_updated":
				if s, ok := v.(string); ok {
					meta.LastUpdated = s
				}
			default:
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			meta.Extra = extra
		}
	}

	return ExecutionTask{
		TaskID:      uuid.NewString(),
		PlanStepID:  step.ID,
		SourceID:    meta.SourceID,
		NativeQuery: nativeQuery(tool, input),
		Rows:        rows,
		Meta:        meta,
	}
}

func (e *Executor) failedTask(step PlanStep, input map[string]interface{}, errMsg string) ExecutionTask {
	tool := step.Tool
	if tool == "" {
		tool = catalog.DefaultTool(step.DBType)
	}
	if input == nil {
		input = step.Input
	}
	return ExecutionTask{
		TaskID:      uuid.NewString(),
		PlanStepID:  step.ID,
		SourceID:    step.MCPID,
		NativeQuery: nativeQuery(tool, input),
		Rows:        []map[string]interface{}{},
		Meta: TaskMeta{
			SourceID:    step.MCPID,
			SourceType:  capabilityFor(step.DBType),
			OutputAlias: step.OutputAlias,
			Extra:       map[string]interface{}{"error": errMsg},
		},
	}
}

// normalizeResponse flattens a backend response into rows. Object
// bodies contribute the first present of rows, docs, matches, data;
// a bare list body is used directly. Anything else yields no rows.
func normalizeResponse(resp interface{}) ([]map[string]interface{}, map[string]interface{}) {
	switch body := resp.(type) {
	case []interface{}:
		return toRows(body), nil
	case map[string]interface{}:
		var respMeta map[string]interface{}
		if m, ok := body["meta"].(map[string]interface{}); ok {
			respMeta = m
		}
		for _, key := range []string{"rows", "docs", "matches", "data"} {
			if list, ok := body[key].([]interface{}); ok {
				return toRows(list), respMeta
			}
		}
		return []map[string]interface{}{}, respMeta
	default:
		return []map[string]interface{}{}, nil
	}
}

func toRows(list []interface{}) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]interface{}); ok {
			rows = append(rows, row)
			continue
		}
		rows = append(rows, map[string]interface{}{"value": item})
	}
	return rows
}

// nativeQuery records what was actually sent: the SQL text when the
// input carries one, otherwise the tool call rendered with its payload.
func nativeQuery(tool string, input map[string]interface{}) string {
	if q, ok := input["query"].(string); ok && q != "" {
		return q
	}
	payload, err := json.Marshal(input)
	if err != nil {
		payload = []byte("{}")
	}
	return fmt.Sprintf("%s(%s)", tool, payload)
}
