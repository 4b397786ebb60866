package orchestration

import (
	"context"

	"github.com/google/uuid"

	"github.com/polyfed/federator/core"
)

// StatusComplete is the only terminal status. The pipeline is single
// phase; partial failures surface inside the fused response, not here.
const StatusComplete = "COMPLETE"

// Orchestrator is the single entry point for a federated query. It
// owns the planner, executor, and fuser, assigns the request id, and
// shapes the final envelope.
type Orchestrator struct {
	planner  *Planner
	executor *Executor
	fuser    *Fuser

	logger    core.Logger
	telemetry core.Telemetry
}

// NewOrchestrator wires the three pipeline stages together.
func NewOrchestrator(planner *Planner, executor *Executor, fuser *Fuser) *Orchestrator {
	return &Orchestrator{
		planner:   planner,
		executor:  executor,
		fuser:     fuser,
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
}

// SetLogger sets the logger provider and propagates it to every stage.
func (o *Orchestrator) SetLogger(logger core.Logger) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	o.logger = logger
	o.planner.SetLogger(logger)
	o.executor.SetLogger(logger)
	o.fuser.SetLogger(logger)
}

// SetTelemetry sets the telemetry provider and propagates it to every stage.
func (o *Orchestrator) SetTelemetry(telemetry core.Telemetry) {
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	o.telemetry = telemetry
	o.planner.SetTelemetry(telemetry)
	o.executor.SetTelemetry(telemetry)
	o.fuser.SetTelemetry(telemetry)
}

// Handle runs plan, execute, fuse for one natural-language query.
func (o *Orchestrator) Handle(ctx context.Context, userID, nlQuery string, reqContext map[string]interface{}) (*QueryResult, error) {
	ctx, span := o.telemetry.StartSpan(ctx, "orchestrator.handle")
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttribute("request.id", requestID)

	o.logger.Info("Handling federated query", map[string]interface{}{
		"operation":  "query_start",
		"request_id": requestID,
		"user_id":    userID,
		"query":      nlQuery,
	})

	plan, err := o.planner.Plan(ctx, nlQuery)
	if err != nil {
		span.RecordError(err)
		o.logger.Error("Planning failed", map[string]interface{}{
			"operation":  "query_plan",
			"request_id": requestID,
			"error":      err.Error(),
		})
		return nil, err
	}

	tasks := o.executor.Execute(ctx, plan)
	fused := o.fuser.Fuse(tasks, nlQuery)

	o.logger.Info("Federated query complete", map[string]interface{}{
		"operation":  "query_complete",
		"request_id": requestID,
		"task_count": len(tasks),
		"explain":    fused.Explain,
	})

	return &QueryResult{
		RequestID: requestID,
		Status:    StatusComplete,
		FusedData: fused,
		Explain:   fused.Explain,
		Context:   reqContext,
	}, nil
}
