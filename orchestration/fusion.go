package orchestration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/polyfed/federator/core"
)

// Fuser merges executed tasks into the stable response envelope. Tasks
// are classified by output alias first, then by source type, then by
// source id substring; rows concatenate in encounter order and every
// contributing source lands in explain and provenance.
type Fuser struct {
	logger    core.Logger
	telemetry core.Telemetry
}

// NewFuser creates a fuser.
func NewFuser() *Fuser {
	return &Fuser{
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
}

// SetLogger sets the logger provider
func (f *Fuser) SetLogger(logger core.Logger) {
	if logger == nil {
		f.logger = &core.NoOpLogger{}
	} else {
		f.logger = logger
	}
}

// SetTelemetry sets the telemetry provider
func (f *Fuser) SetTelemetry(telemetry core.Telemetry) {
	if telemetry == nil {
		f.telemetry = &core.NoOpTelemetry{}
	} else {
		f.telemetry = telemetry
	}
}

// bucket labels used during classification. The alias constants double
// as bucket names; these cover tasks that carry no routable alias.
const (
	bucketSQL      = "sql"
	bucketDocument = "document"
	bucketGraph    = "graph"
	bucketVector   = "vector"
)

// classify routes one task to a bucket. Priority: canonical output
// alias, then source_type prefix, then source_id substring.
func classify(task *ExecutionTask) string {
	switch task.Meta.OutputAlias {
	case AliasCustomer, AliasCustomers, AliasRecentOrders, AliasReferrals, AliasSimilarCustomers:
		return task.Meta.OutputAlias
	}

	switch {
	case strings.HasPrefix(task.Meta.SourceType, "query.sql"):
		return bucketSQL
	case strings.HasPrefix(task.Meta.SourceType, "query.document"):
		return bucketDocument
	case strings.HasPrefix(task.Meta.SourceType, "query.graph"):
		return bucketGraph
	case strings.HasPrefix(task.Meta.SourceType, "query.vector"):
		return bucketVector
	}

	id := strings.ToLower(task.SourceID)
	switch {
	case strings.Contains(id, "sql"):
		return bucketSQL
	case strings.Contains(id, "orders"), strings.Contains(id, "mongo"):
		return bucketDocument
	case strings.Contains(id, "graph"), strings.Contains(id, "neo4j"):
		return bucketGraph
	case strings.Contains(id, "vector"), strings.Contains(id, "milvus"):
		return bucketVector
	}

	return ""
}

// Fuse merges the tasks into the response envelope. Given identical
// tasks and query text the output is byte-identical: source sets are
// sorted, row order follows task encounter order.
func (f *Fuser) Fuse(tasks []ExecutionTask, nlQuery string) *FusedResponse {
	resp := NewFusedResponse()

	var (
		customerTasks []*ExecutionTask
		listTasks     []*ExecutionTask
		orderTasks    []*ExecutionTask
		referralTasks []*ExecutionTask
		similarTasks  []*ExecutionTask
		sqlTasks      []*ExecutionTask
		failed        []*ExecutionTask
	)

	for i := range tasks {
		task := &tasks[i]
		if task.Failed() {
			failed = append(failed, task)
			continue
		}
		switch classify(task) {
		case AliasCustomer:
			customerTasks = append(customerTasks, task)
		case AliasCustomers:
			listTasks = append(listTasks, task)
		case AliasRecentOrders, bucketDocument:
			orderTasks = append(orderTasks, task)
		case AliasReferrals, bucketGraph:
			referralTasks = append(referralTasks, task)
		case AliasSimilarCustomers, bucketVector:
			similarTasks = append(similarTasks, task)
		case bucketSQL:
			sqlTasks = append(sqlTasks, task)
		default:
			f.logger.Warn("Task did not classify into any bucket", map[string]interface{}{
				"operation": "fusion_classify",
				"task_id":   task.TaskID,
				"source_id": task.SourceID,
			})
		}
	}

	// List-of-customers intent short-circuits the envelope: one bucket,
	// one explain line, and we are done.
	if isListCustomersQuery(nlQuery) {
		var source *ExecutionTask
		if len(listTasks) > 0 {
			source = listTasks[0]
		} else if len(sqlTasks) > 0 {
			source = sqlTasks[0]
		}
		if source != nil {
			resp.Customers = source.Rows
			resp.Explain = append(resp.Explain, fmt.Sprintf("Customers from %s", source.SourceID))
			resp.Provenance[AliasCustomers] = map[string]interface{}{
				"source": source.SourceID,
				"meta":   source.Meta.Extra,
			}
			f.recordFailures(resp, failed)
			return resp
		}
	}

	// Primary customer: the alias-customer task wins; otherwise the
	// first SQL task stands in.
	primary := firstWithRows(customerTasks)
	if primary == nil {
		primary = firstWithRows(sqlTasks)
	}
	if primary != nil {
		resp.Customer = primary.Rows[0]
		resp.Explain = append(resp.Explain, fmt.Sprintf("Customer from %s", primary.SourceID))
		resp.Provenance[AliasCustomer] = map[string]interface{}{
			"source": primary.SourceID,
			"meta":   primary.Meta,
		}
	}

	if sources := f.collect(listTasks, &resp.Customers, resp, AliasCustomers); len(sources) > 0 {
		resp.Explain = append(resp.Explain, fmt.Sprintf("Customers from %s", strings.Join(sources, ", ")))
	}
	if sources := f.collect(orderTasks, &resp.RecentOrders, resp, AliasRecentOrders); len(sources) > 0 {
		resp.Explain = append(resp.Explain, fmt.Sprintf("Orders from %s", strings.Join(sources, ", ")))
	}
	if sources := f.collect(referralTasks, &resp.Referrals, resp, AliasReferrals); len(sources) > 0 {
		resp.Explain = append(resp.Explain, fmt.Sprintf("Referrals from %s", strings.Join(sources, ", ")))
	}
	if sources := f.collect(similarTasks, &resp.SimilarCustomers, resp, AliasSimilarCustomers); len(sources) > 0 {
		resp.Explain = append(resp.Explain, fmt.Sprintf("Similar customers from %s", strings.Join(sources, ", ")))
	}

	// A customer implied by order rows is better than none.
	if len(resp.Customer) == 0 && len(resp.RecentOrders) > 0 {
		first := resp.RecentOrders[0]
		id, ok := first["customer_id"]
		if !ok {
			id, ok = first["cust_id"]
		}
		if ok {
			resp.Customer = map[string]interface{}{"id": id}
			resp.Explain = append(resp.Explain, "Inferred primary customer from recent orders")
			resp.Provenance[AliasCustomer] = map[string]interface{}{
				"inferred_from": "orders",
				"sample_order":  first,
			}
		}
	}

	f.recordFailures(resp, failed)
	return resp
}

// collect concatenates the tasks' rows into dst in encounter order,
// records per-task provenance, and returns the sorted source id set.
func (f *Fuser) collect(bucket []*ExecutionTask, dst *[]map[string]interface{}, resp *FusedResponse, key string) []string {
	if len(bucket) == 0 {
		return nil
	}

	sourceSet := make(map[string]bool, len(bucket))
	prov := make([]map[string]interface{}, 0, len(bucket))
	for _, task := range bucket {
		*dst = append(*dst, task.Rows...)
		sourceSet[task.SourceID] = true
		prov = append(prov, map[string]interface{}{
			"source": task.SourceID,
			"meta":   task.Meta,
		})
	}
	resp.Provenance[key] = prov

	sources := make([]string, 0, len(sourceSet))
	for id := range sourceSet {
		sources = append(sources, id)
	}
	sort.Strings(sources)
	return sources
}

// recordFailures surfaces failed tasks in provenance so the client can
// see what partially succeeded.
func (f *Fuser) recordFailures(resp *FusedResponse, failed []*ExecutionTask) {
	if len(failed) == 0 {
		return
	}
	errs := make([]map[string]interface{}, 0, len(failed))
	for _, task := range failed {
		errs = append(errs, map[string]interface{}{
			"source": task.SourceID,
			"step":   task.PlanStepID,
			"error":  task.Meta.Extra["error"],
		})
	}
	resp.Provenance["errors"] = errs
}

func firstWithRows(bucket []*ExecutionTask) *ExecutionTask {
	for _, task := range bucket {
		if len(task.Rows) > 0 {
			return task
		}
	}
	return nil
}

// normalizeQuery lowercases the query and collapses runs of whitespace
// so phrase matching is insensitive to formatting.
func normalizeQuery(nlQuery string) string {
	return strings.Join(strings.Fields(strings.ToLower(nlQuery)), " ")
}

func containsPhrase(q, phrase string) bool {
	return strings.Contains(q, phrase)
}
