package handlers

import (
	"context"
	"fmt"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// ValidateItems is the stage-1 handler of the sample
// "validate-then-process-then-finalize" workflow (end-to-end scenarios S2,
// S3): it reports the submitted item count as item_count. The item list
// itself is not passed on; the stage-2 task factory reads it from the job
// parameters.
type ValidateItems struct{}

func (ValidateItems) Type() string { return "validate_items" }

func (ValidateItems) Run(_ context.Context, _ any, params domain.Params) (domain.HandlerResult, error) {
	items, _ := params["items"].([]any)
	return domain.HandlerResult{Success: true, Result: domain.Params{"item_count": len(items)}}, nil
}

// ProcessItem is the stage-2 fan_out handler: one invocation per item. An
// item carrying `"invalid": true` is treated as HandlerPermanent (spec.md
// §7): the task FAILS but counts toward stage completion rather than
// blocking it.
type ProcessItem struct{}

func (ProcessItem) Type() string { return "process_item" }

func (ProcessItem) Run(_ context.Context, _ any, params domain.Params) (domain.HandlerResult, error) {
	item, _ := params["item"].(map[string]any)
	if invalid, _ := item["invalid"].(bool); invalid {
		return domain.HandlerResult{Success: false, Error: "item failed validation", Retryable: false}, nil
	}
	return domain.HandlerResult{Success: true, Result: domain.Params{"processed": item}}, nil
}

// FinalizeResults is the stage-3 fan_in handler: it receives the aggregated
// previous-stage results via the "_previous_results" parameter CoreMachine
// injects for single-descriptor fan_in stages.
type FinalizeResults struct{}

func (FinalizeResults) Type() string { return "finalize_results" }

func (FinalizeResults) Run(_ context.Context, _ any, params domain.Params) (domain.HandlerResult, error) {
	// _previous_results survives a JSON round-trip through the broker, so by
	// the time it reaches a handler it is generic []any of map[string]any
	// rather than the []domain.TaskResult CoreMachine originally injected.
	succeeded, failed := 0, 0
	if prev, ok := params["_previous_results"].([]any); ok {
		for _, raw := range prev {
			r, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if ok, _ := r["success"].(bool); ok {
				succeeded++
			} else {
				failed++
			}
		}
	}
	return domain.HandlerResult{
		Success: true,
		Result: domain.Params{
			"summary": fmt.Sprintf("%d succeeded, %d failed", succeeded, failed),
			"succeeded": succeeded,
			"failed":    failed,
		},
	}, nil
}
