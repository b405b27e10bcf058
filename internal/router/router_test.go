package router_test

import (
	"testing"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/router"
)

func newTestRouter() *router.Router {
	return router.New(router.Config{
		DefaultQueue:       "tasks-short",
		LongQueue:          "tasks-long",
		LongQueueTaskTypes: map[string]bool{"raster_tile": true},
		SizeThresholdBytes: 1024,
	})
}

func TestRouteDefaultsToShortQueue(t *testing.T) {
	r := newTestRouter()
	queue := r.Route(router.TaskDescriptor{TaskType: "echo", PayloadSizeBytes: 10}, domain.Params{})
	if queue != "tasks-short" {
		t.Fatalf("expected tasks-short, got %s", queue)
	}
}

func TestRouteExplicitProcessingModeOverridesEverything(t *testing.T) {
	r := newTestRouter()
	queue := r.Route(router.TaskDescriptor{TaskType: "echo", PayloadSizeBytes: 10}, domain.Params{"processing_mode": "long"})
	if queue != "tasks-long" {
		t.Fatalf("expected explicit processing_mode=long to route to tasks-long, got %s", queue)
	}
}

func TestRouteTaskTypeAllowlist(t *testing.T) {
	r := newTestRouter()
	queue := r.Route(router.TaskDescriptor{TaskType: "raster_tile", PayloadSizeBytes: 10}, domain.Params{})
	if queue != "tasks-long" {
		t.Fatalf("expected allowlisted task_type to route to tasks-long, got %s", queue)
	}
}

func TestRouteSizeThreshold(t *testing.T) {
	r := newTestRouter()
	queue := r.Route(router.TaskDescriptor{TaskType: "echo", PayloadSizeBytes: 2048}, domain.Params{})
	if queue != "tasks-long" {
		t.Fatalf("expected oversized payload to route to tasks-long, got %s", queue)
	}
}

func TestRouteUnrecognizedProcessingModeFallsThroughToSize(t *testing.T) {
	r := newTestRouter()
	// "short" is not a recognized processing_mode value, so the explicit-mode
	// rule does not short-circuit and the oversized payload routes long.
	queue := r.Route(router.TaskDescriptor{TaskType: "echo", PayloadSizeBytes: 2048}, domain.Params{"processing_mode": "short"})
	if queue != "tasks-long" {
		t.Fatalf("processing_mode=short is not a recognized override value, expected size threshold to still apply, got %s", queue)
	}
}

func TestRouteIsPureAcrossRepeatedCalls(t *testing.T) {
	r := newTestRouter()
	desc := router.TaskDescriptor{TaskType: "echo", PayloadSizeBytes: 10}
	params := domain.Params{}
	first := r.Route(desc, params)
	for i := 0; i < 5; i++ {
		if got := r.Route(desc, params); got != first {
			t.Fatalf("expected Route to be a pure function of its inputs, got %s then %s", first, got)
		}
	}
}
