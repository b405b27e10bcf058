// Package handlers holds sample task handlers exercising the short- and
// long-running worker contexts. Production geospatial handlers (raster
// ingest, tiling, catalog publish, ...) are opaque external callables per
// spec.md §1 Non-goals; only the samples needed for the testable end-to-end
// scenarios live here.
package handlers

import (
	"context"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// Echo is the handler for end-to-end scenario S1: a single-stage,
// single-task workflow that echoes its input back as result_data.
type Echo struct{}

func (Echo) Type() string { return "echo" }

func (Echo) Run(_ context.Context, _ any, params domain.Params) (domain.HandlerResult, error) {
	msg, _ := params["msg"].(string)
	if msg == "" {
		msg = "hi"
	}
	return domain.HandlerResult{Success: true, Result: domain.Params{"msg": msg}}, nil
}
