// Package coremachine implements the stateless orchestrator: the two
// message-driven entry points process_job_message and process_task_message
// (spec.md §4.5), grounded on the teacher's
// internal/jobs/orchestrator/engine.go stage loop (generalized from a
// single-root-job polling loop into message-driven entry points) and
// internal/jobs/worker/worker.go's panic-recovery/heartbeat wrapping style.
package coremachine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker"
	"github.com/rob634/rmhgeoapi-sub015/internal/checkpoint"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
	"github.com/rob634/rmhgeoapi-sub015/internal/router"
	"github.com/rob634/rmhgeoapi-sub015/internal/store"
)

// Disposition is what a WorkerLoop must do with the broker message after a
// CoreMachine call returns.
type Disposition int

const (
	DispositionComplete Disposition = iota
	DispositionAbandon
	DispositionDeadLetter
)

func (d Disposition) String() string {
	switch d {
	case DispositionComplete:
		return "complete"
	case DispositionAbandon:
		return "abandon"
	case DispositionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Queues names the queues CoreMachine sends job-messages to; task-message
// queues are chosen per-task by router.Router.
type Queues struct {
	Job string
}

// CoreMachine is stateless: every field is a shared collaborator, and all
// durable state lives in Store.
type CoreMachine struct {
	Store      store.Store
	Broker     broker.Broker
	Workflows  *registry.WorkflowRegistry
	Handlers   *registry.HandlerRegistry
	Router     *router.Router
	Checkpoint *checkpoint.Manager
	Queues     Queues
	Log        *logger.Logger

	// FanOutConcurrency bounds the errgroup worker pool used to dispatch a
	// fan_out stage's tasks concurrently (spec.md §5 domain-stack
	// addendum). Defaults to 8.
	FanOutConcurrency int

	// Overrides is the optional per-stage operability tuning loaded from
	// WORKFLOW_OVERRIDES_PATH (registry.LoadOverrides). Only an override's
	// Queue is consulted; nil means no overrides were configured, and
	// routing falls back entirely to the Router config.
	Overrides *registry.WorkflowOverrides

	tracer trace.Tracer
}

func New(st store.Store, br broker.Broker, workflows *registry.WorkflowRegistry, handlers *registry.HandlerRegistry, rt *router.Router, ckpt *checkpoint.Manager, queues Queues, log *logger.Logger) *CoreMachine {
	return &CoreMachine{
		Store: st, Broker: br, Workflows: workflows, Handlers: handlers,
		Router: rt, Checkpoint: ckpt, Queues: queues, Log: log,
		FanOutConcurrency: 8,
		tracer:            otel.Tracer("coremachine"),
	}
}

func (cm *CoreMachine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return cm.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
