package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/rob634/rmhgeoapi-sub015/internal/checkpoint"
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/runtime"
)

type fakeCheckpointStore struct {
	phase   int
	payload domain.Params
}

func (f *fakeCheckpointStore) UpdateTaskCheckpoint(ctx context.Context, taskID string, phase int, payload domain.Params) error {
	f.phase = phase
	f.payload = payload
	return nil
}

func (f *fakeCheckpointStore) GetCheckpoint(ctx context.Context, taskID string) (int, domain.Params, error) {
	return f.phase, f.payload, nil
}

func TestShortContextCarriesParameters(t *testing.T) {
	ctx := runtime.NewShortContext(context.Background(), "task-1", "job-1", domain.Params{"x": 1})
	if ctx.TaskID != "task-1" || ctx.JobID != "job-1" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
	if ctx.Parameters["x"] != 1 {
		t.Fatalf("expected parameters to be carried through, got %+v", ctx.Parameters)
	}
}

func TestLongContextCheckpointRoundTrip(t *testing.T) {
	store := &fakeCheckpointStore{}
	mgr := checkpoint.New(store)
	signal := runtime.NewShutdownSignal()

	lc := runtime.NewLongContext(context.Background(), "task-1", "job-1", domain.Params{}, mgr, signal, nil, nil)

	if err := lc.SaveCheckpoint(1, domain.Params{"done": true}); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	skip, err := lc.ShouldSkip(1, nil)
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if !skip {
		t.Fatalf("expected phase 1 to be skippable after being checkpointed")
	}

	v, err := lc.GetCheckpointData("done", false)
	if err != nil {
		t.Fatalf("get checkpoint data: %v", err)
	}
	if v != true {
		t.Fatalf("expected stored checkpoint value, got %v", v)
	}
}

func TestLongContextShutdownRequested(t *testing.T) {
	store := &fakeCheckpointStore{}
	mgr := checkpoint.New(store)
	signal := runtime.NewShutdownSignal()
	lc := runtime.NewLongContext(context.Background(), "task-1", "job-1", domain.Params{}, mgr, signal, nil, nil)

	if lc.ShutdownRequested() {
		t.Fatalf("expected ShutdownRequested to be false before Set")
	}
	signal.Set()
	if !lc.ShutdownRequested() {
		t.Fatalf("expected ShutdownRequested to be true after Set")
	}
}

func TestLongContextReportProgressDoesNotPanicWithNilReporter(t *testing.T) {
	store := &fakeCheckpointStore{}
	mgr := checkpoint.New(store)
	signal := runtime.NewShutdownSignal()
	lc := runtime.NewLongContext(context.Background(), "task-1", "job-1", domain.Params{}, mgr, signal, nil, nil)
	lc.ReportProgress(50, "halfway")
}

func TestShutdownSignalDoneChannelClosesOnce(t *testing.T) {
	signal := runtime.NewShutdownSignal()
	done := signal.Done()

	select {
	case <-done:
		t.Fatalf("expected done channel to be open before Set")
	default:
	}

	signal.Set()
	signal.Set() // must not panic on repeated Set

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected done channel to be closed after Set")
	}
}
