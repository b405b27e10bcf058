package checkpoint_test

import (
	"context"
	"testing"

	"github.com/rob634/rmhgeoapi-sub015/internal/checkpoint"
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

type fakeStore struct {
	phase   int
	payload domain.Params
	err     error
}

func (f *fakeStore) UpdateTaskCheckpoint(ctx context.Context, taskID string, phase int, payload domain.Params) error {
	f.phase = phase
	f.payload = payload
	return nil
}

func (f *fakeStore) GetCheckpoint(ctx context.Context, taskID string) (int, domain.Params, error) {
	return f.phase, f.payload, f.err
}

func TestSaveThenShouldSkipWithNoValidator(t *testing.T) {
	store := &fakeStore{}
	mgr := checkpoint.New(store)
	ctx := context.Background()

	if err := mgr.Save(ctx, "task-1", 2, domain.Params{"artifact": "blob://x"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	skip, err := mgr.ShouldSkip(ctx, "task-1", 2, nil)
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if !skip {
		t.Fatalf("expected phase 2 checkpoint to allow skipping phase 2")
	}

	skip, err = mgr.ShouldSkip(ctx, "task-1", 3, nil)
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if skip {
		t.Fatalf("expected a later phase to not be skippable from an earlier checkpoint")
	}
}

func TestShouldSkipConsultsValidator(t *testing.T) {
	store := &fakeStore{phase: 2, payload: domain.Params{"artifact": "blob://x"}}
	mgr := checkpoint.New(store)
	ctx := context.Background()

	skip, err := mgr.ShouldSkip(ctx, "task-1", 2, func(ctx context.Context, payload domain.Params) bool {
		return payload["artifact"] == "blob://x"
	})
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if !skip {
		t.Fatalf("expected validator confirming the artifact to allow skip")
	}

	skip, err = mgr.ShouldSkip(ctx, "task-1", 2, func(ctx context.Context, payload domain.Params) bool {
		return false
	})
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if skip {
		t.Fatalf("expected a validator reporting artifact loss to force re-execution")
	}
}

func TestGetDataReturnsDefaultWhenKeyAbsent(t *testing.T) {
	store := &fakeStore{phase: 1, payload: domain.Params{"other": 1}}
	mgr := checkpoint.New(store)

	v, err := mgr.GetData(context.Background(), "task-1", "missing", "fallback")
	if err != nil {
		t.Fatalf("get data: %v", err)
	}
	if v != "fallback" {
		t.Fatalf("expected fallback default, got %v", v)
	}
}

func TestGetDataReturnsStoredValue(t *testing.T) {
	store := &fakeStore{phase: 1, payload: domain.Params{"count": 5}}
	mgr := checkpoint.New(store)

	v, err := mgr.GetData(context.Background(), "task-1", "count", 0)
	if err != nil {
		t.Fatalf("get data: %v", err)
	}
	if v != 5 {
		t.Fatalf("expected stored value 5, got %v", v)
	}
}

func TestGetDataHandlesNilPayload(t *testing.T) {
	store := &fakeStore{phase: 0, payload: nil}
	mgr := checkpoint.New(store)

	v, err := mgr.GetData(context.Background(), "task-1", "missing", "fallback")
	if err != nil {
		t.Fatalf("get data: %v", err)
	}
	if v != "fallback" {
		t.Fatalf("expected fallback default for nil payload, got %v", v)
	}
}
