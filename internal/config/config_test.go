package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/rob634/rmhgeoapi-sub015/internal/config"
)

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	cfg := config.Load(nil)
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("expected default redis addr, got %s", cfg.RedisAddr)
	}
	if cfg.Queues.Job != "jobs" {
		t.Fatalf("expected default job queue name, got %s", cfg.Queues.Job)
	}
	if cfg.Worker.Mode != config.ModeLong {
		t.Fatalf("expected default worker mode long, got %s", cfg.Worker.Mode)
	}
	if cfg.Queues.LockDurationShort != 30*time.Second {
		t.Fatalf("expected default short lock duration 30s, got %s", cfg.Queues.LockDurationShort)
	}
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("QUEUES_MAX_DELIVERY_SHORT", "9")
	t.Setenv("WORKER_MODE", "short")

	cfg := config.Load(nil)
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Fatalf("expected env override for redis addr, got %s", cfg.RedisAddr)
	}
	if cfg.Queues.MaxDeliveryShort != 9 {
		t.Fatalf("expected env override for max delivery short, got %d", cfg.Queues.MaxDeliveryShort)
	}
	if cfg.Worker.Mode != config.ModeShort {
		t.Fatalf("expected env override for worker mode, got %s", cfg.Worker.Mode)
	}
}

func TestQueuesShortAndLongConfig(t *testing.T) {
	q := config.Queues{MaxDeliveryShort: 3, MaxDeliveryLong: 5, LockDurationShort: time.Second, LockDurationLong: time.Minute}
	short := q.ShortConfig()
	if short.MaxDeliveryCount != 3 || short.LockDuration != time.Second {
		t.Fatalf("unexpected short config: %+v", short)
	}
	long := q.LongConfig()
	if long.MaxDeliveryCount != 5 || long.LockDuration != time.Minute {
		t.Fatalf("unexpected long config: %+v", long)
	}
}

func TestRouterConfigDerivesFromQueuesAndRouterSurface(t *testing.T) {
	cfg := config.Config{
		Queues: config.Queues{TaskShort: "short-q", TaskLong: "long-q"},
		Router: config.Router{LongQueueTaskTypes: map[string]bool{"raster_tile": true}, SizeThresholdBytes: 2048},
	}
	rc := cfg.RouterConfig()
	if rc.DefaultQueue != "short-q" || rc.LongQueue != "long-q" {
		t.Fatalf("unexpected router config queues: %+v", rc)
	}
	if !rc.LongQueueTaskTypes["raster_tile"] || rc.SizeThresholdBytes != 2048 {
		t.Fatalf("unexpected router config surface: %+v", rc)
	}
}

func TestStorePoolConfigDerivesFromWorkerSurface(t *testing.T) {
	cfg := config.Config{Worker: config.Worker{PoolMin: 2, PoolMax: 10}}
	pc := cfg.StorePoolConfig()
	if pc.MinConns != 2 || pc.MaxConns != 10 {
		t.Fatalf("unexpected pool config: %+v", pc)
	}
}

func TestMain(m *testing.M) {
	// Ensure no stray env vars from the host leak into default-value assertions.
	for _, k := range []string{"REDIS_ADDR", "QUEUES_MAX_DELIVERY_SHORT", "WORKER_MODE"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}
