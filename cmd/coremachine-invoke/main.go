// Command coremachine-invoke is the serverless counterpart to
// cmd/coremachine: a single-shot entrypoint that opens per-invocation
// collaborators (store.ShortLived over a fresh pgxpool, one broker
// connection), processes exactly one message from the short task queue via
// shortloop, and exits. Grounded on the teacher's cmd/main.go startup
// sequence, trimmed to the one-shot trigger model spec.md §4.1/§4.8
// describes for short-lived workers (e.g. a FaaS trigger invoking this
// binary per message rather than a long-running process).
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker/redisbroker"
	"github.com/rob634/rmhgeoapi-sub015/internal/checkpoint"
	"github.com/rob634/rmhgeoapi-sub015/internal/config"
	"github.com/rob634/rmhgeoapi-sub015/internal/coremachine"
	"github.com/rob634/rmhgeoapi-sub015/internal/handlers"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
	"github.com/rob634/rmhgeoapi-sub015/internal/router"
	"github.com/rob634/rmhgeoapi-sub015/internal/store"
	"github.com/rob634/rmhgeoapi-sub015/internal/worker/shortloop"
	"github.com/rob634/rmhgeoapi-sub015/internal/workflows"
)

func main() {
	log, err := logger.New(strings.ToLower(os.Getenv("LOG_MODE")))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load(log)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	st, err := store.NewShortLived(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("failed to open short-lived store", "error", err)
	}
	defer st.Close()

	br, err := redisbroker.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "coremachine", hostname(), log)
	if err != nil {
		log.Fatal("failed to connect to broker", "error", err)
	}
	defer br.Close()
	br.Configure(cfg.Queues.TaskShort, cfg.Queues.ShortConfig())

	workflowRegistry := registry.NewWorkflowRegistry()
	workflows.RegisterEcho(workflowRegistry)
	workflows.RegisterValidateProcessFinalize(workflowRegistry)
	workflowRegistry.Freeze()

	handlerRegistry := registry.NewHandlerRegistry()
	handlerRegistry.Register(handlers.Echo{})
	handlerRegistry.Register(handlers.ValidateItems{})
	handlerRegistry.Register(handlers.ProcessItem{})
	handlerRegistry.Register(handlers.FinalizeResults{})

	taskRouter := router.New(cfg.RouterConfig())
	checkpointMgr := checkpoint.New(st)

	overrides, err := registry.LoadOverrides(cfg.OverridesPath)
	if err != nil {
		log.Fatal("failed to load workflow overrides", "error", err)
	}

	machine := coremachine.New(st, br, workflowRegistry, handlerRegistry, taskRouter, checkpointMgr,
		coremachine.Queues{Job: cfg.Queues.Job}, log)
	machine.Overrides = overrides

	loop := shortloop.New(machine, br, cfg.Queues.TaskShort, cfg.Queues.ShortConfig(), log)

	handled, err := loop.Invoke(ctx)
	if err != nil {
		log.Error("invocation failed", "error", err)
		os.Exit(1)
	}
	if !handled {
		log.Info("no message available")
		return
	}
	log.Info("invocation handled")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("coremachine-invoke-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", h, os.Getpid())
}
