// Command coremachine is the process entrypoint wiring every package into
// a runnable server and/or worker, grounded on the teacher's cmd/main.go
// RUN_SERVER/RUN_WORKER env-gated startup pattern.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker"
	"github.com/rob634/rmhgeoapi-sub015/internal/broker/redisbroker"
	"github.com/rob634/rmhgeoapi-sub015/internal/checkpoint"
	"github.com/rob634/rmhgeoapi-sub015/internal/config"
	"github.com/rob634/rmhgeoapi-sub015/internal/coremachine"
	"github.com/rob634/rmhgeoapi-sub015/internal/handlers"
	"github.com/rob634/rmhgeoapi-sub015/internal/httpapi"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
	"github.com/rob634/rmhgeoapi-sub015/internal/observability"
	"github.com/rob634/rmhgeoapi-sub015/internal/platform/envutil"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
	"github.com/rob634/rmhgeoapi-sub015/internal/router"
	"github.com/rob634/rmhgeoapi-sub015/internal/store"
	"github.com/rob634/rmhgeoapi-sub015/internal/submission"
	"github.com/rob634/rmhgeoapi-sub015/internal/workflows"
	"github.com/rob634/rmhgeoapi-sub015/internal/worker/jobloop"
	"github.com/rob634/rmhgeoapi-sub015/internal/worker/longloop"
)

func main() {
	log, err := logger.New(strings.ToLower(os.Getenv("LOG_MODE")))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{ServiceName: cfg.ServiceName})
	defer shutdownOTel(context.Background())

	st, err := store.NewPooled(cfg.DatabaseDSN, cfg.StorePoolConfig(), log)
	if err != nil {
		log.Fatal("failed to open state store", "error", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate state store", "error", err)
	}

	br, err := redisbroker.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "coremachine", hostname(), log)
	if err != nil {
		log.Fatal("failed to connect to broker", "error", err)
	}
	defer br.Close()
	br.Configure(cfg.Queues.TaskShort, cfg.Queues.ShortConfig())
	br.Configure(cfg.Queues.TaskLong, cfg.Queues.LongConfig())

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

	submitSvc := submission.New(st, br, workflowRegistry, cfg.Queues.Job, log)

	runServer := envutil.Bool("RUN_SERVER", true)
	runWorker := envutil.Bool("RUN_WORKER", false)

	if runWorker {
		startWorkers(ctx, machine, br, cfg, log)
	}

	if !runServer {
		<-ctx.Done()
		return
	}

	r := httpapi.NewRouter(httpapi.RouterConfig{
		JobHandler:    httpapi.NewJobHandler(submitSvc),
		HealthHandler: httpapi.NewHealthHandler(st),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("http server listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("http server stopped", "error", err)
	}
}

func startWorkers(ctx context.Context, machine *coremachine.CoreMachine, br broker.Broker, cfg config.Config, log *logger.Logger) {
	jl := jobloop.New(machine, br, cfg.Queues.Job, broker.QueueConfig{MaxDeliveryCount: 5, LockDuration: cfg.Queues.LockDurationLong}, log)
	go jl.Run(ctx)

	queue := cfg.Queues.TaskShort
	queueCfg := cfg.Queues.ShortConfig()
	if cfg.Worker.Mode == config.ModeLong {
		queue = cfg.Queues.TaskLong
		queueCfg = cfg.Queues.LongConfig()
	}

	ll := longloop.New(machine, br, []longloop.QueueSet{{Name: queue, Config: queueCfg}}, log)
	go ll.Run(ctx)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("coremachine-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", h, os.Getpid())
}
