package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterConfig wires the handlers NewRouter mounts; nil handlers are
// skipped, letting cmd/coremachine run a jobs-only or health-only process
// depending on which collaborators it constructed. JobHandler mounts the
// submit and status routes together.
type RouterConfig struct {
	JobHandler    *JobHandler
	HealthHandler *HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware("coremachine"))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
	}))

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Liveness)
		r.GET("/readyz", cfg.HealthHandler.Readiness)
	}

	if cfg.JobHandler != nil {
		r.POST("/jobs", cfg.JobHandler.Submit)
		r.GET("/jobs/:id", cfg.JobHandler.Status)
	}

	return r
}
