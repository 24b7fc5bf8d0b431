package handler

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bounty-orchestrator/internal/logging"
)

// NewRouter sets up all routes. reg may be nil to leave out /metrics.
func NewRouter(h *BountyHandler, reg *prometheus.Registry, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logging.OrNop(log).With("component", "http")))

	router.GET("/health", Health)
	if reg != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	api := router.Group("/api")
	{
		api.POST("/bounty/start", h.StartBounty)
		api.GET("/bounty/:id/status", h.Status)
		api.POST("/bounty/:id/approve", h.Approve)
		api.POST("/bounty/:id/reject", h.Reject)
		api.POST("/bounty/:id/resume", h.Resume)
		api.POST("/bounty/:id/outcome", h.RecordOutcome)
		api.GET("/bounties", h.ListBounties)

		api.GET("/repos", h.ListRepos)
		api.POST("/repos/sync", h.SyncRepo)
		api.GET("/repos/:key", h.GetRepo)
		api.GET("/repos/:key/gotchas", h.Gotchas)

		api.GET("/learnings", h.SearchLearnings)

		api.GET("/users/:id/preferences", h.GetPreferences)
		api.PUT("/users/:id/preferences", h.PutPreferences)
	}
	return router
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			log.Error("request failed", append(attrs, "error", errs.String())...)
			return
		}
		log.Debug("request", attrs...)
	}
}
