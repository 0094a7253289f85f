package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures AIM's HTTP surface: the public health/metrics
// endpoints and the bearer-token-guarded project lifecycle routes.
func SetupRoutes(r *gin.Engine, h *Handlers, corsOrigins []string) {
	if len(corsOrigins) > 0 {
		cfg := cors.DefaultConfig()
		cfg.AllowOrigins = corsOrigins
		cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
		r.Use(cors.New(cfg))
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)

	protected := r.Group("/")
	protected.Use(h.Auth.Middleware())
	{
		protected.POST("/projects/:projectId", h.StartProject)
		protected.DELETE("/projects/:projectId", h.StopProject)
		protected.DELETE("/projects/:projectId/:port", h.StopProjectInstance)
		protected.GET("/debug/audit", h.DebugAudit)
	}
}
