// Package api is the thin gin HTTP surface mapping POST/DELETE
// /projects/{id}[/{port}] onto InstanceLifecycle operations. A Handlers
// struct closes over its collaborators, one method per route, and every
// error is translated to an HTTP status through liferr.HTTPStatus.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crypticterminal/aim/internal/authn"
	"github.com/crypticterminal/aim/internal/liferr"
	"github.com/crypticterminal/aim/internal/lifecycle"
	"github.com/crypticterminal/aim/internal/metrics"
	"github.com/crypticterminal/aim/internal/version"
)

// Handlers bundles the dispatcher's dependencies.
type Handlers struct {
	Lifecycle *lifecycle.Context
	Auth      *authn.Service
}

// New creates a Handlers bound to a lifecycle context and auth service.
func New(lc *lifecycle.Context, auth *authn.Service) *Handlers {
	return &Handlers{Lifecycle: lc, Auth: auth}
}

type startRequestBody struct {
	AppPort   int               `json:"app_port"`
	ServiceID string            `json:"service_id"`
	VersionID string            `json:"version_id"`
	EnvVars   map[string]string `json:"env_vars"`
}

// StartProject handles POST /projects/:projectId.
func (h *Handlers) StartProject(c *gin.Context) {
	projectID := c.Param("projectId")

	var body startRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if body.EnvVars == nil {
		body.EnvVars = map[string]string{}
	}

	err := h.Lifecycle.Start(lifecycle.StartParams{
		ProjectID: projectID,
		AppPort:   body.AppPort,
		ServiceID: body.ServiceID,
		VersionID: body.VersionID,
		EnvVars:   body.EnvVars,
	})
	if err != nil {
		c.JSON(liferr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// StopProject handles DELETE /projects/:projectId.
func (h *Handlers) StopProject(c *gin.Context) {
	projectID := c.Param("projectId")
	if err := h.Lifecycle.StopAll(projectID); err != nil {
		c.JSON(liferr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// StopProjectInstance handles DELETE /projects/:projectId/:port.
func (h *Handlers) StopProjectInstance(c *gin.Context) {
	projectID := c.Param("projectId")
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return
	}

	if err := h.Lifecycle.StopOne(projectID, port); err != nil {
		c.JSON(liferr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// Health handles GET /health: unauthenticated, always 200 while the
// process is up.
func (h *Handlers) Health(c *gin.Context) {
	info := version.Get()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"version":    info.Version,
		"commit":     info.Commit,
		"uptime_sec": version.Uptime().Seconds(),
	})
}

// Metrics handles GET /metrics, exposing the Prometheus registry.
func (h *Handlers) Metrics(c *gin.Context) {
	if metrics.DefaultCollector == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	metrics.Handler(metrics.DefaultCollector).ServeHTTP(c.Writer, c.Request)
}

// DebugAudit handles GET /debug/audit, returning the last N recorded
// lifecycle events. Diagnostic only; gated by the same auth middleware as
// the mutating routes.
func (h *Handlers) DebugAudit(c *gin.Context) {
	n := 100
	if raw := c.Query("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": h.Lifecycle.Audit.Recent(n)})
}
