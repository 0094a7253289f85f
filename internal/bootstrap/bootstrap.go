// Package bootstrap wires every AIM collaborator into a single
// lifecycle.Context exactly once, before the HTTP server starts.
package bootstrap

import (
	"github.com/crypticterminal/aim/internal/audit"
	"github.com/crypticterminal/aim/internal/authn"
	"github.com/crypticterminal/aim/internal/command"
	"github.com/crypticterminal/aim/internal/config"
	"github.com/crypticterminal/aim/internal/gc"
	"github.com/crypticterminal/aim/internal/health"
	"github.com/crypticterminal/aim/internal/lifecycle"
	"github.com/crypticterminal/aim/internal/logrotate"
	"github.com/crypticterminal/aim/internal/metrics"
	"github.com/crypticterminal/aim/internal/projects"
	"github.com/crypticterminal/aim/internal/routing"
	"github.com/crypticterminal/aim/internal/sourcemanager"
	"github.com/crypticterminal/aim/internal/supervisor"
	"github.com/crypticterminal/aim/internal/worker"
)

// Bootstrap builds every collaborator from cfg and returns the
// lifecycle.Context and authn.Service the HTTP surface needs. The worker
// pool is started; callers must call Shutdown when done.
func Bootstrap(cfg *config.Config) (*lifecycle.Context, *authn.Service, error) {
	metrics.InitGlobal()

	authService, err := authn.New(cfg.AdminToken)
	if err != nil {
		return nil, nil, err
	}

	supervisorClient := supervisor.NewHTTPClient(cfg.SupervisorURL)
	configWriter := supervisor.NewConfigWriter(cfg.SupervisorConfDir)
	routingController := routing.NewHTTPController(cfg.RoutingControllerURL)
	sourceManager := sourcemanager.New(cfg.UnpackRoot)
	projectsManager := projects.NewManager()

	pool := worker.New(cfg.WorkerPoolSize, nil)
	pool.Start()

	lc := &lifecycle.Context{
		Config:       cfg,
		Supervisor:   supervisorClient,
		ConfigWriter: configWriter,
		Routing:      routingController,
		Source:       sourceManager,
		Projects:     projectsManager,
		Builder:      command.New(cfg),
		Health:       health.New(),
		Logrotate:    logrotate.New(cfg.LogrotateDir),
		GC:           gc.New(supervisorClient, projectsManager, sourceManager),
		Pool:         pool,
		Audit:        audit.New(200),
	}

	return lc, authService, nil
}

// Shutdown stops the background worker pool, letting in-flight tasks
// drain before returning.
func Shutdown(lc *lifecycle.Context) {
	lc.Pool.Stop()
}
