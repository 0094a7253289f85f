// Package lifecycle implements InstanceLifecycle: the state machine that
// composes CommandBuilder, the supervisor and routing clients,
// SourceManager, RevisionGC and the worker pool into start/stop
// operations. Every collaborator is threaded through a single Context
// value built once at bootstrap rather than held in package globals.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crypticterminal/aim/internal/audit"
	"github.com/crypticterminal/aim/internal/command"
	"github.com/crypticterminal/aim/internal/config"
	"github.com/crypticterminal/aim/internal/gc"
	"github.com/crypticterminal/aim/internal/health"
	"github.com/crypticterminal/aim/internal/ids"
	"github.com/crypticterminal/aim/internal/liferr"
	"github.com/crypticterminal/aim/internal/logrotate"
	"github.com/crypticterminal/aim/internal/metrics"
	"github.com/crypticterminal/aim/internal/projects"
	"github.com/crypticterminal/aim/internal/routing"
	"github.com/crypticterminal/aim/internal/sourcemanager"
	"github.com/crypticterminal/aim/internal/supervisor"
	"github.com/crypticterminal/aim/internal/worker"
)

const healthCheckPath = "/_ah/health_check"

// Context carries every collaborator a lifecycle operation needs, built
// once at bootstrap.
type Context struct {
	Config          *config.Config
	Supervisor      supervisor.Client
	ConfigWriter    *supervisor.ConfigWriter
	Routing         routing.Controller
	Source          sourcemanager.Manager
	Projects        *projects.Manager
	Builder         *command.Builder
	Health          *health.Prober
	Logrotate       *logrotate.Writer
	GC              *gc.Collector
	Pool            *worker.Pool
	Audit           *audit.Logger
}

// StartParams is the parsed body of POST /projects/:projectId.
type StartParams struct {
	ProjectID string
	AppPort   int
	ServiceID string
	VersionID string
	EnvVars   map[string]string
}

// Start resolves a version, ensures its source is unpacked, builds and
// registers the runtime-specific start command with the supervisor, then
// returns once the supervisor has accepted the entry. Health-probing and
// routing registration continue in the background.
func (c *Context) Start(params StartParams) error {
	if err := ids.ValidateProjectID(params.ProjectID); err != nil {
		return liferr.BadConfiguration("invalid project id: %v", err)
	}
	if params.ServiceID == "" || params.VersionID == "" || params.EnvVars == nil {
		return liferr.BadConfiguration("missing required start parameter")
	}
	if params.AppPort <= 0 {
		return liferr.BadConfiguration("missing or invalid app_port")
	}

	start := time.Now()
	defer func() { metrics.RecordStartDuration(time.Since(start)) }()

	// Step 1: resolve VersionDetails and the revision key.
	details, ok := c.Projects.Get(params.ProjectID, params.ServiceID, params.VersionID)
	if !ok {
		return liferr.BadConfiguration("unknown version: %s/%s/%s", params.ProjectID, params.ServiceID, params.VersionID)
	}
	key := details.RevisionKey(params.ProjectID, params.ServiceID, params.VersionID)

	// Step 2: ensure the source revision is unpacked. May block for
	// seconds; the request waits.
	if err := c.Source.Ensure(context.Background(), key, details.SourceURL, details.Runtime); err != nil {
		return liferr.SourceFailure("failed to ensure source revision", err)
	}

	// Step 3: build the runtime-specific command. The Java maxHeap
	// precheck happens inside Builder.Build.
	req := command.StartRequest{ProjectID: params.ProjectID, Port: params.AppPort, EnvVars: params.EnvVars}
	unpackDir := c.Source.AppDir(key)
	built, err := c.Builder.Build(context.Background(), details, req, key, unpackDir)
	if err != nil {
		c.Audit.Record("control-plane", audit.ActionInstanceStartFailed, params.ProjectID, params.AppPort, map[string]any{"error": err.Error()})
		return err
	}

	// Step 4: write the supervisor config and ask it to start the single
	// entry (not the group).
	entry := ids.EntryName{ProjectID: params.ProjectID, Port: params.AppPort}
	spec := supervisor.ConfigSpec{
		Entry:        entry,
		Argv:         built.Argv,
		Env:          built.Env,
		PIDFile:      built.PIDFile,
		Port:         params.AppPort,
		MaxMemoryMB:  command.MaxMemoryMB(details.InstanceClass),
		SyslogServer: c.Config.SyslogServer,
		CheckPort:    true,
	}
	if _, err := c.ConfigWriter.Create(spec); err != nil {
		return liferr.SupervisorFailure("failed to write supervisor config", err)
	}
	if err := c.Supervisor.Do(context.Background(), entry.Encode(), supervisor.ActionStart); err != nil {
		metrics.RecordSupervisorCall("start", false)
		return liferr.SupervisorFailure("supervisor rejected start", err)
	}
	metrics.RecordSupervisorCall("start", true)
	c.Audit.Record("control-plane", audit.ActionInstanceStart, params.ProjectID, params.AppPort, map[string]any{"revision": key.Path()})

	// Step 6: install log rotation (non-fatal).
	if err := c.Logrotate.Install(params.ProjectID, entry, logrotate.SizeForProject(params.ProjectID)); err != nil {
		log.Warn().Err(err).Str("project_id", params.ProjectID).Msg("failed to install log rotation")
	}

	// Step 5: fire-and-forget probe-then-register.
	c.Pool.Submit(fmt.Sprintf("probe-then-register:%s-%d", params.ProjectID, params.AppPort), func(ctx context.Context) {
		c.probeThenRegister(ctx, params.ProjectID, params.AppPort)
	})

	return nil
}

func (c *Context) probeThenRegister(ctx context.Context, projectID string, port int) {
	healthy := c.Health.Wait(ctx, c.Config.PrivateIP, port, healthCheckPath, c.Config.StartAppTimeout, c.Config.HealthProbeInterval)
	metrics.RecordHealthProbeOutcome(healthy)
	if !healthy {
		log.Error().Str("project_id", projectID).Int("port", port).Msg("health probe timed out; routing not registered")
		c.Audit.Record("aim", audit.ActionHealthProbeTimeout, projectID, port, nil)
		return
	}

	routing.RegisterWithRetry(ctx, c.Routing, projectID, c.Config.PrivateIP, port, c.Config.RoutingRetryInterval)
	c.Audit.Record("aim", audit.ActionRoutingRegistered, projectID, port, nil)
}

// StopOne stops a single (projectId, port) instance.
func (c *Context) StopOne(projectID string, port int) error {
	if err := ids.ValidateProjectID(projectID); err != nil {
		return liferr.BadConfiguration("invalid project id: %v", err)
	}

	start := time.Now()
	defer func() { metrics.RecordStopDuration(time.Since(start)) }()

	entry := ids.EntryName{ProjectID: projectID, Port: port}

	// Step 1: read the PID file.
	pid, err := readPIDFile(pidFilePath(c.Config.PIDDir, entry))
	if err != nil {
		return liferr.SupervisorFailure(fmt.Sprintf("%s does not exist", pidFilePath(c.Config.PIDDir, entry)), err)
	}

	// Step 2: unmonitor. A 404 means the supervisor already considers the
	// entry stopped; return success immediately rather than reaping a
	// possibly-stale PID.
	if err := supervisor.UnmonitorWithRetry(context.Background(), c.Supervisor, entry.Encode(), c.Config.UnmonitorRetries); err != nil {
		if err == liferr.NotFound {
			metrics.RecordSupervisorCall("unmonitor", true)
			c.Audit.Record("control-plane", audit.ActionInstanceStop, projectID, port, map[string]any{"already_stopped": true})
			return nil
		}
		metrics.RecordSupervisorCall("unmonitor", false)
		return err
	}
	metrics.RecordSupervisorCall("unmonitor", true)

	// Step 3: delete the supervisor config (best-effort).
	if err := c.ConfigWriter.Remove(entry); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Int("port", port).Msg("failed to remove supervisor config")
	}

	// Step 4: reload.
	if err := c.Supervisor.Reload(context.Background()); err != nil {
		return liferr.SupervisorFailure("supervisor reload failed", err)
	}

	// Step 5: RevisionGC, awaited.
	if err := c.GC.Collect(context.Background()); err != nil {
		log.Warn().Err(err).Msg("revision GC failed after stop")
	} else {
		metrics.RecordGC(0)
	}

	c.Audit.Record("control-plane", audit.ActionInstanceStop, projectID, port, nil)

	// Step 6: reap the child in the background.
	c.Pool.Submit(fmt.Sprintf("reap:%s-%d", projectID, port), func(ctx context.Context) {
		reap(pid, c.Config.MaxInstanceResponseTime)
	})

	return nil
}

// StopAll stops every instance of a project in one group call.
// Deliberately does not reload the supervisor afterwards; that choice is
// surfaced via metrics.IncStopAllReloadSkipped instead of happening
// silently.
func (c *Context) StopAll(projectID string) error {
	if err := ids.ValidateProjectID(projectID); err != nil {
		return liferr.BadConfiguration("invalid project id: %v", err)
	}

	groupEntry := ids.EntryName{ProjectID: projectID}
	if err := c.Supervisor.Do(context.Background(), groupEntry.Encode(), supervisor.ActionStop); err != nil {
		metrics.RecordSupervisorCall("stop", false)
		return liferr.SupervisorFailure(fmt.Sprintf("unable to stop %s", groupEntry.Encode()), err)
	}
	metrics.RecordSupervisorCall("stop", true)

	if err := c.ConfigWriter.RemoveGroup(projectID); err != nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("error removing supervisor configs")
	}

	if err := c.Logrotate.Remove(projectID); err != nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("error removing log rotation config")
	}

	if err := c.GC.Collect(context.Background()); err != nil {
		log.Warn().Err(err).Msg("revision GC failed after stop-all")
	}

	metrics.IncStopAllReloadSkipped()
	c.Audit.Record("control-plane", audit.ActionProjectStopAll, projectID, 0, nil)
	return nil
}

func pidFilePath(pidDir string, entry ids.EntryName) string {
	return pidDir + "/" + entry.PIDFileName()
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// reap sends SIGTERM to pid and escalates to SIGKILL if it hasn't exited
// within grace, polling every second.
func reap(pid int, grace time.Duration) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		log.Warn().Int("pid", pid).Err(err).Msg("reaper could not find process")
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Debug().Int("pid", pid).Err(err).Msg("SIGTERM delivery failed; process likely already gone")
		return
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			log.Info().Int("pid", pid).Msg("instance exited after SIGTERM")
			return
		}
		time.Sleep(time.Second)
	}

	log.Warn().Int("pid", pid).Msg("instance did not exit within grace period, sending SIGKILL")
	_ = proc.Signal(syscall.SIGKILL)
}
