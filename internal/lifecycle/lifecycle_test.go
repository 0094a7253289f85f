package lifecycle

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypticterminal/aim/internal/audit"
	"github.com/crypticterminal/aim/internal/command"
	"github.com/crypticterminal/aim/internal/config"
	"github.com/crypticterminal/aim/internal/gc"
	"github.com/crypticterminal/aim/internal/health"
	"github.com/crypticterminal/aim/internal/ids"
	"github.com/crypticterminal/aim/internal/liferr"
	"github.com/crypticterminal/aim/internal/logrotate"
	"github.com/crypticterminal/aim/internal/projects"
	"github.com/crypticterminal/aim/internal/routing"
	"github.com/crypticterminal/aim/internal/sourcemanager"
	"github.com/crypticterminal/aim/internal/supervisor"
	"github.com/crypticterminal/aim/internal/worker"
)

type testDirs struct {
	confDir      string
	logrotateDir string
}

func testContext(t *testing.T, supv *supervisor.MockClient, rt *routing.MockController) (*Context, testDirs) {
	t.Helper()
	dir := t.TempDir()
	dirs := testDirs{confDir: filepath.Join(dir, "conf"), logrotateDir: filepath.Join(dir, "logrotate")}
	cfg := &config.Config{
		PrivateIP:               "127.0.0.1",
		LoginIP:                 "10.0.0.2",
		DBProxy:                 "10.0.0.3",
		TQProxy:                 "10.0.0.4",
		UnpackRoot:              filepath.Join(dir, "unpack"),
		PIDDir:                  filepath.Join(dir, "pid"),
		StartAppTimeout:         2 * time.Second,
		HealthProbeInterval:     10 * time.Millisecond,
		RoutingRetryInterval:    10 * time.Millisecond,
		MaxInstanceResponseTime: time.Second,
		UnmonitorRetries:        5,
	}
	require.NoError(t, os.MkdirAll(cfg.PIDDir, 0o755))

	pm := projects.NewManager()
	pool := worker.New(2, nil)
	pool.Start()
	t.Cleanup(pool.Stop)

	ctx := &Context{
		Config:       cfg,
		Supervisor:   supv,
		ConfigWriter: supervisor.NewConfigWriter(dirs.confDir),
		Routing:      rt,
		Source:       sourcemanager.NewMock(cfg.UnpackRoot),
		Projects:     pm,
		Builder:      command.New(cfg),
		Health:       health.New(),
		Logrotate:    logrotate.New(dirs.logrotateDir),
		GC:           gc.New(supv, pm, sourcemanager.NewMock(cfg.UnpackRoot)),
		Pool:         pool,
		Audit:        audit.New(50),
	}
	return ctx, dirs
}

// writePIDFile seeds a PID file with a pid that does not correspond to any
// running process, so the background reaper's signals are harmless no-ops
// rather than touching a real process (e.g. the test binary itself).
func writePIDFile(t *testing.T, c *Context, projectID string, port int) int {
	t.Helper()
	const unusedPID = 999999
	path := pidFilePath(c.Config.PIDDir, ids.EntryName{ProjectID: projectID, Port: port})
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(unusedPID)), 0o644))
	return unusedPID
}

func configFilePath(dirs testDirs, entry ids.EntryName) string {
	return filepath.Join(dirs.confDir, entry.ConfigFileName())
}

func TestStart_HappyPathPython27(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	port := healthy.Listener.Addr().(*net.TCPAddr).Port

	supv := supervisor.NewMock()
	rt := routing.NewMock()
	c, dirs := testContext(t, supv, rt)
	c.Projects.Put("myapp", "default", "v1", projects.VersionDetails{
		Runtime: projects.RuntimePython27, Revision: 1, SourceURL: "http://example.invalid/src.zip",
	})

	err := c.Start(StartParams{ProjectID: "myapp", AppPort: port, ServiceID: "default", VersionID: "v1", EnvVars: map[string]string{}})
	require.NoError(t, err)

	entry := ids.EntryName{ProjectID: "myapp", Port: port}
	assert.FileExists(t, configFilePath(dirs, entry))

	require.Eventually(t, func() bool {
		return len(rt.Registrations()) == 1
	}, time.Second, 10*time.Millisecond)
	regs := rt.Registrations()
	assert.Equal(t, "myapp", regs[0].ProjectID)
	assert.Equal(t, port, regs[0].Port)
}

func TestStart_JavaMemoryTooSmallRejectedBeforeSupervisorCall(t *testing.T) {
	supv := supervisor.NewMock()
	rt := routing.NewMock()
	c, dirs := testContext(t, supv, rt)
	c.Projects.Put("myapp", "default", "v1", projects.VersionDetails{
		Runtime: projects.RuntimeJava, Revision: 1, InstanceClass: "F1", SourceURL: "http://example.invalid/src.zip",
	})

	err := c.Start(StartParams{ProjectID: "myapp", AppPort: 8080, ServiceID: "default", VersionID: "v1", EnvVars: map[string]string{}})
	require.Error(t, err)
	var lerr *liferr.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, liferr.KindBadConfiguration, lerr.Kind)
	assert.Contains(t, err.Error(), "250")

	assert.Empty(t, supv.Calls())
	assert.NoFileExists(t, configFilePath(dirs, ids.EntryName{ProjectID: "myapp", Port: 8080}))
}

func TestStopOne_SupervisorBusyThenSucceeds(t *testing.T) {
	supv := supervisor.NewMock()
	rt := routing.NewMock()
	c, dirs := testContext(t, supv, rt)

	entry := ids.EntryName{ProjectID: "x", Port: 8080}
	supv.SeedEntry(entry.Encode())
	require.NoError(t, os.MkdirAll(dirs.confDir, 0o755))
	require.NoError(t, os.WriteFile(configFilePath(dirs, entry), []byte("placeholder"), 0o644))
	writePIDFile(t, c, "x", 8080)

	supv.QueueError(entry.Encode(), "unmonitor",
		liferr.TransientSupervisor, liferr.TransientSupervisor, liferr.TransientSupervisor, liferr.TransientSupervisor)

	err := c.StopOne("x", 8080)
	require.NoError(t, err)

	unmonitorAttempts := 0
	for _, call := range supv.Calls() {
		if call.Entry == entry.Encode() && call.Action == "unmonitor" {
			unmonitorAttempts++
		}
	}
	assert.LessOrEqual(t, unmonitorAttempts, 5)
	assert.NoFileExists(t, configFilePath(dirs, entry))
}

func TestStart_ProbeTimeoutLeavesConfigAndNeverRegisters(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer dead.Close()
	port := dead.Listener.Addr().(*net.TCPAddr).Port

	supv := supervisor.NewMock()
	rt := routing.NewMock()
	c, dirs := testContext(t, supv, rt)
	c.Config.StartAppTimeout = 50 * time.Millisecond
	c.Config.HealthProbeInterval = 10 * time.Millisecond
	c.Projects.Put("myapp", "default", "v1", projects.VersionDetails{
		Runtime: projects.RuntimePython27, Revision: 1, SourceURL: "http://example.invalid/src.zip",
	})

	err := c.Start(StartParams{ProjectID: "myapp", AppPort: port, ServiceID: "default", VersionID: "v1", EnvVars: map[string]string{}})
	require.NoError(t, err)

	entry := ids.EntryName{ProjectID: "myapp", Port: port}
	assert.FileExists(t, configFilePath(dirs, entry))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rt.Registrations())
	assert.FileExists(t, configFilePath(dirs, entry))
}

func TestStopAll_GroupStopRemovesAllConfigs(t *testing.T) {
	supv := supervisor.NewMock()
	rt := routing.NewMock()
	c, dirs := testContext(t, supv, rt)

	group := ids.EntryName{ProjectID: "p"}
	supv.SeedEntry(group.Encode())
	require.NoError(t, os.MkdirAll(dirs.confDir, 0o755))
	entryA := ids.EntryName{ProjectID: "p", Port: 8080}
	entryB := ids.EntryName{ProjectID: "p", Port: 8081}
	require.NoError(t, os.WriteFile(configFilePath(dirs, entryA), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(configFilePath(dirs, entryB), []byte("x"), 0o644))

	err := c.StopAll("p")
	require.NoError(t, err)

	assert.NoFileExists(t, configFilePath(dirs, entryA))
	assert.NoFileExists(t, configFilePath(dirs, entryB))

	stopped := false
	for _, call := range supv.Calls() {
		if call.Entry == group.Encode() && call.Action == supervisor.ActionStop {
			stopped = true
		}
	}
	assert.True(t, stopped)
}
