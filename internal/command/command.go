// Package command implements CommandBuilder: a pure mapping from
// runtime, project, version details, ports and paths to the argv and
// environment of the child process AIM asks the supervisor to run.
package command

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/crypticterminal/aim/internal/config"
	"github.com/crypticterminal/aim/internal/ids"
	"github.com/crypticterminal/aim/internal/liferr"
	"github.com/crypticterminal/aim/internal/projects"
)

const (
	// PHPCGILocation is the path to the bundled PHP CGI binary the
	// python27/go/php launcher shares.
	PHPCGILocation = "/usr/bin/php-cgi"
	// GoSDK is the root of the bundled Go App Engine SDK.
	GoSDK = "/opt/go_appengine"
	// AppScaleHome roots the bundled runtimes and libraries.
	AppScaleHome = "/root/appscale"
	// PythonLib is the shared Python runtime library path.
	PythonLib = AppScaleHome + "/AppServer/python"

	// JavaOverheadMB is the JVM/thread-stack overhead reserved on top of
	// the heap: permgen, parent process, and thread stacks.
	JavaOverheadMB = 250

	dbServerPort = 4342
	uaServerPort = 4343

	devAppserverPy  = AppScaleHome + "/AppServer/dev_appserver.py"
	devAppserverJava = AppScaleHome + "/AppServer_Java/appengine-java-sdk/bin/dev_appserver.sh"
)

// trustedApps get the --trusted flag on the shared python27/go/php
// launcher; appscaledashboard is the only built-in trusted project.
var trustedApps = map[string]bool{"appscaledashboard": true}

// instanceClasses maps an App Engine-style instance class to its memory
// allocation in MB. Unknown or empty classes fall back to defaultMaxMemoryMB.
var instanceClasses = map[string]int{
	"F1": 128, "F2": 256, "F3": 512, "F4": 1024, "F4_1G": 2048,
	"B1": 128, "B2": 256, "B4": 512, "B4_1G": 1024, "B8": 1024,
}

const defaultMaxMemoryMB = 400

// MaxMemoryMB resolves an instance class to its memory allocation.
func MaxMemoryMB(instanceClass string) int {
	if mb, ok := instanceClasses[instanceClass]; ok {
		return mb
	}
	return defaultMaxMemoryMB
}

// StartRequest carries the per-start inputs RequestDispatcher parses out
// of the HTTP body.
type StartRequest struct {
	ProjectID string
	Port      int
	EnvVars   map[string]string
}

// Built is the argv/env pair CommandBuilder produces, plus the pidfile
// path the caller threads through to the supervisor config and reaper.
type Built struct {
	Argv    []string
	Env     map[string]string
	PIDFile string
}

// Builder composes runtime-specific start commands. NumCPU is resolved
// lazily via gopsutil so tests can run on arbitrary hardware without the
// GOMAXPROCS env value flapping between runs.
type Builder struct {
	cfg *config.Config
}

// New creates a CommandBuilder bound to the node's bootstrap options.
func New(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build produces the argv and environment for the given version, honoring
// the per-runtime rules for each supported language. unpackDir is the
// already-ensured source tree root (UNPACK_ROOT/<revisionKey>/app).
func (b *Builder) Build(ctx context.Context, details projects.VersionDetails, req StartRequest, key ids.RevisionKey, unpackDir string) (Built, error) {
	maxMemory := MaxMemoryMB(details.InstanceClass)
	pidfile := filepath.Join(b.cfg.PIDDir, ids.EntryName{ProjectID: req.ProjectID, Port: req.Port}.PIDFileName())

	env := make(map[string]string, len(req.EnvVars)+8)
	for k, v := range req.EnvVars {
		env[k] = v
	}

	switch details.Runtime {
	case projects.RuntimePython27, projects.RuntimeGo, projects.RuntimePHP:
		numCPU, err := b.numCPU(ctx)
		if err != nil {
			return Built{}, liferr.BadConfiguration("failed to determine CPU count: %v", err)
		}
		env["MY_IP_ADDRESS"] = b.cfg.PrivateIP
		env["APPNAME"] = req.ProjectID
		env["GOMAXPROCS"] = strconv.Itoa(numCPU)
		env["APPSCALE_HOME"] = AppScaleHome
		env["PYTHON_LIB"] = PythonLib
		if details.Runtime == projects.RuntimeGo {
			env["GOPATH"] = filepath.Join(b.cfg.UnpackRoot, key.Path(), "gopath")
			env["GOROOT"] = filepath.Join(GoSDK, "goroot")
		}

		argv := []string{
			"python2", devAppserverPy,
			"--port", strconv.Itoa(req.Port),
			"--admin_port", strconv.Itoa(req.Port + 10000),
			"--login_server", b.cfg.LoginIP,
			"--skip_sdk_update_check",
			"--nginx_host", b.cfg.LoginIP,
			"--require_indexes",
			"--enable_sendmail",
			"--xmpp_path", b.cfg.LoginIP,
			"--php_executable_path=" + PHPCGILocation,
			"--uaserver_path", fmt.Sprintf("%s:%d", b.cfg.DBProxy, uaServerPort),
			"--datastore_path", fmt.Sprintf("%s:%d", b.cfg.DBProxy, dbServerPort),
			unpackDir,
			"--host", b.cfg.PrivateIP,
			"--admin_host", b.cfg.PrivateIP,
			"--automatic_restart=no",
			"--pidfile", pidfile,
		}
		if trustedApps[req.ProjectID] {
			argv = append(argv, "--trusted")
		}
		return Built{Argv: argv, Env: env, PIDFile: pidfile}, nil

	case projects.RuntimeJava:
		maxHeap := maxMemory - JavaOverheadMB
		if maxHeap <= 0 {
			return Built{}, liferr.BadConfiguration("max heap must be positive after reserving %dMB overhead, got instance class worth %dMB", JavaOverheadMB, maxMemory)
		}

		webInf, err := locateWebInf(unpackDir)
		if err != nil {
			return Built{}, err
		}
		xmlPath, err := findAppengineWebXML(webInf)
		if err != nil {
			return Built{}, err
		}
		xmlEnv, err := extractEnvVarsFromXML(xmlPath)
		if err != nil {
			return Built{}, err
		}
		for k, v := range xmlEnv {
			env[k] = v
		}
		env["APPSCALE_HOME"] = AppScaleHome
		if host := b.gcsHost(); host != "" {
			env["GCS_HOST"] = host
		}

		argv := []string{
			devAppserverJava,
			"--port=" + strconv.Itoa(req.Port),
			"--jvm_flag=-Dsocket.permit_connect=true",
			fmt.Sprintf("--jvm_flag=-Xmx%dm", maxHeap),
			"--jvm_flag=-Djava.security.egd=file:/dev/./urandom",
			"--disable_update_check",
			"--address=" + b.cfg.PrivateIP,
			"--datastore_path=" + b.cfg.DBProxy,
			"--login_server=" + b.cfg.LoginIP,
			"--appscale_version=1",
			"--APP_NAME=" + req.ProjectID,
			"--NGINX_ADDRESS=" + b.cfg.LoginIP,
			"--TQ_PROXY=" + b.cfg.TQProxy,
			"--pidfile=" + pidfile,
			filepath.Dir(webInf),
		}
		return Built{Argv: argv, Env: env, PIDFile: pidfile}, nil

	default:
		return Built{}, liferr.BadConfiguration("unknown runtime %q", details.Runtime)
	}
}

// gcsHost synthesises GCS_HOST from deployment configuration. AIM has no
// deployment-config lookup, so this always reports absent and the env var
// is simply omitted.
func (b *Builder) gcsHost() string { return "" }

func (b *Builder) numCPU(ctx context.Context) (int, error) {
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil || counts == 0 {
		return 1, nil
	}
	return counts, nil
}

// xmlEnvVariables models the <env-variables> blocks appengine-web.xml may
// contain anywhere among its children.
type xmlEnvVariables struct {
	EnvVar []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	} `xml:"env-var"`
}

type xmlAppengineWebApp struct {
	EnvVariables []xmlEnvVariables `xml:"env-variables"`
}

func extractEnvVarsFromXML(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, liferr.BadConfiguration("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var doc xmlAppengineWebApp
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, liferr.BadConfiguration("failed to parse %s: %v", path, err)
	}

	vars := make(map[string]string)
	for _, block := range doc.EnvVariables {
		for _, ev := range block.EnvVar {
			if ev.Name == "" {
				continue
			}
			vars[ev.Name] = ev.Value
		}
	}
	return vars, nil
}
