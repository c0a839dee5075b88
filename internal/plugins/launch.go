package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

var (
	// ErrNotFound indicates no tracked instance for a plugin id.
	ErrNotFound = errors.New("plugins: not found")
	// ErrUnsupported indicates a plugin declares no support for this platform.
	ErrUnsupported = errors.New("plugins: unsupported platform")
	// ErrVersionTooOld indicates a required runtime is missing or outdated.
	ErrVersionTooOld = errors.New("plugins: runtime version too old")
)

// Minimum major version of the node interpreter for script plugins.
const minimumNodeMajor = 18

// Hook for tests; launch probes and spawns go through it.
var execCommand = exec.Command

// Mode is how a resolved code path gets executed.
type Mode string

const (
	// ModeWebview runs an html entry point in the embedded page runtime.
	ModeWebview Mode = "webview"
	// ModeNode runs a script entry point under the node interpreter.
	ModeNode Mode = "node"
	// ModeWine runs a windows binary under the compatibility layer.
	ModeWine Mode = "wine"
	// ModeNative executes the entry point directly.
	ModeNative Mode = "native"
)

// Strategy is a resolved way to run one plugin on the current platform.
type Strategy struct {
	CodePath string
	Mode     Mode
}

// Manifests name platforms windows/mac/linux.
func currentPlatform() string {
	if runtime.GOOS == "darwin" {
		return "mac"
	}
	return runtime.GOOS
}

// ResolveStrategy picks the execution mode for a manifest: a matching OS
// entry wins with its per-platform code path override; failing that, a
// declared windows entry on another platform routes through the
// compatibility layer.
func ResolveStrategy(manifest *Manifest) (Strategy, error) {
	platform := currentPlatform()
	wine := false
	supported := false
	codePath := manifest.CodePath

	for _, entry := range manifest.OS {
		if entry.Platform == platform {
			switch platform {
			case "windows":
				if manifest.CodePathWindows != "" {
					codePath = manifest.CodePathWindows
				}
			case "mac":
				if manifest.CodePathMacOS != "" {
					codePath = manifest.CodePathMacOS
				}
			case "linux":
				if manifest.CodePathLinux != "" {
					codePath = manifest.CodePathLinux
				}
			}
			wine = false
			supported = true
			break
		}
		if entry.Platform == "windows" {
			if manifest.CodePathWindows != "" {
				codePath = manifest.CodePathWindows
			}
			wine = true
			supported = true
		}
	}

	if !supported || codePath == "" {
		return Strategy{}, fmt.Errorf("%w: %s", ErrUnsupported, platform)
	}
	if wine {
		return Strategy{CodePath: codePath, Mode: ModeWine}, nil
	}

	switch strings.ToLower(filepath.Ext(codePath)) {
	case ".html", ".htm", ".xhtml":
		return Strategy{CodePath: codePath, Mode: ModeWebview}, nil
	case ".js", ".mjs", ".cjs":
		return Strategy{CodePath: codePath, Mode: ModeNode}, nil
	default:
		return Strategy{CodePath: codePath, Mode: ModeNative}, nil
	}
}

// registrationArgs is the argument convention every non-webview plugin
// process is started with.
func registrationArgs(port int, pluginID string, info Info) ([]string, error) {
	blob, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("plugins: encode info blob: %w", err)
	}
	return []string{
		"-port", strconv.Itoa(port),
		"-pluginUUID", pluginID,
		"-registerEvent", "registerPlugin",
		"-info", string(blob),
	}, nil
}

// instance is a running plugin, whatever hosts it.
type instance interface {
	Stop() error
}

// processInstance supervises a plugin child process with its output tee'd
// into a per-plugin log file.
type processInstance struct {
	cmd     *exec.Cmd
	logFile *os.File
}

func (p *processInstance) Stop() error {
	var errs []error
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
		// Reap; the process was just killed so this returns promptly.
		_ = p.cmd.Wait()
	}
	if p.logFile != nil {
		if err := p.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// nodeMajorVersion probes the node interpreter.
func nodeMajorVersion() (int, error) {
	out, err := execCommand("node", "--version").Output()
	if err != nil {
		return 0, fmt.Errorf("%w: node interpreter not found", ErrVersionTooOld)
	}
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(out)), "v"))
	major, _, _ := strings.Cut(text, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot parse node version %q", ErrVersionTooOld, text)
	}
	return n, nil
}

// wineAvailable probe-spawns the compatibility layer.
func wineAvailable() bool {
	return execCommand("wine", "--version").Run() == nil
}

// launchProcess spawns a plugin in its package directory, redirecting output
// to the plugin's log file.
func launchProcess(dir, logPath string, name string, args []string) (*processInstance, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("plugins: create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("plugins: open log file: %w", err)
	}

	cmd := execCommand(name, args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("plugins: start %s: %w", name, err)
	}
	return &processInstance{cmd: cmd, logFile: logFile}, nil
}

// launch starts a plugin per its resolved strategy. The webview mode is
// handled by the caller since it needs the page runtime, not a process.
func launch(strategy Strategy, dir, logPath string, port int, pluginID string, info Info) (instance, error) {
	entry := filepath.Join(dir, strategy.CodePath)

	switch strategy.Mode {
	case ModeNode:
		major, err := nodeMajorVersion()
		if err != nil {
			return nil, err
		}
		if major < minimumNodeMajor {
			return nil, fmt.Errorf("%w: node %d found, need %d or newer", ErrVersionTooOld, major, minimumNodeMajor)
		}
		args, err := registrationArgs(port, pluginID, info)
		if err != nil {
			return nil, err
		}
		return launchProcess(dir, logPath, "node", append([]string{entry}, args...))

	case ModeWine:
		if !wineAvailable() {
			return nil, fmt.Errorf("%w: wine is not installed", ErrVersionTooOld)
		}
		args, err := registrationArgs(port, pluginID, info)
		if err != nil {
			return nil, err
		}
		return launchProcess(dir, logPath, "wine", append([]string{entry}, args...))

	case ModeNative:
		if runtime.GOOS != "windows" {
			if err := os.Chmod(entry, 0o755); err != nil {
				return nil, fmt.Errorf("plugins: make %s executable: %w", entry, err)
			}
		}
		args, err := registrationArgs(port, pluginID, info)
		if err != nil {
			return nil, err
		}
		return launchProcess(dir, logPath, entry, args)

	default:
		return nil, fmt.Errorf("plugins: mode %s is not process-hosted", strategy.Mode)
	}
}
