package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/griddeck/griddeck/internal/config"
)

func pidPath(paths config.Paths) string {
	return filepath.Join(paths.Root, "griddeckd.pid")
}

func writePIDFile(paths config.Paths) error {
	if IsRunning(paths) {
		return fmt.Errorf("daemon: already running")
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(pidPath(paths), []byte(pid), 0o644); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	return nil
}

func removePIDFile(paths config.Paths) {
	_ = os.Remove(pidPath(paths))
}

// IsRunning reports whether another daemon holds a live pid file under the
// given config root. A stale file from a dead process does not count.
func IsRunning(paths config.Paths) bool {
	blob, err := os.ReadFile(pidPath(paths))
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(blob)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
