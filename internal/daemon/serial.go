package daemon

import (
	"log"
	"path/filepath"
	"runtime"

	"github.com/griddeck/griddeck/internal/devices"
)

// Candidate device node patterns for legacy serial pads.
var serialGlobs = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/cu.usbserial*",
	"/dev/cu.usbmodem*",
}

// scanSerialPorts probes conventional serial device nodes for legacy pads.
// Each responsive port gets its own listener goroutine; ports that never
// complete the handshake just close again.
func (d *Daemon) scanSerialPorts() {
	if runtime.GOOS == "windows" {
		return
	}
	for _, pattern := range serialGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, node := range matches {
			port, err := devices.OpenSerialPort(node)
			if err != nil {
				log.Printf("[Daemon] open serial port %s: %v", node, err)
				continue
			}
			d.serialMu.Lock()
			d.serialPorts = append(d.serialPorts, port)
			d.serialMu.Unlock()
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				devices.ListenSerial(port, d.registry, d.router)
			}()
		}
	}
}
