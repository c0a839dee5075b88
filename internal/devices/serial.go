package devices

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/griddeck/griddeck/internal/shared"
)

// Legacy serial pads speak a line-less JSON protocol: the device streams
// concatenated objects and the host splits on closing braces. The first
// object carries the pad's address; later ones carry key and slider state.

const (
	serialReadTimeout = 10 * time.Millisecond
	serialTypeTag     = 7
)

type serialChunk struct {
	Address *string `json:"address"`
	Key     *int    `json:"key"`
	Slider0 *int16  `json:"slider0"`
	Slider1 *int16  `json:"slider1"`
}

// SerialPort is the subset of a tty handle the listener needs. *os.File
// satisfies it.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// OpenSerialPort opens a serial device node for a legacy pad.
func OpenSerialPort(path string) (SerialPort, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

// SerialDevice is a connected legacy 3x3 pad with two sliders.
type SerialDevice struct {
	id   string
	port SerialPort
}

// Info describes the pad to the registry. Geometry is fixed by the hardware.
func (d *SerialDevice) Info() shared.DeviceInfo {
	return shared.DeviceInfo{
		ID:      d.id,
		Name:    "Legacy Pad",
		Rows:    3,
		Columns: 3,
		Sliders: 2,
		Type:    serialTypeTag,
	}
}

// The pad has no per-key screens, so image primitives are no-ops.

func (d *SerialDevice) SetImage(position uint8, image string) error { return nil }
func (d *SerialDevice) ClearImage(position uint8) error             { return nil }
func (d *SerialDevice) Clear() error                                { return nil }

// SetBrightness adjusts the pad's backlight.
func (d *SerialDevice) SetBrightness(percent uint8) error {
	if percent > 100 {
		percent = 100
	}
	msg, err := json.Marshal(map[string]uint8{"brightness": percent})
	if err != nil {
		return err
	}
	_, err = d.port.Write(msg)
	return err
}

// ListenSerial drives a legacy pad connection until the port errors or
// closes. It registers the device once the pad reports its address and
// deregisters it on exit. Blocking; run on its own goroutine.
func ListenSerial(port SerialPort, registry *Registry, input InputHandler) {
	defer port.Close()

	if _, err := port.Write([]byte("register")); err != nil {
		log.Printf("[Devices] serial handshake write failed: %v", err)
		return
	}

	var (
		device      *SerialDevice
		lastKey     int
		lastSliders [2]int16
		pending     string
		buf         = make([]byte, 1024)
	)

	defer func() {
		if device != nil {
			registry.Deregister(device.id)
		}
	}()

	for {
		_ = port.SetReadDeadline(time.Now().Add(serialReadTimeout))
		n, err := port.Read(buf)
		if n > 0 {
			pending += string(buf[:n])
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Printf("[Devices] serial read failed: %v", err)
			}
			return
		}

		for {
			end := strings.IndexByte(pending, '}')
			if end < 0 {
				break
			}
			chunk := strings.TrimSpace(pending[:end+1])
			pending = pending[end+1:]

			var msg serialChunk
			if err := json.Unmarshal([]byte(chunk), &msg); err != nil {
				continue
			}

			// The first well-formed message carries the pad's address.
			if device == nil {
				if msg.Address != nil {
					device = &SerialDevice{id: "pk-" + *msg.Address, port: port}
					if err := registry.Register(device.Info(), device); err != nil {
						log.Printf("[Devices] failed to register serial pad: %v", err)
						return
					}
				}
				continue
			}

			if msg.Key != nil {
				switch k := *msg.Key; {
				case k == 0 && lastKey > 0:
					input.KeyUp(device.id, uint8(lastKey-1))
				case k > 0:
					input.KeyDown(device.id, uint8(k-1))
					lastKey = k
				}
			}
			if msg.Slider0 != nil {
				input.DialRotate(device.id, 0, *msg.Slider0-lastSliders[0])
				lastSliders[0] = *msg.Slider0
			}
			if msg.Slider1 != nil {
				input.DialRotate(device.id, 1, *msg.Slider1-lastSliders[1])
				lastSliders[1] = *msg.Slider1
			}
		}
	}
}
