package devices

import (
	"fmt"
	"sync"

	"github.com/griddeck/griddeck/internal/shared"
)

// VirtualDevice is an in-memory control surface for development and tests.
// Rendered images are held so tests and the frontend can observe what a
// physical pad would show.
type VirtualDevice struct {
	mu         sync.Mutex
	info       shared.DeviceInfo
	images     map[uint8]string
	brightness uint8
}

// NewVirtualDevice creates a virtual surface with the given geometry.
func NewVirtualDevice(ordinal int, rows, columns, sliders uint8) *VirtualDevice {
	return &VirtualDevice{
		info: shared.DeviceInfo{
			ID:      fmt.Sprintf("vd-%d", ordinal),
			Name:    fmt.Sprintf("Virtual Device %d", ordinal),
			Rows:    rows,
			Columns: columns,
			Sliders: sliders,
		},
		images:     make(map[uint8]string),
		brightness: 50,
	}
}

// Info describes the virtual surface to the registry.
func (d *VirtualDevice) Info() shared.DeviceInfo {
	return d.info
}

func (d *VirtualDevice) SetImage(position uint8, image string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images[position] = image
	return nil
}

func (d *VirtualDevice) ClearImage(position uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.images, position)
	return nil
}

func (d *VirtualDevice) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images = make(map[uint8]string)
	return nil
}

func (d *VirtualDevice) SetBrightness(percent uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if percent > 100 {
		percent = 100
	}
	d.brightness = percent
	return nil
}

// Image returns the image currently rendered at a key, if any.
func (d *VirtualDevice) Image(position uint8) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	image, ok := d.images[position]
	return image, ok
}

// Brightness returns the current backlight level.
func (d *VirtualDevice) Brightness() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness
}
