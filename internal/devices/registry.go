// Package devices tracks currently connected control surfaces. The registry
// is the single in-memory directory of live devices; hardware drivers and
// plugin-registered surfaces both land here.
package devices

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/griddeck/griddeck/internal/shared"
)

var (
	// ErrUnauthorized indicates a plugin tried to register a device under a
	// namespace prefix it does not own.
	ErrUnauthorized = errors.New("devices: unauthorized namespace")
	// ErrNotFound indicates an unknown device id.
	ErrNotFound = errors.New("devices: not found")
)

// Driver is the hardware half of a registered device. Plugin-registered
// devices have no driver; image traffic for those is routed to the owning
// plugin instead.
type Driver interface {
	// SetImage renders an image onto a key. The image is a file path or a
	// base64 data URL, matching what profiles store.
	SetImage(position uint8, image string) error
	// ClearImage blanks a single key.
	ClearImage(position uint8) error
	// Clear blanks the whole surface.
	Clear() error
	// SetBrightness applies a 0-100 backlight level.
	SetBrightness(percent uint8) error
}

// InputHandler receives raw hardware input from drivers. Implemented by the
// event router.
type InputHandler interface {
	KeyDown(device string, key uint8)
	KeyUp(device string, key uint8)
	DialRotate(device string, dial uint8, ticks int16)
	DialDown(device string, dial uint8)
	DialUp(device string, dial uint8)
}

// NamespaceSource resolves which plugin owns a 2-character device-id prefix.
// Implemented by the plugin manager from manifest namespace claims.
type NamespaceSource interface {
	NamespaceOwner(prefix string) (plugin string, ok bool)
}

// Hooks observe registry changes. The composition root wires these to
// profile pre-warming and connect/disconnect broadcasts.
type Hooks struct {
	OnRegister   func(info shared.DeviceInfo)
	OnDeregister func(info shared.DeviceInfo)
}

// Registry is the live device directory.
type Registry struct {
	mu         sync.RWMutex
	devices    map[string]shared.DeviceInfo
	drivers    map[string]Driver
	namespaces NamespaceSource
	hooks      Hooks
}

// NewRegistry constructs an empty registry. namespaces may be nil, in which
// case every plugin device registration is rejected.
func NewRegistry(namespaces NamespaceSource) *Registry {
	return &Registry{
		devices:    make(map[string]shared.DeviceInfo),
		drivers:    make(map[string]Driver),
		namespaces: namespaces,
	}
}

// SetHooks installs registration observers. Must be called before any
// driver starts producing devices.
func (r *Registry) SetHooks(hooks Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = hooks
}

// Register adds a device. Built-in devices (empty Plugin) are always
// accepted; plugin devices must carry an id whose 2-character prefix the
// plugin has claimed in its manifest.
func (r *Registry) Register(info shared.DeviceInfo, driver Driver) error {
	if len(info.ID) < 2 {
		return fmt.Errorf("%w: device id %q too short for a namespace", ErrUnauthorized, info.ID)
	}
	if info.Plugin != "" {
		prefix := info.ID[:2]
		owner, ok := "", false
		if r.namespaces != nil {
			owner, ok = r.namespaces.NamespaceOwner(prefix)
		}
		if !ok || owner != info.Plugin {
			return fmt.Errorf("%w: plugin %s does not own prefix %q", ErrUnauthorized, info.Plugin, prefix)
		}
	}

	r.mu.Lock()
	r.devices[info.ID] = info
	if driver != nil {
		r.drivers[info.ID] = driver
	}
	hooks := r.hooks
	r.mu.Unlock()

	log.Printf("[Devices] registered %s (%s, %dx%d keys, %d dials)", info.ID, info.Name, info.Rows, info.Columns, info.Sliders)
	if hooks.OnRegister != nil {
		hooks.OnRegister(info)
	}
	return nil
}

// Deregister removes a device. Unknown ids are ignored so drivers can call
// this unconditionally from their teardown paths.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	info, ok := r.devices[id]
	delete(r.devices, id)
	delete(r.drivers, id)
	hooks := r.hooks
	r.mu.Unlock()

	if !ok {
		return
	}
	log.Printf("[Devices] deregistered %s", id)
	if hooks.OnDeregister != nil {
		hooks.OnDeregister(info)
	}
}

// GetDevice returns a copy of the device's info.
func (r *Registry) GetDevice(id string) (shared.DeviceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.devices[id]
	return info, ok
}

// Driver returns the hardware driver of a built-in device, if any.
func (r *Registry) Driver(id string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	return d, ok
}

// List returns a snapshot of all connected devices.
func (r *Registry) List() map[string]shared.DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]shared.DeviceInfo, len(r.devices))
	for id, info := range r.devices {
		snapshot[id] = info
	}
	return snapshot
}
