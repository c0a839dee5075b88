package events

import (
	"log"

	"github.com/griddeck/griddeck/internal/shared"
)

type setImageFrame struct {
	Event    string `json:"event"`
	Device   string `json:"device"`
	Position uint8  `json:"position"`
	Image    string `json:"image,omitempty"`
}

// UpdateImage pushes an image onto one key of a device surface. An empty
// image clears the key. Devices registered by a plugin get a frame; devices
// with a builtin driver are driven directly.
func (r *Router) UpdateImage(slot shared.Context, image string) {
	if slot.Controller != shared.ControllerKeypad {
		return
	}
	info, ok := r.registry.GetDevice(slot.Device)
	if !ok {
		return
	}
	if info.Plugin != "" {
		err := r.sender.SendToPlugin(info.Plugin, setImageFrame{
			Event:    "setImage",
			Device:   slot.Device,
			Position: slot.Position,
			Image:    image,
		})
		if err != nil {
			log.Printf("[Events] setImage to %s: %v", info.Plugin, err)
		}
		return
	}
	driver, ok := r.registry.Driver(slot.Device)
	if !ok {
		return
	}
	var err error
	if image == "" {
		err = driver.ClearImage(slot.Position)
	} else {
		err = driver.SetImage(slot.Position, image)
	}
	if err != nil {
		log.Printf("[Events] render %s key %d: %v", slot.Device, slot.Position, err)
	}
}

// renderInstance pushes an instance's current-state image to its key.
func (r *Router) renderInstance(instance *shared.ActionInstance) {
	if instance.Context.Index != 0 {
		return
	}
	image := ""
	if int(instance.CurrentState) < len(instance.States) {
		image = instance.States[instance.CurrentState].Image
	}
	r.UpdateImage(instance.Context.ToContext(), image)
}

// ClearScreen blanks the whole surface of one device.
func (r *Router) ClearScreen(device string) {
	info, ok := r.registry.GetDevice(device)
	if !ok {
		return
	}
	if info.Plugin != "" {
		if err := r.sender.SendToPlugin(info.Plugin, map[string]string{"event": "clearScreen", "device": device}); err != nil {
			log.Printf("[Events] clearScreen to %s: %v", info.Plugin, err)
		}
		return
	}
	if driver, ok := r.registry.Driver(device); ok {
		if err := driver.Clear(); err != nil {
			log.Printf("[Events] clear %s: %v", device, err)
		}
	}
}

// SetBrightness applies a backlight level to every connected device.
func (r *Router) SetBrightness(percent uint8) {
	if percent > 100 {
		percent = 100
	}
	for id, info := range r.registry.List() {
		if info.Plugin != "" {
			err := r.sender.SendToPlugin(info.Plugin, map[string]any{"event": "setBrightness", "device": id, "brightness": percent})
			if err != nil {
				log.Printf("[Events] setBrightness to %s: %v", info.Plugin, err)
			}
			continue
		}
		if driver, ok := r.registry.Driver(id); ok {
			if err := driver.SetBrightness(percent); err != nil {
				log.Printf("[Events] brightness on %s: %v", id, err)
			}
		}
	}
}

// RerenderImages redraws the selected profile of every device.
func (r *Router) RerenderImages() {
	locks := r.stores.Acquire()
	defer locks.Release()

	for device := range r.registry.List() {
		profile, err := locks.DeviceStores().GetSelectedProfile(device)
		if err != nil {
			continue
		}
		store, err := locks.ProfileStores().GetProfileStore(device, profile)
		if err != nil {
			continue
		}
		for _, instance := range store.Value.Instances() {
			r.renderInstance(instance)
			r.notifySlot(instance.Context.ToContext())
		}
	}
}
