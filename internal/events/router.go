// Package events routes traffic between hardware input, the plugin socket
// and the frontend: raw key and dial input becomes protocol events for the
// owning plugin, inbound plugin frames mutate the profile stores, and every
// visible change is mirrored to the frontend over the bus.
package events

import (
	"context"
	"fmt"

	"github.com/griddeck/griddeck/internal/config"
	"github.com/griddeck/griddeck/internal/devices"
	"github.com/griddeck/griddeck/internal/eventbus"
	"github.com/griddeck/griddeck/internal/shared"
	"github.com/griddeck/griddeck/internal/store/profiles"
)

// PluginSender is the outbound half of the socket broker.
type PluginSender interface {
	SendToPlugin(pluginID string, event any) error
	SendToAllPlugins(event any) error
	SendToPropertyInspector(context string, event any) error
}

// Router owns event routing in both directions. It implements
// devices.InputHandler for hardware input and the broker's frame handler
// for plugin traffic.
type Router struct {
	sender   PluginSender
	stores   *profiles.Stores
	registry *devices.Registry
	bus      *eventbus.Bus
	paths    config.Paths
}

func NewRouter(sender PluginSender, stores *profiles.Stores, registry *devices.Registry, bus *eventbus.Bus, paths config.Paths) *Router {
	return &Router{
		sender:   sender,
		stores:   stores,
		registry: registry,
		bus:      bus,
		paths:    paths,
	}
}

// Owner resolves which plugin owns the instance at a context string. The
// broker uses it to authorize context-bearing frames.
func (r *Router) Owner(context string) (string, error) {
	parsed, err := shared.ParseActionContext(context)
	if err != nil {
		return "", err
	}
	locks := r.stores.Acquire()
	defer locks.Release()
	instance, err := locks.Instance(parsed)
	if err != nil {
		return "", err
	}
	if instance == nil {
		return "", fmt.Errorf("events: no instance at %s", context)
	}
	return instance.Action.Plugin, nil
}

// columns reports the key grid width of a device, for position to
// coordinate conversion. Unknown devices fall back to a single row.
func (r *Router) columns(device string) uint8 {
	if info, ok := r.registry.GetDevice(device); ok && info.Columns > 0 {
		return info.Columns
	}
	return 1
}

func (r *Router) notifySlot(slot shared.Context) {
	eventbus.Publish(context.Background(), r.bus, eventbus.UISlot, eventbus.SourceRouter, eventbus.SlotChangedEvent{Context: slot})
}

func (r *Router) notifyKeyMoved(slot shared.Context, pressed bool) {
	eventbus.Publish(context.Background(), r.bus, eventbus.UIKeyMoved, eventbus.SourceRouter, eventbus.KeyMovedEvent{Context: slot, Pressed: pressed})
}

func (r *Router) notifyDevices() {
	list := r.registry.List()
	snapshot := make([]shared.DeviceInfo, 0, len(list))
	for _, info := range list {
		snapshot = append(snapshot, info)
	}
	eventbus.Publish(context.Background(), r.bus, eventbus.UIDevices, eventbus.SourceRouter, eventbus.DevicesChangedEvent{Devices: snapshot})
}
