package eventbus

import (
	"time"

	"github.com/griddeck/griddeck/internal/shared"
)

// Topic identifies a logical channel on the bus.
type Topic string

const (
	// TopicUISlot announces that a slot's rendered state changed and any
	// open frontend should redraw it.
	TopicUISlot Topic = "ui.slot"
	// TopicUIDevices announces device connections and disconnections.
	TopicUIDevices Topic = "ui.devices"
	// TopicUIPlugins announces changes to the installed plugin set.
	TopicUIPlugins Topic = "ui.plugins"
	// TopicUIProfiles announces that a device switched profiles.
	TopicUIProfiles Topic = "ui.profiles"
	// TopicPluginLifecycle reports plugin process starts, stops and crashes.
	TopicPluginLifecycle Topic = "plugins.lifecycle"
	// TopicPluginLog relays log lines captured from plugin processes.
	TopicPluginLog Topic = "plugins.log"
)

// Source describes which component produced an event.
type Source string

const (
	SourceBroker        Source = "broker"
	SourceRouter        Source = "router"
	SourceRegistry      Source = "registry"
	SourcePluginManager Source = "plugin_manager"
	SourceWebserver     Source = "webserver"
	SourceFrontend      Source = "frontend"
	SourceUnknown       Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// SlotChangedEvent asks frontends to re-render one slot.
type SlotChangedEvent struct {
	Context shared.Context
}

// KeyMovedEvent mirrors a physical key press or release to frontends.
type KeyMovedEvent struct {
	Context shared.Context
	Pressed bool
}

// InstanceFeedbackEvent flashes transient alert or ok feedback on a slot.
type InstanceFeedbackEvent struct {
	Context shared.ActionContext
	Kind    string
}

// DevicesChangedEvent carries the full device list after a connect or
// disconnect. Snapshots rather than deltas keep frontends stateless.
type DevicesChangedEvent struct {
	Devices []shared.DeviceInfo
}

// PluginsChangedEvent signals that the installed plugin set or the action
// catalogue changed.
type PluginsChangedEvent struct{}

// ProfileSwitchedEvent reports the new selected profile of a device.
type ProfileSwitchedEvent struct {
	Device  string
	Profile string
}

// PluginState summarises plugin process lifecycle transitions.
type PluginState string

const (
	PluginStateStarted PluginState = "started"
	PluginStateStopped PluginState = "stopped"
	PluginStateCrashed PluginState = "crashed"
)

// PluginLifecycleEvent notifies consumers about plugin process transitions.
type PluginLifecycleEvent struct {
	Plugin string
	State  PluginState
	Reason string
}

// PluginLogEvent relays a captured plugin log line.
type PluginLogEvent struct {
	Plugin  string
	Level   string
	Message string
}

// Typed topic descriptors wired to their payload types.
var (
	UISlot          = NewTopicDef[SlotChangedEvent](TopicUISlot)
	UIKeyMoved      = NewTopicDef[KeyMovedEvent](TopicUISlot)
	UIFeedback      = NewTopicDef[InstanceFeedbackEvent](TopicUISlot)
	UIDevices       = NewTopicDef[DevicesChangedEvent](TopicUIDevices)
	UIPlugins       = NewTopicDef[PluginsChangedEvent](TopicUIPlugins)
	UIProfiles      = NewTopicDef[ProfileSwitchedEvent](TopicUIProfiles)
	PluginLifecycle = NewTopicDef[PluginLifecycleEvent](TopicPluginLifecycle)
	PluginLog       = NewTopicDef[PluginLogEvent](TopicPluginLog)
)
