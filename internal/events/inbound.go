package events

import (
	"context"
	"encoding/json"
	"log"
	"os/exec"
	"runtime"

	"github.com/griddeck/griddeck/internal/broker"
	"github.com/griddeck/griddeck/internal/eventbus"
	"github.com/griddeck/griddeck/internal/shared"
)

type setTitlePayload struct {
	Title *string `json:"title"`
	State *uint16 `json:"state"`
}

type setImagePayload struct {
	Image *string `json:"image"`
	State *uint16 `json:"state"`
}

type setStatePayload struct {
	State uint16 `json:"state"`
}

type openURLPayload struct {
	URL string `json:"url"`
}

type logMessagePayload struct {
	Message string `json:"message"`
}

var openBrowser = func(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// HandleInbound demuxes one authorized frame from a plugin or property
// inspector. Malformed payloads are logged and dropped; the frame protocol
// carries no error replies.
func (r *Router) HandleInbound(sender broker.Identity, frame broker.InboundFrame) {
	var err error
	switch frame.Event {
	case "setSettings":
		err = r.setSettings(sender, frame.Context, frame.Payload)
	case "getSettings":
		err = r.getSettings(sender, frame.Context)
	case "setGlobalSettings":
		err = r.SetGlobalSettings(frame.Context, frame.Payload)
	case "getGlobalSettings":
		err = r.sendGlobalSettings(frame.Context)
	case "openUrl":
		var payload openURLPayload
		if err = json.Unmarshal(frame.Payload, &payload); err == nil {
			err = openBrowser(payload.URL)
		}
	case "logMessage":
		var payload logMessagePayload
		if err = json.Unmarshal(frame.Payload, &payload); err == nil {
			r.logMessage(sender, payload.Message)
		}
	case "setTitle":
		var payload setTitlePayload
		if err = json.Unmarshal(frame.Payload, &payload); err == nil {
			err = r.setTitle(frame.Context, payload)
		}
	case "setImage":
		var payload setImagePayload
		if err = json.Unmarshal(frame.Payload, &payload); err == nil {
			err = r.setImage(frame.Context, payload)
		}
	case "setState":
		var payload setStatePayload
		if err = json.Unmarshal(frame.Payload, &payload); err == nil {
			err = r.setState(frame.Context, payload.State)
		}
	case "showAlert":
		err = r.instanceFeedback(frame.Context, "alert")
	case "showOk":
		err = r.instanceFeedback(frame.Context, "ok")
	case "sendToPropertyInspector":
		err = r.relayToPropertyInspector(frame.Context, frame.Payload)
	case "sendToPlugin":
		err = r.relayToPlugin(frame.Context, frame.Payload)
	case "switchProfile":
		err = r.SelectProfile(frame.Device, frame.Profile)
	case "registerDevice":
		var info shared.DeviceInfo
		if err = json.Unmarshal(frame.Payload, &info); err == nil {
			err = r.registerDevice(sender, info)
		}
	case "deregisterDevice":
		var id string
		if err = json.Unmarshal(frame.Payload, &id); err == nil {
			err = r.deregisterDevice(sender, id)
		}
	case "rerenderImages":
		r.RerenderImages()
	default:
		log.Printf("[Events] unhandled %q from %s %s", frame.Event, sender.Kind, sender.ID)
	}
	if err != nil {
		log.Printf("[Events] %s from %s %s: %v", frame.Event, sender.Kind, sender.ID, err)
	}
}

func (r *Router) setSettings(sender broker.Identity, context string, payload json.RawMessage) error {
	parsed, err := shared.ParseActionContext(context)
	if err != nil {
		return err
	}
	locks := r.stores.AcquireMut()
	defer locks.Release()

	instance, err := locks.Instance(parsed)
	if err != nil || instance == nil {
		return err
	}
	instance.Settings = payload
	if err := locks.SaveProfileNamed(parsed.Device, parsed.Profile); err != nil {
		return err
	}

	event := didReceiveSettingsEvent{
		Event:   "didReceiveSettings",
		Action:  instance.Action.UUID,
		Context: instance.Context,
		Device:  parsed.Device,
		Payload: didReceiveSettingsPayload{
			Settings:    instance.Settings,
			Coordinates: coordinatesOf(instance.Context, r.columns(parsed.Device)),
		},
	}
	// The counterpart hears about the change; the originator never gets an
	// echo.
	if sender.Kind == broker.KindInspector {
		return r.sender.SendToPlugin(instance.Action.Plugin, event)
	}
	return r.sender.SendToPropertyInspector(context, event)
}

func (r *Router) getSettings(sender broker.Identity, context string) error {
	parsed, err := shared.ParseActionContext(context)
	if err != nil {
		return err
	}
	locks := r.stores.Acquire()
	defer locks.Release()

	instance, err := locks.Instance(parsed)
	if err != nil || instance == nil {
		return err
	}
	event := didReceiveSettingsEvent{
		Event:   "didReceiveSettings",
		Action:  instance.Action.UUID,
		Context: instance.Context,
		Device:  parsed.Device,
		Payload: didReceiveSettingsPayload{
			Settings:    instance.Settings,
			Coordinates: coordinatesOf(instance.Context, r.columns(parsed.Device)),
		},
	}
	if sender.Kind == broker.KindInspector {
		return r.sender.SendToPropertyInspector(context, event)
	}
	return r.sender.SendToPlugin(instance.Action.Plugin, event)
}

func (r *Router) logMessage(sender broker.Identity, message string) {
	plugin, err := r.senderPlugin(sender)
	if err != nil {
		plugin = sender.ID
	}
	log.Printf("[Events] plugin %s: %s", plugin, message)
	eventbus.Publish(context.Background(), r.bus, eventbus.PluginLog, eventbus.SourceRouter, eventbus.PluginLogEvent{
		Plugin:  plugin,
		Level:   "info",
		Message: message,
	})
}

func (r *Router) senderPlugin(sender broker.Identity) (string, error) {
	if sender.Kind == broker.KindPlugin {
		return sender.ID, nil
	}
	return r.Owner(sender.ID)
}

func (r *Router) registerDevice(sender broker.Identity, info shared.DeviceInfo) error {
	if sender.Kind == broker.KindPlugin {
		info.Plugin = sender.ID
	}
	if err := r.registry.Register(info, nil); err != nil {
		return err
	}
	return nil
}

func (r *Router) deregisterDevice(sender broker.Identity, id string) error {
	info, ok := r.registry.GetDevice(id)
	if !ok {
		return nil
	}
	if sender.Kind == broker.KindPlugin && info.Plugin != sender.ID {
		return nil
	}
	r.registry.Deregister(id)
	return nil
}
