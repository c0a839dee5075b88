package events

import (
	"encoding/json"
	"fmt"
	"os"
)

// SetGlobalSettings persists a plugin's global settings blob and notifies
// the plugin and every open inspector it owns.
func (r *Router) SetGlobalSettings(plugin string, settings json.RawMessage) error {
	if err := os.WriteFile(r.paths.PluginSettingsFile(plugin), settings, 0o644); err != nil {
		return fmt.Errorf("events: write global settings of %s: %w", plugin, err)
	}
	return r.sendGlobalSettings(plugin)
}

// GlobalSettings reads a plugin's stored global settings, defaulting to an
// empty object.
func (r *Router) GlobalSettings(plugin string) json.RawMessage {
	data, err := os.ReadFile(r.paths.PluginSettingsFile(plugin))
	if err != nil || !json.Valid(data) {
		return json.RawMessage("{}")
	}
	return data
}

func (r *Router) sendGlobalSettings(plugin string) error {
	event := didReceiveGlobalSettingsEvent{Event: "didReceiveGlobalSettings"}
	event.Payload.Settings = r.GlobalSettings(plugin)

	if err := r.sender.SendToPlugin(plugin, event); err != nil {
		return err
	}
	locks := r.stores.Acquire()
	contexts := locks.ProfileStores().AllFromPlugin(plugin)
	locks.Release()
	for _, context := range contexts {
		if err := r.sender.SendToPropertyInspector(context.String(), event); err != nil {
			return err
		}
	}
	return nil
}
