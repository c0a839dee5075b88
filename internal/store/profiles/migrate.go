package profiles

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/griddeck/griddeck/internal/shared"
)

// Older releases stored each slot as a list of stacked instances instead of
// a single optional instance with children. Those files are detected by
// shape and upgraded in place on first read: a slot with one instance
// becomes that instance, a slot with several becomes a multi-action
// container holding them as children.

type legacyProfile struct {
	Keys    [][]*diskInstance `json:"keys"`
	Sliders [][]*diskInstance `json:"sliders"`
}

// isLegacyProfile reports whether the raw JSON uses the stacked-slot schema.
func isLegacyProfile(data []byte) bool {
	var probe struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	for _, raw := range probe.Keys {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			continue
		}
		return trimmed[0] == '['
	}
	return false
}

func migrateLegacyProfile(data []byte, device, profile string) (shared.Profile, error) {
	var legacy legacyProfile
	if err := json.Unmarshal(data, &legacy); err != nil {
		return shared.Profile{}, fmt.Errorf("profiles: parse legacy profile: %w", err)
	}

	migrated := shared.Profile{
		ID:      profile,
		Keys:    make([]*shared.ActionInstance, len(legacy.Keys)),
		Sliders: make([]*shared.ActionInstance, len(legacy.Sliders)),
	}
	for position, stack := range legacy.Keys {
		migrated.Keys[position] = migrateSlot(stack, device, profile, shared.ControllerKeypad, uint8(position))
	}
	for position, stack := range legacy.Sliders {
		migrated.Sliders[position] = migrateSlot(stack, device, profile, shared.ControllerEncoder, uint8(position))
	}
	return migrated, nil
}

func migrateSlot(stack []*diskInstance, device, profile, controller string, position uint8) *shared.ActionInstance {
	switch len(stack) {
	case 0:
		return nil
	case 1:
		instance := stack[0].toInstance(device, profile)
		instance.Context.Controller = controller
		instance.Context.Position = position
		instance.Context.Index = 0
		return instance
	}

	slot := shared.Context{Device: device, Profile: profile, Controller: controller, Position: position}
	container := shared.NewInstance(multiActionTemplate(), shared.FromContext(slot, 0))
	for i, entry := range stack {
		child := entry.toInstance(device, profile)
		child.Context = shared.FromContext(slot, uint16(i)+1)
		child.Children = nil
		container.Children = append(container.Children, child)
	}
	return container
}

func multiActionTemplate() shared.Action {
	return shared.Action{
		Name:        "Multi Action",
		UUID:        shared.MultiActionUUID,
		Plugin:      shared.MultiActionUUID,
		Controllers: []string{shared.ControllerKeypad},
		States:      []shared.ActionState{{Image: "multi-action.png", Show: true, Colour: "#f2f2f2", Alignment: "middle", Style: "Regular", Size: "16"}},
	}
}
