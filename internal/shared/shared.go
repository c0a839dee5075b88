// Package shared holds the core data model of the hub: actions, action
// instances, profiles, contexts and device metadata. Every other component
// exchanges these types; none of them carry any locking of their own.
package shared

import (
	"encoding/json"
	"os"
)

// Controller identifies the class of physical input a slot belongs to.
const (
	ControllerKeypad  = "Keypad"
	ControllerEncoder = "Encoder"
)

// UUIDs of the builtin container actions. Instances of these are the only
// ones that carry children.
const (
	MultiActionUUID  = "griddeck.multiaction"
	ToggleActionUUID = "griddeck.toggleaction"
)

// ConvertIcon converts an icon specified in a plugin manifest to its full
// path, trying the extensions plugins commonly ship. A missing icon is not
// an error; the .png path is returned regardless.
func ConvertIcon(path string) string {
	if _, err := os.Stat(path + ".svg"); err == nil {
		return path + ".svg"
	}
	if _, err := os.Stat(path + "@2x.png"); err == nil {
		return path + "@2x.png"
	}
	return path + ".png"
}

// ActionState is one visual state of an action or an instance.
type ActionState struct {
	Image     string `json:"image"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	Show      bool   `json:"show"`
	Colour    string `json:"colour"`
	Alignment string `json:"alignment"`
	Style     string `json:"style"`
	Size      string `json:"size"`
	Underline bool   `json:"underline"`
}

// DefaultStateValues fills zero-valued presentation fields with the defaults
// actions are assumed to have when their manifest omits them. Show is handled
// by the manifest decoder since false is a meaningful value there.
func (s *ActionState) DefaultStateValues() {
	if s.Colour == "" {
		s.Colour = "#f2f2f2"
	}
	if s.Alignment == "" {
		s.Alignment = "middle"
	}
	if s.Style == "" {
		s.Style = "Regular"
	}
	if s.Size == "" {
		s.Size = "16"
	}
}

// Action is a capability definition supplied by a plugin manifest.
// Immutable once loaded; replaced wholesale when a plugin reloads.
type Action struct {
	Name                 string        `json:"name"`
	UUID                 string        `json:"uuid"`
	Plugin               string        `json:"plugin"`
	Tooltip              string        `json:"tooltip"`
	Icon                 string        `json:"icon"`
	VisibleInActionsList bool          `json:"visible_in_action_list"`
	SupportedInMultiActions bool       `json:"supported_in_multi_actions"`
	PropertyInspector    string        `json:"property_inspector"`
	Controllers          []string      `json:"controllers"`
	States               []ActionState `json:"states"`
	DisableAutomaticStates bool        `json:"disable_automatic_states"`
	UserTitleEnabled     bool          `json:"user_title_enabled"`
}

// SupportsController reports whether the action may be placed on a slot of
// the given controller kind.
func (a *Action) SupportsController(controller string) bool {
	for _, c := range a.Controllers {
		if c == controller {
			return true
		}
	}
	return false
}

// IsContainer reports whether instances of this action hold child instances.
func (a *Action) IsContainer() bool {
	return a.UUID == MultiActionUUID || a.UUID == ToggleActionUUID
}

// ActionInstance is a configured action at a context. Children is nil for
// leaf instances and non-nil (possibly empty) for container instances;
// children are never containers themselves.
type ActionInstance struct {
	Action       Action            `json:"action"`
	Context      ActionContext     `json:"context"`
	States       []ActionState     `json:"states"`
	CurrentState uint16            `json:"current_state"`
	Settings     json.RawMessage   `json:"settings"`
	Children     []*ActionInstance `json:"children"`
}

// NewInstance creates an instance of the given action at a context, with the
// action's states copied so per-instance overrides do not touch the template.
func NewInstance(action Action, context ActionContext) *ActionInstance {
	states := make([]ActionState, len(action.States))
	copy(states, action.States)
	instance := &ActionInstance{
		Action:       action,
		Context:      context,
		States:       states,
		CurrentState: 0,
		Settings:     json.RawMessage("{}"),
	}
	if action.IsContainer() {
		instance.Children = []*ActionInstance{}
	}
	return instance
}

// Profile is one named full-grid configuration for one device. The array
// lengths are fixed to the owning device's geometry at creation.
type Profile struct {
	ID      string            `json:"id"`
	Keys    []*ActionInstance `json:"keys"`
	Sliders []*ActionInstance `json:"sliders"`
}

// Instances iterates every top-level instance in the profile.
func (p *Profile) Instances() []*ActionInstance {
	var all []*ActionInstance
	for _, instance := range p.Keys {
		if instance != nil {
			all = append(all, instance)
		}
	}
	for _, instance := range p.Sliders {
		if instance != nil {
			all = append(all, instance)
		}
	}
	return all
}

// DeviceInfo is the metadata of a connected device. Plugin is empty for
// devices owned by a builtin driver.
type DeviceInfo struct {
	ID      string `json:"id"`
	Plugin  string `json:"plugin"`
	Name    string `json:"name"`
	Rows    uint8  `json:"rows"`
	Columns uint8  `json:"columns"`
	Sliders uint8  `json:"sliders"`
	Type    uint8  `json:"type"`
}
