// Package plugins discovers plugin packages, parses their manifests, picks a
// launch strategy per platform and supervises the running instances.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/griddeck/griddeck/internal/shared"
)

// Manifests come in two dialects: the hub's own snake_case form and the
// PascalCase form used by the wider streaming-deck plugin ecosystem. Keys
// are normalized to the canonical snake_case names before typed decoding so
// both dialects parse identically.
var manifestKeyAliases = map[string]string{
	"Name":                    "name",
	"Author":                  "author",
	"Version":                 "version",
	"Icon":                    "icon",
	"Category":                "category",
	"Actions":                 "actions",
	"OS":                      "os",
	"Platform":                "platform",
	"CodePath":                "code_path",
	"CodePathWin":             "code_path_windows",
	"CodePathMac":             "code_path_macos",
	"CodePathLin":             "code_path_linux",
	"PropertyInspectorPath":   "property_inspector_path",
	"DeviceNamespace":         "device_namespace",
	"UUID":                    "uuid",
	"Tooltip":                 "tooltip",
	"VisibleInActionsList":    "visible_in_action_list",
	"SupportedInMultiActions": "supported_in_multi_actions",
	"DisableAutomaticStates":  "disable_automatic_states",
	"UserTitleEnabled":        "user_title_enabled",
	"Controllers":             "controllers",
	"States":                  "states",
	"Image":                   "image",
	"Title":                   "text",
	"ShowTitle":               "show",
	"TitleColor":              "colour",
	"TitleAlignment":          "alignment",
	"FontStyle":               "style",
	"FontSize":                "size",
	"FontUnderline":           "underline",
}

// OSEntry declares support for one platform.
type OSEntry struct {
	Platform string `json:"platform"`
}

type manifestState struct {
	Image     string `json:"image"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	Show      *bool  `json:"show"`
	Colour    string `json:"colour"`
	Alignment string `json:"alignment"`
	Style     string `json:"style"`
	Size      any    `json:"size"`
	Underline bool   `json:"underline"`
}

func (s manifestState) toState() shared.ActionState {
	state := shared.ActionState{
		Image:     s.Image,
		Name:      s.Name,
		Text:      s.Text,
		Show:      s.Show == nil || *s.Show,
		Colour:    s.Colour,
		Alignment: s.Alignment,
		Style:     s.Style,
		Underline: s.Underline,
	}
	if s.Size != nil {
		state.Size = fmt.Sprint(s.Size)
	}
	state.DefaultStateValues()
	return state
}

type manifestAction struct {
	Name                    string          `json:"name"`
	UUID                    string          `json:"uuid"`
	Tooltip                 string          `json:"tooltip"`
	Icon                    string          `json:"icon"`
	VisibleInActionsList    *bool           `json:"visible_in_action_list"`
	SupportedInMultiActions bool            `json:"supported_in_multi_actions"`
	DisableAutomaticStates  bool            `json:"disable_automatic_states"`
	UserTitleEnabled        bool            `json:"user_title_enabled"`
	PropertyInspectorPath   string          `json:"property_inspector_path"`
	Controllers             []string        `json:"controllers"`
	States                  []manifestState `json:"states"`
}

// Manifest is a parsed plugin descriptor, not yet bound to a directory.
type Manifest struct {
	Name                  string           `json:"name"`
	Author                string           `json:"author"`
	Version               string           `json:"version"`
	Icon                  string           `json:"icon"`
	Category              string           `json:"category"`
	Actions               []manifestAction `json:"actions"`
	OS                    []OSEntry        `json:"os"`
	CodePath              string           `json:"code_path"`
	CodePathWindows       string           `json:"code_path_windows"`
	CodePathMacOS         string           `json:"code_path_macos"`
	CodePathLinux         string           `json:"code_path_linux"`
	PropertyInspectorPath string           `json:"property_inspector_path"`
	DeviceNamespace       string           `json:"device_namespace"`
}

// ReadManifest parses dir/manifest.json, deep-merging dir/manifest.<os>.json
// over it when present so packages can override icons or code paths per
// platform without duplicating the whole file.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("plugins: read manifest: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("plugins: parse manifest: %w", err)
	}

	overlayPath := filepath.Join(dir, fmt.Sprintf("manifest.%s.json", runtime.GOOS))
	if overlayData, err := os.ReadFile(overlayPath); err == nil {
		var overlay map[string]any
		if err := json.Unmarshal(overlayData, &overlay); err == nil {
			raw = deepMerge(raw, overlay)
		}
	}

	normalized, err := json.Marshal(normalizeKeys(raw))
	if err != nil {
		return nil, fmt.Errorf("plugins: normalize manifest: %w", err)
	}

	manifest := Manifest{Category: "Custom"}
	if err := json.Unmarshal(normalized, &manifest); err != nil {
		return nil, fmt.Errorf("plugins: parse manifest: %w", err)
	}
	if manifest.Category == "" {
		manifest.Category = "Custom"
	}
	return &manifest, nil
}

// deepMerge overlays b onto a. Nested objects merge recursively; any other
// value in b replaces a's.
func deepMerge(a, b map[string]any) map[string]any {
	merged := make(map[string]any, len(a))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		if vMap, ok := v.(map[string]any); ok {
			if aMap, ok := merged[k].(map[string]any); ok {
				merged[k] = deepMerge(aMap, vMap)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// normalizeKeys renames aliased keys to their canonical form at every level.
// An already-present canonical key wins over its alias.
func normalizeKeys(value any) any {
	switch v := value.(type) {
	case map[string]any:
		normalized := make(map[string]any, len(v))
		for key, inner := range v {
			canonical, aliased := manifestKeyAliases[key]
			if !aliased {
				canonical = key
			}
			if aliased {
				if _, exists := v[canonical]; exists {
					continue
				}
			}
			normalized[canonical] = normalizeKeys(inner)
		}
		return normalized
	case []any:
		normalized := make([]any, len(v))
		for i, inner := range v {
			normalized[i] = normalizeKeys(inner)
		}
		return normalized
	default:
		return value
	}
}

// ResolveActions converts the manifest's action definitions into catalogue
// entries for the plugin rooted at dir: the owning plugin id is stamped,
// icons resolve to existing files and property inspector paths become
// absolute.
func (m *Manifest) ResolveActions(pluginID, dir string) []shared.Action {
	actions := make([]shared.Action, 0, len(m.Actions))
	for _, def := range m.Actions {
		action := shared.Action{
			Name:                    def.Name,
			UUID:                    def.UUID,
			Plugin:                  pluginID,
			Tooltip:                 def.Tooltip,
			Icon:                    shared.ConvertIcon(filepath.Join(dir, def.Icon)),
			VisibleInActionsList:    def.VisibleInActionsList == nil || *def.VisibleInActionsList,
			SupportedInMultiActions: def.SupportedInMultiActions,
			DisableAutomaticStates:  def.DisableAutomaticStates,
			UserTitleEnabled:        def.UserTitleEnabled,
			Controllers:             def.Controllers,
		}
		if len(action.Controllers) == 0 {
			action.Controllers = []string{shared.ControllerKeypad}
		}

		switch {
		case def.PropertyInspectorPath != "":
			action.PropertyInspector = filepath.Join(dir, def.PropertyInspectorPath)
		case m.PropertyInspectorPath != "":
			action.PropertyInspector = filepath.Join(dir, m.PropertyInspectorPath)
		}

		for _, stateDef := range def.States {
			state := stateDef.toState()
			if state.Image == "actionDefaultImage" {
				state.Image = action.Icon
			} else {
				state.Image = shared.ConvertIcon(filepath.Join(dir, state.Image))
			}
			action.States = append(action.States, state)
		}
		actions = append(actions, action)
	}
	return actions
}
