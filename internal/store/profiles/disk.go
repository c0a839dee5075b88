package profiles

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/griddeck/griddeck/internal/config"
	"github.com/griddeck/griddeck/internal/shared"
)

// The on-disk profile shape omits device and profile ids from instance
// contexts: both are redundant with the file's location. Inline base64 state
// images are externalized to sibling files under the images directory so the
// profile JSON stays small.

type diskContext struct {
	Controller string
	Position   uint8
	Index      uint16
}

func (c diskContext) String() string {
	return fmt.Sprintf("%s.%d.%d", c.Controller, c.Position, c.Index)
}

func (c diskContext) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText tolerates the legacy five-segment form that stored full
// contexts on disk; the device and profile segments are skipped.
func (c *diskContext) UnmarshalText(text []byte) error {
	segments := strings.Split(string(text), ".")
	offset := 0
	if len(segments) >= 5 {
		offset = len(segments) - 3
	} else if len(segments) != 3 {
		return fmt.Errorf("profiles: malformed disk context %q", text)
	}
	position, err := strconv.ParseUint(segments[offset+1], 10, 8)
	if err != nil {
		return fmt.Errorf("profiles: malformed disk context %q: %w", text, err)
	}
	index, err := strconv.ParseUint(segments[offset+2], 10, 16)
	if err != nil {
		return fmt.Errorf("profiles: malformed disk context %q: %w", text, err)
	}
	c.Controller = segments[offset]
	c.Position = uint8(position)
	c.Index = uint16(index)
	return nil
}

type diskInstance struct {
	Action       shared.Action        `json:"action"`
	Context      diskContext          `json:"context"`
	States       []shared.ActionState `json:"states"`
	CurrentState uint16               `json:"current_state"`
	Settings     json.RawMessage      `json:"settings"`
	Children     []*diskInstance      `json:"children"`
}

type diskProfile struct {
	Keys    []*diskInstance `json:"keys"`
	Sliders []*diskInstance `json:"sliders"`
}

func toDiskInstance(instance *shared.ActionInstance, paths config.Paths) *diskInstance {
	if instance == nil {
		return nil
	}
	disk := &diskInstance{
		Action: instance.Action,
		Context: diskContext{
			Controller: instance.Context.Controller,
			Position:   instance.Context.Position,
			Index:      instance.Context.Index,
		},
		States:       externalizeImages(instance, paths),
		CurrentState: instance.CurrentState,
		Settings:     instance.Settings,
	}
	if instance.Children != nil {
		disk.Children = make([]*diskInstance, 0, len(instance.Children))
		for _, child := range instance.Children {
			disk.Children = append(disk.Children, toDiskInstance(child, paths))
		}
	}
	return disk
}

func (d *diskInstance) toInstance(device, profile string) *shared.ActionInstance {
	if d == nil {
		return nil
	}
	instance := &shared.ActionInstance{
		Action: d.Action,
		Context: shared.ActionContext{
			Device:     device,
			Profile:    profile,
			Controller: d.Context.Controller,
			Position:   d.Context.Position,
			Index:      d.Context.Index,
		},
		States:       d.States,
		CurrentState: d.CurrentState,
		Settings:     d.Settings,
	}
	if d.Children != nil {
		instance.Children = make([]*shared.ActionInstance, 0, len(d.Children))
		for _, child := range d.Children {
			instance.Children = append(instance.Children, child.toInstance(device, profile))
		}
	}
	return instance
}

// externalizeImages writes any inline data-URL state image to a file keyed by
// the instance's context and returns the state list with the image fields
// rewritten to those paths. The instance itself is updated too so memory and
// disk agree after a save.
func externalizeImages(instance *shared.ActionInstance, paths config.Paths) []shared.ActionState {
	for i := range instance.States {
		state := &instance.States[i]
		if !strings.HasPrefix(state.Image, "data:") {
			continue
		}
		meta, encoded, found := strings.Cut(state.Image, ",")
		if !found {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		dir := filepath.Join(
			paths.ImagesDir,
			instance.Context.Device,
			filepath.FromSlash(instance.Context.Profile),
			fmt.Sprintf("%s.%d.%d", instance.Context.Controller, instance.Context.Position, instance.Context.Index),
		)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		file := filepath.Join(dir, fmt.Sprintf("%d.%s", i, imageExtension(meta)))
		if err := os.WriteFile(file, data, 0o644); err != nil {
			continue
		}
		state.Image = file
	}
	return instance.States
}

func imageExtension(meta string) string {
	meta = strings.TrimPrefix(meta, "data:")
	meta, _, _ = strings.Cut(meta, ";")
	switch meta {
	case "image/jpeg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

// profileLocation derives the device id and profile name from a profile
// file's path below the profiles directory.
func profileLocation(path string, paths config.Paths) (device, profile string, err error) {
	rel, err := filepath.Rel(paths.ProfilesDir, path)
	if err != nil {
		return "", "", fmt.Errorf("profiles: file %s outside profiles dir: %w", path, err)
	}
	rel = filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
	device, profile, found := strings.Cut(rel, "/")
	if !found {
		return "", "", fmt.Errorf("profiles: file %s has no device segment", path)
	}
	return device, profile, nil
}
