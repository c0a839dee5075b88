package profiles

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/griddeck/griddeck/internal/config"
	"github.com/griddeck/griddeck/internal/shared"
)

type fakeDevices struct {
	devices map[string]shared.DeviceInfo
}

func (f *fakeDevices) GetDevice(id string) (shared.DeviceInfo, bool) {
	d, ok := f.devices[id]
	return d, ok
}

type fakeCatalogue struct {
	actions    map[string]bool
	registered map[string]bool
}

func (f *fakeCatalogue) HasAction(uuid string) bool     { return f.actions[uuid] }
func (f *fakeCatalogue) PluginRegistered(id string) bool { return f.registered[id] }

func testDevice(id string, rows, columns, sliders uint8) shared.DeviceInfo {
	return shared.DeviceInfo{ID: id, Name: "Test " + id, Rows: rows, Columns: columns, Sliders: sliders}
}

func testStores(t *testing.T, devices ...shared.DeviceInfo) (*Stores, config.Paths) {
	t.Helper()
	paths := config.GetPaths(t.TempDir())
	source := &fakeDevices{devices: make(map[string]shared.DeviceInfo)}
	for _, d := range devices {
		source.devices[d.ID] = d
	}
	return NewStores(paths, source), paths
}

func defaultState() shared.ActionState {
	state := shared.ActionState{Show: true}
	state.DefaultStateValues()
	return state
}

func testAction(plugin, uuid string) shared.Action {
	return shared.Action{
		Name:                    uuid,
		UUID:                    uuid,
		Plugin:                  plugin,
		VisibleInActionsList:    true,
		SupportedInMultiActions: true,
		Controllers:             []string{shared.ControllerKeypad, shared.ControllerEncoder},
		States:                  []shared.ActionState{defaultState()},
	}
}

func TestGetProfileStoreMutSizesToGeometry(t *testing.T) {
	device := testDevice("gd-A1", 4, 8, 3)
	stores, paths := testStores(t, device)

	locks := stores.AcquireMut()
	defer locks.Release()

	s, err := locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("GetProfileStoreMut: %v", err)
	}
	if got, want := len(s.Value.Keys), 32; got != want {
		t.Errorf("keys = %d, want %d", got, want)
	}
	if got, want := len(s.Value.Sliders), 3; got != want {
		t.Errorf("sliders = %d, want %d", got, want)
	}
	if _, err := os.Stat(paths.ProfileFile(device.ID, "Default")); err != nil {
		t.Errorf("profile file not written: %v", err)
	}
}

func TestGetProfileStoreMutIdempotent(t *testing.T) {
	device := testDevice("gd-A1", 3, 3, 0)
	stores, _ := testStores(t, device)

	locks := stores.AcquireMut()
	defer locks.Release()

	first, err := locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("first GetProfileStoreMut: %v", err)
	}
	second, err := locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("second GetProfileStoreMut: %v", err)
	}
	if first != second {
		t.Error("repeated GetProfileStoreMut returned distinct stores")
	}
}

func TestGetProfileStoreRequiresMaterialization(t *testing.T) {
	stores, _ := testStores(t, testDevice("gd-A1", 3, 3, 0))

	locks := stores.Acquire()
	defer locks.Release()

	if _, err := locks.ProfileStores().GetProfileStore("gd-A1", "Default"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestProfileRoundTripWithContainer(t *testing.T) {
	device := testDevice("gd-A1", 3, 3, 2)
	stores, paths := testStores(t, device)

	// The owning plugin's package must exist on disk or the reload prunes
	// its instances.
	if err := os.MkdirAll(paths.PluginDir("com.example.counter"), 0o755); err != nil {
		t.Fatalf("mkdir plugin dir: %v", err)
	}

	locks := stores.AcquireMut()
	s, err := locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("GetProfileStoreMut: %v", err)
	}

	leaf := shared.NewInstance(testAction("com.example.counter", "com.example.counter.increment"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 2, Index: 0,
	})
	container := shared.NewInstance(multiActionTemplate(), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 5, Index: 0,
	})
	child := shared.NewInstance(testAction("com.example.counter", "com.example.counter.reset"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 5, Index: 1,
	})
	container.Children = append(container.Children, child)
	s.Value.Keys[2] = leaf
	s.Value.Keys[5] = container
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	locks.Release()

	// A fresh store root simulates a daemon restart reading from disk.
	reloaded := NewStores(paths, &fakeDevices{devices: map[string]shared.DeviceInfo{device.ID: device}})
	locks = reloaded.AcquireMut()
	defer locks.Release()

	s, err = locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("reload GetProfileStoreMut: %v", err)
	}
	got := s.Value.Keys[2]
	if got == nil || got.Action.UUID != "com.example.counter.increment" {
		t.Fatalf("leaf slot = %+v, want increment action", got)
	}
	if got.Context.String() != "gd-A1.Default.Keypad.2.0" {
		t.Errorf("leaf context = %q", got.Context.String())
	}
	gotContainer := s.Value.Keys[5]
	if gotContainer == nil || !gotContainer.Action.IsContainer() {
		t.Fatalf("container slot = %+v, want container", gotContainer)
	}
	if len(gotContainer.Children) != 1 || gotContainer.Children[0].Context.Index != 1 {
		t.Fatalf("children = %+v, want single child at index 1", gotContainer.Children)
	}
}

func TestRemoveProfile(t *testing.T) {
	device := testDevice("gd-A1", 3, 3, 0)
	stores, paths := testStores(t, device)

	locks := stores.AcquireMut()
	defer locks.Release()

	if _, err := locks.ProfileStores().GetProfileStoreMut(device, "Scratch"); err != nil {
		t.Fatalf("GetProfileStoreMut: %v", err)
	}
	locks.ProfileStores().RemoveProfile(device.ID, "Scratch")

	if _, err := locks.ProfileStores().GetProfileStore(device.ID, "Scratch"); !errors.Is(err, ErrNotFound) {
		t.Errorf("store still materialized after remove: %v", err)
	}
	if _, err := os.Stat(paths.ProfileFile(device.ID, "Scratch")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("profile file still present: %v", err)
	}
}

func TestListProfilesDefaultsWhenEmpty(t *testing.T) {
	stores, paths := testStores(t, testDevice("gd-A1", 3, 3, 0))

	locks := stores.Acquire()
	defer locks.Release()

	names, err := locks.ProfileStores().ListProfiles("gd-A1")
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(names) != 1 || names[0] != "Default" {
		t.Errorf("names = %v, want [Default]", names)
	}
	if info, err := os.Stat(paths.DeviceProfilesDir("gd-A1")); err != nil || !info.IsDir() {
		t.Errorf("device profile dir not created: %v", err)
	}
}

func TestListProfilesMigratesLegacySchema(t *testing.T) {
	device := testDevice("gd-A1", 2, 2, 0)
	stores, paths := testStores(t, device)

	if err := os.MkdirAll(paths.PluginDir("com.example.counter"), 0o755); err != nil {
		t.Fatalf("mkdir plugin dir: %v", err)
	}

	legacy := map[string]any{
		"keys": [][]map[string]any{
			nil,
			{
				{
					"action":  testAction("com.example.counter", "com.example.counter.increment"),
					"context": "Keypad.1.0",
					"states":  []shared.ActionState{defaultState()},
				},
				{
					"action":  testAction("com.example.counter", "com.example.counter.reset"),
					"context": "Keypad.1.1",
					"states":  []shared.ActionState{defaultState()},
				},
			},
			nil,
			nil,
		},
		"sliders": [][]map[string]any{},
	}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatalf("marshal legacy profile: %v", err)
	}
	path := paths.ProfileFile(device.ID, "Old")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write legacy profile: %v", err)
	}

	locks := stores.AcquireMut()
	defer locks.Release()

	names, err := locks.ProfileStores().ListProfiles(device.ID)
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(names) != 1 || names[0] != "Old" {
		t.Fatalf("names = %v, want [Old]", names)
	}

	s, err := locks.ProfileStores().GetProfileStoreMut(device, "Old")
	if err != nil {
		t.Fatalf("GetProfileStoreMut: %v", err)
	}
	container := s.Value.Keys[1]
	if container == nil || !container.Action.IsContainer() {
		t.Fatalf("slot 1 = %+v, want container of stacked actions", container)
	}
	if len(container.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(container.Children))
	}
	if container.Children[0].Action.UUID != "com.example.counter.increment" {
		t.Errorf("first child = %s", container.Children[0].Action.UUID)
	}

	// The file itself must now carry the upgraded schema.
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read migrated file: %v", err)
	}
	if isLegacyProfile(data) {
		t.Error("file still uses the legacy schema after listing")
	}
}

func TestPruneDropsMissingPlugins(t *testing.T) {
	device := testDevice("gd-A1", 3, 3, 0)
	stores, paths := testStores(t, device)

	// Only com.example.alive has a package directory on disk.
	if err := os.MkdirAll(paths.PluginDir("com.example.alive"), 0o755); err != nil {
		t.Fatalf("mkdir plugin dir: %v", err)
	}

	locks := stores.AcquireMut()
	s, err := locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("GetProfileStoreMut: %v", err)
	}
	s.Value.Keys[0] = shared.NewInstance(testAction("com.example.alive", "com.example.alive.act"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 0,
	})
	s.Value.Keys[1] = shared.NewInstance(testAction("com.example.gone", "com.example.gone.act"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 1,
	})
	s.Value.Keys[2] = shared.NewInstance(multiActionTemplate(), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 2,
	})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	locks.Release()

	reloaded := NewStores(paths, &fakeDevices{devices: map[string]shared.DeviceInfo{device.ID: device}})
	reloaded.BindCatalogue(&fakeCatalogue{
		actions:    map[string]bool{"com.example.alive.act": true},
		registered: map[string]bool{"com.example.alive": true},
	})
	locks = reloaded.AcquireMut()
	defer locks.Release()

	s, err = locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("reload GetProfileStoreMut: %v", err)
	}
	if s.Value.Keys[0] == nil {
		t.Error("instance of present plugin was pruned")
	}
	if s.Value.Keys[1] != nil {
		t.Error("instance of missing plugin survived pruning")
	}
	if s.Value.Keys[2] == nil {
		t.Error("builtin container was pruned")
	}
}

func TestPruneKeepsUnregisteredPluginInstances(t *testing.T) {
	device := testDevice("gd-A1", 3, 3, 0)
	stores, paths := testStores(t, device)

	if err := os.MkdirAll(paths.PluginDir("com.example.slow"), 0o755); err != nil {
		t.Fatalf("mkdir plugin dir: %v", err)
	}

	locks := stores.AcquireMut()
	s, err := locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("GetProfileStoreMut: %v", err)
	}
	s.Value.Keys[0] = shared.NewInstance(testAction("com.example.slow", "com.example.slow.act"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 0,
	})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	locks.Release()

	// The plugin is installed but has not registered yet; its instances
	// must not be discarded just because the catalogue is empty.
	reloaded := NewStores(paths, &fakeDevices{devices: map[string]shared.DeviceInfo{device.ID: device}})
	reloaded.BindCatalogue(&fakeCatalogue{
		actions:    map[string]bool{},
		registered: map[string]bool{},
	})
	locks = reloaded.AcquireMut()
	defer locks.Release()

	s, err = locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("reload GetProfileStoreMut: %v", err)
	}
	if s.Value.Keys[0] == nil {
		t.Error("instance of unregistered but installed plugin was pruned")
	}
}

func TestSelectedProfilePersists(t *testing.T) {
	device := testDevice("gd-A1", 3, 3, 0)
	stores, paths := testStores(t, device)

	locks := stores.AcquireMut()
	selected, err := locks.DeviceStores().GetSelectedProfile(device.ID)
	if err != nil {
		t.Fatalf("GetSelectedProfile: %v", err)
	}
	if selected != "Default" {
		t.Errorf("initial selection = %q, want Default", selected)
	}
	if err := locks.DeviceStores().SetSelectedProfile(device.ID, "Streaming"); err != nil {
		t.Fatalf("SetSelectedProfile: %v", err)
	}
	locks.Release()

	reloaded := NewStores(paths, &fakeDevices{devices: map[string]shared.DeviceInfo{device.ID: device}})
	locks = reloaded.AcquireMut()
	defer locks.Release()

	selected, err = locks.DeviceStores().GetSelectedProfile(device.ID)
	if err != nil {
		t.Fatalf("reload GetSelectedProfile: %v", err)
	}
	if selected != "Streaming" {
		t.Errorf("selection after reload = %q, want Streaming", selected)
	}
}

func TestSlotAndInstanceLookup(t *testing.T) {
	device := testDevice("gd-A1", 3, 3, 2)
	stores, _ := testStores(t, device)

	locks := stores.AcquireMut()
	defer locks.Release()

	slot, err := locks.Slot(shared.Context{Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 4})
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	container := shared.NewInstance(multiActionTemplate(), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 4,
	})
	child := shared.NewInstance(testAction("com.example.counter", "com.example.counter.reset"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 4, Index: 2,
	})
	container.Children = append(container.Children, child)
	*slot = container

	instance, err := locks.Instance(shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 4, Index: 0,
	})
	if err != nil {
		t.Fatalf("Instance index 0: %v", err)
	}
	if instance != container {
		t.Error("index 0 did not resolve the container itself")
	}

	instance, err = locks.Instance(shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 4, Index: 2,
	})
	if err != nil {
		t.Fatalf("Instance index 2: %v", err)
	}
	if instance != child {
		t.Error("index 2 did not resolve the child")
	}

	if _, err := locks.Slot(shared.Context{Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 9}); !errors.Is(err, ErrNotFound) {
		t.Errorf("out of range key err = %v, want ErrNotFound", err)
	}
	if _, err := locks.Slot(shared.Context{Device: "gd-unknown", Profile: "Default", Controller: shared.ControllerKeypad, Position: 0}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown device err = %v, want ErrNotFound", err)
	}
}

func TestAllFromPlugin(t *testing.T) {
	device := testDevice("gd-A1", 3, 3, 1)
	stores, _ := testStores(t, device)

	locks := stores.AcquireMut()
	defer locks.Release()

	s, err := locks.ProfileStores().GetProfileStoreMut(device, "Default")
	if err != nil {
		t.Fatalf("GetProfileStoreMut: %v", err)
	}
	s.Value.Keys[0] = shared.NewInstance(testAction("com.example.counter", "com.example.counter.increment"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 0,
	})
	s.Value.Sliders[0] = shared.NewInstance(testAction("com.example.other", "com.example.other.dial"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerEncoder, Position: 0,
	})
	container := shared.NewInstance(multiActionTemplate(), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 1,
	})
	container.Children = append(container.Children, shared.NewInstance(testAction("com.example.counter", "com.example.counter.reset"), shared.ActionContext{
		Device: device.ID, Profile: "Default", Controller: shared.ControllerKeypad, Position: 1, Index: 1,
	}))
	s.Value.Keys[1] = container

	contexts := locks.ProfileStores().AllFromPlugin("com.example.counter")
	if len(contexts) != 2 {
		t.Fatalf("contexts = %v, want 2 entries", contexts)
	}
}
