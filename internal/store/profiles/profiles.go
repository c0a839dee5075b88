// Package profiles owns the durable mapping from (device, profile name) to
// profile grids. It is the only mutable source of truth for what runs where;
// every other component borrows instances under its locks for the duration
// of a single operation.
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/griddeck/griddeck/internal/config"
	"github.com/griddeck/griddeck/internal/shared"
	"github.com/griddeck/griddeck/internal/store"
)

var (
	// ErrNotFound indicates a missing device, profile or slot.
	ErrNotFound = errors.New("profiles: not found")
)

// Catalogue is the live plugin/action view consulted when pruning stale
// instances. Implemented by the plugin manager; injected to keep this
// package free of a dependency on it.
type Catalogue interface {
	// HasAction reports whether the action uuid is present in the live
	// catalogue.
	HasAction(uuid string) bool
	// PluginRegistered reports whether the plugin currently has a live
	// broker connection.
	PluginRegistered(id string) bool
}

// DeviceSource resolves device geometry for store creation.
type DeviceSource interface {
	GetDevice(id string) (shared.DeviceInfo, bool)
}

// ProfileStores contains all active stores that hold a profile.
type ProfileStores struct {
	paths     config.Paths
	catalogue Catalogue
	stores    map[string]*store.Store[shared.Profile]
}

func (ps *ProfileStores) codec(device, id string) store.Codec[shared.Profile] {
	paths := ps.paths
	return store.Codec[shared.Profile]{
		Encode: func(profile *shared.Profile) (any, error) {
			disk := diskProfile{
				Keys:    make([]*diskInstance, len(profile.Keys)),
				Sliders: make([]*diskInstance, len(profile.Sliders)),
			}
			for i, instance := range profile.Keys {
				disk.Keys[i] = toDiskInstance(instance, paths)
			}
			for i, instance := range profile.Sliders {
				disk.Sliders[i] = toDiskInstance(instance, paths)
			}
			return disk, nil
		},
		Decode: func(data []byte, path string) (shared.Profile, error) {
			if isLegacyProfile(data) {
				return migrateLegacyProfile(data, device, id)
			}
			var disk diskProfile
			if err := json.Unmarshal(data, &disk); err != nil {
				return shared.Profile{}, err
			}
			profile := shared.Profile{
				ID:      id,
				Keys:    make([]*shared.ActionInstance, len(disk.Keys)),
				Sliders: make([]*shared.ActionInstance, len(disk.Sliders)),
			}
			for i, instance := range disk.Keys {
				profile.Keys[i] = instance.toInstance(device, id)
			}
			for i, instance := range disk.Sliders {
				profile.Sliders[i] = instance.toInstance(device, id)
			}
			return profile, nil
		},
	}
}

// GetProfileStore returns the already materialized store for a profile,
// read-only. It never creates one.
func (ps *ProfileStores) GetProfileStore(device, id string) (*store.Store[shared.Profile], error) {
	if s, ok := ps.stores[device+"/"+id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: profile %s of device %s", ErrNotFound, id, device)
}

// GetProfileStoreMut returns the store for a profile, creating and
// persisting a default-sized one when none is materialized. Instances whose
// action no longer exists are pruned on materialization.
func (ps *ProfileStores) GetProfileStoreMut(device shared.DeviceInfo, id string) (*store.Store[shared.Profile], error) {
	key := device.ID + "/" + id
	if s, ok := ps.stores[key]; ok {
		return s, nil
	}

	def := shared.Profile{
		ID:      id,
		Keys:    make([]*shared.ActionInstance, int(device.Rows)*int(device.Columns)),
		Sliders: make([]*shared.ActionInstance, int(device.Sliders)),
	}
	s, err := store.New(ps.paths.ProfileFile(device.ID, id), def, ps.codec(device.ID, id))
	if err != nil {
		return nil, fmt.Errorf("profiles: create store for %s: %w", key, err)
	}

	ps.pruneProfile(&s.Value)

	if err := s.Save(); err != nil {
		return nil, fmt.Errorf("profiles: save store for %s: %w", key, err)
	}
	ps.stores[key] = s
	return s, nil
}

// pruneProfile removes instances whose action can no longer be resolved. An
// instance survives when its plugin package still exists on disk and the
// plugin is either not currently registered (it may merely be slow to start)
// or still advertises the action id.
func (ps *ProfileStores) pruneProfile(profile *shared.Profile) {
	prune := func(slots []*shared.ActionInstance) {
		for i, instance := range slots {
			if instance == nil {
				continue
			}
			if !ps.actionAvailable(&instance.Action) {
				slots[i] = nil
				continue
			}
			kept := instance.Children[:0]
			for _, child := range instance.Children {
				if ps.actionAvailable(&child.Action) {
					kept = append(kept, child)
				}
			}
			if instance.Children != nil {
				instance.Children = kept
			}
		}
	}
	prune(profile.Keys)
	prune(profile.Sliders)
}

func (ps *ProfileStores) actionAvailable(action *shared.Action) bool {
	if action.Plugin == "" || strings.HasPrefix(action.UUID, "griddeck.") {
		return true
	}
	if _, err := os.Stat(ps.paths.PluginDir(action.Plugin)); err != nil {
		return false
	}
	if ps.catalogue == nil {
		return true
	}
	return !ps.catalogue.PluginRegistered(action.Plugin) || ps.catalogue.HasAction(action.UUID)
}

// RemoveProfile drops the in-memory store and deletes the backing file. The
// parent directory is removed too when the deletion left it empty.
func (ps *ProfileStores) RemoveProfile(device, id string) {
	delete(ps.stores, device+"/"+id)
	path := ps.paths.ProfileFile(device, id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[Profiles] failed to remove profile file %s: %v", path, err)
	}
	// Fails for non-empty directories, which is exactly the intent.
	_ = os.Remove(filepath.Dir(path))
}

// AllFromPlugin returns the context of every loaded instance, including
// container children, whose action belongs to the given plugin.
func (ps *ProfileStores) AllFromPlugin(plugin string) []shared.ActionContext {
	var all []shared.ActionContext
	for _, s := range ps.stores {
		for _, instance := range s.Value.Instances() {
			if instance.Action.Plugin == plugin {
				all = append(all, instance.Context)
			}
			for _, child := range instance.Children {
				if child.Action.Plugin == plugin {
					all = append(all, child.Context)
				}
			}
		}
	}
	return all
}

// ListProfiles enumerates the profile files of a device, creating its
// directory as a side effect and upgrading legacy schemas as they are
// discovered. Devices with no stored profiles report a single default.
func (ps *ProfileStores) ListProfiles(device string) ([]string, error) {
	dir := ps.paths.DeviceProfilesDir(device)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profiles: create device dir %s: %w", dir, err)
	}

	var names []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			return err
		}
		_, name, locErr := profileLocation(path, ps.paths)
		if locErr != nil {
			return nil
		}
		if migrated := ps.migrateOnDiscovery(device, name, path); migrated {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("profiles: read device dir %s: %w", dir, err)
	}

	if len(names) == 0 {
		names = append(names, config.DefaultProfileName)
	}
	return names, nil
}

// migrateOnDiscovery upgrades a legacy profile file in place. It reports
// whether the profile should be listed; a failed migration is logged and the
// profile skipped without aborting the listing.
func (ps *ProfileStores) migrateOnDiscovery(device, name, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Profiles] failed to read profile %s: %v", path, err)
		return false
	}
	if !isLegacyProfile(data) {
		return true
	}

	migrated, err := migrateLegacyProfile(data, device, name)
	if err != nil {
		log.Printf("[Profiles] failed to migrate legacy profile %s: %v", path, err)
		return false
	}
	s, err := store.New(path, migrated, ps.codec(device, name))
	if err == nil {
		s.Value = migrated
		err = s.Save()
	}
	if err != nil {
		log.Printf("[Profiles] failed to rewrite migrated profile %s: %v", path, err)
		return false
	}
	log.Printf("[Profiles] migrated legacy profile %s/%s", device, name)
	return true
}

type deviceConfig struct {
	SelectedProfile string `json:"selected_profile"`
}

// DeviceStores manages the selected-profile pointer of each device.
type DeviceStores struct {
	paths  config.Paths
	stores map[string]*store.Store[deviceConfig]
}

func (ds *DeviceStores) getDeviceStore(device string) (*store.Store[deviceConfig], error) {
	if s, ok := ds.stores[device]; ok {
		return s, nil
	}
	s, err := store.New(ds.paths.DeviceConfigFile(device), deviceConfig{SelectedProfile: config.DefaultProfileName}, store.Codec[deviceConfig]{})
	if err != nil {
		return nil, fmt.Errorf("profiles: create config store for device %s: %w", device, err)
	}
	if err := s.Save(); err != nil {
		return nil, fmt.Errorf("profiles: save config store for device %s: %w", device, err)
	}
	ds.stores[device] = s
	return s, nil
}

// GetSelectedProfile returns the profile currently selected on a device,
// materializing the pointer store with the default when absent.
func (ds *DeviceStores) GetSelectedProfile(device string) (string, error) {
	s, err := ds.getDeviceStore(device)
	if err != nil {
		return "", err
	}
	return s.Value.SelectedProfile, nil
}

// SetSelectedProfile persists a new selected profile for a device.
func (ds *DeviceStores) SetSelectedProfile(device, id string) error {
	s, err := ds.getDeviceStore(device)
	if err != nil {
		return err
	}
	s.Value.SelectedProfile = id
	return s.Save()
}

// Stores groups the profile stores and device pointer stores behind a single
// reader/writer lock. Operations are human-interaction-frequency, so one
// coarse lock held across a whole look-up/mutate/persist chain buys
// consistency cheaply.
type Stores struct {
	mu        sync.RWMutex
	devices   DeviceSource
	Profiles  *ProfileStores
	DeviceCfg *DeviceStores
}

// NewStores constructs the store root. The catalogue may be bound later via
// BindCatalogue since the plugin manager starts after the stores exist.
func NewStores(paths config.Paths, devices DeviceSource) *Stores {
	return &Stores{
		devices: devices,
		Profiles: &ProfileStores{
			paths:  paths,
			stores: make(map[string]*store.Store[shared.Profile]),
		},
		DeviceCfg: &DeviceStores{
			paths:  paths,
			stores: make(map[string]*store.Store[deviceConfig]),
		},
	}
}

// BindCatalogue attaches the live plugin/action view used for pruning.
func (s *Stores) BindCatalogue(catalogue Catalogue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Profiles.catalogue = catalogue
}

// Locks represents an acquired guard over the store root. Callers must hold
// it for the full span of a logical operation and Release it exactly once.
type Locks struct {
	stores *Stores
	write  bool
}

// Acquire takes the shared lock.
func (s *Stores) Acquire() *Locks {
	s.mu.RLock()
	return &Locks{stores: s}
}

// AcquireMut takes the exclusive lock.
func (s *Stores) AcquireMut() *Locks {
	s.mu.Lock()
	return &Locks{stores: s, write: true}
}

// Release drops the guard.
func (l *Locks) Release() {
	if l.write {
		l.stores.mu.Unlock()
	} else {
		l.stores.mu.RUnlock()
	}
}

// ProfileStores exposes the profile store map under the held guard.
func (l *Locks) ProfileStores() *ProfileStores {
	return l.stores.Profiles
}

// DeviceStores exposes the device pointer stores under the held guard.
func (l *Locks) DeviceStores() *DeviceStores {
	return l.stores.DeviceCfg
}

// SelectedProfileContext resolves the slot address for raw hardware input on
// the device's currently selected profile.
func (l *Locks) SelectedProfileContext(device, controller string, position uint8) (shared.Context, error) {
	selected, err := l.stores.DeviceCfg.GetSelectedProfile(device)
	if err != nil {
		return shared.Context{}, err
	}
	return shared.Context{Device: device, Profile: selected, Controller: controller, Position: position}, nil
}

// Slot returns a pointer to the slot cell addressed by the context, creating
// the backing store when needed. The double pointer lets callers replace or
// clear the slot in place while the guard is held.
func (l *Locks) Slot(context shared.Context) (**shared.ActionInstance, error) {
	device, ok := l.stores.devices.GetDevice(context.Device)
	if !ok {
		return nil, fmt.Errorf("%w: device %s", ErrNotFound, context.Device)
	}
	s, err := l.stores.Profiles.GetProfileStoreMut(device, context.Profile)
	if err != nil {
		return nil, err
	}
	profile := &s.Value
	if context.Controller == shared.ControllerEncoder {
		if int(context.Position) >= len(profile.Sliders) {
			return nil, fmt.Errorf("%w: slider %d on device %s", ErrNotFound, context.Position, context.Device)
		}
		return &profile.Sliders[context.Position], nil
	}
	if int(context.Position) >= len(profile.Keys) {
		return nil, fmt.Errorf("%w: key %d on device %s", ErrNotFound, context.Position, context.Device)
	}
	return &profile.Keys[context.Position], nil
}

// Instance resolves a configured instance by its full context, descending
// into container children for nonzero indices. An empty slot yields (nil, nil).
func (l *Locks) Instance(context shared.ActionContext) (*shared.ActionInstance, error) {
	slot, err := l.Slot(context.ToContext())
	if err != nil {
		return nil, err
	}
	instance := *slot
	if instance == nil || context.Index == 0 {
		return instance, nil
	}
	for _, child := range instance.Children {
		if child.Context.Index == context.Index {
			return child, nil
		}
	}
	return nil, nil
}

// SaveProfile persists the device's currently selected profile.
func (l *Locks) SaveProfile(device string) error {
	selected, err := l.stores.DeviceCfg.GetSelectedProfile(device)
	if err != nil {
		return err
	}
	return l.SaveProfileNamed(device, selected)
}

// SaveProfileNamed persists a specific loaded profile of the device,
// selected or not.
func (l *Locks) SaveProfileNamed(device, profile string) error {
	s, err := l.stores.Profiles.GetProfileStore(device, profile)
	if err != nil {
		return err
	}
	return s.Save()
}
