package plugins

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/griddeck/griddeck/internal/config"
	"github.com/griddeck/griddeck/internal/eventbus"
	"github.com/griddeck/griddeck/internal/shared"
	"github.com/griddeck/griddeck/internal/version"
)

// DeviceSource provides the device snapshot included in registration info
// blobs. Implemented by the device registry.
type DeviceSource interface {
	List() map[string]shared.DeviceInfo
}

// Options configures a Manager.
type Options struct {
	Paths      config.Paths
	Bus        *eventbus.Bus
	BrokerPort int
	Devices    DeviceSource
	// Language feeds the registration info blob from settings. Optional.
	Language func() string
}

// Manager owns the plugin catalogue and the lifecycle of running plugin
// instances.
type Manager struct {
	paths      config.Paths
	bus        *eventbus.Bus
	brokerPort int
	devices    DeviceSource
	language   func() string

	mu         sync.RWMutex
	categories map[string][]shared.Action
	versions   map[string]string
	namespaces map[string]string
	instances  map[string]instance
}

// NewManager constructs a manager with an empty catalogue.
func NewManager(opts Options) *Manager {
	language := opts.Language
	if language == nil {
		language = func() string { return "en" }
	}
	return &Manager{
		paths:      opts.Paths,
		bus:        opts.Bus,
		brokerPort: opts.BrokerPort,
		devices:    opts.Devices,
		language:   language,
		categories: make(map[string][]shared.Action),
		versions:   make(map[string]string),
		namespaces: make(map[string]string),
		instances:  make(map[string]instance),
	}
}

// InitialiseAll starts every plugin found in the plugins directory. Each
// plugin initialises on its own goroutine so one slow binary does not delay
// the rest; failures are logged, not fatal.
func (m *Manager) InitialiseAll(ctx context.Context) error {
	dir := m.paths.PluginsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("plugins: create plugins dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("plugins: read plugins dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			log.Printf("[Plugins] skipping %s: not a directory", entry.Name())
			continue
		}
		path := filepath.Join(dir, entry.Name())
		go func() {
			if err := m.Initialise(ctx, path); err != nil {
				log.Printf("[Plugins] failed to initialise plugin at %s: %v", path, err)
			}
		}()
	}
	return nil
}

// Initialise loads one plugin package: manifest parsing, catalogue
// registration and process/webview launch.
func (m *Manager) Initialise(ctx context.Context, dir string) error {
	pluginID := filepath.Base(dir)

	manifest, err := ReadManifest(dir)
	if err != nil {
		return err
	}
	actions := manifest.ResolveActions(pluginID, dir)

	strategy, err := ResolveStrategy(manifest)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", pluginID, err)
	}

	m.mu.Lock()
	m.categories[manifest.Category] = append(m.categories[manifest.Category], actions...)
	m.versions[pluginID] = manifest.Version
	if len(manifest.DeviceNamespace) == 2 {
		m.namespaces[manifest.DeviceNamespace] = pluginID
	}
	m.mu.Unlock()

	info := MakeInfo(pluginID, manifest.Version, m.language(), strategy.Mode == ModeWine, m.deviceSnapshot())

	var inst instance
	if strategy.Mode == ModeWebview {
		inst, err = launchWebview(pluginID, filepath.Join(dir, strategy.CodePath), m.brokerPort, info)
	} else {
		inst, err = launch(strategy, dir, m.paths.PluginLogFile(pluginID), m.brokerPort, pluginID, info)
	}
	if err != nil {
		m.pruneCatalogue(pluginID)
		return err
	}

	m.mu.Lock()
	if old, ok := m.instances[pluginID]; ok {
		// A stale instance from a previous initialisation; replace it.
		go old.Stop()
	}
	m.instances[pluginID] = inst
	m.mu.Unlock()

	log.Printf("[Plugins] started %s %s (%s)", pluginID, manifest.Version, strategy.Mode)
	eventbus.Publish(ctx, m.bus, eventbus.PluginLifecycle, eventbus.SourcePluginManager, eventbus.PluginLifecycleEvent{
		Plugin: pluginID,
		State:  eventbus.PluginStateStarted,
	})
	eventbus.Publish(ctx, m.bus, eventbus.UIPlugins, eventbus.SourcePluginManager, eventbus.PluginsChangedEvent{})
	return nil
}

func (m *Manager) deviceSnapshot() map[string]shared.DeviceInfo {
	if m.devices == nil {
		return nil
	}
	return m.devices.List()
}

// Deactivate stops a plugin's running instance.
func (m *Manager) Deactivate(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	inst, ok := m.instances[pluginID]
	delete(m.instances, pluginID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: no running instance for %s", ErrNotFound, pluginID)
	}
	if err := inst.Stop(); err != nil {
		log.Printf("[Plugins] error stopping %s: %v", pluginID, err)
	}

	log.Printf("[Plugins] stopped %s", pluginID)
	eventbus.Publish(ctx, m.bus, eventbus.PluginLifecycle, eventbus.SourcePluginManager, eventbus.PluginLifecycleEvent{
		Plugin: pluginID,
		State:  eventbus.PluginStateStopped,
	})
	return nil
}

// DeactivateAll stops every running instance. Used at shutdown.
func (m *Manager) DeactivateAll(ctx context.Context) {
	m.mu.Lock()
	instances := m.instances
	m.instances = make(map[string]instance)
	m.mu.Unlock()

	for pluginID, inst := range instances {
		if err := inst.Stop(); err != nil {
			log.Printf("[Plugins] error stopping %s: %v", pluginID, err)
		}
		eventbus.Publish(ctx, m.bus, eventbus.PluginLifecycle, eventbus.SourcePluginManager, eventbus.PluginLifecycleEvent{
			Plugin: pluginID,
			State:  eventbus.PluginStateStopped,
			Reason: "shutdown",
		})
	}
}

// pruneCatalogue drops a plugin's actions, version and namespace claims.
func (m *Manager) pruneCatalogue(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for category, actions := range m.categories {
		kept := actions[:0]
		for _, action := range actions {
			if action.Plugin != pluginID {
				kept = append(kept, action)
			}
		}
		if len(kept) == 0 {
			delete(m.categories, category)
		} else {
			m.categories[category] = kept
		}
	}
	delete(m.versions, pluginID)
	for prefix, owner := range m.namespaces {
		if owner == pluginID {
			delete(m.namespaces, prefix)
		}
	}
}

// HasAction reports whether the action id is present in the catalogue.
func (m *Manager) HasAction(uuid string) bool {
	_, ok := m.Action(uuid)
	return ok
}

// Action resolves an action definition by uuid.
func (m *Manager) Action(uuid string) (shared.Action, bool) {
	if uuid == shared.MultiActionUUID || uuid == shared.ToggleActionUUID {
		return builtinContainerAction(uuid), true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, actions := range m.categories {
		for _, action := range actions {
			if action.UUID == uuid {
				return action, true
			}
		}
	}
	return shared.Action{}, false
}

// Categories returns a snapshot of the catalogue keyed by category name.
func (m *Manager) Categories() map[string][]shared.Action {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(map[string][]shared.Action, len(m.categories))
	for category, actions := range m.categories {
		snapshot[category] = append([]shared.Action(nil), actions...)
	}
	return snapshot
}

// Installed lists the ids of every initialised plugin.
func (m *Manager) Installed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.versions))
	for id := range m.versions {
		ids = append(ids, id)
	}
	return ids
}

// InstalledVersion reports the manifest version of an initialised plugin.
func (m *Manager) InstalledVersion(pluginID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[pluginID]
	return v, ok
}

// NamespaceOwner resolves a device-id prefix claim.
func (m *Manager) NamespaceOwner(prefix string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.namespaces[prefix]
	return owner, ok
}

// builtinContainerAction synthesizes the catalogue entries for the two
// container actions, which ship with the hub rather than any plugin.
func builtinContainerAction(uuid string) shared.Action {
	name := "Multi Action"
	if uuid == shared.ToggleActionUUID {
		name = "Toggle Action"
	}
	state := shared.ActionState{Show: true}
	state.DefaultStateValues()
	return shared.Action{
		Name:                 name,
		UUID:                 uuid,
		Plugin:               uuid,
		VisibleInActionsList: true,
		Controllers:          []string{shared.ControllerKeypad},
		States:               []shared.ActionState{state},
	}
}

// Remove uninstalls a plugin: stop it, delete its package directory and
// prune the catalogue. Callers are responsible for removing the plugin's
// configured instances first so devices and inspectors get their
// disappearance events.
func (m *Manager) Remove(ctx context.Context, pluginID string) error {
	if err := m.Deactivate(ctx, pluginID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := os.RemoveAll(m.paths.PluginDir(pluginID)); err != nil {
		return fmt.Errorf("plugins: remove %s: %w", pluginID, err)
	}
	m.pruneCatalogue(pluginID)
	eventbus.Publish(ctx, m.bus, eventbus.UIPlugins, eventbus.SourcePluginManager, eventbus.PluginsChangedEvent{})
	return nil
}

// Reload restarts a plugin from its package directory.
func (m *Manager) Reload(ctx context.Context, pluginID string) error {
	if err := m.Deactivate(ctx, pluginID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	m.pruneCatalogue(pluginID)
	return m.Initialise(ctx, m.paths.PluginDir(pluginID))
}

// ExtractFunc unpacks an archive into the plugins directory, producing the
// package directory named after the plugin id.
type ExtractFunc func(archive []byte, pluginsDir string) error

// Install unpacks a plugin archive and initialises it, keeping the previous
// installation aside until the new one starts; on failure the old package
// is restored and restarted.
func (m *Manager) Install(ctx context.Context, pluginID string, archive []byte, extract ExtractFunc) error {
	_ = m.Deactivate(ctx, pluginID)
	m.pruneCatalogue(pluginID)

	target := m.paths.PluginDir(pluginID)
	backup := filepath.Join(m.paths.TempDir, pluginID)

	if _, err := os.Stat(target); err == nil {
		if err := os.MkdirAll(m.paths.TempDir, 0o755); err != nil {
			return fmt.Errorf("plugins: create temp dir: %w", err)
		}
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("plugins: set aside old %s: %w", pluginID, err)
		}
	}

	restore := func() {
		_ = os.RemoveAll(target)
		if _, err := os.Stat(backup); err == nil {
			_ = os.Rename(backup, target)
			if err := m.Initialise(ctx, target); err != nil {
				log.Printf("[Plugins] failed to restart previous %s: %v", pluginID, err)
			}
		}
	}

	if err := extract(archive, m.paths.PluginsDir); err != nil {
		restore()
		return fmt.Errorf("plugins: extract %s: %w", pluginID, err)
	}
	if err := m.Initialise(ctx, target); err != nil {
		restore()
		return err
	}

	_ = os.RemoveAll(backup)
	return nil
}

// UpgradeBuiltins refreshes bundled plugins in the user's plugin directory
// when the bundled copy is newer or nothing is installed. The replacement
// is staged so a failed copy restores the previous installation.
func (m *Manager) UpgradeBuiltins(bundledDir string) error {
	entries, err := os.ReadDir(bundledDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("plugins: read bundled dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginID := entry.Name()
		bundled := filepath.Join(bundledDir, pluginID)
		installed := m.paths.PluginDir(pluginID)

		bundledManifest, err := ReadManifest(bundled)
		if err != nil {
			log.Printf("[Plugins] bundled %s has no readable manifest: %v", pluginID, err)
			continue
		}
		if installedManifest, err := ReadManifest(installed); err == nil {
			if !version.Newer(bundledManifest.Version, installedManifest.Version) {
				continue
			}
		}

		if err := m.replaceInstalled(bundled, installed, pluginID); err != nil {
			log.Printf("[Plugins] failed to upgrade builtin %s: %v", pluginID, err)
			continue
		}
		log.Printf("[Plugins] upgraded builtin %s to %s", pluginID, bundledManifest.Version)
	}
	return nil
}

func (m *Manager) replaceInstalled(bundled, installed, pluginID string) error {
	backup := filepath.Join(m.paths.TempDir, pluginID+".previous")
	hadPrevious := false
	if _, err := os.Stat(installed); err == nil {
		if err := os.MkdirAll(m.paths.TempDir, 0o755); err != nil {
			return err
		}
		if err := os.Rename(installed, backup); err != nil {
			return err
		}
		hadPrevious = true
	}

	if err := os.CopyFS(installed, os.DirFS(bundled)); err != nil {
		_ = os.RemoveAll(installed)
		if hadPrevious {
			_ = os.Rename(backup, installed)
		}
		return err
	}
	if hadPrevious {
		_ = os.RemoveAll(backup)
	}
	return nil
}
