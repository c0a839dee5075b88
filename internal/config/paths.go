package config

import (
	"os"
	"path/filepath"
)

// DefaultProfileName is the profile created for a device on first use.
const DefaultProfileName = "Default"

// Paths contains all on-disk locations used by a griddeck instance.
type Paths struct {
	Root        string // Config root directory
	ProfilesDir string // Per-device profile stores
	ImagesDir   string // Externalized inline state images
	PluginsDir  string // Installed plugin packages
	SettingsDir string // Per-plugin global settings blobs
	LogsDir     string // Per-plugin log files
	TempDir     string // Staging area for installs/upgrades
	Settings    string // Application settings file
}

// GetPaths returns the directory layout rooted at the given config root.
// An empty root resolves to GetHome().
func GetPaths(root string) Paths {
	if root == "" {
		root = GetHome()
	}
	return Paths{
		Root:        root,
		ProfilesDir: filepath.Join(root, "profiles"),
		ImagesDir:   filepath.Join(root, "images"),
		PluginsDir:  filepath.Join(root, "plugins"),
		SettingsDir: filepath.Join(root, "settings"),
		LogsDir:     filepath.Join(root, "logs"),
		TempDir:     filepath.Join(root, "temp"),
		Settings:    filepath.Join(root, "settings.json"),
	}
}

// GetHome returns the griddeck home directory (~/.griddeck), overridable
// via GRIDDECK_HOME.
func GetHome() string {
	if env := os.Getenv("GRIDDECK_HOME"); env != "" {
		return env
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".griddeck")
}

// DeviceProfilesDir returns the directory holding a device's profile files.
func (p Paths) DeviceProfilesDir(device string) string {
	return filepath.Join(p.ProfilesDir, device)
}

// ProfileFile returns the backing file for a named profile of a device.
// Profile names may contain slashes to form folders.
func (p Paths) ProfileFile(device, profile string) string {
	return filepath.Join(p.ProfilesDir, device, filepath.FromSlash(profile)+".json")
}

// DeviceConfigFile returns the selected-profile pointer file for a device.
func (p Paths) DeviceConfigFile(device string) string {
	return filepath.Join(p.ProfilesDir, device+".json")
}

// PluginDir returns the package directory of an installed plugin.
func (p Paths) PluginDir(id string) string {
	return filepath.Join(p.PluginsDir, id)
}

// PluginSettingsFile returns the global settings blob for a plugin.
func (p Paths) PluginSettingsFile(id string) string {
	return filepath.Join(p.SettingsDir, id+".json")
}

// PluginLogFile returns the log file that captures a plugin's output.
func (p Paths) PluginLogFile(id string) string {
	return filepath.Join(p.LogsDir, id+".log")
}

// EnsureDirs creates the directory structure if it does not exist.
func (p Paths) EnsureDirs() error {
	dirs := []string{
		p.Root,
		p.ProfilesDir,
		p.ImagesDir,
		p.PluginsDir,
		p.SettingsDir,
		p.LogsDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
