package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetPathsLayout(t *testing.T) {
	p := GetPaths("/tmp/gd")

	if p.ProfilesDir != filepath.Join("/tmp/gd", "profiles") {
		t.Fatalf("unexpected profiles dir: %s", p.ProfilesDir)
	}
	if got := p.ProfileFile("dev1", "Default"); got != filepath.Join("/tmp/gd", "profiles", "dev1", "Default.json") {
		t.Fatalf("unexpected profile file: %s", got)
	}
	if got := p.ProfileFile("dev1", "Folder/Nested"); got != filepath.Join("/tmp/gd", "profiles", "dev1", "Folder", "Nested.json") {
		t.Fatalf("unexpected nested profile file: %s", got)
	}
	if got := p.DeviceConfigFile("dev1"); got != filepath.Join("/tmp/gd", "profiles", "dev1.json") {
		t.Fatalf("unexpected device config file: %s", got)
	}
	if got := p.PluginSettingsFile("com.example.counter"); got != filepath.Join("/tmp/gd", "settings", "com.example.counter.json") {
		t.Fatalf("unexpected plugin settings file: %s", got)
	}
}

func TestGetHomeEnvOverride(t *testing.T) {
	t.Setenv("GRIDDECK_HOME", "/custom/home")
	if got := GetHome(); got != "/custom/home" {
		t.Fatalf("expected env override, got %s", got)
	}
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	p := GetPaths(filepath.Join(root, "cfg"))
	if err := p.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{p.ProfilesDir, p.ImagesDir, p.PluginsDir, p.SettingsDir, p.LogsDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
}
