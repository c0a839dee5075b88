package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/griddeck/griddeck/internal/shared"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestReadManifestEcosystemDialect(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.json", `{
		"Name": "Counter",
		"Author": "Example Dev",
		"Version": "2.1.0",
		"Icon": "icons/plugin",
		"OS": [{"Platform": "linux"}, {"Platform": "windows"}],
		"CodePath": "counter",
		"CodePathWin": "counter.exe",
		"Actions": [{
			"Name": "Increment",
			"UUID": "com.example.counter.increment",
			"Icon": "icons/increment",
			"Tooltip": "Add one",
			"SupportedInMultiActions": true,
			"States": [
				{"Image": "actionDefaultImage", "Title": "+1", "FontSize": 12},
				{"Image": "icons/lit", "ShowTitle": false, "TitleColor": "#ff0000"}
			]
		}]
	}`)

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)

	assert.Equal(t, "Counter", manifest.Name)
	assert.Equal(t, "2.1.0", manifest.Version)
	assert.Equal(t, "Custom", manifest.Category)
	assert.Equal(t, "counter", manifest.CodePath)
	assert.Equal(t, "counter.exe", manifest.CodePathWindows)
	require.Len(t, manifest.OS, 2)
	assert.Equal(t, "linux", manifest.OS[0].Platform)

	require.Len(t, manifest.Actions, 1)
	action := manifest.Actions[0]
	assert.Equal(t, "com.example.counter.increment", action.UUID)
	assert.True(t, action.SupportedInMultiActions)
	require.Len(t, action.States, 2)

	first := action.States[0].toState()
	assert.Equal(t, "+1", first.Text)
	assert.True(t, first.Show)
	assert.Equal(t, "12", first.Size)
	assert.Equal(t, "#f2f2f2", first.Colour)

	second := action.States[1].toState()
	assert.False(t, second.Show)
	assert.Equal(t, "#ff0000", second.Colour)
	assert.Equal(t, "16", second.Size)
}

func TestReadManifestPlatformOverlay(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.json", `{
		"name": "Overlaid",
		"author": "Example Dev",
		"version": "1.0.0",
		"icon": "icon",
		"os": [{"platform": "linux"}, {"platform": "mac"}],
		"code_path": "plugin.js",
		"actions": []
	}`)
	writeManifest(t, dir, fmt.Sprintf("manifest.%s.json", runtime.GOOS), `{
		"icon": "icon-native",
		"device_namespace": "ov"
	}`)

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)

	assert.Equal(t, "icon-native", manifest.Icon, "overlay value wins")
	assert.Equal(t, "Overlaid", manifest.Name, "base values survive the merge")
	assert.Equal(t, "ov", manifest.DeviceNamespace)
}

func TestReadManifestCanonicalKeyWinsOverAlias(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.json", `{
		"Name": "Aliased",
		"name": "Canonical",
		"author": "x", "version": "1.0.0", "icon": "i",
		"os": [{"platform": "linux"}],
		"code_path": "p",
		"actions": []
	}`)

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "Canonical", manifest.Name)
}

func TestResolveActions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "icons"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "icons", "increment.svg"), []byte("<svg/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pi.html"), []byte("<html></html>"), 0o644))

	manifest := &Manifest{
		PropertyInspectorPath: "pi.html",
		Actions: []manifestAction{{
			Name: "Increment",
			UUID: "com.example.counter.increment",
			Icon: "icons/increment",
			States: []manifestState{
				{Image: "actionDefaultImage"},
				{Image: "icons/lit"},
			},
		}},
	}

	actions := manifest.ResolveActions("com.example.counter", dir)
	require.Len(t, actions, 1)
	action := actions[0]

	assert.Equal(t, "com.example.counter", action.Plugin)
	assert.Equal(t, filepath.Join(dir, "icons", "increment.svg"), action.Icon, "existing svg wins")
	assert.True(t, action.VisibleInActionsList, "visibility defaults on")
	assert.Equal(t, []string{shared.ControllerKeypad}, action.Controllers)
	assert.Equal(t, filepath.Join(dir, "pi.html"), action.PropertyInspector, "manifest-level inspector path applies")

	require.Len(t, action.States, 2)
	assert.Equal(t, action.Icon, action.States[0].Image, "actionDefaultImage resolves to the action icon")
	assert.Equal(t, filepath.Join(dir, "icons", "lit")+".png", action.States[1].Image, "missing files fall back to the png path")
}

func TestResolveStrategy(t *testing.T) {
	native := currentPlatform()

	cases := []struct {
		name     string
		manifest Manifest
		wantMode Mode
		wantPath string
		wantErr  error
	}{
		{
			name:     "native binary on current platform",
			manifest: Manifest{OS: []OSEntry{{Platform: native}}, CodePath: "plugin"},
			wantMode: ModeNative,
			wantPath: "plugin",
		},
		{
			name:     "html entry runs in the page host",
			manifest: Manifest{OS: []OSEntry{{Platform: native}}, CodePath: "index.html"},
			wantMode: ModeWebview,
			wantPath: "index.html",
		},
		{
			name:     "script entry runs under node",
			manifest: Manifest{OS: []OSEntry{{Platform: native}}, CodePath: "main.mjs"},
			wantMode: ModeNode,
			wantPath: "main.mjs",
		},
		{
			name:     "unsupported platform list",
			manifest: Manifest{OS: []OSEntry{{Platform: "solaris"}}, CodePath: "plugin"},
			wantErr:  ErrUnsupported,
		},
		{
			name:    "no code path",
			manifest: Manifest{OS: []OSEntry{{Platform: native}}},
			wantErr: ErrUnsupported,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			strategy, err := ResolveStrategy(&tc.manifest)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantMode, strategy.Mode)
			assert.Equal(t, tc.wantPath, strategy.CodePath)
		})
	}
}

func TestResolveStrategyWineFallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("windows runs windows plugins natively")
	}
	manifest := Manifest{
		OS:              []OSEntry{{Platform: "windows"}},
		CodePath:        "plugin.exe",
		CodePathWindows: "plugin-win.exe",
	}
	strategy, err := ResolveStrategy(&manifest)
	require.NoError(t, err)
	assert.Equal(t, ModeWine, strategy.Mode)
	assert.Equal(t, "plugin-win.exe", strategy.CodePath)
}

func TestRegistrationArgs(t *testing.T) {
	info := MakeInfo("com.example.counter", "2.1.0", "en", false, nil)
	args, err := registrationArgs(12345, "com.example.counter", info)
	require.NoError(t, err)

	require.Len(t, args, 8)
	assert.Equal(t, []string{"-port", "12345", "-pluginUUID", "com.example.counter", "-registerEvent", "registerPlugin"}, args[:6])
	assert.Equal(t, "-info", args[6])
	assert.Contains(t, args[7], `"uuid":"com.example.counter"`)
	assert.Contains(t, args[7], `"version":"2.1.0"`)
}
