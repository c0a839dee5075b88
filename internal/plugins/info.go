package plugins

import (
	"runtime"

	"github.com/griddeck/griddeck/internal/shared"
	"github.com/griddeck/griddeck/internal/version"
)

// The info parameter passed to plugins and property inspectors during
// registration. Field names and colour tokens follow the ecosystem
// convention plugins are written against, hence the mixed casing.

type ApplicationInfo struct {
	Font            string `json:"font"`
	Language        string `json:"language"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platformVersion"`
	Version         string `json:"version"`
}

type PluginInfo struct {
	UUID    string `json:"uuid"`
	Version string `json:"version"`
}

type ColoursInfo struct {
	ButtonPressedBackgroundColor string `json:"buttonPressedBackgroundColor"`
	ButtonPressedBorderColor     string `json:"buttonPressedBorderColor"`
	ButtonPressedTextColor       string `json:"buttonPressedTextColor"`
	DisabledColor                string `json:"disabledColor"`
	HighlightColor               string `json:"highlightColor"`
	MouseDownColor               string `json:"mouseDownColor"`
}

type DeviceSizeInfo struct {
	Rows    uint8 `json:"rows"`
	Columns uint8 `json:"columns"`
}

type RegistrationDeviceInfo struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Size DeviceSizeInfo `json:"size"`
	Type uint8          `json:"type"`
}

type Info struct {
	Application      ApplicationInfo          `json:"application"`
	Plugin           PluginInfo               `json:"plugin"`
	DevicePixelRatio uint8                    `json:"devicePixelRatio"`
	Colors           ColoursInfo              `json:"colors"`
	Devices          []RegistrationDeviceInfo `json:"devices"`
}

// Wine-hosted plugins are told they run on windows regardless of the actual
// platform, with a fixed plausible build string.
const wineReportedBuild = "10.0.19045.4474"

// MakeInfo builds the registration info blob for one plugin.
func MakeInfo(uuid, pluginVersion, language string, wine bool, devices map[string]shared.DeviceInfo) Info {
	platform := runtime.GOOS
	platformVersion := ""
	if wine {
		platform = "windows"
		platformVersion = wineReportedBuild
	}

	deviceInfos := make([]RegistrationDeviceInfo, 0, len(devices))
	for _, device := range devices {
		deviceInfos = append(deviceInfos, RegistrationDeviceInfo{
			ID:   device.ID,
			Name: device.Name,
			Size: DeviceSizeInfo{Rows: device.Rows, Columns: device.Columns},
			Type: device.Type,
		})
	}

	return Info{
		Application: ApplicationInfo{
			Font:            "ui-sans-serif",
			Language:        language,
			Platform:        platform,
			PlatformVersion: platformVersion,
			Version:         version.String(),
		},
		Plugin:           PluginInfo{UUID: uuid, Version: pluginVersion},
		DevicePixelRatio: 0,
		Colors: ColoursInfo{
			ButtonPressedBackgroundColor: "#303030FF",
			ButtonPressedBorderColor:     "#646464FF",
			ButtonPressedTextColor:       "#969696FF",
			DisabledColor:                "#F7821B59",
			HighlightColor:               "#F7821BFF",
			MouseDownColor:               "#CF6304FF",
		},
		Devices: deviceInfos,
	}
}
