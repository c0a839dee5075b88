package store

import (
	"sync"

	"github.com/griddeck/griddeck/internal/config"
)

// Settings are application-level options persisted at settings.json under
// the config root.
type Settings struct {
	Language   string `json:"language"`
	Autolaunch bool   `json:"autolaunch"`
	DarkTheme  bool   `json:"darktheme"`
	Brightness uint8  `json:"brightness"`
	Developer  bool   `json:"developer"`
}

// DefaultSettings returns the settings used when no file exists yet.
func DefaultSettings() Settings {
	return Settings{
		Language:   "en",
		DarkTheme:  true,
		Brightness: 50,
	}
}

// GetSettings loads the application settings store.
func GetSettings(paths config.Paths) (*Store[Settings], error) {
	return New(paths.Settings, DefaultSettings(), Codec[Settings]{})
}

// SettingsStore guards the settings store so the API, the webserver and
// plugin launches can read and update it concurrently.
type SettingsStore struct {
	mu    sync.Mutex
	store *Store[Settings]
}

// OpenSettings loads the application settings behind a lock.
func OpenSettings(paths config.Paths) (*SettingsStore, error) {
	s, err := GetSettings(paths)
	if err != nil {
		return nil, err
	}
	return &SettingsStore{store: s}, nil
}

// Get returns a snapshot of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Value
}

// Update mutates the settings under the lock and persists the result.
func (s *SettingsStore) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.store.Value)
	return s.store.Save()
}
