package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/griddeck/griddeck/internal/config"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStoreDefaultThenSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.json")

	s, err := New(path, sample{Name: "fresh"}, Codec[sample]{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Value.Name != "fresh" {
		t.Fatalf("expected default value, got %+v", s.Value)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatal("New must not create the file")
	}

	s.Value.Count = 3
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := New(path, sample{}, Codec[sample]{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Value != (sample{Name: "fresh", Count: 3}) {
		t.Fatalf("unexpected reloaded value: %+v", reloaded.Value)
	}
}

func TestStoreCustomCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coded.json")

	codec := Codec[sample]{
		Encode: func(v *sample) (any, error) {
			return map[string]any{"n": v.Name}, nil
		},
		Decode: func(data []byte, path string) (sample, error) {
			var disk struct {
				N string `json:"n"`
			}
			err := json.Unmarshal(data, &disk)
			return sample{Name: disk.N}, err
		},
	}

	s, err := New(path, sample{Name: "x"}, codec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := New(path, sample{}, codec)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Value.Name != "x" {
		t.Fatalf("codec round trip failed: %+v", reloaded.Value)
	}
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path, sample{}, Codec[sample]{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestGetSettingsDefaults(t *testing.T) {
	paths := config.GetPaths(t.TempDir())
	s, err := GetSettings(paths)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if s.Value.Language != "en" || !s.Value.DarkTheme || s.Value.Brightness != 50 {
		t.Fatalf("unexpected defaults: %+v", s.Value)
	}
}
