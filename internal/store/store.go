// Package store provides JSON-file persistence for mutable values. Each
// Store owns exactly one file; callers serialize access through the maps
// that hold the stores.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Codec customizes how a stored value converts to and from its on-disk JSON
// shape. The zero Codec passes values through encoding/json unchanged.
type Codec[T any] struct {
	// Encode converts the in-memory value to its disk representation.
	Encode func(value *T) (any, error)
	// Decode reconstructs the in-memory value from raw disk JSON. The file
	// path is provided so positional context omitted on disk can be restored.
	Decode func(data []byte, path string) (T, error)
}

// Store persists a single value as a JSON file.
type Store[T any] struct {
	Value T
	path  string
	codec Codec[T]
}

// New loads the value at path, or initializes it from def when the file does
// not exist. The file is not written until Save is called.
func New[T any](path string, def T, codec Codec[T]) (*Store[T], error) {
	s := &Store[T]{Value: def, path: path, codec: codec}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	if codec.Decode != nil {
		value, err := codec.Decode(data, path)
		if err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", path, err)
		}
		s.Value = value
		return s, nil
	}

	if err := json.Unmarshal(data, &s.Value); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store[T]) Path() string {
	return s.path
}

// Save serializes the current value back to its file, creating parent
// directories as needed.
func (s *Store[T]) Save() error {
	var (
		disk any = s.Value
		err  error
	)
	if s.codec.Encode != nil {
		disk, err = s.codec.Encode(&s.Value)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", s.path, err)
		}
	}

	data, err := json.MarshalIndent(disk, "", "\t")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir for %s: %w", s.path, err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	return nil
}
