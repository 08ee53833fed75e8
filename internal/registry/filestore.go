package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore is a flat JSON object on disk mapping string keys to T. Every
// write is a read-modify-write of the whole file under a mutex, finished by
// an atomic rename. A file that does not parse is treated as empty and is
// replaced on the next write.
type JSONStore[T any] struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func OpenJSONStore[T any](path string, logger *slog.Logger) (*JSONStore[T], error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &JSONStore[T]{path: path, logger: logger}, nil
}

func (s *JSONStore[T]) Path() string { return s.path }

func (s *JSONStore[T]) load() (map[string]T, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]T{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]T{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("store file corrupted, starting empty", "path", s.path, "error", err)
		return map[string]T{}, nil
	}
	return out, nil
}

func (s *JSONStore[T]) save(entries map[string]T) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *JSONStore[T]) Get(key string) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		var zero T
		return zero, false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

// Upsert replaces the value under key with fn(previous, existed).
func (s *JSONStore[T]) Upsert(key string, fn func(prev T, exists bool) T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		var zero T
		return zero, err
	}
	prev, ok := entries[key]
	next := fn(prev, ok)
	entries[key] = next
	if err := s.save(entries); err != nil {
		var zero T
		return zero, err
	}
	return next, nil
}

func (s *JSONStore[T]) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	return len(entries), err
}
