package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fractal-assets/flowengine/pkg/persistence"
)

type store struct {
	root string
	mu   *sync.RWMutex
}

// validateID rejects identifiers that would escape the collection directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", persistence.ErrInvalidID, id)
	}

	return nil
}

func (s *store) path(collection, id string) string {
	return filepath.Join(s.root, collection, id+".json")
}

// read loads one record. It reports os.ErrNotExist through the error chain.
func read[T any](s *store, collection, id string) (*T, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	body, err := os.ReadFile(s.path(collection, id)) // #nosec G304 -- id is validated above
	if err != nil {
		return nil, err
	}

	var record T

	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", collection, id, err)
	}

	return &record, nil
}

// write replaces a record atomically through a temp file and rename.
func write(s *store, collection, id string, record any) error {
	if err := validateID(id); err != nil {
		return err
	}

	dir := filepath.Join(s.root, collection)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s %s: %w", collection, id, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s %s: %w", collection, id, err)
	}

	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), s.path(collection, id))
}

func remove(s *store, collection, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.Remove(s.path(collection, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s %s: %w", collection, id, err)
	}

	return nil
}

// list loads every record of a collection. A missing directory is an empty collection.
func list[T any](s *store, collection string) ([]*T, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(s.root, collection)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	out := make([]*T, 0, len(files))

	for _, name := range files {
		record, err := read[T](s, collection, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, err
		}

		out = append(out, record)
	}

	return out, nil
}
