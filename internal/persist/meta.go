package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const metaFile = "world.yaml"

// Meta identifies a saved world.
type Meta struct {
	ID      uuid.UUID `yaml:"-"`
	Seed    int64     `yaml:"seed"`
	Created time.Time `yaml:"created"`
}

type metaDoc struct {
	ID      string    `yaml:"id"`
	Seed    int64     `yaml:"seed"`
	Created time.Time `yaml:"created"`
}

// SaveMeta writes world.yaml in dir.
func SaveMeta(dir string, m Meta) error {
	data, err := yaml.Marshal(metaDoc{ID: m.ID.String(), Seed: m.Seed, Created: m.Created.UTC()})
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, metaFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename meta: %w", err)
	}
	return nil
}

// LoadMeta reads world.yaml from dir. A missing file yields an error wrapping os.ErrNotExist.
func LoadMeta(dir string) (Meta, error) {
	path := filepath.Join(dir, metaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("read meta: %w", err)
	}
	var doc metaDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Meta{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: %s: world id: %v", ErrCorrupt, path, err)
	}
	return Meta{ID: id, Seed: doc.Seed, Created: doc.Created}, nil
}

// EnsureMeta loads the world metadata, creating it for seed when absent. The
// returned bool reports whether a new world was created.
func EnsureMeta(dir string, seed int64) (Meta, bool, error) {
	m, err := LoadMeta(dir)
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Meta{}, false, err
	}
	m = Meta{ID: uuid.New(), Seed: seed, Created: time.Now().UTC().Truncate(time.Second)}
	if err := SaveMeta(dir, m); err != nil {
		return Meta{}, false, err
	}
	return m, true, nil
}
