package catalog

import (
	"fmt"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/llm4sql/llm4sql/internal/storage"
)

type manifest struct {
	Databases []Database `koanf:"databases"`
}

// LoadManifest reads a YAML list of databases. Relative local paths are
// resolved against the manifest's directory.
func LoadManifest(path string) ([]Database, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load database manifest %q: %w", path, err)
	}
	var m manifest
	if err := k.Unmarshal("", &m); err != nil {
		return nil, fmt.Errorf("decode database manifest %q: %w", path, err)
	}
	if len(m.Databases) == 0 {
		return nil, fmt.Errorf("database manifest %q lists no databases", path)
	}

	base := filepath.Dir(path)
	for i := range m.Databases {
		m.Databases[i].Path = relativeTo(base, m.Databases[i].Path)
		m.Databases[i].Diagram = relativeTo(base, m.Databases[i].Diagram)
	}
	return m.Databases, nil
}

func relativeTo(base, location string) string {
	if location == "" || storage.IsObjectURI(location) || filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(base, location)
}

// Load returns the manifest databases when manifestPath is set and the
// bundled samples under dataDir otherwise.
func Load(dataDir, manifestPath string) ([]Database, error) {
	if manifestPath == "" {
		return Defaults(dataDir), nil
	}
	return LoadManifest(manifestPath)
}
