package rights

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is one right declaration in the YAML catalog.
type CatalogEntry struct {
	ID           string              `yaml:"id"`
	Category     string              `yaml:"category"`
	Kind         string              `yaml:"kind"` // "base" (default) or "group"
	Values       []string            `yaml:"values"`
	DependsOn    string              `yaml:"depends_on"`
	Groups       []string            `yaml:"groups"`
	Restrictions map[string][]string `yaml:"restrictions"`
}

// Catalog is the top-level YAML document declaring the right set.
type Catalog struct {
	Rights []CatalogEntry `yaml:"rights"`
}

// LoadCatalogFile reads a YAML catalog and registers every declared right.
// Entries may depend only on rights declared earlier in the file or already
// present in the registry; self-checking rights carry runtime collaborators
// and are registered in code, not declared here.
func LoadCatalogFile(reg *Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open rights catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(reg, f)
}

// LoadCatalog parses a YAML catalog from r and registers every entry.
func LoadCatalog(reg *Registry, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read rights catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("failed to parse rights catalog: %w", err)
	}

	for i, entry := range catalog.Rights {
		def, err := buildEntry(reg, entry)
		if err != nil {
			return fmt.Errorf("rights catalog entry %d (%s): %w", i, entry.ID, err)
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("rights catalog entry %d (%s): %w", i, entry.ID, err)
		}
	}
	return nil
}

func buildEntry(reg *Registry, entry CatalogEntry) (Definition, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("missing right id")
	}
	if len(entry.Values) == 0 {
		return nil, fmt.Errorf("missing value set")
	}

	values := make([]Value, 0, len(entry.Values))
	for _, name := range entry.Values {
		v, err := ParseValue(name)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	var parent Definition
	if entry.DependsOn != "" {
		var err error
		parent, err = reg.GetByString(entry.DependsOn)
		if err != nil {
			return nil, fmt.Errorf("depends_on must reference an earlier entry: %w", err)
		}
	}

	switch entry.Kind {
	case "", "base":
		if len(entry.Groups) > 0 || len(entry.Restrictions) > 0 {
			return nil, fmt.Errorf("base right cannot declare groups or restrictions")
		}
		return NewBase(ID(entry.ID), Category(entry.Category), values, parent), nil

	case "group":
		if len(entry.Groups) == 0 {
			return nil, fmt.Errorf("group right requires at least one group")
		}
		def := NewGroupGated(ID(entry.ID), Category(entry.Category), values, entry.Groups, parent)
		for group, names := range entry.Restrictions {
			restricted := make([]Value, 0, len(names))
			for _, name := range names {
				v, err := ParseValue(name)
				if err != nil {
					return nil, err
				}
				restricted = append(restricted, v)
			}
			def.Restrict(group, restricted...)
		}
		return def, nil

	default:
		return nil, fmt.Errorf("unknown right kind %q", entry.Kind)
	}
}
