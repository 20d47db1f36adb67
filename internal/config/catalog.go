package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/content-pipeline/internal/types"
)

// Catalog lists the pipelines and personas seeded into the store at startup.
type Catalog struct {
	Personas  []types.Persona  `yaml:"personas"`
	Pipelines []types.Pipeline `yaml:"pipelines"`
}

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	personaIDs := make(map[string]bool, len(catalog.Personas))
	for i := range catalog.Personas {
		p := &catalog.Personas[i]
		if p.ID == "" {
			return nil, fmt.Errorf("catalog error: persona %d has no id", i)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("catalog error: persona %s: %w", p.ID, err)
		}
		personaIDs[p.ID] = true
	}

	for i := range catalog.Pipelines {
		p := &catalog.Pipelines[i]
		if p.ID == "" {
			return nil, fmt.Errorf("catalog error: pipeline %d has no id", i)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("catalog error: pipeline %s: %w", p.ID, err)
		}
		if p.PersonaID != "" && !personaIDs[p.PersonaID] {
			return nil, fmt.Errorf("catalog error: pipeline %s references unknown persona %s", p.ID, p.PersonaID)
		}
	}

	return &catalog, nil
}
