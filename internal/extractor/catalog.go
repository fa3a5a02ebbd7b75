package extractor

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Catalog lists per-source overrides read from a YAML file:
//
//	sources:
//	  - code: tepco
//	    enabled: false
//	  - code: kepco
//	    base_url: https://staging.example.jp
type Catalog struct {
	Sources []CatalogEntry `yaml:"sources"`
}

// CatalogEntry overrides one registered source. Empty fields keep the
// built-in value; Enabled defaults to true.
type CatalogEntry struct {
	Code    string `yaml:"code"`
	Enabled *bool  `yaml:"enabled"`
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

// LoadCatalog reads a catalogue file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalogue YAML.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, eris.Wrap(err, "parse catalog")
	}
	for i, entry := range c.Sources {
		if normalizeCode(entry.Code) == "" {
			return Catalog{}, eris.Errorf("catalog entry %d has no code", i)
		}
	}
	return c, nil
}

// Apply returns a new registry with the catalogue's overrides applied to
// base. Disabled sources are left out; unknown codes are an error.
func (c Catalog) Apply(base *Registry) (*Registry, error) {
	overrides := make(map[string]CatalogEntry, len(c.Sources))
	for _, entry := range c.Sources {
		code := normalizeCode(entry.Code)
		if _, err := base.Get(code); err != nil {
			return nil, err
		}
		overrides[code] = entry
	}

	out := NewRegistry()
	for _, e := range base.All() {
		entry, ok := overrides[normalizeCode(e.Source().Code)]
		if !ok {
			out.Register(e)
			continue
		}
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		out.Register(override(e, entry))
	}
	return out, nil
}

func override(e Extractor, entry CatalogEntry) Extractor {
	site, ok := e.(*siteExtractor)
	if !ok || (entry.Name == "" && entry.BaseURL == "") {
		return e
	}
	source := site.Source()
	if entry.Name != "" {
		source.Name = entry.Name
	}
	if entry.BaseURL != "" {
		source.BaseURL = entry.BaseURL
	}
	return site.withSource(source)
}
