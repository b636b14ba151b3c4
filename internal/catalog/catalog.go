// Package catalog holds the medicine metadata shown next to a recognized label
// and supplies the default label order of the model.
package catalog

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"medscan-go/internal/core/recognizer"

	"gopkg.in/yaml.v3"
)

//go:embed medicines.yaml
var defaultCatalog []byte

// Medicine describes one class of the model.
type Medicine struct {
	Name       string `yaml:"name" json:"name"`
	Class      string `yaml:"class" json:"class,omitempty"`
	Indication string `yaml:"indication" json:"indication,omitempty"`
}

type catalogFile struct {
	Medicines []Medicine `yaml:"medicines"`
}

// Catalog is immutable after loading.
type Catalog struct {
	entries []Medicine
	byName  map[string]Medicine
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalog)
}

// Load reads a catalog file; an empty path selects the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	c, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(f.Medicines) == 0 {
		return nil, fmt.Errorf("catalog has no medicines")
	}

	c := &Catalog{
		entries: make([]Medicine, 0, len(f.Medicines)),
		byName:  make(map[string]Medicine, len(f.Medicines)),
	}
	for i, m := range f.Medicines {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return nil, fmt.Errorf("medicine %d has no name", i)
		}
		if _, dup := c.byName[key(m.Name)]; dup {
			return nil, fmt.Errorf("medicine %q listed twice", m.Name)
		}
		c.entries = append(c.entries, m)
		c.byName[key(m.Name)] = m
	}
	return c, nil
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Lookup finds a medicine by name, case-insensitively.
func (c *Catalog) Lookup(name string) (Medicine, bool) {
	m, ok := c.byName[key(name)]
	return m, ok
}

// Medicines returns the entries in catalog order.
func (c *Catalog) Medicines() []Medicine {
	out := make([]Medicine, len(c.entries))
	copy(out, c.entries)
	return out
}

// Names returns the medicine names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.entries))
	for i, m := range c.entries {
		out[i] = m.Name
	}
	return out
}

// LoadLabels reads the label order of the model. An empty path uses the
// catalog order. YAML files may hold a plain list or a "labels" key; any
// other file is read line by line, skipping blanks and # comments.
func LoadLabels(path string, c *Catalog) (*recognizer.LabelSet, error) {
	if path == "" {
		return recognizer.NewLabelSet(c.Names())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label file %s: %w", path, err)
	}

	var names []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		names, err = parseYAMLLabels(data)
	default:
		names, err = parseTextLabels(data)
	}
	if err != nil {
		return nil, fmt.Errorf("label file %s: %w", path, err)
	}
	return recognizer.NewLabelSet(names)
}

func parseYAMLLabels(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Labels []string `yaml:"labels"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}
	return wrapped.Labels, nil
}

func parseTextLabels(data []byte) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, sc.Err()
}
