package preset

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var defaultFiles embed.FS

// AnalysisPreset bundles the search limit and classification knobs for
// one named analysis profile.
type AnalysisPreset struct {
	Name               string `yaml:"-"`
	MoveTimeMillis     int    `yaml:"movetime_ms"`
	Depth              int    `yaml:"depth"`
	MultiPV            int    `yaml:"multipv"`
	BlunderThresholdCP int    `yaml:"blunder_threshold_cp"`
}

// Catalog holds the named presets, loaded from the embedded defaults and
// optionally overridden from a directory of YAML files.
type Catalog struct {
	mu   sync.RWMutex
	data map[string]AnalysisPreset
}

// Load reads the embedded preset catalog and applies overrides from dir
// if it is non-empty.
func Load(overrideDir string) (*Catalog, error) {
	c := &Catalog{data: make(map[string]AnalysisPreset)}

	raw, err := fs.ReadFile(defaultFiles, "presets.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded presets: %w", err)
	}
	if err := c.applyYAML(raw); err != nil {
		return nil, err
	}

	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns the preset registered under name.
func (c *Catalog) Get(name string) (AnalysisPreset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return AnalysisPreset{}, fmt.Errorf("unknown analysis preset %q", name)
	}
	return p, nil
}

// Names lists the registered preset names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for k := range c.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read preset dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasSuffix(n, ".yaml") || strings.HasSuffix(n, ".yml") {
			files = append(files, n)
		}
	}
	sort.Strings(files)
	for _, n := range files {
		raw, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return fmt.Errorf("read preset file %s: %w", n, err)
		}
		if err := c.applyYAML(raw); err != nil {
			return fmt.Errorf("apply preset file %s: %w", n, err)
		}
	}
	return nil
}

func (c *Catalog) applyYAML(raw []byte) error {
	var doc struct {
		Presets map[string]AnalysisPreset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse presets: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name, p := range doc.Presets {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		p.Name = key
		if err := validate(p); err != nil {
			return fmt.Errorf("preset %q: %w", key, err)
		}
		c.data[key] = p
	}
	return nil
}

func validate(p AnalysisPreset) error {
	if p.MoveTimeMillis <= 0 && p.Depth <= 0 {
		return fmt.Errorf("needs movetime_ms or depth")
	}
	if p.MultiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", p.MultiPV)
	}
	if p.BlunderThresholdCP <= 0 {
		return fmt.Errorf("blunder_threshold_cp must be > 0: %d", p.BlunderThresholdCP)
	}
	return nil
}
