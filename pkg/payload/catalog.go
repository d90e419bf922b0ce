package payload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Catalog is the trusted local script catalog. Tools are declared in a
// manifest; script bodies are loaded from the catalog directory and never
// from request input.
type Catalog struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	tools map[string]*ToolSpec
}

// catalogManifest is the on-disk manifest format
type catalogManifest struct {
	Tools []ToolSpec `yaml:"tools"`
}

// LoadCatalog reads the manifest (catalog.yaml) in dir and indexes its tools
func LoadCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manifestPath := filepath.Join(dir, "catalog.yaml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog manifest: %w", err)
	}

	var manifest catalogManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse catalog manifest: %w", err)
	}

	tools := make(map[string]*ToolSpec, len(manifest.Tools))
	for i := range manifest.Tools {
		spec := manifest.Tools[i]
		if err := validateToolSpec(&spec); err != nil {
			return nil, fmt.Errorf("invalid tool %q: %w", spec.Name, err)
		}
		if _, exists := tools[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate tool name: %s", spec.Name)
		}
		tools[spec.Name] = &spec
	}

	logger.Info("Script catalog loaded",
		zap.String("dir", dir),
		zap.Int("tools", len(tools)),
	)

	return &Catalog{
		dir:    dir,
		logger: logger,
		tools:  tools,
	}, nil
}

// Lookup returns the tool spec, or an UnknownToolError
func (c *Catalog) Lookup(name string) (*ToolSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	spec, ok := c.tools[name]
	if !ok {
		return nil, &UnknownToolError{Tool: name}
	}
	return spec, nil
}

// List returns all tool specs, for discovery endpoints
func (c *Catalog) List() []*ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	specs := make([]*ToolSpec, 0, len(c.tools))
	for _, spec := range c.tools {
		specs = append(specs, spec)
	}
	return specs
}

// LoadScript reads a script body from the catalog directory. Paths are
// confined to the catalog dir; traversal segments are rejected.
func (c *Catalog) LoadScript(name string) ([]byte, error) {
	if err := validateScriptPath(name); err != nil {
		return nil, err
	}

	path := filepath.Join(c.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat script %s: %w", name, err)
	}
	if info.Size() > MaxScriptSize {
		return nil, fmt.Errorf("script %s exceeds maximum size of %d bytes", name, MaxScriptSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("script %s is empty", name)
	}

	return data, nil
}

func validateToolSpec(spec *ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch spec.Kind {
	case ScriptKindPython, ScriptKindPowerShell:
	default:
		return fmt.Errorf("unknown script kind: %s", spec.Kind)
	}
	if spec.Script == "" {
		return fmt.Errorf("script file is required")
	}
	if err := validateScriptPath(spec.Script); err != nil {
		return err
	}
	for _, helper := range spec.Helpers {
		if err := validateScriptPath(helper); err != nil {
			return err
		}
	}
	return nil
}

func validateScriptPath(name string) error {
	if name == "" {
		return fmt.Errorf("script path cannot be empty")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("script path must be relative: %s", name)
	}
	clean := filepath.ToSlash(filepath.Clean(name))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("script path escapes catalog directory: %s", name)
	}
	return nil
}
