package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"reclayout/internal/layout"
)

// ConfigFileName is searched for upward from the working directory.
const ConfigFileName = "reclayout.toml"

// Config is the project configuration file.
type Config struct {
	// Path is empty when no file was found.
	Path   string       `toml:"-"`
	Target TargetConfig `toml:"target"`
	Layout LayoutConfig `toml:"layout"`
	Output OutputConfig `toml:"output"`
	Cache  CacheConfig  `toml:"cache"`
}

type TargetConfig struct {
	Triple string `toml:"triple"`
}

type LayoutConfig struct {
	Language string `toml:"language"`
	MaxDepth int    `toml:"max_depth"`
}

type OutputConfig struct {
	Format string `toml:"format"`
	Color  string `toml:"color"`
}

type CacheConfig struct {
	// Enabled is nil when unset; the cache defaults to on.
	Enabled *bool  `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// CacheEnabled reports the effective cache switch.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// FindConfig walks up from startDir looking for reclayout.toml.
func FindConfig(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// DiscoverConfig loads the explicit path when given, otherwise the nearest
// reclayout.toml above startDir. A missing file yields an empty Config.
func DiscoverConfig(explicit, startDir string) (*Config, error) {
	path := explicit
	if path == "" {
		found, ok, err := FindConfig(startDir)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Config{}, nil
		}
		path = found
	}
	return LoadConfig(path)
}

// LoadConfig parses and validates a configuration file. Unknown keys are
// errors, so typos do not silently fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path

	if t := strings.TrimSpace(cfg.Target.Triple); t != "" {
		if _, err := layout.TargetByTriple(t); err != nil {
			return nil, fmt.Errorf("%s: [target].triple: %w", path, err)
		}
		cfg.Target.Triple = t
	}
	if l := cfg.Layout.Language; l != "" {
		if _, ok := layout.ParseLanguage(l); !ok {
			return nil, fmt.Errorf("%s: [layout].language must be c or c++, got %q", path, l)
		}
	}
	if cfg.Layout.MaxDepth < 0 {
		return nil, fmt.Errorf("%s: [layout].max_depth must not be negative", path)
	}
	switch cfg.Output.Format {
	case "", "text", "json", "summary":
	default:
		return nil, fmt.Errorf("%s: [output].format must be text, json or summary, got %q", path, cfg.Output.Format)
	}
	switch cfg.Output.Color {
	case "", "auto", "on", "off":
	default:
		return nil, fmt.Errorf("%s: [output].color must be auto, on or off, got %q", path, cfg.Output.Color)
	}
	if dir := cfg.Cache.Dir; dir != "" && !filepath.IsAbs(dir) {
		// Relative cache directories are anchored at the config file.
		cfg.Cache.Dir = filepath.Join(filepath.Dir(path), dir)
	}
	return &cfg, nil
}
