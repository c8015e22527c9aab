// Package config handles loading and saving amba configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/amba/config.yaml
//   - Data:    $AMBA_DATA_DIR or ~/.local/share/amba/ (guest images, sessions)
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig holds the default force coefficients the embedder starts
// with. Keys left out of the file keep the DefaultConfig values; an explicit
// zero is applied as zero.
type EmbeddingConfig struct {
	Noise      float64 `yaml:"noise,omitempty"`
	Attraction float64 `yaml:"attraction,omitempty"`
	Repulsion  float64 `yaml:"repulsion,omitempty"`
	Gravity    float64 `yaml:"gravity,omitempty"`
}

// QemuConfig points at the QEMU+S2E installation driving the guest.
type QemuConfig struct {
	DependenciesDir string `yaml:"dependencies_dir,omitempty"` // bin/, share/libs2e/
	MemoryMegabytes int    `yaml:"memory_megabytes,omitempty"`
	MaxProcesses    int    `yaml:"max_processes,omitempty"`
}

// UIConfig holds TUI preference settings.
type UIConfig struct {
	DefaultView string `yaml:"default_view,omitempty"` // raw-block, compressed-block, state, merged-block, compressed-merged-block
	Headless    bool   `yaml:"headless,omitempty"`     // run without the TUI
}

// Config is the top-level configuration for amba.
type Config struct {
	DataDir   string          `yaml:"data_dir,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding,omitempty"`
	Qemu      QemuConfig      `yaml:"qemu,omitempty"`
	UI        UIConfig        `yaml:"ui,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Embedding: EmbeddingConfig{
			Attraction: 0.1,
			Repulsion:  1.0,
			Gravity:    0.5,
		},
		Qemu: QemuConfig{
			MemoryMegabytes: 256,
			MaxProcesses:    1,
		},
		UI: UIConfig{
			DefaultView: "raw-block",
		},
	}
}

// Dir returns the config directory (~/.config/amba).
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate config dir: %w", err)
	}
	return filepath.Join(base, "amba"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ResolveDataDir resolves the data directory: config value, then
// $AMBA_DATA_DIR, then ~/.local/share/amba.
func (c Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	if env := os.Getenv("AMBA_DATA_DIR"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: locate home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "amba"), nil
}

// Load reads the config file, returning defaults when it does not exist.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads a specific config file.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Validate rejects out-of-range settings.
func (c Config) Validate() error {
	if c.Qemu.MemoryMegabytes < 0 {
		return fmt.Errorf("config: negative qemu memory %d", c.Qemu.MemoryMegabytes)
	}
	if c.Qemu.MaxProcesses < 0 {
		return fmt.Errorf("config: negative qemu max_processes %d", c.Qemu.MaxProcesses)
	}
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"noise", c.Embedding.Noise},
		{"attraction", c.Embedding.Attraction},
		{"repulsion", c.Embedding.Repulsion},
		{"gravity", c.Embedding.Gravity},
	} {
		if v.val < 0 {
			return fmt.Errorf("config: negative embedding %s %f", v.name, v.val)
		}
	}
	switch c.UI.DefaultView {
	case "", "raw-block", "compressed-block", "state", "merged-block", "compressed-merged-block":
	default:
		return fmt.Errorf("config: unknown default view %q", c.UI.DefaultView)
	}
	return nil
}

// Save writes the config atomically (write temp file, rename over).
func (c Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to a specific path.
func (c Config) SaveTo(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}
