package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.yaml.in/yaml/v3"
)

// ErrContextNotFound is returned for an unknown context name.
var ErrContextNotFound = errors.New("context not found")

// CLIConfig is the hamesh-cli configuration file.
type CLIConfig struct {
	DefaultOutput  string             `yaml:"default_output,omitempty"`
	CurrentContext string             `yaml:"current_context,omitempty"`
	Contexts       map[string]Context `yaml:"contexts,omitempty"`
}

// Context is one saved daemon connection. An empty Server selects the
// local socket.
type Context struct {
	Server   string `yaml:"server,omitempty"`
	Socket   string `yaml:"socket,omitempty"`
	Username string `yaml:"username,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// Default returns an empty configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultOutput: "table",
		Contexts:      make(map[string]Context),
	}
}

// DefaultConfigPath returns ~/.hamesh/cli.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hamesh", "cli.yaml")
}

// Load reads the configuration at path. A missing file yields Default.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]Context)
	}
	if cfg.CurrentContext != "" {
		if _, ok := cfg.Contexts[cfg.CurrentContext]; !ok {
			return nil, fmt.Errorf("%s: current context %q: %w", path, cfg.CurrentContext, ErrContextNotFound)
		}
	}
	return cfg, nil
}

// Save writes cfg to path, readable by the owner only.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Current returns the current context. ok is false when none is set.
func (c *CLIConfig) Current() (Context, bool) {
	if c.CurrentContext == "" {
		return Context{}, false
	}
	ctx, ok := c.Contexts[c.CurrentContext]
	return ctx, ok
}

// Get returns the named context.
func (c *CLIConfig) Get(name string) (Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return Context{}, fmt.Errorf("%q: %w", name, ErrContextNotFound)
	}
	return ctx, nil
}

// Set adds or replaces a context.
func (c *CLIConfig) Set(name string, ctx Context) error {
	if name == "" {
		return errors.New("context name is required")
	}
	if c.Contexts == nil {
		c.Contexts = make(map[string]Context)
	}
	c.Contexts[name] = ctx
	return nil
}

// Use makes name the current context.
func (c *CLIConfig) Use(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrContextNotFound)
	}
	c.CurrentContext = name
	return nil
}

// Delete removes a context, clearing the current context if needed.
func (c *CLIConfig) Delete(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrContextNotFound)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return nil
}

// Names returns the sorted context names.
func (c *CLIConfig) Names() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
