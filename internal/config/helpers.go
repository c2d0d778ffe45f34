package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config   *GlobalConfig
	charmDir string
}

// NewConfigHelpers creates a new config helpers instance. Relative paths in
// the configuration are resolved against charmDir.
func NewConfigHelpers(config *GlobalConfig, charmDir string) *ConfigHelpers {
	return &ConfigHelpers{config: config, charmDir: charmDir}
}

// PackageName returns the workload package name
func (c *ConfigHelpers) PackageName() string {
	return c.config.Package.Name
}

// RepositoryURI returns the base URI of the workload repository
func (c *ConfigHelpers) RepositoryURI() string {
	return c.config.Repository.URI
}

// Components returns the repository components to enable
func (c *ConfigHelpers) Components() []string {
	return append([]string(nil), c.config.Repository.Components...)
}

// SourcesDir returns the apt sources directory
func (c *ConfigHelpers) SourcesDir() string {
	return c.config.Repository.SourcesDir
}

// KeyringPath returns the path of the repository signing key
func (c *ConfigHelpers) KeyringPath() string {
	return c.config.Repository.KeyringPath
}

// StateDir returns the absolute path to the unit state directory
func (c *ConfigHelpers) StateDir() (string, error) {
	dir := c.config.StateDir
	if !filepath.IsAbs(dir) && c.charmDir != "" {
		dir = filepath.Join(c.charmDir, dir)
	}
	return filepath.Abs(dir)
}

// LogLevel returns the configured log level
func (c *ConfigHelpers) LogLevel() string {
	return c.config.Logging.Level
}

// CreateStateDir ensures the state directory exists
func (c *ConfigHelpers) CreateStateDir() (string, error) {
	stateDir, err := c.StateDir()
	if err != nil {
		return "", fmt.Errorf("resolving state directory: %w", err)
	}
	return stateDir, createDirIfNotExists(stateDir)
}

// Helper function to create directories
func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
