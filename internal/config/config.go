package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/omnivector-solutions/charm-apptainer/internal/config/validate"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"
)

// ConfigFileName is looked up in the charm directory when no explicit
// config file is given.
const ConfigFileName = "apptainer-charm.yml"

const (
	DefaultPackageName   = "apptainer"
	DefaultRepositoryURI = "https://ppa.launchpadcontent.net/apptainer/ppa/ubuntu"
	DefaultSourcesDir    = "/etc/apt/sources.list.d"
	DefaultKeyringPath   = "/usr/share/keyrings/apptainer.asc"
	DefaultStateDir      = ".state"
	DefaultLogLevel      = "info"
)

// GlobalConfig holds the charm settings. Every field has a default.
type GlobalConfig struct {
	Package    PackageConfig    `yaml:"package"`
	Repository RepositoryConfig `yaml:"repository"`
	StateDir   string           `yaml:"stateDir"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PackageConfig names the workload package.
type PackageConfig struct {
	Name string `yaml:"name"`
}

// RepositoryConfig describes the third-party repository the package comes
// from and where its files live on the host.
type RepositoryConfig struct {
	URI         string   `yaml:"uri"`
	Components  []string `yaml:"components"`
	SourcesDir  string   `yaml:"sourcesDir"`
	KeyringPath string   `yaml:"keyringPath"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultGlobalConfig returns the configuration used when no file is present.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Package: PackageConfig{Name: DefaultPackageName},
		Repository: RepositoryConfig{
			URI:         DefaultRepositoryURI,
			Components:  []string{"main"},
			SourcesDir:  DefaultSourcesDir,
			KeyringPath: DefaultKeyringPath,
		},
		StateDir: DefaultStateDir,
		Logging:  LoggingConfig{Level: DefaultLogLevel},
	}
}

// ResolveConfigPath returns the config file to load: explicit when set,
// otherwise ConfigFileName inside charmDir. The second result reports
// whether the file must exist.
func ResolveConfigPath(explicit, charmDir string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if charmDir == "" {
		return "", false
	}
	return filepath.Join(charmDir, ConfigFileName), false
}

// LoadGlobalConfig reads and validates the config file at path. A missing
// file yields the defaults unless required is set.
func LoadGlobalConfig(path string, required bool) (*GlobalConfig, error) {
	log := logger.Logger()

	if path == "" {
		return DefaultGlobalConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			log.Debugf("Config file %s not found, using defaults", path)
			return DefaultGlobalConfig(), nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := parseYAMLConfig(data)
	if err != nil {
		return nil, fmt.Errorf("loading config file %s: %w", path, err)
	}
	log.Debugf("Loaded config from %s", path)
	return cfg, nil
}

// parseYAMLConfig validates data against the config schema and decodes it
// over the defaults.
func parseYAMLConfig(data []byte) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := validate.ValidateConfigJSON(jsonData); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the schema cannot express.
func (c *GlobalConfig) Validate() error {
	if c.Package.Name == "" {
		return fmt.Errorf("package.name must not be empty")
	}
	if c.Repository.URI == "" {
		return fmt.Errorf("repository.uri must not be empty")
	}
	if len(c.Repository.Components) == 0 {
		return fmt.Errorf("repository.components must not be empty")
	}
	if !filepath.IsAbs(c.Repository.KeyringPath) {
		return fmt.Errorf("repository.keyringPath must be absolute, got %q", c.Repository.KeyringPath)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
