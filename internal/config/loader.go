package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigDirName is the directory under $HOME holding the config file.
	ConfigDirName = ".ocrtrain"
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "config.yaml"

	// EnvConfig points the loader at a config file outside the home directory.
	EnvConfig = "OCRTRAIN_CONFIG"
)

// fileHeader is written above the YAML document on save.
const fileHeader = "# ocrtrain configuration. Run `ocrtrain config set <key> <value>` to edit.\n"

// envVarPattern matches ${NAME} and ${NAME:-fallback}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Loader reads and writes one YAML config file.
type Loader struct {
	configPath string
}

// NewLoader creates a loader for $OCRTRAIN_CONFIG, or for
// ~/.ocrtrain/config.yaml when the variable is unset.
func NewLoader() (*Loader, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		return NewLoaderWithPath(path), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewLoaderWithPath(filepath.Join(homeDir, ConfigDirName, ConfigFileName)), nil
}

// NewLoaderWithPath creates a loader for configPath.
func NewLoaderWithPath(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// ConfigPath returns the configuration file path.
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Exists reports whether the configuration file exists.
func (l *Loader) Exists() bool {
	_, err := os.Stat(l.configPath)
	return err == nil
}

// Load reads the configuration file and expands ${VAR} references.
// A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	return l.read(true)
}

// LoadRaw reads the configuration without expanding environment variables,
// so it can be edited and saved back unchanged.
func (l *Loader) LoadRaw() (*Config, error) {
	return l.read(false)
}

func (l *Loader) read(expand bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(l.configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if expand {
		data = []byte(expandEnvVars(string(data)))
	}

	// Keys missing from the file keep their defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", l.configPath, err)
	}
	return cfg, nil
}

// Save writes the configuration to the file.
func (l *Loader) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(l.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	data = append([]byte(fileHeader), data...)
	if err := os.WriteFile(l.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Init writes a default configuration file. An existing file is only
// replaced when force is set.
func (l *Loader) Init(force bool) error {
	if l.Exists() && !force {
		return fmt.Errorf("config file already exists: %s\nuse --force to overwrite", l.configPath)
	}
	return l.Save(DefaultConfig())
}

// expandEnvVars substitutes ${NAME} references. Unset or empty variables
// expand to the :- fallback, or to nothing.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		return GetEnvOrDefault(m[1], m[2])
	})
}

// GetEnvOrDefault returns the environment variable value or a default.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool reports whether the environment variable is "true", "1" or "yes".
func GetEnvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
