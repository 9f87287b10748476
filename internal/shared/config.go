package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/dmx/internal/models"
)

//go:embed config.example.toml
var exampleConf []byte

// StoreKind selects the backend behind one side of the migration.
type StoreKind string

const (
	StoreKindOrg  StoreKind = "org"  // query-capable remote service
	StoreKindFile StoreKind = "file" // local CSV directory
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Source  StoreConfig   `toml:"source"`
	Target  StoreConfig   `toml:"target"`
	Journal JournalConfig `toml:"journal"`

	// ScriptFile is the migration script path, relative to the config
	// directory unless absolute.
	ScriptFile string `toml:"script_file"`
}

// StoreConfig describes one side (source or target) of the migration.
type StoreConfig struct {
	Name string    `toml:"name"`
	Kind StoreKind `toml:"kind"`

	// Org connection settings.
	BaseURL      string  `toml:"base_url"`
	TokenURL     string  `toml:"token_url"`
	ClientID     string  `toml:"client_id"`
	ClientSecret string  `toml:"client_secret"`
	APIVersion   string  `toml:"api_version"`
	RateLimit    float64 `toml:"rate_limit"`

	// File store settings.
	Path string `toml:"path"`
}

// JournalConfig contains run-journal database settings.
type JournalConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingConfig, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadScript reads and validates the migration script from the config
// directory. The script file defaults to script.toml.
func LoadScript(configDir, scriptFile string) (*models.Script, error) {
	if scriptFile == "" {
		scriptFile = "script.toml"
	}
	path := scriptFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, scriptFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingConfig, err)
	}

	var script models.Script
	if err := toml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}

	return &script, nil
}
