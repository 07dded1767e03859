package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend selects the db.Store implementation
type Backend string

const (
	BackendPostgREST Backend = "postgrest"
	BackendPostgres  Backend = "postgres"
	BackendMemory    Backend = "memory"
)

const (
	DefaultRequestTimeout     = 15 * time.Second
	DefaultSkillInsertRetries = 1
	DefaultRetryBackoff       = 200 * time.Millisecond
)

// PostgRESTConfig points at a hosted backend: <url>/rest/v1 for data, <url>/auth/v1 for sign-in
type PostgRESTConfig struct {
	URL     string `yaml:"url" validate:"required,url"`
	AnonKey string `yaml:"anonKey" validate:"required"`
	// JWTSecret verifies access tokens locally when set
	JWTSecret string `yaml:"jwtSecret,omitempty"`
}

type PostgresConfig struct {
	DSN           string `yaml:"dsn" validate:"required"`
	RunMigrations bool   `yaml:"runMigrations"`
}

// CatalogSkill and CatalogBadge seed the memory backend's global catalogs
type CatalogSkill struct {
	ID       string `yaml:"id,omitempty"`
	Name     string `yaml:"name" validate:"required"`
	Category string `yaml:"category,omitempty"`
}

type CatalogBadge struct {
	ID             string `yaml:"id,omitempty"`
	Name           string `yaml:"name" validate:"required"`
	Description    string `yaml:"description,omitempty"`
	ImageURL       string `yaml:"imageURL,omitempty" validate:"omitempty,url"`
	PointsRequired int    `yaml:"pointsRequired" validate:"min=0"`
}

type Catalog struct {
	Skills []CatalogSkill `yaml:"skills,omitempty" validate:"dive"`
	Badges []CatalogBadge `yaml:"badges,omitempty" validate:"dive"`
}

// Config represents the application configuration
type Config struct {
	Backend            Backend          `yaml:"backend" validate:"required,oneof=postgrest postgres memory"`
	PostgREST          *PostgRESTConfig `yaml:"postgrest,omitempty"`
	Postgres           *PostgresConfig  `yaml:"postgres,omitempty"`
	RequestTimeout     time.Duration    `yaml:"requestTimeout,omitempty" validate:"min=0"`
	SkillInsertRetries *int             `yaml:"skillInsertRetries,omitempty" validate:"omitnil,min=0,max=10"`
	RetryBackoff       time.Duration    `yaml:"retryBackoff,omitempty" validate:"min=0"`
	Catalog            Catalog          `yaml:"catalog,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration from volunteer_hub_config.yaml.
// It looks for the config file in the current directory first, then in the user's home directory.
func Load() (*Config, error) {
	return load("volunteer_hub_config.yaml")
}

// LoadWithEnv loads volunteer_hub_config.<env>.yaml
func LoadWithEnv(env string) (*Config, error) {
	if env == "" {
		return nil, errors.New("environment name is required")
	}
	return load(fmt.Sprintf("volunteer_hub_config.%s.yaml", env))
}

func load(fileName string) (*Config, error) {
	configPath, err := findConfigFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path.
// ${VAR} references are expanded from the environment before parsing.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate validates the configuration struct and checks the selected backend is configured
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	switch cfg.Backend {
	case BackendPostgREST:
		if cfg.PostgREST == nil {
			return fmt.Errorf("config validation failed: backend %q requires a postgrest section", cfg.Backend)
		}
	case BackendPostgres:
		if cfg.Postgres == nil {
			return fmt.Errorf("config validation failed: backend %q requires a postgres section", cfg.Backend)
		}
	}

	return nil
}

// SkillRetries returns the configured skill insert retries or the default
func (c *Config) SkillRetries() int {
	if c.SkillInsertRetries == nil {
		return DefaultSkillInsertRetries
	}
	return *c.SkillInsertRetries
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
}

// findConfigFile searches for configFileName in current directory and home directory
func findConfigFile(configFileName string) (string, error) {
	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homeConfigPath := filepath.Join(homeDir, configFileName)
	if _, err := os.Stat(homeConfigPath); err == nil {
		return homeConfigPath, nil
	}

	return "", fmt.Errorf("%s not found in current directory or home directory", configFileName)
}
