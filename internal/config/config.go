package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/deploygate/internal/deploy"
)

// Provider names.
const (
	ProviderAdminService = "adminservice"
	ProviderCatalog      = "catalog"
)

// Environment overrides.
const (
	EnvProvider = "DEPLOYGATE_PROVIDER"
	EnvURL      = "DEPLOYGATE_URL"
	EnvUsername = "DEPLOYGATE_USERNAME"
	EnvPassword = "DEPLOYGATE_PASSWORD"
	EnvAuditLog = "DEPLOYGATE_AUDIT_LOG"
	EnvActor    = "DEPLOYGATE_ACTOR"
)

// Config is the contents of config.yaml after defaults and environment
// overrides are applied.
type Config struct {
	Site         string             `yaml:"site"`
	Provider     string             `yaml:"provider" validate:"oneof=adminservice catalog"`
	AdminService AdminServiceConfig `yaml:"adminservice"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	AuditLog     string             `yaml:"audit_log" validate:"required"`
	TemplatesDir string             `yaml:"templates_dir" validate:"required"`
	Database     string             `yaml:"database" validate:"required"`
	LogFile      string             `yaml:"log_file"`
	Actor        string             `yaml:"actor"`

	// Path is the file the config was read from, empty when none existed.
	Path string `yaml:"-"`
}

// AdminServiceConfig locates the AdminService REST endpoint. The password
// is only ever read from DEPLOYGATE_PASSWORD.
type AdminServiceConfig struct {
	URL                string        `yaml:"url" validate:"omitempty,url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"-"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout" validate:"gte=0"`
}

// CatalogConfig locates the YAML catalog used by the catalog provider.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

var validate = validator.New()

// DataDir returns ~/.deploygate, where state lives by default.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".deploygate"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	data, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate home directory: %w", err)
	}
	return &Config{
		Provider:     ProviderCatalog,
		AdminService: AdminServiceConfig{Timeout: 60 * time.Second},
		Catalog:      CatalogConfig{Path: filepath.Join(data, "catalog.yaml")},
		AuditLog:     filepath.Join(data, "audit.jsonl"),
		TemplatesDir: filepath.Join(data, "templates"),
		Database:     filepath.Join(data, "history.db"),
		Actor:        defaultActor(),
	}, nil
}

// Load reads the config at path over the defaults, applies environment
// overrides and validates the result. An empty path means the default
// location, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		if path, err = DefaultPath(); err != nil {
			return nil, fmt.Errorf("failed to locate config directory: %w", err)
		}
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", deploy.ErrInvalidConfig, path, err)
		}
		cfg.Path = path
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvProvider); v != "" {
		c.Provider = v
	}
	if v := os.Getenv(EnvURL); v != "" {
		c.AdminService.URL = v
	}
	if v := os.Getenv(EnvUsername); v != "" {
		c.AdminService.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.AdminService.Password = v
	}
	if v := os.Getenv(EnvAuditLog); v != "" {
		c.AuditLog = v
	}
	if v := os.Getenv(EnvActor); v != "" {
		c.Actor = v
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
}

func (c *Config) expandPaths() {
	for _, p := range []*string{&c.AuditLog, &c.TemplatesDir, &c.Database, &c.LogFile, &c.Catalog.Path} {
		*p = expandHome(*p)
	}
}

// Validate checks the config, including provider-specific requirements.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", deploy.ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	switch c.Provider {
	case ProviderAdminService:
		if c.AdminService.URL == "" {
			problems = append(problems, "adminservice.url is required for the adminservice provider")
		}
	case ProviderCatalog:
		if c.Catalog.Path == "" {
			problems = append(problems, "catalog.path is required for the catalog provider")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", deploy.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Namespace())
	field = strings.TrimPrefix(field, "config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s %q must be one of: %s", field, fe.Value(), fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s %q is not a valid URL", field, fe.Value())
	}
	return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return os.Getenv("USERNAME")
}
