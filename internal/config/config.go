// Package config builds the one Config value the server is wired from.
//
// LAYERS (later wins):
//  1. Defaults from defaultConfig()
//  2. Optional YAML file: $CONFIG_PATH, else ./config.yaml, else /etc/pairshot/config.yaml
//  3. Environment: PAIRSHOT_<SECTION>_<KEY>, e.g. PAIRSHOT_AUTH_JWT_SECRET -> auth.jwt_secret
//
// The result is validated once with struct tags. Nothing else in the program
// reads the environment or a global; every component receives the section it
// needs through its constructor.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar points at an explicit config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "PAIRSHOT_"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"/etc/pairshot/config.yaml",
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Mail     MailConfig     `koanf:"mail"`
	Storage  StorageConfig  `koanf:"storage"`
	Authz    AuthzConfig    `koanf:"authz"`
	App      AppConfig      `koanf:"app"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`
	// PublicURL is the web app's address; it fills {{server}} in emails.
	PublicURL string `koanf:"public_url" validate:"required"`
	// APIHost is this API's public host; it prefixes image links in emails.
	APIHost     string   `koanf:"api_host" validate:"required"`
	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimit caps login and reset requests per IP per minute. 0 disables.
	RateLimit int `koanf:"rate_limit" validate:"min=0"`
	// MetricsToken guards /metrics as a bearer token. Empty leaves the
	// endpoint unmounted.
	MetricsToken string `koanf:"metrics_token"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret" validate:"required,min=16"`
	SessionTTL time.Duration `koanf:"session_ttl" validate:"gt=0"`
	ResetTTL   time.Duration `koanf:"reset_ttl" validate:"gt=0"`
	VerifyTTL  time.Duration `koanf:"verify_ttl" validate:"gt=0"`
	BcryptCost int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`
}

type MailConfig struct {
	Provider    string `koanf:"provider" validate:"oneof=sendgrid log"`
	APIKey      string `koanf:"api_key" validate:"required_if=Provider sendgrid"`
	FromName    string `koanf:"from_name"`
	FromAddress string `koanf:"from_address" validate:"required,email"`
	TemplateDir string `koanf:"template_dir" validate:"required"`
}

type StorageConfig struct {
	// UploadsDir is the root of every stored file, served under PublicPrefix.
	UploadsDir   string `koanf:"uploads_dir" validate:"required"`
	PublicPrefix string `koanf:"public_prefix" validate:"required,startswith=/"`
	// MaxUploadMB bounds multipart bodies.
	MaxUploadMB int64 `koanf:"max_upload_mb" validate:"min=1"`
}

type AuthzConfig struct {
	ModelPath  string `koanf:"model_path"`
	PolicyPath string `koanf:"policy_path"`
}

type AppConfig struct {
	// Edition is stamped on photographer entries created at sign-up.
	Edition string `koanf:"edition"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "",
			Port:        8080,
			PublicURL:   "http://localhost:3000",
			APIHost:     "localhost:8080",
			CORSOrigins: []string{"*"},
			RateLimit:   20,
		},
		Database: DatabaseConfig{
			Path: "data/pairshot.db",
		},
		Auth: AuthConfig{
			SessionTTL: 15 * time.Minute,
			ResetTTL:   time.Hour,
			VerifyTTL:  72 * time.Hour,
			BcryptCost: 12,
		},
		Mail: MailConfig{
			Provider:    "log",
			FromName:    "Pairshot",
			FromAddress: "no-reply@pairshot.local",
			TemplateDir: "templates/mail",
		},
		Storage: StorageConfig{
			UploadsDir:   "data/storage",
			PublicPrefix: "/storage",
			MaxUploadMB:  20,
		},
		App: AppConfig{
			Edition: "1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads defaults, the optional config file and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	if err := splitCommaList(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps PAIRSHOT_AUTH_JWT_SECRET to auth.jwt_secret. Only the
// first underscore after the prefix separates section from key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return ""
	}
	return section + "." + rest
}

// envValue drops empty variables so an exported-but-blank override never
// clobbers a value from the file.
func envValue(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	return envTransformFunc(key), value
}

// splitCommaList turns a comma-separated env value into a slice. Values from
// YAML already arrive as lists.
func splitCommaList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("config: setting %s: %w", path, err)
	}
	return nil
}
