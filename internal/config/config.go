// Package config handles loading and validation of labforge.yaml configuration.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/fs"
	"github.com/NielsdaWheelz/labforge/internal/paths"
)

// FileName is the optional config file looked up in the lab root.
const FileName = "labforge.yaml"

// EnvPrefix prefixes environment overrides, e.g. LABFORGE_DOMAIN or
// LABFORGE_DEV_SERVER_PORT for dev.server_port.
const EnvPrefix = "LABFORGE"

// Config is the resolved tool configuration.
type Config struct {
	Root        string    `mapstructure:"root"`
	Base        string    `mapstructure:"base"`
	Domain      string    `mapstructure:"domain"`
	Network     string    `mapstructure:"network"`
	ServicePort int       `mapstructure:"service_port"`
	Artifacts   Artifacts `mapstructure:"artifacts"`
	Compose     Compose   `mapstructure:"compose"`
	Dev         Dev       `mapstructure:"dev"`
	Keygen      Keygen    `mapstructure:"keygen"`
	Log         Log       `mapstructure:"log"`

	// Source is the root or explicit config file that was merged, empty if none.
	Source string `mapstructure:"-"`
	// UserSource is the per-user config file that was merged, empty if none.
	UserSource string `mapstructure:"-"`
}

// Artifacts holds the shared files extended for every new lab, relative to Root.
type Artifacts struct {
	Proxy   string `mapstructure:"proxy"`
	Compose string `mapstructure:"compose"`
	SQLDev  string `mapstructure:"sql_dev"`
	SQLProd string `mapstructure:"sql_prod"`
}

// Compose contains the fixed parts of generated compose services.
type Compose struct {
	Dockerfile  string   `mapstructure:"dockerfile"`
	DependsOn   []string `mapstructure:"depends_on"`
	CPUs        string   `mapstructure:"cpus"`
	MemLimit    string   `mapstructure:"mem_limit"`
	ImagePrefix string   `mapstructure:"image_prefix"`
	ConfigDir   string   `mapstructure:"config_dir"`
}

// Dev contains the endpoints written into development config files.
type Dev struct {
	Host         string `mapstructure:"host"`
	ServerPort   int    `mapstructure:"server_port"`
	ClientPort   int    `mapstructure:"client_port"`
	DatabasePort int    `mapstructure:"database_port"`
	RedisPort    int    `mapstructure:"redis_port"`
}

// Keygen selects how RSA private keys are produced.
type Keygen struct {
	Backend string        `mapstructure:"backend"`
	Bits    int           `mapstructure:"bits"`
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Log configures the stderr logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Keygen backends.
const (
	BackendNative  = "native"
	BackendOpenSSL = "openssl"
)

// New returns a viper instance carrying every default and environment binding.
func New() *viper.Viper {
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetEnvPrefix(EnvPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	cfg.SetDefault("root", ".")
	cfg.SetDefault("base", "lab00")
	cfg.SetDefault("domain", "oauth.labs")
	cfg.SetDefault("network", "oauth-labs")
	cfg.SetDefault("service_port", 3000)

	cfg.SetDefault("artifacts.proxy", filepath.Join("docker", "caddy", "Caddyfile"))
	cfg.SetDefault("artifacts.compose", "docker-compose.yaml")
	cfg.SetDefault("artifacts.sql_dev", filepath.Join("docker", "db", "init.dev.sql"))
	cfg.SetDefault("artifacts.sql_prod", filepath.Join("docker", "db", "init.prod.sql"))

	cfg.SetDefault("compose.dockerfile", "./docker/Dockerfile.baselab")
	cfg.SetDefault("compose.depends_on", []string{"caddy", "db", "valkey"})
	cfg.SetDefault("compose.cpus", "1")
	cfg.SetDefault("compose.mem_limit", "1g")
	cfg.SetDefault("compose.image_prefix", "docker.io/library/")
	cfg.SetDefault("compose.config_dir", "./docker")

	cfg.SetDefault("dev.host", "127.0.0.1")
	cfg.SetDefault("dev.server_port", 3000)
	cfg.SetDefault("dev.client_port", 3001)
	cfg.SetDefault("dev.database_port", 3306)
	cfg.SetDefault("dev.redis_port", 6379)

	cfg.SetDefault("keygen.backend", BackendNative)
	cfg.SetDefault("keygen.bits", 2048)
	cfg.SetDefault("keygen.command", "openssl")
	cfg.SetDefault("keygen.timeout", 30*time.Second)

	cfg.SetDefault("log.level", "info")
	cfg.SetDefault("log.format", "text")
	return cfg
}

// userConfigDir locates the per-user config directory; replaced in tests.
var userConfigDir = paths.UserConfigDir

// Load resolves the configuration for a lab root.
//
// labforge.yaml in the per-user config directory is merged first when present.
// If file is set it must exist. Otherwise labforge.yaml in root is merged when
// present, taking precedence over the per-user file. A non-empty root overrides the root key from file or environment.
// Returns E_INVALID_CONFIG if the file cannot be read or parsed.
// Does NOT perform semantic validation; call Validate for that.
func Load(filesystem fs.FS, root, file string) (Config, error) {
	cfg := New()

	userSource, err := mergeUserConfig(filesystem, cfg)
	if err != nil {
		return Config{}, err
	}

	lookupDir := root
	if lookupDir == "" {
		lookupDir = "."
	}
	path := file
	required := file != ""
	if path == "" {
		path = filepath.Join(lookupDir, FileName)
	}

	data, err := filesystem.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.MergeConfig(bytes.NewReader(data)); err != nil {
			return Config{}, errors.WrapWithDetails(errors.EInvalidConfig, "failed to parse config file", err,
				map[string]string{"path": path})
		}
	case os.IsNotExist(err) && !required:
		path = ""
	default:
		return Config{}, errors.WrapWithDetails(errors.EInvalidConfig, "failed to read config file", err,
			map[string]string{"path": path})
	}

	var out Config
	if err := cfg.Unmarshal(&out); err != nil {
		return Config{}, errors.Wrap(errors.EInvalidConfig, "failed to decode config", err)
	}
	out.Source = path
	out.UserSource = userSource
	if root != "" {
		out.Root = root
	}
	abs, err := filepath.Abs(out.Root)
	if err != nil {
		return Config{}, errors.Wrap(errors.EInvalidConfig, "failed to resolve root", err)
	}
	out.Root = abs
	return out, nil
}

// mergeUserConfig merges the per-user labforge.yaml if one exists and
// returns its path.
func mergeUserConfig(filesystem fs.FS, cfg *viper.Viper) (string, error) {
	dir := userConfigDir()
	if dir == "" {
		return "", nil
	}
	path := filepath.Join(dir, FileName)
	data, err := filesystem.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.WrapWithDetails(errors.EInvalidConfig, "failed to read user config file", err,
			map[string]string{"path": path})
	}
	if err := cfg.MergeConfig(bytes.NewReader(data)); err != nil {
		return "", errors.WrapWithDetails(errors.EInvalidConfig, "failed to parse user config file", err,
			map[string]string{"path": path})
	}
	return path, nil
}

// LoadAndValidate loads the configuration and validates it.
func LoadAndValidate(filesystem fs.FS, root, file string) (Config, error) {
	cfg, err := Load(filesystem, root, file)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve returns p joined to Root unless p is already absolute.
func (c Config) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
