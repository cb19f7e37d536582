package config

import (
	"fmt"
	"unicode"

	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/errors"
)

// MinKeyBits is the smallest RSA modulus accepted from configuration.
const MinKeyBits = 2048

// Validate checks the configuration and returns E_INVALID_CONFIG naming the
// first failing field.
func Validate(cfg Config) error {
	if cfg.Root == "" {
		return invalid("root", "must not be empty")
	}
	if !core.IsLabDirName(cfg.Base) {
		return invalid("base", fmt.Sprintf("%q is not a lab directory name (labNN)", cfg.Base))
	}
	if cfg.Domain == "" || containsWhitespace(cfg.Domain) {
		return invalid("domain", "must be a non-empty hostname")
	}
	if cfg.Network == "" || containsWhitespace(cfg.Network) {
		return invalid("network", "must be a non-empty name")
	}
	if err := validPort("service_port", cfg.ServicePort); err != nil {
		return err
	}

	required := []struct {
		field, value string
	}{
		{"artifacts.proxy", cfg.Artifacts.Proxy},
		{"artifacts.compose", cfg.Artifacts.Compose},
		{"artifacts.sql_dev", cfg.Artifacts.SQLDev},
		{"artifacts.sql_prod", cfg.Artifacts.SQLProd},
		{"compose.dockerfile", cfg.Compose.Dockerfile},
		{"compose.cpus", cfg.Compose.CPUs},
		{"compose.mem_limit", cfg.Compose.MemLimit},
		{"compose.config_dir", cfg.Compose.ConfigDir},
		{"dev.host", cfg.Dev.Host},
	}
	for _, r := range required {
		if r.value == "" {
			return invalid(r.field, "missing required field")
		}
	}
	if cfg.Artifacts.SQLDev == cfg.Artifacts.SQLProd {
		return invalid("artifacts.sql_dev", "must differ from artifacts.sql_prod")
	}
	for i, dep := range cfg.Compose.DependsOn {
		if dep == "" || containsWhitespace(dep) {
			return invalid(fmt.Sprintf("compose.depends_on[%d]", i), "must be a service name")
		}
	}

	ports := []struct {
		field string
		value int
	}{
		{"dev.server_port", cfg.Dev.ServerPort},
		{"dev.client_port", cfg.Dev.ClientPort},
		{"dev.database_port", cfg.Dev.DatabasePort},
		{"dev.redis_port", cfg.Dev.RedisPort},
	}
	for _, p := range ports {
		if err := validPort(p.field, p.value); err != nil {
			return err
		}
	}
	if cfg.Dev.ServerPort == cfg.Dev.ClientPort {
		return invalid("dev.client_port", "must differ from dev.server_port")
	}

	switch cfg.Keygen.Backend {
	case BackendNative:
	case BackendOpenSSL:
		if cfg.Keygen.Command == "" {
			return invalid("keygen.command", "missing required field")
		}
		if containsWhitespace(cfg.Keygen.Command) {
			return invalid("keygen.command", "must be a single executable (no args)")
		}
	default:
		return invalid("keygen.backend", fmt.Sprintf("must be %s or %s", BackendNative, BackendOpenSSL))
	}
	if cfg.Keygen.Bits < MinKeyBits {
		return invalid("keygen.bits", fmt.Sprintf("must be at least %d", MinKeyBits))
	}
	if cfg.Keygen.Timeout < 0 {
		return invalid("keygen.timeout", "must not be negative")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "must be one of debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", "must be text or json")
	}
	return nil
}

func invalid(field, msg string) error {
	return errors.NewWithDetails(errors.EInvalidConfig, field+": "+msg, map[string]string{"field": field})
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return invalid(field, fmt.Sprintf("port %d out of range", port))
	}
	return nil
}

// containsWhitespace returns true if s contains any whitespace character.
func containsWhitespace(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) {
			return true
		}
	}
	return false
}
