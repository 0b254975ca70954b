package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the listening port used when none is configured.
	DefaultPort = 8080
	// DefaultLocation is the Vertex AI region used when none is configured.
	DefaultLocation = "us-east5"
	// DefaultRequestTimeoutSeconds bounds each backend model call.
	DefaultRequestTimeoutSeconds = 60
	// DefaultMaxBodyBytes caps inbound JSON bodies (10 MiB).
	DefaultMaxBodyBytes int64 = 10 << 20
)

// Config represents the application's configuration, loaded from a YAML file
// and overridden by environment variables.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Host is the interface to bind; empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the listening port.
	Port int `yaml:"port" json:"port"`

	// Debug enables gin debug mode and debug logging.
	Debug bool `yaml:"debug" json:"debug"`

	// ProjectID is the Google Cloud project hosting the Vertex endpoint.
	ProjectID string `yaml:"project-id" json:"project-id"`

	// Location is the Vertex AI region, e.g. "us-east5" or "global".
	Location string `yaml:"location" json:"location"`

	// Credentials is optional service account material, either raw JSON or base64 encoded JSON.
	// When empty, application default credentials are used.
	Credentials string `yaml:"credentials" json:"-"`

	// BaseURL overrides the derived Vertex endpoint (scheme and host).
	BaseURL string `yaml:"base-url" json:"base-url"`

	// DefaultModel is the backend model used for unmapped model names.
	DefaultModel string `yaml:"default-model" json:"default-model"`

	// ModelMappings extends or overrides the built-in external to backend model table.
	ModelMappings map[string]string `yaml:"model-mappings" json:"model-mappings"`

	// RequestTimeoutSeconds bounds each backend model call.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds" json:"request-timeout-seconds"`

	// MaxBodyBytes caps inbound request bodies.
	MaxBodyBytes int64 `yaml:"max-body-bytes" json:"max-body-bytes"`

	// LoggingToFile writes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotating log files.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// LogLevel is one of debug, info, warn, error, quiet.
	LogLevel string `yaml:"log-level" json:"log-level"`

	// MetricsEnabled exposes Prometheus metrics on /metrics. nil means enabled.
	MetricsEnabled *bool `yaml:"metrics-enabled,omitempty" json:"metrics-enabled,omitempty"`

	// UsageStatisticsEnabled records in-memory usage statistics. nil means enabled.
	UsageStatisticsEnabled *bool `yaml:"usage-statistics-enabled,omitempty" json:"usage-statistics-enabled,omitempty"`
}

// LoadConfig reads the YAML configuration file at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the YAML configuration file at configFile.
// When optional is true a missing file yields an empty config. A file that exists
// but does not parse is always an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (errors.Is(err, os.ErrNotExist) || configFile == "") {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if len(strings.TrimSpace(string(data))) == 0 {
		return &cfg, nil
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides configuration values from the process environment.
// The first non-empty variable of each group wins.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	first := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}

	if v, ok := first("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := first("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := first("VERTEX_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"); ok {
		cfg.ProjectID = v
	}
	if v, ok := first("VERTEX_REGION", "GOOGLE_CLOUD_LOCATION"); ok {
		cfg.Location = v
	}
	if v, ok := first("VERTEX_CREDENTIALS", "GOOGLE_SERVICE_ACCOUNT_KEY"); ok {
		cfg.Credentials = v
	}
	if v, ok := first("PROXY_URL"); ok {
		cfg.ProxyURL = v
	}
	if v, ok := first("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}

// ApplyDefaults fills zero values with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg == nil {
		return
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.Location) == "" {
		cfg.Location = DefaultLocation
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// IsMetricsEnabled returns whether Prometheus metrics are enabled, defaulting to true.
func (cfg *Config) IsMetricsEnabled() bool {
	if cfg == nil || cfg.MetricsEnabled == nil {
		return true
	}
	return *cfg.MetricsEnabled
}

// IsUsageStatisticsEnabled returns whether usage statistics are recorded, defaulting to true.
func (cfg *Config) IsUsageStatisticsEnabled() bool {
	if cfg == nil || cfg.UsageStatisticsEnabled == nil {
		return true
	}
	return *cfg.UsageStatisticsEnabled
}

// ValidateConfig checks cfg for errors that prevent serving and returns
// non-fatal warnings alongside.
func ValidateConfig(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	var warnings []string
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range (1-65535)", cfg.Port)
	}
	if cfg.RequestTimeoutSeconds < 0 {
		return nil, fmt.Errorf("request-timeout-seconds must not be negative")
	}
	if cfg.MaxBodyBytes < 0 {
		return nil, fmt.Errorf("max-body-bytes must not be negative")
	}
	if proxyURL := strings.TrimSpace(cfg.ProxyURL); proxyURL != "" {
		lower := strings.ToLower(proxyURL)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "socks5://") {
			return nil, fmt.Errorf("proxy-url must use http, https or socks5 scheme")
		}
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		warnings = append(warnings, "project-id is empty; the credential's project_id will be used")
	}
	for external, backend := range cfg.ModelMappings {
		if strings.TrimSpace(external) == "" || strings.TrimSpace(backend) == "" {
			warnings = append(warnings, fmt.Sprintf("ignoring empty model mapping %q -> %q", external, backend))
		}
	}
	return warnings, nil
}
