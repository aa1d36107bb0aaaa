package config

import "github.com/relaywatch/relaywatch/internal/i18n"

// Config is the root of the TOML configuration document (§6.1). Keys mirror
// §3's Endpoint attributes and the component inputs of §4.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Groups      []GroupConfig     `mapstructure:"groups"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	UI          UIConfig          `mapstructure:"ui"`
}

// ServerConfig holds the proxy's own listening address and switch tuning.
type ServerConfig struct {
	Port                      int `mapstructure:"port"`
	SwitchThresholdMS         int `mapstructure:"switch_threshold_ms"`
	GracefulSwitchTimeoutMS   int `mapstructure:"graceful_switch_timeout_ms"`
}

// GroupConfig is one named collection of endpoints sharing a single bearer
// credential, read from the environment variable AuthTokenEnv names.
type GroupConfig struct {
	Name         string                 `mapstructure:"name"`
	AuthTokenEnv string                 `mapstructure:"auth_token_env"`
	Endpoints    []SimpleEndpointConfig `mapstructure:"endpoints"`
	Default      bool                   `mapstructure:"default"`
	HealthCheck  *HealthCheckConfig     `mapstructure:"health_check"`
}

// SimpleEndpointConfig is one upstream URL within a group.
type SimpleEndpointConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

// HealthCheckConfig configures the probe executor and the dynamic interval
// scheduler (§4.5, §4.6). A group may carry its own block, which Validate
// checks in place of the global one; the health-check cycle uses only the
// global block.
type HealthCheckConfig struct {
	IntervalSeconds    uint64 `mapstructure:"interval_seconds"`
	MinIntervalSeconds uint64 `mapstructure:"min_interval_seconds"`
	MaxIntervalSeconds uint64 `mapstructure:"max_interval_seconds"`
	DynamicScaling     bool   `mapstructure:"dynamic_scaling"`
	TimeoutSeconds     uint64 `mapstructure:"timeout_seconds"`
	ProbeBinaryPath    string `mapstructure:"probe_binary_path"`
}

// RetryConfig controls the proxy pipeline's same-endpoint retry (§4.9).
type RetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BaseDelayMS       int     `mapstructure:"base_delay_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// LoggingConfig configures the ambient structured-logging stack (SPEC_FULL §2.1).
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	MaxFileSizeMB  int    `mapstructure:"max_file_size_mb"`
	MaxFiles       int    `mapstructure:"max_files"`
	JSONFormat     bool   `mapstructure:"json_format"`
	PrettyLogs     bool   `mapstructure:"pretty_logs"`
	Theme          string `mapstructure:"theme"`
}

// UIConfig holds display settings not tied to any one component.
type UIConfig struct {
	Language i18n.Language `mapstructure:"language"`
}
