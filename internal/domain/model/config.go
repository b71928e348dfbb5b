package model

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LogLevel defines logging levels
type LogLevel string

const (
	// LogLevelDebug is the level for debug messages
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the level for informational messages
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is the level for warning messages
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is the level for error messages
	LogLevelError LogLevel = "error"
)

// LogFormat defines the log output format
type LogFormat string

const (
	// LogFormatText writes human readable lines
	LogFormatText LogFormat = "text"
	// LogFormatJSON writes one JSON object per line
	LogFormatJSON LogFormat = "json"
)

// DefaultRequestTimeout bounds a single call to the local service
const DefaultRequestTimeout = 100 * time.Second

// DefaultHistorySize is the number of captured exchanges kept for replay
const DefaultHistorySize = 100

// PluginConfig is the persisted state of one plugin
type PluginConfig struct {
	// Enabled marks the plugin as part of the active chain
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Settings holds named string values for the plugin's declared settings
	Settings map[string]string `mapstructure:"settings" yaml:"settings"`
}

// Config is the configuration structure for the relay agent
type Config struct {
	// RelayHost is the relay namespace host, e.g. myns.servicebus.windows.net
	RelayHost string
	// ConnectionPath is the hybrid connection (path) identifier on the relay
	ConnectionPath string
	// KeyName is the shared access policy name
	KeyName string
	// SharedKey is the shared access policy key
	SharedKey string
	// TargetURL is the base URL of the local service
	TargetURL string
	// TLSEnabled selects wss instead of ws for the tunnel connection
	TLSEnabled bool
	// RequestTimeout bounds every call to the local service
	RequestTimeout time.Duration
	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel LogLevel
	// LogFormat is the log output format (text, json)
	LogFormat LogFormat
	// LogFile is the path to log file (empty for stdout only)
	LogFile string
	// APIAddress is the listen address of the management API, empty disables it
	APIAddress string
	// HistorySize is the number of captured exchanges kept for replay
	HistorySize int
	// Plugins holds persisted plugin state keyed by plugin name
	Plugins map[string]PluginConfig
}

// NewConfig creates a new Config instance with default values
func NewConfig() *Config {
	return &Config{
		TLSEnabled:     true,
		RequestTimeout: DefaultRequestTimeout,
		LogLevel:       LogLevelInfo,
		LogFormat:      LogFormatText,
		HistorySize:    DefaultHistorySize,
		Plugins:        map[string]PluginConfig{},
	}
}

// Validate checks that every required relay parameter is present.
// All missing keys are reported at once.
func (c *Config) Validate() error {
	var missing []string
	check := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	check("relay_host", c.RelayHost)
	check("connection_path", c.ConnectionPath)
	check("key_name", c.KeyName)
	check("shared_key", c.SharedKey)
	check("target_url", c.TargetURL)

	if len(missing) > 0 {
		return errors.Wrapf(ErrConfiguration, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ConnectionString builds the relay connection string from the configuration
func (c *Config) ConnectionString() ConnectionString {
	return ConnectionString{
		Endpoint:   c.RelayHost,
		KeyName:    c.KeyName,
		Key:        c.SharedKey,
		EntityPath: c.ConnectionPath,
	}
}

// Options returns the mutable pipeline options held by this configuration
func (c *Config) Options() RelayOptions {
	return RelayOptions{TargetURL: c.TargetURL}
}

// PluginConfig returns the persisted state of a plugin
func (c *Config) PluginConfig(name string) (PluginConfig, bool) {
	pc, ok := c.Plugins[name]
	return pc, ok
}

// SetPluginConfig stores the state of a plugin
func (c *Config) SetPluginConfig(name string, pc PluginConfig) {
	if c.Plugins == nil {
		c.Plugins = map[string]PluginConfig{}
	}
	c.Plugins[name] = pc
}
