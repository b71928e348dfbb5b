package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// EnvPrefix prefixes environment overrides, e.g. HAXORPORT_TARGET_URL
const EnvPrefix = "HAXORPORT"

// Configuration keys
const (
	KeyRelayHost      = "relay_host"
	KeyConnectionPath = "connection_path"
	KeyKeyName        = "key_name"
	KeySharedKey      = "shared_key"
	KeyTargetURL      = "target_url"
	KeyTLSEnabled     = "tls_enabled"
	KeyRequestTimeout = "request_timeout"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyLogFile        = "log_file"
	KeyAPIAddress     = "api_address"
	KeyHistorySize    = "history_size"
	KeyPlugins        = "plugins"
)

// ConfigRepository is an implementation of port.ConfigRepository backed by viper
type ConfigRepository struct {
	logger port.Logger
}

// NewConfigRepository creates a new ConfigRepository instance
func NewConfigRepository(logger port.Logger) *ConfigRepository {
	return &ConfigRepository{logger: logger}
}

// newViper returns a viper instance with defaults and environment overrides
func newViper() *viper.Viper {
	defaults := model.NewConfig()

	v := viper.New()
	v.SetDefault(KeyTLSEnabled, defaults.TLSEnabled)
	v.SetDefault(KeyRequestTimeout, defaults.RequestTimeout)
	v.SetDefault(KeyLogLevel, string(defaults.LogLevel))
	v.SetDefault(KeyLogFormat, string(defaults.LogFormat))
	v.SetDefault(KeyHistorySize, defaults.HistorySize)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{KeyRelayHost, KeyConnectionPath, KeyKeyName, KeySharedKey, KeyTargetURL, KeyLogFile, KeyAPIAddress} {
		// AutomaticEnv only sees keys viper already knows about
		_ = v.BindEnv(key)
	}
	return v
}

// Load loads configuration from file. A missing file yields the defaults.
func (r *ConfigRepository) Load(configPath string) (*model.Config, error) {
	if configPath == "" {
		var err error
		configPath, err = r.GetDefaultPath()
		if err != nil {
			return nil, err
		}
	}

	v := newViper()
	v.SetConfigFile(configPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "error reading config file")
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "error reading config file")
	}

	return decode(v)
}

// decode maps viper keys to the Config struct
func decode(v *viper.Viper) (*model.Config, error) {
	config := model.NewConfig()
	config.RelayHost = v.GetString(KeyRelayHost)
	config.ConnectionPath = v.GetString(KeyConnectionPath)
	config.KeyName = v.GetString(KeyKeyName)
	config.SharedKey = v.GetString(KeySharedKey)
	config.TargetURL = v.GetString(KeyTargetURL)
	config.TLSEnabled = v.GetBool(KeyTLSEnabled)
	config.RequestTimeout = v.GetDuration(KeyRequestTimeout)
	config.LogLevel = model.LogLevel(v.GetString(KeyLogLevel))
	config.LogFormat = model.LogFormat(v.GetString(KeyLogFormat))
	config.LogFile = v.GetString(KeyLogFile)
	config.APIAddress = v.GetString(KeyAPIAddress)
	config.HistorySize = v.GetInt(KeyHistorySize)

	// viper lowercases keys, so plugin and setting names come back lowercased
	plugins := map[string]model.PluginConfig{}
	if err := v.UnmarshalKey(KeyPlugins, &plugins); err != nil {
		return nil, errors.Wrap(err, "error parsing plugin configuration")
	}
	config.Plugins = plugins

	return config, nil
}

// Save saves configuration to file
func (r *ConfigRepository) Save(config *model.Config, configPath string) error {
	if configPath == "" {
		var err error
		configPath, err = r.GetDefaultPath()
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.Set(KeyRelayHost, config.RelayHost)
	v.Set(KeyConnectionPath, config.ConnectionPath)
	v.Set(KeyKeyName, config.KeyName)
	v.Set(KeySharedKey, config.SharedKey)
	v.Set(KeyTargetURL, config.TargetURL)
	v.Set(KeyTLSEnabled, config.TLSEnabled)
	v.Set(KeyRequestTimeout, config.RequestTimeout.String())
	v.Set(KeyLogLevel, string(config.LogLevel))
	v.Set(KeyLogFormat, string(config.LogFormat))
	v.Set(KeyLogFile, config.LogFile)
	v.Set(KeyAPIAddress, config.APIAddress)
	v.Set(KeyHistorySize, config.HistorySize)

	plugins := make(map[string]interface{}, len(config.Plugins))
	for name, pc := range config.Plugins {
		settings := make(map[string]interface{}, len(pc.Settings))
		for k, val := range pc.Settings {
			settings[k] = val
		}
		plugins[name] = map[string]interface{}{
			"enabled":  pc.Enabled,
			"settings": settings,
		}
	}
	v.Set(KeyPlugins, plugins)

	if err := v.WriteConfigAs(configPath); err != nil {
		return errors.Wrap(err, "error saving configuration")
	}
	// the file holds the shared key
	if err := os.Chmod(configPath, 0o600); err != nil {
		return errors.Wrap(err, "error restricting config file permissions")
	}
	return nil
}

// GetDefaultPath returns the default path for configuration file
func (r *ConfigRepository) GetDefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "error getting home directory")
	}

	return filepath.Join(homeDir, ".haxorport", "relay.yaml"), nil
}

// Watch calls onChange with the reloaded configuration whenever the file changes
func (r *ConfigRepository) Watch(configPath string, onChange func(*model.Config)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrap(err, "error reading config file")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		config, err := decode(v)
		if err != nil {
			r.logger.Warn("Ignoring invalid configuration change in %s: %v", e.Name, err)
			return
		}
		r.logger.Debug("Configuration file %s changed", e.Name)
		onChange(config)
	})
	v.WatchConfig()
	return nil
}

// Ensure ConfigRepository implements port.ConfigRepository
var _ port.ConfigRepository = (*ConfigRepository)(nil)
