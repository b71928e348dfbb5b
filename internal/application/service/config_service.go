package service

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// ConfigService is a service for managing configuration.
// It also persists plugin state into the loaded configuration file.
type ConfigService struct {
	configRepo port.ConfigRepository
	logger     port.Logger

	mu     sync.Mutex
	path   string
	config *model.Config
}

// NewConfigService creates a new ConfigService instance
func NewConfigService(configRepo port.ConfigRepository, logger port.Logger) *ConfigService {
	return &ConfigService{
		configRepo: configRepo,
		logger:     logger,
	}
}

// LoadConfig loads configuration from a file and remembers it as the current configuration
func (s *ConfigService) LoadConfig(configPath string) (*model.Config, error) {
	if configPath == "" {
		var err error
		configPath, err = s.configRepo.GetDefaultPath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get default path")
		}
	}

	config, err := s.configRepo.Load(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load configuration from %s", configPath)
	}
	s.logger.Debug("Configuration loaded from %s", configPath)

	s.mu.Lock()
	s.path = configPath
	s.config = config
	s.mu.Unlock()
	return config, nil
}

// SaveConfig saves configuration to a file
func (s *ConfigService) SaveConfig(config *model.Config, configPath string) error {
	if configPath == "" {
		s.mu.Lock()
		configPath = s.path
		s.mu.Unlock()
	}
	if configPath == "" {
		var err error
		configPath, err = s.configRepo.GetDefaultPath()
		if err != nil {
			return errors.Wrap(err, "failed to get default path")
		}
	}

	if err := s.configRepo.Save(config, configPath); err != nil {
		return errors.Wrap(err, "failed to save configuration")
	}

	s.logger.Info("Configuration saved to %s", configPath)
	return nil
}

// ConfigPath returns the path of the loaded configuration
func (s *ConfigService) ConfigPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Set assigns a configuration key from its textual value
func (s *ConfigService) Set(config *model.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "relay_host":
		config.RelayHost = value
	case "connection_path":
		config.ConnectionPath = value
	case "key_name":
		config.KeyName = value
	case "shared_key":
		config.SharedKey = value
	case "target_url":
		if err := (model.RelayOptions{TargetURL: value}).Validate(); err != nil {
			return err
		}
		config.TargetURL = value
	case "tls_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(model.ErrConfiguration, "tls_enabled: %v", err)
		}
		config.TLSEnabled = b
	case "request_timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return errors.Wrapf(model.ErrConfiguration, "request_timeout must be a positive duration, got %q", value)
		}
		config.RequestTimeout = d
	case "log_level":
		config.LogLevel = model.LogLevel(strings.ToLower(value))
	case "log_format":
		format := model.LogFormat(strings.ToLower(value))
		if format != model.LogFormatText && format != model.LogFormatJSON {
			return errors.Wrapf(model.ErrConfiguration, "log_format must be text or json, got %q", value)
		}
		config.LogFormat = format
	case "log_file":
		config.LogFile = value
	case "api_address":
		config.APIAddress = value
	case "history_size":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return errors.Wrapf(model.ErrConfiguration, "history_size must be a positive integer, got %q", value)
		}
		config.HistorySize = n
	default:
		return errors.Wrapf(model.ErrNotFound, "configuration key %q", key)
	}
	return nil
}

// Watch reloads the configuration on file changes and passes it to onChange
func (s *ConfigService) Watch(onChange func(*model.Config)) error {
	path := s.ConfigPath()
	if path == "" {
		return errors.New("no configuration loaded")
	}
	return s.configRepo.Watch(path, func(config *model.Config) {
		s.mu.Lock()
		// plugin state is owned by the running registry, not the file
		if s.config != nil {
			config.Plugins = s.config.Plugins
		}
		s.config = config
		s.mu.Unlock()
		onChange(config)
	})
}

// LoadPluginConfig returns the persisted state of a plugin, matching names case-insensitively
func (s *ConfigService) LoadPluginConfig(name string) (model.PluginConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return model.PluginConfig{}, false, nil
	}
	if pc, ok := s.config.PluginConfig(name); ok {
		return pc, true, nil
	}
	for key, pc := range s.config.Plugins {
		if strings.EqualFold(key, name) {
			return pc, true, nil
		}
	}
	return model.PluginConfig{}, false, nil
}

// SavePluginConfig stores the plugin state and writes the configuration file
func (s *ConfigService) SavePluginConfig(name string, pc model.PluginConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return errors.New("no configuration loaded")
	}
	for key := range s.config.Plugins {
		if strings.EqualFold(key, name) && key != name {
			delete(s.config.Plugins, key)
		}
	}
	s.config.SetPluginConfig(name, pc)

	if err := s.configRepo.Save(s.config, s.path); err != nil {
		return errors.Wrapf(err, "failed to save settings of plugin %s", name)
	}
	return nil
}

var _ port.PluginSettingsStore = (*ConfigService)(nil)
