package port

import "github.com/haxorport/haxorport-relay-agent/internal/domain/model"

// ConfigRepository defines operations that can be performed on configuration
type ConfigRepository interface {
	// Load loads configuration from storage
	Load(path string) (*model.Config, error)

	// Save saves configuration to storage
	Save(config *model.Config, path string) error

	// GetDefaultPath returns the default path for configuration file
	GetDefaultPath() (string, error)

	// Watch calls onChange with the reloaded configuration whenever the file at path changes
	Watch(path string, onChange func(*model.Config)) error
}

// PluginSettingsStore persists plugin enablement and setting values
type PluginSettingsStore interface {
	// LoadPluginConfig returns the persisted state of a plugin, ok=false if none was saved
	LoadPluginConfig(name string) (cfg model.PluginConfig, ok bool, err error)

	// SavePluginConfig persists the state of a plugin
	SavePluginConfig(name string, cfg model.PluginConfig) error
}
