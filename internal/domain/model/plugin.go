package model

// PluginSetting is one named string setting declared by a plugin
type PluginSetting struct {
	// Name is the stable setting key used for persistence
	Name string `json:"name"`
	// HelpText describes the expected value
	HelpText string `json:"help_text,omitempty"`
	// Value is the current value
	Value string `json:"value"`
}

// PluginDescriptor is a snapshot of one loaded plugin
type PluginDescriptor struct {
	// Name is the plugin's stable type name
	Name string `json:"name"`
	// HelpText describes what the plugin does
	HelpText string `json:"help_text,omitempty"`
	// Enabled marks the plugin as part of the active chain
	Enabled bool `json:"enabled"`
	// Initialized reports whether one-time initialization was triggered
	Initialized bool `json:"initialized"`
	// Settings lists the declared settings in declaration order
	Settings []PluginSetting `json:"settings"`
}

// Setting returns the named setting
func (d PluginDescriptor) Setting(name string) (PluginSetting, bool) {
	for _, s := range d.Settings {
		if s.Name == name {
			return s, true
		}
	}
	return PluginSetting{}, false
}
