package plugin

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// Builtins returns fresh instances of the plugins shipped with the agent
func Builtins() []port.Plugin {
	return []port.Plugin{
		NewAddHeaders(),
		NewRemoveHeaders(),
	}
}

type entry struct {
	plugin      port.Plugin
	fields      []settingField
	enabled     bool
	initOnce    sync.Once
	initialized atomic.Bool
}

// Registry owns the discovered plugins, their settings and the enabled snapshot
// the request pipeline iterates.
type Registry struct {
	store  port.PluginSettingsStore
	logger port.Logger

	mu      sync.Mutex
	entries []*entry
	byName  map[string]*entry

	enabled atomic.Pointer[[]port.Plugin]
}

// NewRegistry creates an empty registry. store may be nil, in which case nothing is persisted.
func NewRegistry(store port.PluginSettingsStore, logger port.Logger) *Registry {
	r := &Registry{
		store:  store,
		logger: logger,
		byName: map[string]*entry{},
	}
	r.enabled.Store(&[]port.Plugin{})
	return r
}

// Discover registers plugins in order, applying defaults and persisted state.
// Enabled plugins start their one-time initialization in the background.
func (r *Registry) Discover(ctx context.Context, plugins ...port.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range plugins {
		if p == nil {
			continue
		}
		key := strings.ToLower(p.Name())
		if _, exists := r.byName[key]; exists {
			return errors.Wrapf(model.ErrConfiguration, "duplicate plugin name %q", p.Name())
		}

		fields, err := reflectSettings(p)
		if err != nil {
			return err
		}
		applyDefaults(p)

		e := &entry{plugin: p, fields: fields}
		if r.store != nil {
			cfg, ok, err := r.store.LoadPluginConfig(p.Name())
			if err != nil {
				return errors.Wrapf(err, "failed to load settings of plugin %q", p.Name())
			}
			if ok {
				e.enabled = cfg.Enabled
				for name, value := range cfg.Settings {
					f, found := findSetting(fields, name)
					if !found {
						r.logger.Warn("Ignoring unknown setting %q of plugin %s", name, p.Name())
						continue
					}
					setSetting(p, f, value)
				}
			}
		}
		if err := configure(p); err != nil {
			return errors.Wrapf(model.ErrConfiguration, "%v", err)
		}

		r.entries = append(r.entries, e)
		r.byName[key] = e
		r.logger.Debug("Discovered plugin %s (enabled: %t)", p.Name(), e.enabled)

		if e.enabled {
			r.startInitialize(ctx, e)
		}
	}

	r.publish()
	return nil
}

// EnabledPlugins returns the current ordered snapshot of enabled plugins.
// The returned slice must not be modified.
func (r *Registry) EnabledPlugins() []port.Plugin {
	return *r.enabled.Load()
}

// Descriptors describes every discovered plugin in discovery order
func (r *Registry) Descriptors() []model.PluginDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.PluginDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, describe(e))
	}
	return out
}

// Descriptor describes a single plugin
func (r *Registry) Descriptor(name string) (model.PluginDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(name)
	if err != nil {
		return model.PluginDescriptor{}, err
	}
	return describe(e), nil
}

// SetEnabled enables or disables a plugin and persists the change.
// Disabling never tears down a plugin that was already initialized.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return r.Apply(ctx, name, &enabled, nil)
}

// SetSetting changes one setting value of a plugin and persists the change
func (r *Registry) SetSetting(ctx context.Context, name, setting, value string) error {
	return r.Apply(ctx, name, nil, map[string]string{setting: value})
}

// Apply changes enablement (when enabled is non-nil) and setting values of a plugin in one step.
// Settings are applied on a copy of the plugin, so requests already holding the
// previous snapshot keep the previous values.
func (r *Registry) Apply(ctx context.Context, name string, enabled *bool, settings map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(name)
	if err != nil {
		return err
	}

	if len(settings) > 0 {
		if len(e.fields) == 0 {
			return errors.Wrapf(model.ErrNotFound, "plugin %q has no settings", e.plugin.Name())
		}
		next := clonePlugin(e.plugin)
		// apply in a stable order so errors are deterministic
		names := make([]string, 0, len(settings))
		for k := range settings {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			f, found := findSetting(e.fields, k)
			if !found {
				return errors.Wrapf(model.ErrNotFound, "plugin %q has no setting %q", e.plugin.Name(), k)
			}
			setSetting(next, f, settings[k])
		}
		if err := configure(next); err != nil {
			return err
		}
		e.plugin = next
	}

	if enabled != nil {
		e.enabled = *enabled
		if e.enabled {
			r.startInitialize(ctx, e)
		}
	}

	r.publish()
	r.logger.Info("Plugin %s updated (enabled: %t)", e.plugin.Name(), e.enabled)
	return r.persist(e)
}

func (r *Registry) lookup(name string) (*entry, error) {
	e, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrapf(model.ErrNotFound, "plugin %q", name)
	}
	return e, nil
}

// publish rebuilds the enabled snapshot. Caller holds r.mu.
func (r *Registry) publish() {
	enabled := make([]port.Plugin, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled {
			enabled = append(enabled, e.plugin)
		}
	}
	r.enabled.Store(&enabled)
}

func (r *Registry) persist(e *entry) error {
	if r.store == nil {
		return nil
	}
	cfg := model.PluginConfig{Enabled: e.enabled, Settings: map[string]string{}}
	for _, f := range e.fields {
		cfg.Settings[f.name] = getSetting(e.plugin, f)
	}
	if err := r.store.SavePluginConfig(e.plugin.Name(), cfg); err != nil {
		return errors.Wrapf(err, "failed to save settings of plugin %q", e.plugin.Name())
	}
	return nil
}

// startInitialize runs the plugin's Initialize hook once, in the background
func (r *Registry) startInitialize(ctx context.Context, e *entry) {
	p := e.plugin
	ctx = context.WithoutCancel(ctx)
	e.initOnce.Do(func() {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.WithField("plugin", p.Name()).Error("Plugin initialization panicked: %v", rec)
				}
			}()
			if initializer, ok := p.(port.Initializer); ok {
				if err := initializer.Initialize(ctx); err != nil {
					r.logger.WithField("plugin", p.Name()).Error("Plugin initialization failed: %v", err)
					return
				}
			}
			e.initialized.Store(true)
			r.logger.Debug("Plugin %s initialized", p.Name())
		}()
	})
}

func describe(e *entry) model.PluginDescriptor {
	d := model.PluginDescriptor{
		Name:        e.plugin.Name(),
		HelpText:    e.plugin.HelpText(),
		Enabled:     e.enabled,
		Initialized: e.initialized.Load(),
		Settings:    make([]model.PluginSetting, 0, len(e.fields)),
	}
	for _, f := range e.fields {
		d.Settings = append(d.Settings, model.PluginSetting{
			Name:     f.name,
			HelpText: f.help,
			Value:    getSetting(e.plugin, f),
		})
	}
	return d
}
