package plugin

import (
	"reflect"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

const (
	tagSetting = "setting"
	tagHelp    = "help"
)

// settingField describes one `setting:"Name"` tagged field of a plugin struct
type settingField struct {
	name  string
	help  string
	index []int
}

// reflectSettings lists the declared settings of p in field order.
// Plugins that are not struct pointers have no settings.
func reflectSettings(p port.Plugin) ([]settingField, error) {
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, nil
	}

	t := v.Elem().Type()
	var fields []settingField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, ok := f.Tag.Lookup(tagSetting)
		if !ok {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if f.Type.Kind() != reflect.String {
			return nil, errors.Wrapf(model.ErrConfiguration,
				"setting %q of plugin %q must be a string, got %s", name, p.Name(), f.Type)
		}
		if !f.IsExported() {
			return nil, errors.Wrapf(model.ErrConfiguration,
				"setting %q of plugin %q is not exported", name, p.Name())
		}
		fields = append(fields, settingField{name: name, help: f.Tag.Get(tagHelp), index: f.Index})
	}
	return fields, nil
}

// applyDefaults fills zero-valued settings from their `default` tags
func applyDefaults(p port.Plugin) {
	v := reflect.ValueOf(p)
	if v.Kind() == reflect.Ptr && v.Elem().Kind() == reflect.Struct {
		defaults.SetDefaults(p)
	}
}

// clonePlugin returns a shallow copy of a struct-pointer plugin, or p itself otherwise
func clonePlugin(p port.Plugin) port.Plugin {
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return p
	}
	cp := reflect.New(v.Elem().Type())
	cp.Elem().Set(v.Elem())
	return cp.Interface().(port.Plugin)
}

func getSetting(p port.Plugin, f settingField) string {
	return reflect.ValueOf(p).Elem().FieldByIndex(f.index).String()
}

func setSetting(p port.Plugin, f settingField, value string) {
	reflect.ValueOf(p).Elem().FieldByIndex(f.index).SetString(value)
}

// findSetting matches case-insensitively, persisted keys may come back lowercased
func findSetting(fields []settingField, name string) (settingField, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.name, name) {
			return f, true
		}
	}
	return settingField{}, false
}

// configure runs the optional Configurable hook
func configure(p port.Plugin) error {
	if c, ok := p.(port.Configurable); ok {
		if err := c.Configure(); err != nil {
			return errors.Wrapf(err, "failed to configure plugin %q", p.Name())
		}
	}
	return nil
}
