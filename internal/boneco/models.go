package boneco

import (
	"fmt"
	"maps"
	"strings"
)

// defaultModels maps advertised model names to device classes.
var defaultModels = map[string]DeviceClass{
	"F225": ClassFan,
	"F235": ClassFan,
	"W200": ClassHumidifier,
	"W400": ClassHumidifier,
	"H300": ClassSimpleClimate,
	"H320": ClassSimpleClimate,
	"H400": ClassSimpleClimate,
	"H700": ClassTopClimate,
}

// ModelTable resolves model names to device classes. Lookups are
// case-insensitive.
type ModelTable struct {
	models map[string]DeviceClass
}

// NewModelTable returns the built-in table with overrides applied on top.
// Override values must be valid device class names.
func NewModelTable(overrides map[string]string) (*ModelTable, error) {
	models := maps.Clone(defaultModels)
	for model, class := range overrides {
		c, err := ParseDeviceClass(class)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", model, err)
		}
		models[strings.ToUpper(strings.TrimSpace(model))] = c
	}
	return &ModelTable{models: models}, nil
}

// DefaultModelTable returns the built-in table.
func DefaultModelTable() *ModelTable {
	return &ModelTable{models: maps.Clone(defaultModels)}
}

// Lookup returns the device class for a model.
func (t *ModelTable) Lookup(model string) (DeviceClass, error) {
	c, ok := t.models[strings.ToUpper(strings.TrimSpace(model))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}
	return c, nil
}

// Models returns a copy of the table.
func (t *ModelTable) Models() map[string]DeviceClass {
	return maps.Clone(t.models)
}
