// Package presets holds named configurations that overwrite the defaults.
package presets

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spacemeshos/go-regionsync/config"
)

var presets = map[string]config.Config{}

func register(name string, preset config.Config) {
	if _, exist := presets[name]; exist {
		panic(fmt.Sprintf("preset with name %s already exists", name))
	}
	presets[name] = preset
}

// Options returns list of registered options.
func Options() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Get return one of the available preset.
func Get(name string) (config.Config, error) {
	preset, exist := presets[name]
	if !exist {
		return config.Config{}, fmt.Errorf("preset %s doesn't exist", name)
	}
	return preset, nil
}
