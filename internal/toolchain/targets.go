package toolchain

import "sort"

// Target is a supported chip family.
type Target struct {
	Name       string // toolchain identifier, e.g. "esp32s3"
	ChipFamily string // display name used in flash manifests, e.g. "ESP32-S3"
}

var targets = map[string]Target{
	"esp32":   {Name: "esp32", ChipFamily: "ESP32"},
	"esp32s2": {Name: "esp32s2", ChipFamily: "ESP32-S2"},
	"esp32s3": {Name: "esp32s3", ChipFamily: "ESP32-S3"},
	"esp32c3": {Name: "esp32c3", ChipFamily: "ESP32-C3"},
	"esp32c6": {Name: "esp32c6", ChipFamily: "ESP32-C6"},
	"esp32h2": {Name: "esp32h2", ChipFamily: "ESP32-H2"},
}

// LookupTarget resolves a target name.
func LookupTarget(name string) (Target, bool) {
	t, ok := targets[name]
	return t, ok
}

// Targets returns all supported targets sorted by name.
func Targets() []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
