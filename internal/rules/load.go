package rules

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Load compiles the built-in tables with the YAML overlay at path applied.
// An empty path returns the defaults. The overlay file has a top-level
// "rules" key; every section it sets replaces the built-in section.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Compile(DefaultSpec())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read overlay %s", path)
	}
	overlay, err := Parse(data)
	if err != nil {
		return nil, err
	}
	spec := DefaultSpec().merge(overlay)
	if overlay.Version == "" {
		spec.Version = DefaultVersion + "+custom"
	}
	return Compile(spec)
}

// Parse decodes a YAML rules overlay.
func Parse(data []byte) (Spec, error) {
	var wrapper struct {
		Rules Spec `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Spec{}, eris.Wrap(err, "rules: parse overlay")
	}
	return wrapper.Rules, nil
}
