package tablespec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML table definition and validates it.
func Parse(data []byte) (TableSpec, error) {
	var spec TableSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return TableSpec{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := spec.Validate(); err != nil {
		return TableSpec{}, err
	}
	return spec, nil
}

// Load reads and validates a YAML table definition file.
func Load(path string) (TableSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TableSpec{}, err
	}
	return Parse(data)
}
