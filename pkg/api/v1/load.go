package v1

import (
	"fmt"
	"os"

	"k8s.io/apimachinery/pkg/util/yaml"
)

// ReadFile decodes and validates the repository
// configuration at path. Both YAML and JSON are accepted.
func ReadFile(path string) (*Repository, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var config Repository
	if err := yaml.NewYAMLOrJSONDecoder(f, 4).Decode(&config); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &config, nil
}
