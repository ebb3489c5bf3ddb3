// Package config loads YAML configuration with environment variable
// expansion into caller-supplied structs.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configurations that check themselves after
// decoding.
type Validator interface {
	Validate() error
}

// Decode expands ${VAR} references in data, unmarshals the result over
// target and validates it. Fields absent from data keep their values, so
// target may be pre-filled with defaults.
func Decode[T any](data []byte, target *T) error {
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), target); err != nil {
		return fmt.Errorf("config: parse: %w", err)
	}
	return validate(target)
}

// Load decodes the YAML file filename over target.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}
	if err := Decode(data, target); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}

// LoadOptional behaves like Load but treats a missing file as empty: target
// keeps its defaults and is only validated.
func LoadOptional[T any](filename string, target *T) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return validate(target)
	}
	return Load(filename, target)
}

func validate[T any](target *T) error {
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config: validation failed: %w", err)
		}
	}
	return nil
}
