package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	pkgerrors "mtlcap/pkg/errors"
)

// file is the on-disk layout of a scenario file.
type file struct {
	Version    int `yaml:"version"`
	Descriptor `yaml:",inline"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a scenario document. Unknown keys are rejected.
func Parse(data []byte) (*Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", pkgerrors.ErrInvalidScenario)
		}
		if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrUnknownOption, err)
		}
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidScenario, err)
	}
	if f.Version != SchemaVersion {
		return nil, &pkgerrors.ScenarioError{
			Field: "version",
			Err:   fmt.Errorf("%w: unsupported version %d (want %d)", pkgerrors.ErrInvalidScenario, f.Version, SchemaVersion),
		}
	}

	d := f.Descriptor
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
