package strategy

import (
	"bytes"
	"fmt"
	"os"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a strategy definition from a YAML (or JSON) file
func LoadFile(path string) (types.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Strategy{}, fmt.Errorf("failed to read strategy file: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return types.Strategy{}, fmt.Errorf("failed to load strategy %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a strategy definition. Unknown keys are rejected.
func Parse(data []byte) (types.Strategy, error) {
	var s types.Strategy

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return types.Strategy{}, &types.ConfigurationError{Reason: fmt.Sprintf("failed to parse strategy: %v", err)}
	}

	s = Normalize(s)
	if err := Validate(s); err != nil {
		return types.Strategy{}, err
	}
	return s, nil
}

// Marshal encodes a strategy definition as YAML
func Marshal(s types.Strategy) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode strategy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode strategy: %w", err)
	}
	return buf.Bytes(), nil
}
