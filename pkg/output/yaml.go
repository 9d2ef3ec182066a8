package output

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// WriteYAML renders v as a YAML document.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return &WriteError{Op: "yaml", Err: fmt.Errorf("encode: %w", err)}
	}
	if err := enc.Close(); err != nil {
		return &WriteError{Op: "yaml", Err: err}
	}
	return nil
}
