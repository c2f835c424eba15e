package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how a command prints its result.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// FormatFromFlags maps the --json and --yaml flags to a format.
func FormatFromFlags(jsonFlag, yamlFlag bool) (OutputFormat, error) {
	switch {
	case jsonFlag && yamlFlag:
		return "", errors.New("--json and --yaml are mutually exclusive")
	case jsonFlag:
		return FormatJSON, nil
	case yamlFlag:
		return FormatYAML, nil
	}
	return FormatText, nil
}

// Write prints data to w in format. Text output is delegated to text.
func Write(w io.Writer, format OutputFormat, data interface{}, text func(io.Writer) error) error {
	switch format {
	case FormatJSON:
		out, err := MarshalJSON(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case FormatYAML:
		out, err := MarshalYAML(data)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	return text(w)
}

// MarshalJSON marshals the provided data as indented JSON.
func MarshalJSON(data interface{}) ([]byte, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return jsonData, nil
}

// MarshalYAML marshals the provided data as YAML.
func MarshalYAML(data interface{}) ([]byte, error) {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return yamlData, nil
}
