package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// printValue writes v to w in the selected output format.
func printValue(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		// через JSON, чтобы ключи совпадали с json-тегами моделей
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q, valid formats: yaml, json", format)
	}
}
