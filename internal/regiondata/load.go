package regiondata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is an asset file encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatOf picks the format from a file extension; anything that is not
// .yaml or .yml is treated as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads, validates and decodes a region document.
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading region file: %w", err)
	}
	doc, err := Decode(data, FormatOf(path))
	if err != nil {
		return Document{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return doc, nil
}

// Decode validates and decodes a document. YAML input is normalized to JSON
// first so both formats go through the same schema.
func Decode(data []byte, f Format) (Document, error) {
	raw := data
	if f == FormatYAML {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return Document{}, fmt.Errorf("parsing yaml: %w", err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return Document{}, fmt.Errorf("normalizing yaml: %w", err)
		}
		raw = b
	}

	if err := Validate(raw); err != nil {
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// WriteFile encodes doc in the format implied by path.
func WriteFile(path string, doc Document) error {
	var (
		data []byte
		err  error
	)
	if FormatOf(path) == FormatYAML {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding region document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing region file: %w", err)
	}
	return nil
}
