package regiondata

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/regions.schema.json
var schemaFS embed.FS

const schemaURL = "regions.schema.json"

// ErrSchema is returned when a document does not match the region schema.
var ErrSchema = errors.New("document does not match schema")

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schema/regions.schema.json")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// Validate checks raw JSON against the region document schema.
func Validate(raw []byte) error {
	s, err := compiled()
	if err != nil {
		return fmt.Errorf("compiling region schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}
