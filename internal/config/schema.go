package config

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema validates a Document against a JSON Schema before it is
// accepted as canonical, catching malformed client overrides before
// they are merged and published (§4.5).
type Schema struct {
	loader gojsonschema.JSONLoader
}

// NewSchema compiles schemaJSON (a JSON Schema document) for reuse
// across validations.
func NewSchema(schemaJSON []byte) *Schema {
	return &Schema{loader: gojsonschema.NewBytesLoader(schemaJSON)}
}

// Validate checks doc against s's schema, returning a single error
// joining every violation description.
func (s *Schema) Validate(doc Document) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: marshal document for validation: %w", err)
	}

	result, err := gojsonschema.Validate(s.loader, gojsonschema.NewBytesLoader(docJSON))
	if err != nil {
		return fmt.Errorf("config: schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msg := ""
	for i, desc := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", desc.Field(), desc.Description())
	}
	return fmt.Errorf("config: document invalid: %s", msg)
}
