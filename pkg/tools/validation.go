package tools

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks tool parameters against JSON Schema documents.
type Validator struct{}

// NewValidator creates a parameter validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateParams validates params against the given JSON Schema. A nil
// or empty schema accepts anything.
func (v *Validator) ValidateParams(params map[string]interface{}, schema map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return nil
}
