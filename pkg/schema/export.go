package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Checklist struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Checklist{})
	s.ID = "https://github.com/ormasoftchile/fleetcheck/schemas/checklist-v1.json"
	s.Title = "Fleetcheck Checklist v1"
	s.Description = "Schema for fleetcheck checklist YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// GenerateInventoryJSONSchema produces a JSON Schema Draft 2020-12
// document from the Go Inventory struct.
func GenerateInventoryJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Inventory{})
	s.ID = "https://github.com/ormasoftchile/fleetcheck/schemas/inventory-v1.json"
	s.Title = "Fleetcheck Inventory v1"
	s.Description = "Schema for fleetcheck host inventory YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal inventory schema: %w", err)
	}
	return data, nil
}

// JSONSchema customizes the ValueList schema: a string or a list of strings.
func (ValueList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	}
}
