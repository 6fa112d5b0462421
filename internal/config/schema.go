package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaID identifies the published relay config schema.
const SchemaID = "https://github.com/haasonsaas/relay/config.schema.json"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error

	compiledOnce sync.Once
	compiled     *validator.Schema
	compileErr   error
)

// JSONSchema returns the JSON Schema describing the configuration file. Editors
// can point yaml-language-server at it for completion.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:   "yaml",
			ExpandedStruct: true,
			// Every field has a default, so none are required.
			RequiredFromJSONSchemaTags: true,
			Mapper:                     mapDuration,
		}
		schema := r.Reflect(&Config{})
		schema.ID = jsonschema.ID(SchemaID)
		schema.Title = "relay configuration"
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// mapDuration describes durations the way they are written: "3s", "10m".
func mapDuration(t reflect.Type) *jsonschema.Schema {
	if t != reflect.TypeOf(time.Duration(0)) {
		return nil
	}
	return &jsonschema.Schema{
		Type:    "string",
		Pattern: `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
	}
}

// ValidateSchema checks a raw config map, as returned by LoadRaw, against
// JSONSchema. It reports type errors with their JSON pointer location.
func ValidateSchema(raw map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}

func compiledSchema() (*validator.Schema, error) {
	compiledOnce.Do(func() {
		data, err := JSONSchema()
		if err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = validator.CompileString("relay.schema.json", string(data))
	})
	return compiled, compileErr
}
