package config

import (
	_ "embed"
	"fmt"
	"sync"

	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// The limits schema is embedded so a deployed binary validates configuration
// without any companion files.
//
//go:embed aegis_limits_schema_v1.0.0.json
var schemaV1Bytes []byte

var (
	schemaV1   *gojsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
)

// loadSchema compiles the embedded schema exactly once.
func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaV1Bytes) == 0 {
			schemaErr = aegiserrors.NewConfigError("embedded schema 'aegis_limits_schema_v1.0.0.json' is empty or not found", nil)
			return
		}
		schemaV1, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaV1Bytes))
		if schemaErr != nil {
			schemaErr = aegiserrors.NewConfigError("failed to compile embedded limits schema", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema validates a YAML limits document against the embedded
// v1.0.0 schema, converting YAML to generic Go data first since the
// validator speaks JSON shapes.
func ValidateWithSchema(documentYAML []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	var jsonData interface{}
	if err := yaml.Unmarshal(documentYAML, &jsonData); err != nil {
		return aegiserrors.NewConfigError("failed to parse limits YAML for schema validation", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(jsonData))
	if err != nil {
		return aegiserrors.NewConfigError("schema validation process failed", err)
	}

	if !result.Valid() {
		errMsg := "limits file failed JSON schema validation:"
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "(root)" || field == "" {
				field = desc.Context().String()
			}
			errMsg += fmt.Sprintf("\n  - Field '%s': %s", field, desc.Description())
		}
		return aegiserrors.NewValidationError(errMsg, nil)
	}
	return nil
}
