package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersionConstraint is the major schema version this build
// accepts in limits files.
const SupportedSchemaVersionConstraint = "v1"

// LoadLimits parses limits YAML: schema validation, strict decoding,
// schema-version gate, logical validation, then defaulting. The returned
// configuration is fully populated.
func LoadLimits(limitsYAML []byte, filePathHint string) (*SafetyLimits, error) {
	if len(limitsYAML) == 0 {
		return nil, aegiserrors.NewConfigError("limits content cannot be empty", nil)
	}

	// Structural validation first so the user sees schema-level mistakes
	// with field paths instead of decode errors.
	if err := ValidateWithSchema(limitsYAML); err != nil {
		return nil, aegiserrors.NewConfigError(fmt.Sprintf("limits file '%s' failed schema validation", filePathHint), err)
	}

	var limits SafetyLimits
	if err := yamlUnmarshalStrict(limitsYAML, &limits); err != nil {
		return nil, aegiserrors.NewConfigError(fmt.Sprintf("failed to parse limits YAML '%s'", filePathHint), err)
	}
	limits.FilePath = filePathHint

	if limits.SchemaVersion == "" {
		return nil, aegiserrors.NewValidationError(fmt.Sprintf("limits file '%s' is missing required 'schemaVersion' field", filePathHint), nil)
	}
	limitsSemVer := limits.SchemaVersion
	if !strings.HasPrefix(limitsSemVer, "v") {
		limitsSemVer = "v" + limitsSemVer
	}
	if !semver.IsValid(limitsSemVer) {
		return nil, aegiserrors.NewValidationError(fmt.Sprintf("limits file '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, limits.SchemaVersion), nil)
	}
	if semver.Major(limitsSemVer) != SupportedSchemaVersionConstraint {
		return nil, aegiserrors.NewValidationError(
			fmt.Sprintf("limits file '%s' schemaVersion '%s' is not compatible with requirement '%s'",
				filePathHint, limits.SchemaVersion, SupportedSchemaVersionConstraint),
			nil,
		)
	}

	validationErrs := ValidateLimits(&limits)
	if len(validationErrs) > 0 {
		var errorMessages []string
		for _, vErr := range validationErrs {
			errorMessages = append(errorMessages, vErr.Error())
		}
		combinedMessage := fmt.Sprintf("limits file '%s' has %d validation error(s):\n- %s",
			filePathHint, len(errorMessages), strings.Join(errorMessages, "\n- "))
		return nil, aegiserrors.NewValidationError(combinedMessage, validationErrs[0])
	}

	limits.ApplyDefaults()
	return &limits, nil
}

// LoadLimitsFromFile reads and loads a limits file from disk.
func LoadLimitsFromFile(filePath string) (*SafetyLimits, error) {
	if filePath == "" {
		return nil, aegiserrors.NewConfigError("limits file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, aegiserrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	yamlFile, err := os.ReadFile(absPath)
	if err != nil {
		return nil, aegiserrors.NewConfigError(fmt.Sprintf("failed to read limits file '%s'", absPath), err)
	}
	return LoadLimits(yamlFile, absPath)
}

// yamlUnmarshalStrict decodes YAML while rejecting unknown fields, catching
// typos in limits files early.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(strings.NewReader(string(in)))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
