package config

import (
	"fmt"
	"strings"
	"time"

	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
)

// ValidateLimits performs logical validation beyond what the JSON schema can
// express: cross-field sanity and value-range rules. It returns every error
// found, not just the first.
func ValidateLimits(l *SafetyLimits) []error {
	var errs []error

	if l.MaxRecursionDepth < 0 {
		errs = append(errs, aegiserrors.NewValidationError("max_recursion_depth cannot be negative", nil))
	}
	if l.MaxSubtasks < 0 {
		errs = append(errs, aegiserrors.NewValidationError("max_subtasks cannot be negative", nil))
	}
	if l.MaxMemoryMB < 0 {
		errs = append(errs, aegiserrors.NewValidationError("max_memory_usage_mb cannot be negative", nil))
	}
	if l.MaxCPUPercent < 0 || l.MaxCPUPercent > 100 {
		errs = append(errs, aegiserrors.NewValidationError(fmt.Sprintf("max_cpu_usage_percent must be within (0, 100], got %v", l.MaxCPUPercent), nil))
	}
	if l.MaxFileSizeMB < 0 {
		errs = append(errs, aegiserrors.NewValidationError("max_generated_file_size_mb cannot be negative", nil))
	}
	if l.MaxGeneratedFiles < 0 {
		errs = append(errs, aegiserrors.NewValidationError("max_generated_files cannot be negative", nil))
	}

	if l.MaxExecutionTime != "" {
		duration, err := time.ParseDuration(l.MaxExecutionTime)
		if err != nil {
			errs = append(errs, aegiserrors.NewValidationError(fmt.Sprintf("max_execution_time '%s' is not a valid duration", l.MaxExecutionTime), err))
		} else if duration <= 0 {
			errs = append(errs, aegiserrors.NewValidationError("max_execution_time must be positive", nil))
		}
	}

	seen := make(map[string]bool)
	for _, ext := range l.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, aegiserrors.NewValidationError(fmt.Sprintf("allowed file extension '%s' must start with '.'", ext), nil))
		}
		lower := strings.ToLower(ext)
		if seen[lower] {
			errs = append(errs, aegiserrors.NewValidationError(fmt.Sprintf("duplicate allowed file extension '%s'", ext), nil))
		}
		seen[lower] = true
	}

	for _, op := range l.BlockedOperations {
		if strings.TrimSpace(op) == "" {
			errs = append(errs, aegiserrors.NewValidationError("blocked_operations entries cannot be blank", nil))
		}
	}

	return errs
}
