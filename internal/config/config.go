// Package config defines the safety limits configuration, its defaults and
// its loading/validation pipeline.
package config

import (
	"time"
)

// Default limit values applied wherever the limits file leaves a field unset.
// A zero limit is never left in place: an unconstrained autonomous plan is
// exactly what this control-plane exists to prevent.
const (
	DefaultMaxRecursionDepth = 5
	DefaultMaxExecutionTime  = "300s"
	DefaultMaxMemoryMB       = 1024.0
	DefaultMaxCPUPercent     = 80.0
	DefaultMaxFileSizeMB     = 10.0
	DefaultMaxGeneratedFiles = 100
	DefaultMaxSubtasks       = 10
)

// DefaultAllowedExtensions lists file extensions a generated artifact may
// carry unless the limits file overrides the allow-list.
var DefaultAllowedExtensions = []string{
	".txt", ".md", ".json", ".yaml", ".yml", ".csv", ".log", ".py", ".go", ".sh",
}

// DefaultBlockedOperations are substrings whose presence in an operation
// string causes immediate CRITICAL rejection regardless of any other
// analysis. Matching is case-insensitive.
var DefaultBlockedOperations = []string{
	"rm -rf /",
	"sudo rm",
	"format c:",
	"del /f /s /q c:",
	":(){ :|:& };:",
	"dd if=/dev/zero of=/dev/",
	"mkfs.",
	"> /dev/sda",
}

// SafetyLimits is the immutable configuration bounding autonomous execution.
// Load it from YAML via LoadLimits or construct it programmatically and call
// ApplyDefaults.
type SafetyLimits struct {
	SchemaVersion     string   `yaml:"schemaVersion,omitempty"`
	MaxRecursionDepth int      `yaml:"max_recursion_depth,omitempty"`
	MaxExecutionTime  string   `yaml:"max_execution_time,omitempty"`
	MaxMemoryMB       float64  `yaml:"max_memory_usage_mb,omitempty"`
	MaxCPUPercent     float64  `yaml:"max_cpu_usage_percent,omitempty"`
	MaxFileSizeMB     float64  `yaml:"max_generated_file_size_mb,omitempty"`
	MaxGeneratedFiles int      `yaml:"max_generated_files,omitempty"`
	MaxSubtasks       int      `yaml:"max_subtasks,omitempty"`
	AllowedExtensions []string `yaml:"allowed_file_extensions,omitempty"`
	BlockedOperations []string `yaml:"blocked_operations,omitempty"`

	// FilePath records the source file for logging and error context.
	// It is not parsed from the YAML.
	FilePath string `yaml:"-"`
}

// DefaultLimits returns a fully-populated limits configuration.
func DefaultLimits() *SafetyLimits {
	limits := &SafetyLimits{}
	limits.ApplyDefaults()
	return limits
}

// ApplyDefaults fills every unset field with its default value. Explicit
// values, including stricter-than-default ones, are preserved.
func (l *SafetyLimits) ApplyDefaults() {
	if l.MaxRecursionDepth <= 0 {
		l.MaxRecursionDepth = DefaultMaxRecursionDepth
	}
	if l.MaxExecutionTime == "" {
		l.MaxExecutionTime = DefaultMaxExecutionTime
	}
	if l.MaxMemoryMB <= 0 {
		l.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if l.MaxCPUPercent <= 0 {
		l.MaxCPUPercent = DefaultMaxCPUPercent
	}
	if l.MaxFileSizeMB <= 0 {
		l.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if l.MaxGeneratedFiles <= 0 {
		l.MaxGeneratedFiles = DefaultMaxGeneratedFiles
	}
	if l.MaxSubtasks <= 0 {
		l.MaxSubtasks = DefaultMaxSubtasks
	}
	if len(l.AllowedExtensions) == 0 {
		l.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	}
	if len(l.BlockedOperations) == 0 {
		l.BlockedOperations = append([]string(nil), DefaultBlockedOperations...)
	}
}

// GetMaxExecutionTime parses the configured execution time limit, falling
// back to the default on unset or invalid values. The limit is provided for
// callers to enforce; the control-plane records it but does not cancel on it.
func (l *SafetyLimits) GetMaxExecutionTime() time.Duration {
	timeStr := l.MaxExecutionTime
	if timeStr == "" {
		timeStr = DefaultMaxExecutionTime
	}
	duration, err := time.ParseDuration(timeStr)
	if err != nil || duration <= 0 {
		duration, _ = time.ParseDuration(DefaultMaxExecutionTime)
	}
	return duration
}

// ResourceCeilings returns the memory (MB) and CPU (%) ceilings the
// resource monitor compares samples against.
func (l *SafetyLimits) ResourceCeilings() (maxMemoryMB, maxCPUPercent float64) {
	return l.MaxMemoryMB, l.MaxCPUPercent
}
