package validator_test

import (
	"testing"

	"github.com/aegis-labs/aegis/internal/config"
	"github.com/aegis-labs/aegis/internal/validator"
	v1 "github.com/aegis-labs/aegis/pkg/aegis/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *validator.Validator {
	t.Helper()
	limits := config.DefaultLimits()
	return validator.New(limits)
}

func TestValidate_SafeOperation(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("list files in the working directory", validator.Context{})

	assert.True(t, verdict.Allowed)
	assert.Equal(t, v1.RiskLow, verdict.Risk)
	assert.Equal(t, "operation passed safety validation", verdict.Message)
	assert.Empty(t, verdict.Warnings)
}

func TestValidate_BlockListShortCircuits(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("run rm -rf / to clean up", validator.Context{})

	assert.False(t, verdict.Allowed)
	assert.Equal(t, v1.RiskCritical, verdict.Risk)
	assert.Contains(t, verdict.Message, "contains forbidden operation")
	assert.Contains(t, verdict.Message, "rm -rf /")
}

func TestValidate_BlockListIsCaseInsensitive(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("SUDO RM -rf /etc", validator.Context{})

	assert.False(t, verdict.Allowed)
	assert.Equal(t, v1.RiskCritical, verdict.Risk)
	assert.Contains(t, verdict.Message, "forbidden operation")
}

func TestValidate_DestructivePatternIsHighRisk(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("rm -rf ./build", validator.Context{})

	assert.True(t, verdict.Allowed, "HIGH risk alone does not reject")
	assert.Equal(t, v1.RiskHigh, verdict.Risk)
	require.Len(t, verdict.Warnings, 1)
	assert.Contains(t, verdict.Warnings[0], "destructive file operation")
}

func TestValidate_PrivilegedPatternIsCritical(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("sudo systemctl restart nginx", validator.Context{})

	assert.False(t, verdict.Allowed)
	assert.Equal(t, v1.RiskCritical, verdict.Risk)
	assert.Contains(t, verdict.Message, "operation rejected")
}

func TestValidate_NetworkPatternIsMediumRisk(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("iptables -F INPUT", validator.Context{})

	assert.True(t, verdict.Allowed)
	assert.Equal(t, v1.RiskMedium, verdict.Risk)
	assert.Contains(t, verdict.Message, "approved with warnings")
}

func TestValidate_RiskRatchetsAcrossCategories(t *testing.T) {
	v := newTestValidator(t)

	// Matches both the destructive (HIGH) and network (MEDIUM) categories;
	// the verdict keeps the maximum.
	verdict := v.Validate("rm -rf ./cache && iptables -F", validator.Context{})

	assert.Equal(t, v1.RiskHigh, verdict.Risk)
	assert.Len(t, verdict.Warnings, 2)
}

func TestValidate_DeepRecursionEscalatesToCritical(t *testing.T) {
	v := newTestValidator(t)

	shallow := v.Validate("iptables -F INPUT", validator.Context{RecursionDepth: 3})
	deep := v.Validate("iptables -F INPUT", validator.Context{RecursionDepth: 4})

	assert.True(t, shallow.Allowed, "depth 3 is at the threshold, not beyond it")
	assert.Equal(t, v1.RiskMedium, shallow.Risk)

	assert.False(t, deep.Allowed)
	assert.Equal(t, v1.RiskCritical, deep.Risk)
	assert.Contains(t, deep.Message, "escalated to CRITICAL")
}

func TestValidate_DeepRecursionAloneIsHarmless(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("read the configuration file", validator.Context{RecursionDepth: 10})

	assert.True(t, verdict.Allowed, "depth only amplifies existing risk, it creates none")
	assert.Equal(t, v1.RiskLow, verdict.Risk)
}

func TestValidate_DisallowedExtensionRejects(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("write the report", validator.Context{TargetPath: "/tmp/report.exe"})

	assert.False(t, verdict.Allowed)
	assert.Equal(t, v1.RiskHigh, verdict.Risk)
	assert.Contains(t, verdict.Message, ".exe")
}

func TestValidate_AllowedExtensionPasses(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("write the report", validator.Context{TargetPath: "/tmp/report.md"})

	assert.True(t, verdict.Allowed)
	assert.Equal(t, v1.RiskLow, verdict.Risk)
}

func TestValidate_ExtensionCheckIsCaseInsensitive(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("write the report", validator.Context{TargetPath: "C:\\out\\REPORT.MD"})

	assert.True(t, verdict.Allowed)
}

func TestValidate_Deterministic(t *testing.T) {
	v := newTestValidator(t)
	vctx := validator.Context{RecursionDepth: 4, TargetPath: "out.bin"}

	first := v.Validate("rm -rf ./scratch", vctx)
	second := v.Validate("rm -rf ./scratch", vctx)

	assert.Equal(t, first, second)
}
