package safety_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aegis-labs/aegis/internal/safety"
	v1 "github.com/aegis-labs/aegis/pkg/aegis/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLog_AppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.jsonl")
	audit, err := safety.NewAuditLog(path)
	require.NoError(t, err, "parent directories are created on demand")
	defer audit.Close()

	first := v1.NewEvent(v1.ViolationUnsafeOperation, v1.RiskCritical,
		"forbidden operation", v1.ActionOperationBlocked, "plan-1", "sub-1",
		map[string]interface{}{"operation": "sudo rm"})
	second := v1.NewEvent(v1.ViolationResourceLimit, v1.RiskHigh,
		"memory over limit", v1.ActionAlertDispatched, "", "", nil)

	require.NoError(t, audit.Append(first))
	require.NoError(t, audit.Append(second))

	recorded, err := safety.ReadAuditLog(path)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, first.ID, recorded[0].ID)
	assert.Equal(t, v1.RiskCritical, recorded[0].Severity)
	assert.Equal(t, "sudo rm", recorded[0].Context["operation"])
	assert.Equal(t, second.ID, recorded[1].ID)
}

func TestAuditLog_AppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	audit, err := safety.NewAuditLog(path)
	require.NoError(t, err)
	require.NoError(t, audit.Append(v1.NewEvent(v1.ViolationSystemRisk, v1.RiskLow, "one", v1.ActionLogged, "", "", nil)))
	require.NoError(t, audit.Close())

	audit, err = safety.NewAuditLog(path)
	require.NoError(t, err)
	require.NoError(t, audit.Append(v1.NewEvent(v1.ViolationSystemRisk, v1.RiskLow, "two", v1.ActionLogged, "", "", nil)))
	require.NoError(t, audit.Close())

	recorded, err := safety.ReadAuditLog(path)
	require.NoError(t, err)
	require.Len(t, recorded, 2, "reopening must append, never truncate")
	assert.Equal(t, "one", recorded[0].Description)
	assert.Equal(t, "two", recorded[1].Description)
}

func TestReadAuditLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := safety.NewAuditLog(path)
	require.NoError(t, err)
	require.NoError(t, audit.Append(v1.NewEvent(v1.ViolationSystemRisk, v1.RiskMedium, "valid", v1.ActionLogged, "", "", nil)))
	require.NoError(t, audit.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated partial wri")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recorded, err := safety.ReadAuditLog(path)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "valid", recorded[0].Description)
}

func TestNewAuditLog_EmptyPath(t *testing.T) {
	_, err := safety.NewAuditLog("")
	assert.Error(t, err)
}

func TestReadAuditLog_MissingFile(t *testing.T) {
	_, err := safety.ReadAuditLog(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}
