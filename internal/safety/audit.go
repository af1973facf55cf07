package safety

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	v1 "github.com/aegis-labs/aegis/pkg/aegis/v1"
	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
)

// AuditLog is the append-only on-disk safety record: one JSON object per
// line, unbounded. The in-memory event buffer is the bounded complement;
// this file is the authoritative trail.
type AuditLog struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewAuditLog opens (creating directories as needed) the audit file for
// appending.
func NewAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return nil, aegiserrors.NewConfigError("audit log path cannot be empty", nil)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, aegiserrors.NewAuditWriteError(path, err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, aegiserrors.NewAuditWriteError(path, err)
	}
	return &AuditLog{path: path, file: file}, nil
}

// Path returns the audit file location.
func (a *AuditLog) Path() string {
	return a.path
}

// Append writes one event as a JSON line. Serialized under a lock so
// concurrent writers cannot interleave partial lines.
func (a *AuditLog) Append(event v1.SafetyEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return aegiserrors.NewAuditWriteError(a.path, err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.file.Write(line); err != nil {
		return aegiserrors.NewAuditWriteError(a.path, err)
	}
	return nil
}

// Close releases the file handle.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// ReadAuditLog parses an audit file back into events, in file order.
// Malformed lines are skipped; a partially written trailing line must not
// make the rest of the trail unreadable.
func ReadAuditLog(path string) ([]v1.SafetyEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []v1.SafetyEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event v1.SafetyEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return events, err
	}
	return events, nil
}
