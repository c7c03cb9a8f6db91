package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ErrNilWriter is returned by AuditLogger.Log when the logger has no writer.
var ErrNilWriter = errors.New("audit logger: writer is nil")

// Outcomes recorded in AuditEntry.Result.
const (
	OutcomeOK           = "ok"
	OutcomeError        = "error"
	OutcomeDenied       = "denied"
	OutcomeConfirmation = "confirmation_required"
)

// redactedParams are replaced with "***" before an entry is written.
var redactedParams = map[string]struct{}{
	"confirmation_token": {},
}

// AuditEntry captures a single tool invocation.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	Result    string         `json:"result"`
	Duration  time.Duration  `json:"duration_ns"`
}

// AuditLogger writes AuditEntry records as newline-delimited JSON. It is safe
// for concurrent use.
type AuditLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewAuditLogger returns an AuditLogger writing to w, or nil if w is nil.
func NewAuditLogger(w io.Writer) *AuditLogger {
	if w == nil {
		return nil
	}
	return &AuditLogger{w: w}
}

// OpenAuditLog opens (or creates) path for appending and returns a logger
// writing to it together with the file, which the caller must close.
func OpenAuditLog(path string) (*AuditLogger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log %q: %w", path, err)
	}
	return NewAuditLogger(f), f, nil
}

// Log writes entry as one JSON line. Redacted parameters are masked; the
// caller's map is not modified.
func (l *AuditLogger) Log(entry AuditEntry) error {
	if l == nil || l.w == nil {
		return ErrNilWriter
	}

	entry.Params = redact(entry.Params)
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, err = l.w.Write(data)
	l.mu.Unlock()
	return err
}

func redact(params map[string]any) map[string]any {
	needs := false
	for k := range params {
		if _, ok := redactedParams[k]; ok {
			needs = true
			break
		}
	}
	if !needs {
		return params
	}

	out := make(map[string]any, len(params))
	for k, v := range params {
		if _, ok := redactedParams[k]; ok {
			v = "***"
		}
		out[k] = v
	}
	return out
}
