// Package audit records a structured, independent trail of session
// lifecycle events — distinct from a session's own per-action JSONL log,
// this is the daemon-wide record of who started/ended what and when,
// emitted as one slog JSON line per event.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation names one auditable daemon-level event.
type Operation string

const (
	OpSessionStart Operation = "session.start"
	OpSessionEnd   Operation = "session.end"
	OpAgentStart   Operation = "agent.start"
	OpAgentStop    Operation = "agent.stop"
	OpSetTarget    Operation = "session.set_target"
	OpDeviceBoot   Operation = "device.boot"
)

// Event is one audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Operation Operation              `json:"operation"`
	SessionID string                 `json:"session_id,omitempty"`
	DeviceID  string                 `json:"device_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Logger writes audit events as structured JSON, independently of a
// session's own action log.
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the process-wide audit logger.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates an audit logger writing JSON lines to stdout.
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}

	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op Operation, sessionID, deviceID string) {
	l.Log(&Event{
		Operation: op,
		SessionID: sessionID,
		DeviceID:  deviceID,
		Success:   true,
	})
}

// LogFailure records a failed operation.
func (l *Logger) LogFailure(op Operation, sessionID, deviceID string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	l.Log(&Event{
		Operation: op,
		SessionID: sessionID,
		DeviceID:  deviceID,
		Success:   false,
		Error:     errMsg,
	})
}

// Log records an audit event on the default logger.
func Log(event *Event) {
	Default().Log(event)
}

// LogSuccess records a successful operation on the default logger.
func LogSuccess(op Operation, sessionID, deviceID string) {
	Default().LogSuccess(op, sessionID, deviceID)
}

// LogFailure records a failed operation on the default logger.
func LogFailure(op Operation, sessionID, deviceID string, err error) {
	Default().LogFailure(op, sessionID, deviceID, err)
}
