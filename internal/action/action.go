// Package action defines the Action variants that flow, read-only, from
// the IPC boundary through the executor, plus their logged results.
package action

import (
	"time"

	"github.com/google/uuid"
)

// Type tags an Action's variant for JSON (de)serialization, mirroring the
// IPC request wire shape.
type Type string

const (
	Tap              Type = "Tap"
	TapLocation      Type = "TapLocation"
	SwipeAction      Type = "Swipe"
	LongPress        Type = "LongPress"
	SendKeys         Type = "SendKeys"
	WaitFor          Type = "WaitFor"
	WaitForNot       Type = "WaitForNot"
	GetScreenshot    Type = "GetScreenshot"
	GetScreenInfo    Type = "GetScreenInfo"
	GetValue         Type = "GetValue"
	SetTarget        Type = "SetTarget"
	LogComment       Type = "LogComment"
	StartSession     Type = "StartSession"
	EndSession       Type = "EndSession"
	Quit             Type = "Quit"
)

// Action is a tagged variant identifying a user-intent operation. Only the
// fields relevant to Type are populated; this mirrors the teacher's
// flattened-struct, tag-field JSON convention rather than a sum type, since
// Go has no native tagged union.
type Action struct {
	Type Type `json:"type"`

	Selector    string  `json:"selector,omitempty"`
	ByLabel     bool    `json:"by_label,omitempty"`
	ElementType *string `json:"element_type,omitempty"`
	TimeoutMs   *uint64 `json:"timeout_ms,omitempty"`

	X int32 `json:"x,omitempty"`
	Y int32 `json:"y,omitempty"`

	Direction string `json:"direction,omitempty"`

	DurationSecs float64 `json:"duration_s,omitempty"`

	Text string `json:"text,omitempty"`

	RequireStable bool `json:"require_stable,omitempty"`

	BundleID string `json:"bundle_id,omitempty"`

	Message string `json:"message,omitempty"`
}

// Result is the outcome of an executed action.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Success builds a successful Result.
func Success() Result { return Result{Success: true} }

// Failure builds a failed Result carrying a human-readable message.
func Failure(message string) Result { return Result{Success: false, Message: message} }

// Log is an immutable record of one executed action.
type Log struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     Action    `json:"action"`
	Result     Result    `json:"result"`
	Screenshot *string   `json:"screenshot,omitempty"`
	DurationMs *uint64   `json:"duration_ms,omitempty"`
	WaitMs     *uint64   `json:"wait_ms,omitempty"`
	TapMs      *uint64   `json:"tap_ms,omitempty"`
	Tag        *string   `json:"tag,omitempty"`
}

// NewLog builds a Log with a fresh id and the current UTC timestamp.
func NewLog(a Action, result Result, screenshot *string, durationMs *uint64, tag *string) Log {
	return Log{
		ID:         uuid.New(),
		Timestamp:  time.Now().UTC(),
		Action:     a,
		Result:     result,
		Screenshot: screenshot,
		DurationMs: durationMs,
		Tag:        tag,
	}
}

// WithoutScreenshot returns a copy of l with the screenshot field cleared,
// used when persisting to the JSONL log file (§6.3: "screenshot field
// always null").
func (l Log) WithoutScreenshot() Log {
	l.Screenshot = nil
	return l
}
