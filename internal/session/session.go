// Package session owns one automation context: a ring-buffered action
// log, the most recent screenshot and accessibility tree, a lossy
// broadcast channel of SessionEvent values, and an append-only JSONL
// mirror of every logged action.
package session

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qorvex/qorvex/internal/action"
	"github.com/qorvex/qorvex/internal/metrics"
	"github.com/qorvex/qorvex/internal/screenhash"
)

// MaxActionLogSize is the ring buffer's fixed capacity (§4.8).
const MaxActionLogSize = 1000

// BroadcastCapacity is the bounded size of the event broadcast channel;
// slow subscribers drop events rather than stall producers (§9).
const BroadcastCapacity = 100

// VisualChangeThreshold is the default maximum perceptual-hash Hamming
// distance considered "unchanged" (§4.8).
const VisualChangeThreshold = 5

// EventKind tags a SessionEvent's variant.
type EventKind string

const (
	EventActionLogged     EventKind = "ActionLogged"
	EventScreenshotUpdated EventKind = "ScreenshotUpdated"
	EventScreenInfoUpdated EventKind = "ScreenInfoUpdated"
	EventStarted          EventKind = "Started"
	EventEnded            EventKind = "Ended"
)

// Event is a broadcast discriminated union over the session's lifecycle
// and activity (§3's SessionEvent).
type Event struct {
	Kind      EventKind          `json:"kind"`
	Action    *action.Log        `json:"action,omitempty"`
	Image     []byte             `json:"image,omitempty"`
	Elements  json.RawMessage    `json:"elements,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
}

// subscriber is one broadcast listener's bounded, lossy mailbox.
type subscriber struct {
	ch chan Event
}

// Session is one automation context. All exported methods are safe for
// concurrent use; log_action-family methods serialize at mu, while reads
// (GetActionLog, GetScreenshot, GetCurrentElements) take the same lock
// briefly to snapshot state.
type Session struct {
	Name      string
	CreatedAt time.Time
	DeviceID  string

	mu          sync.Mutex
	actionLog   []action.Log // ring buffer, oldest at index 0
	screenshot  []byte
	elements    json.RawMessage
	structHash  uint64
	perceptHash uint64
	lastActive  time.Time

	subMu       sync.Mutex
	subscribers map[int]*subscriber
	nextSubID   int

	logPath   string
	logFile   *os.File
	logWriter *bufio.Writer
	linesMu   sync.Mutex
}

// New constructs a Session named name, opening (and creating, if absent)
// its JSONL log file under logDir as
// "{name}_{YYYYMMDD_HHMMSS}.jsonl".
func New(name, logDir string) (*Session, error) {
	return NewForDevice(name, "", logDir)
}

// NewForDevice is New plus a target device id, recorded on the session
// for the IPC layer's SessionInfo response and the idle-expiry sweep.
func NewForDevice(name, deviceID, logDir string) (*Session, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create log dir: %w", err)
	}
	fileName := fmt.Sprintf("%s_%s.jsonl", name, time.Now().UTC().Format("20060102_150405"))
	logPath := filepath.Join(logDir, fileName)

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open log file: %w", err)
	}

	now := time.Now().UTC()
	s := &Session{
		Name:        name,
		CreatedAt:   now,
		DeviceID:    deviceID,
		lastActive:  now,
		subscribers: make(map[int]*subscriber),
		logPath:     logPath,
		logFile:     f,
		logWriter:   bufio.NewWriter(f),
	}
	s.broadcast(Event{Kind: EventStarted, SessionID: name})
	return s, nil
}

// LogDir resolves the session-log directory: the QORVEX_LOG_DIR
// environment variable if set, else "~/.qorvex/logs".
func LogDir() string {
	if dir := os.Getenv("QORVEX_LOG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".qorvex", "logs")
}

// Touch records activity now, resetting the idle-expiry clock (SPEC_FULL
// "Idle session auto-expiry").
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()
}

// IdleSince reports how long it has been since the last logged action or
// explicit Touch.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// LogAction builds an action.Log, pushes it into the ring buffer
// (evicting the oldest entry past MaxActionLogSize), persists it
// (screenshot stripped) as one JSONL line, updates the current
// screenshot if one was supplied, and broadcasts ActionLogged and,
// when a screenshot was supplied, ScreenshotUpdated.
func (s *Session) LogAction(a action.Action, result action.Result, screenshot []byte, durationMs *uint64, tag *string) action.Log {
	return s.logActionTimed(a, result, screenshot, durationMs, nil, nil, tag)
}

// LogActionTimed is LogAction plus per-phase wait/tap timing.
func (s *Session) LogActionTimed(a action.Action, result action.Result, screenshot []byte, durationMs, waitMs, tapMs *uint64, tag *string) action.Log {
	return s.logActionTimed(a, result, screenshot, durationMs, waitMs, tapMs, tag)
}

func (s *Session) logActionTimed(a action.Action, result action.Result, screenshot []byte, durationMs, waitMs, tapMs *uint64, tag *string) action.Log {
	var screenshotField *string
	if screenshot != nil {
		encoded := base64.StdEncoding.EncodeToString(screenshot)
		screenshotField = &encoded
	}

	entry := action.NewLog(a, result, screenshotField, durationMs, tag)
	entry.WaitMs = waitMs
	entry.TapMs = tapMs

	s.mu.Lock()
	s.actionLog = append(s.actionLog, entry)
	if len(s.actionLog) > MaxActionLogSize {
		s.actionLog = s.actionLog[len(s.actionLog)-MaxActionLogSize:]
	}
	if screenshot != nil {
		s.screenshot = screenshot
	}
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()

	s.persist(entry)

	s.broadcast(Event{Kind: EventActionLogged, Action: &entry})
	if screenshot != nil {
		s.broadcast(Event{Kind: EventScreenshotUpdated, Image: screenshot})
	}
	return entry
}

// persist appends entry (screenshot stripped) as one JSON line, flushing
// immediately. Failures are logged best-effort and swallowed: persistence
// must never interrupt automation (§7).
func (s *Session) persist(entry action.Log) {
	s.linesMu.Lock()
	defer s.linesMu.Unlock()

	line, err := json.Marshal(entry.WithoutScreenshot())
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := s.logWriter.Write(line); err != nil {
		return
	}
	_ = s.logWriter.Flush()
}

// UpdateScreenshot replaces the current screenshot and broadcasts
// ScreenshotUpdated.
func (s *Session) UpdateScreenshot(data []byte) {
	s.mu.Lock()
	s.screenshot = data
	s.mu.Unlock()
	s.broadcast(Event{Kind: EventScreenshotUpdated, Image: data})
}

// UpdateScreenInfo compares newStructHash/newPerceptHash against the
// stored hashes. It reports changed=true iff the structural hash differs
// or the perceptual hash's Hamming distance to the stored one exceeds
// threshold; on change it replaces the stored elements/hashes and
// broadcasts ScreenInfoUpdated.
func (s *Session) UpdateScreenInfo(elements json.RawMessage, newStructHash, newPerceptHash uint64, threshold int) (changed bool) {
	s.mu.Lock()
	structDiffers := s.structHash != newStructHash
	visualDiffers := screenhash.HammingDistance(s.perceptHash, newPerceptHash) > threshold
	changed = structDiffers || visualDiffers
	if changed {
		s.elements = elements
		s.structHash = newStructHash
		s.perceptHash = newPerceptHash
	}
	s.mu.Unlock()

	if changed {
		s.broadcast(Event{Kind: EventScreenInfoUpdated, Elements: elements})
	}
	return changed
}

// GetActionLog returns a snapshot of the in-memory ring buffer, oldest
// first.
func (s *Session) GetActionLog() []action.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]action.Log, len(s.actionLog))
	copy(out, s.actionLog)
	return out
}

// GetScreenshot returns the most recently stored screenshot, or nil.
func (s *Session) GetScreenshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshot
}

// GetCurrentElements returns the most recently stored element tree JSON,
// or nil.
func (s *Session) GetCurrentElements() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements
}

// Subscribe registers a new bounded, lossy event listener. The returned
// channel is closed by Unsubscribe or End.
func (s *Session) Subscribe() (<-chan Event, int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	sub := &subscriber{ch: make(chan Event, BroadcastCapacity)}
	s.subscribers[id] = sub
	return sub.ch, id
}

// Unsubscribe removes and closes subscriber id.
func (s *Session) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.ch)
		delete(s.subscribers, id)
	}
}

// broadcast fans an event out to every subscriber's bounded mailbox,
// dropping it for any subscriber whose mailbox is full rather than
// blocking the caller.
func (s *Session) broadcast(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subscribers {
		select {
		case sub.ch <- ev:
		default:
			metrics.RecordEventDrop(s.Name)
		}
	}
}

// End broadcasts Ended, closes every subscriber channel, and flushes and
// closes the JSONL log file.
func (s *Session) End() {
	s.broadcast(Event{Kind: EventEnded})

	s.subMu.Lock()
	for id, sub := range s.subscribers {
		close(sub.ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()

	s.linesMu.Lock()
	_ = s.logWriter.Flush()
	_ = s.logFile.Close()
	s.linesMu.Unlock()
}
