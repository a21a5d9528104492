package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qorvex/qorvex/internal/audit"
	"github.com/qorvex/qorvex/internal/driver"
	"github.com/qorvex/qorvex/internal/metrics"
)

// Handle bundles a Session with the driver, agent lifecycle, and
// watcher-cancel function bound to it. One Handle exists per active automation context;
// internal/ipc owns the request/response plumbing around it.
type Handle struct {
	*Session
	Driver      driver.Driver
	Lifecycle   Closer
	StopWatcher func()
}

// Closer is the narrow interface the manager needs to tear down a
// session's attached agent lifecycle, if any.
type Closer interface {
	Close()
}

// Manager owns every active session on a qorvexd daemon: session
// creation/lookup/teardown, the persistent index, and the idle-expiry
// sweep (SPEC_FULL "Idle session auto-expiry").
type Manager struct {
	logDir   string
	idx      *Index
	idleAfter time.Duration

	mu       sync.Mutex
	sessions map[string]*Handle
}

// DefaultIdleTimeout is the idle window after which a session that has
// received no request of any kind is automatically ended.
const DefaultIdleTimeout = 30 * time.Minute

// NewManager constructs a Manager persisting its session index under
// dataDir and JSONL logs under logDir.
func NewManager(dataDir, logDir string) (*Manager, error) {
	idx, err := OpenIndex(dataDir)
	if err != nil {
		return nil, err
	}
	return &Manager{
		logDir:    logDir,
		idx:       idx,
		idleAfter: DefaultIdleTimeout,
		sessions:  make(map[string]*Handle),
	}, nil
}

// generateSessionID mints a fresh opaque session identifier.
func generateSessionID() string {
	return uuid.New().String()
}

// Create starts a new session bound to deviceID (may be empty), recording
// it in the index and audit trail.
func (m *Manager) Create(deviceID string) (*Handle, error) {
	id := generateSessionID()
	sess, err := NewForDevice(id, deviceID, m.logDir)
	if err != nil {
		audit.Log(&audit.Event{Operation: audit.OpSessionStart, SessionID: id, Success: false, Error: err.Error()})
		return nil, err
	}

	h := &Handle{Session: sess}

	m.mu.Lock()
	m.sessions[id] = h
	m.mu.Unlock()

	if err := m.idx.Upsert(IndexEntry{SessionID: id, DeviceID: deviceID, CreatedAt: sess.CreatedAt, Status: "active"}); err != nil {
		// Best-effort: the index is a convenience lookup, never the
		// source of truth for an active session (§7 persistence failures
		// are logged best-effort and swallowed).
		_ = err
	}

	metrics.RecordSessionStart()
	audit.Log(&audit.Event{Operation: audit.OpSessionStart, SessionID: id, Success: true})
	return h, nil
}

// Get returns the handle for sessionID, if active.
func (m *Manager) Get(sessionID string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[sessionID]
	return h, ok
}

// End ends sessionID: broadcasts Ended, closes its log file, tears down
// any attached watcher/lifecycle, and marks it ended in the index.
func (m *Manager) End(sessionID string) {
	m.mu.Lock()
	h, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}

	if h.StopWatcher != nil {
		h.StopWatcher()
	}
	if h.Lifecycle != nil {
		h.Lifecycle.Close()
	}
	h.Session.End()

	_ = m.idx.SetStatus(sessionID, "ended")
	metrics.RecordSessionEnd(time.Since(h.Session.CreatedAt).Seconds())
	audit.Log(&audit.Event{Operation: audit.OpSessionEnd, SessionID: sessionID, Success: true})
}

// List returns every currently active session ID.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Close shuts down every active session and closes the index.
func (m *Manager) Close() {
	for _, id := range m.List() {
		m.End(id)
	}
	_ = m.idx.Close()
}

// SweepIdle ends every session whose idle duration exceeds the manager's
// idle window, returning the IDs it ended.
func (m *Manager) SweepIdle() []string {
	m.mu.Lock()
	var stale []string
	for id, h := range m.sessions {
		if h.Session.IdleSince() > m.idleAfter {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.End(id)
	}
	return stale
}

// RunIdleSweep runs SweepIdle every interval until stop is closed.
func (m *Manager) RunIdleSweep(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.SweepIdle()
		}
	}
}

// SetIdleTimeout overrides the default idle window (the daemon applies
// the configured idle_timeout_minutes through it).
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	m.idleAfter = d
	m.mu.Unlock()
}
