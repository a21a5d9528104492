package session

import (
	"bufio"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/qorvex/qorvex/internal/action"
	"github.com/qorvex/qorvex/internal/metrics"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New("test-session", t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.End)
	return s
}

// TestRingBufferEviction exercises §8's "Session log" property: after
// N > 1000 sequential LogAction calls, the in-memory log is exactly
// 1000 entries, the JSONL file has exactly N lines, and the oldest
// surviving in-memory entry carries a non-zero timestamp.
func TestRingBufferEviction(t *testing.T) {
	s := newTestSession(t)
	const n = 1500

	for i := 0; i < n; i++ {
		s.LogAction(action.Action{Type: action.LogComment, Message: "tick"}, action.Success(), nil, nil, nil)
	}

	log := s.GetActionLog()
	if len(log) != MaxActionLogSize {
		t.Fatalf("in-memory log length = %d, want %d", len(log), MaxActionLogSize)
	}

	lines := countLines(t, s.logPath)
	if lines != n {
		t.Fatalf("JSONL line count = %d, want %d", lines, n)
	}

	// The oldest surviving in-memory entry must carry a real timestamp.
	oldest := log[0].Timestamp
	if !oldest.After(time.Time{}) {
		t.Fatalf("oldest entry has zero timestamp")
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	sc.Buffer(buf, 1024*1024)
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan log file: %v", err)
	}
	return n
}

// TestLogActionBroadcastsActionLogged verifies that every LogAction call
// emits an ActionLogged event, and a screenshot additionally emits
// ScreenshotUpdated, in that order (§4.8).
func TestLogActionBroadcastsActionLogged(t *testing.T) {
	s := newTestSession(t)
	ch, id := s.Subscribe()
	defer s.Unsubscribe(id)

	s.LogAction(action.Action{Type: action.LogComment}, action.Success(), []byte{0x89, 0x50}, nil, nil)

	first := <-ch
	if first.Kind != EventActionLogged {
		t.Fatalf("first event kind = %v, want ActionLogged", first.Kind)
	}
	second := <-ch
	if second.Kind != EventScreenshotUpdated {
		t.Fatalf("second event kind = %v, want ScreenshotUpdated", second.Kind)
	}
}

// TestLogActionWithoutScreenshotOmitsEvent ensures no ScreenshotUpdated
// event fires when no screenshot was supplied.
func TestLogActionWithoutScreenshotOmitsEvent(t *testing.T) {
	s := newTestSession(t)
	ch, id := s.Subscribe()
	defer s.Unsubscribe(id)

	s.LogAction(action.Action{Type: action.LogComment}, action.Success(), nil, nil, nil)

	select {
	case ev := <-ch:
		if ev.Kind != EventActionLogged {
			t.Fatalf("unexpected event kind %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ActionLogged event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPersistedLogOmitsScreenshot checks §6.3's "screenshot field always
// null" invariant for the JSONL mirror.
func TestPersistedLogOmitsScreenshot(t *testing.T) {
	s := newTestSession(t)
	s.LogAction(action.Action{Type: action.LogComment}, action.Success(), []byte{1, 2, 3}, nil, nil)
	s.linesMu.Lock()
	_ = s.logWriter.Flush()
	s.linesMu.Unlock()

	f, err := os.Open(s.logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("expected one line")
	}
	line := sc.Text()
	if want := `"screenshot"`; contains(line, want) {
		t.Fatalf("persisted line unexpectedly contains %q: %s", want, line)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// TestUpdateScreenInfoChangeDetection covers §8's "Screen-watcher change
// detection" property directly against Session.UpdateScreenInfo.
func TestUpdateScreenInfoChangeDetection(t *testing.T) {
	s := newTestSession(t)

	changed := s.UpdateScreenInfo([]byte(`[]`), 42, 0, VisualChangeThreshold)
	if !changed {
		t.Fatalf("first update should report changed (no prior state)")
	}

	// Same structural hash, identical perceptual hash: unchanged.
	changed = s.UpdateScreenInfo([]byte(`[]`), 42, 0, VisualChangeThreshold)
	if changed {
		t.Fatalf("identical hashes should report unchanged")
	}

	// Same structural hash, perceptual hash differs by more than threshold
	// bits: changed.
	changed = s.UpdateScreenInfo([]byte(`[]`), 42, 0xFF, VisualChangeThreshold)
	if !changed {
		t.Fatalf("perceptual hash beyond threshold should report changed")
	}
}

func TestUpdateScreenInfoNoEventWhenUnchanged(t *testing.T) {
	s := newTestSession(t)
	s.UpdateScreenInfo([]byte(`[]`), 1, 0, VisualChangeThreshold)

	ch, id := s.Subscribe()
	defer s.Unsubscribe(id)

	s.UpdateScreenInfo([]byte(`[]`), 1, 0, VisualChangeThreshold)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event on unchanged update: %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestBroadcastRecordsDropOnFullMailbox verifies that an event silently
// dropped because a subscriber's mailbox is full is still counted via
// metrics.RecordEventDrop.
func TestBroadcastRecordsDropOnFullMailbox(t *testing.T) {
	s := newTestSession(t)
	ch, id := s.Subscribe()
	defer s.Unsubscribe(id)

	before := testutil.ToFloat64(metrics.EventBufferDrops.WithLabelValues(s.Name))
	for i := 0; i < BroadcastCapacity+1; i++ {
		s.broadcast(Event{Kind: EventActionLogged})
	}
	after := testutil.ToFloat64(metrics.EventBufferDrops.WithLabelValues(s.Name))
	if after != before+1 {
		t.Fatalf("EventBufferDrops{%s} = %v, want %v", s.Name, after, before+1)
	}

	for i := 0; i < BroadcastCapacity; i++ {
		<-ch
	}
}

func TestEndClosesSubscribers(t *testing.T) {
	s, err := New("end-test", t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, _ := s.Subscribe()
	s.End()

	select {
	case _, ok := <-ch:
		if ok {
			// Drain the Ended event first.
			for ev := range ch {
				_ = ev
			}
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel never closed")
	}
}
