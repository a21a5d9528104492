package cleanup

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCleaner(t *testing.T, retention time.Duration) (*Cleaner, string) {
	t.Helper()
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "logs"), 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	cfg := DefaultConfig(dataDir)
	cfg.LogRetention = retention
	return New(cfg), dataDir
}

func TestCleanupOldLogsRemovesStaleFiles(t *testing.T) {
	c, dataDir := newTestCleaner(t, time.Hour)
	logDir := filepath.Join(dataDir, "logs")

	stale := filepath.Join(logDir, "stale_20200101_000000.jsonl")
	fresh := filepath.Join(logDir, "fresh_20200101_000000.jsonl")
	if err := os.WriteFile(stale, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	if err := os.WriteFile(fresh, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write fresh: %v", err)
	}

	oldTime := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, oldTime, oldTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	c.cleanupOldLogs()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected stale log to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("expected fresh log to survive, stat err = %v", err)
	}
}

func TestCleanupOldLogsIgnoresNonJSONLFiles(t *testing.T) {
	c, dataDir := newTestCleaner(t, time.Hour)
	logDir := filepath.Join(dataDir, "logs")

	other := filepath.Join(logDir, "notes.txt")
	if err := os.WriteFile(other, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	oldTime := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(other, oldTime, oldTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	c.cleanupOldLogs()

	if _, err := os.Stat(other); err != nil {
		t.Errorf("expected non-jsonl file to survive, stat err = %v", err)
	}
}

func TestCleanupOrphanSocketsRemovesDeadSockets(t *testing.T) {
	c, dataDir := newTestCleaner(t, time.Hour)
	sockDir := dataDir

	deadPath := filepath.Join(sockDir, "dead.sock")
	ln, err := net.Listen("unix", deadPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.Close() // closing without removing leaves a dead socket file on most platforms
	if _, err := os.Stat(deadPath); os.IsNotExist(err) {
		// Some platforms remove the file on Close; recreate it manually as a
		// plain stale file to exercise the same code path.
		if err := os.WriteFile(deadPath, nil, 0o644); err != nil {
			t.Fatalf("recreate dead socket file: %v", err)
		}
	}

	livePath := filepath.Join(sockDir, "live.sock")
	liveLn, err := net.Listen("unix", livePath)
	if err != nil {
		t.Fatalf("listen live: %v", err)
	}
	defer liveLn.Close()

	c.cleanupOrphanSockets()

	if _, err := os.Stat(deadPath); !os.IsNotExist(err) {
		t.Errorf("expected dead socket to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(livePath); err != nil {
		t.Errorf("expected live socket to survive, stat err = %v", err)
	}
}

func TestCleanupOrphanSocketsSkipsControlSocket(t *testing.T) {
	c, dataDir := newTestCleaner(t, time.Hour)

	controlPath := filepath.Join(dataDir, controlSocketName)
	if err := os.WriteFile(controlPath, nil, 0o644); err != nil {
		t.Fatalf("write control socket stub: %v", err)
	}

	c.cleanupOrphanSockets()

	if _, err := os.Stat(controlPath); err != nil {
		t.Errorf("expected control socket to survive even when dead, stat err = %v", err)
	}
}

func TestDiskUsageReturnsPlausibleValues(t *testing.T) {
	c, _ := newTestCleaner(t, time.Hour)
	used, total, pct, err := c.DiskUsage()
	if err != nil {
		t.Fatalf("DiskUsage: %v", err)
	}
	if total == 0 {
		t.Fatalf("expected nonzero total bytes")
	}
	if used > total {
		t.Errorf("used (%d) > total (%d)", used, total)
	}
	if pct < 0 || pct > 100 {
		t.Errorf("usedPercent = %v, want [0,100]", pct)
	}
}

func TestStartStopDoesNotDeadlock(t *testing.T) {
	c, _ := newTestCleaner(t, time.Hour)
	c.interval = 10 * time.Millisecond

	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
}
