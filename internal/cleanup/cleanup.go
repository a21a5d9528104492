// Package cleanup provides background resource cleanup for qorvexd: stale
// session JSONL logs past their retention window, orphaned Unix-domain
// sockets left by crashed sessions, and disk usage monitoring.
package cleanup

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/qorvex/qorvex/internal/qlog"
)

// Cleaner performs periodic resource cleanup over a qorvexd data
// directory (logs + session sockets).
type Cleaner struct {
	dataDir   string
	logDir    string
	socketDir string
	interval  time.Duration
	retention time.Duration
	diskWarn  float64
	diskError float64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Config holds cleanup configuration.
type Config struct {
	DataDir          string        // ~/.qorvex, holds logs/ and the session sockets themselves
	Interval         time.Duration // how often to run cleanup
	LogRetention     time.Duration // how long to keep ended sessions' JSONL logs
	DiskWarnPercent  float64       // warn at this disk usage percentage
	DiskErrorPercent float64       // error at this disk usage percentage
}

// DefaultConfig returns sensible defaults rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		Interval:         5 * time.Minute,
		LogRetention:     7 * 24 * time.Hour,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}
}

// New creates a new Cleaner with the given configuration.
func New(cfg Config) *Cleaner {
	return &Cleaner{
		dataDir:   cfg.DataDir,
		logDir:    filepath.Join(cfg.DataDir, "logs"),
		socketDir: cfg.DataDir,
		interval:  cfg.Interval,
		retention: cfg.LogRetention,
		diskWarn:  cfg.DiskWarnPercent,
		diskError: cfg.DiskErrorPercent,
	}
}

// Start begins the periodic cleanup loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.runCleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runCleanup()
			}
		}
	}()

	qlog.Printf("cleanup started (interval=%v, retention=%v)", c.interval, c.retention)
}

// Stop halts the cleanup loop.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		qlog.Println("cleanup stopped")
	}
}

// runCleanup performs all cleanup tasks.
func (c *Cleaner) runCleanup() {
	c.cleanupOldLogs()
	c.cleanupOrphanSockets()
	c.checkDiskUsage()
}

// cleanupOldLogs removes session JSONL log files older than retention.
// Active sessions write to their log continuously, so a stale mtime is a
// reliable signal the session has long since ended.
func (c *Cleaner) cleanupOldLogs() {
	cutoff := time.Now().Add(-c.retention)
	var removed int

	entries, err := os.ReadDir(c.logDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.logDir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		qlog.Printf("removed %d stale session log(s)", removed)
	}
}

// controlSocketName is the daemon's own bootstrap socket (§4.10), which
// lives in the same directory as per-session sockets but must never be
// swept even if its listener is momentarily unresponsive to a probe.
const controlSocketName = "qorvexd.sock"

// cleanupOrphanSockets removes Unix-socket files left behind by a session
// whose qorvexd process exited without releasing them (crash, SIGKILL):
// a socket with no listener on the other end is safe to unlink.
func (c *Cleaner) cleanupOrphanSockets() {
	entries, err := os.ReadDir(c.socketDir)
	if err != nil {
		return
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sock") {
			continue
		}
		if entry.Name() == controlSocketName {
			continue
		}
		path := filepath.Join(c.socketDir, entry.Name())
		if !isSocketLive(path) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		qlog.Printf("removed %d orphaned session socket(s)", removed)
	}
}

// isSocketLive reports whether path still has a process listening, by
// attempting a zero-length connect. ECONNREFUSED means the file is a
// dead socket with no listener.
func isSocketLive(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		return false
	}
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// checkDiskUsage monitors disk usage under dataDir and logs warnings.
func (c *Cleaner) checkDiskUsage() {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.dataDir, &stat); err != nil {
		return
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	used := total - free
	usedPercent := float64(used) / float64(total) * 100

	if usedPercent >= c.diskError {
		qlog.Printf("CRITICAL: disk usage at %.1f%% (%s)", usedPercent, c.dataDir)
	} else if usedPercent >= c.diskWarn {
		qlog.Printf("WARNING: disk usage at %.1f%% (%s)", usedPercent, c.dataDir)
	}
}

// DiskUsage returns current disk usage stats for the data directory.
func (c *Cleaner) DiskUsage() (usedBytes, totalBytes uint64, usedPercent float64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(c.dataDir, &stat); err != nil {
		return
	}

	totalBytes = stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	usedBytes = totalBytes - freeBytes
	usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	return
}
