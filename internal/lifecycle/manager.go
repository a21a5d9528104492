// Package lifecycle owns the native agent subprocess bound to a specific
// simulator or device: building it for testing, spawning it, probing it
// for readiness, and tearing it down. The binary-discovery and
// subprocess-invocation idioms mirror the platform build tool the way a
// container runtime locates and shells out to its own CLI.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/qorvex/qorvex/internal/agentclient"
	"github.com/qorvex/qorvex/internal/wire"
)

// buildToolCandidates lists common install locations for the platform
// build tool, checked before falling back to a PATH lookup.
var buildToolCandidates = []string{
	"/usr/bin/xcodebuild",
	"/Applications/Xcode.app/Contents/Developer/usr/bin/xcodebuild",
}

func findBuildTool() string {
	for _, path := range buildToolCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if path, err := exec.LookPath("xcodebuild"); err == nil {
		return path
	}
	return "xcodebuild"
}

const (
	waitForReadyPoll = 500 * time.Millisecond
	reachableProbe   = 2 * time.Second
	heartbeatTimeout = 2 * time.Second
)

// Manager owns at most one child agent process for a given Config.
type Manager struct {
	cfg       Config
	buildTool string

	mu    sync.Mutex
	child *exec.Cmd
}

// NewManager constructs a Manager for cfg, discovering the platform build
// tool from the environment or common install locations.
func NewManager(cfg Config) *Manager {
	path := os.Getenv("QORVEX_XCODEBUILD_BINARY")
	if path == "" {
		path = findBuildTool()
	}
	return &Manager{cfg: cfg, buildTool: path}
}

// BuildAgent verifies the project path exists and invokes the platform
// build tool with build-for-testing, capturing stderr on failure.
func (m *Manager) BuildAgent(ctx context.Context) error {
	if _, err := os.Stat(m.cfg.ProjectPath); err != nil {
		return newErr(ProjectNotFound, m.cfg.ProjectPath)
	}

	cmd := exec.CommandContext(ctx, m.buildTool,
		"-scheme", m.cfg.Scheme,
		"-destination", m.cfg.Destination,
		"build-for-testing")
	cmd.Dir = m.cfg.ProjectPath

	out, err := cmd.CombinedOutput()
	if err != nil {
		return newErr(BuildFailed, string(out))
	}
	return nil
}

// SpawnAgent invokes test-without-building as a child process, storing
// the handle; the child's stdout/stderr are discarded.
func (m *Manager) SpawnAgent(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.buildTool,
		"-scheme", m.cfg.Scheme,
		"-destination", m.cfg.Destination,
		"test-without-building")
	cmd.Dir = m.cfg.ProjectPath
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return newErr(LaunchFailed, err.Error())
	}

	m.mu.Lock()
	m.child = cmd
	m.mu.Unlock()

	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// TerminateAgent kills the stored child, if any, and additionally invokes
// the device-side terminate command as belt-and-suspenders.
func (m *Manager) TerminateAgent(ctx context.Context) error {
	m.mu.Lock()
	child := m.child
	m.child = nil
	m.mu.Unlock()

	if child != nil && child.Process != nil {
		_ = child.Process.Kill()
	}

	cmd := exec.CommandContext(ctx, m.buildTool,
		"-scheme", m.cfg.Scheme,
		"-destination", m.cfg.Destination,
		"test-without-building",
		"-terminate-running-processes")
	_ = cmd.Run()
	return nil
}

// WaitForReady polls connect+heartbeat against the agent port every
// 500ms, succeeding on the first Ok and failing with StartupTimeout once
// cfg.StartupTimeout elapses.
func (m *Manager) WaitForReady(ctx context.Context) error {
	deadline := time.Now().Add(m.cfg.StartupTimeout)
	for {
		if err := m.probe(heartbeatTimeout); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return newErr(StartupTimeout, fmt.Sprintf("agent not ready after %s", m.cfg.StartupTimeout))
		}
		select {
		case <-ctx.Done():
			return newErr(StartupTimeout, ctx.Err().Error())
		case <-time.After(waitForReadyPoll):
		}
	}
}

// IsAgentReachable performs a single 2-second connect+heartbeat attempt,
// used to avoid redundant builds.
func (m *Manager) IsAgentReachable() bool {
	return m.probe(reachableProbe) == nil
}

func (m *Manager) probe(timeout time.Duration) error {
	client, err := agentclient.Connect("127.0.0.1", m.cfg.Port)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.SendWithTimeout(wire.Heartbeat{}, timeout)
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.Ok); !ok {
		return newErr(Io, "heartbeat did not return Ok")
	}
	return nil
}

// EnsureRunning runs build -> spawn -> wait_for_ready. On StartupTimeout
// it terminates and respawns, up to MaxRetries attempts.
func (m *Manager) EnsureRunning(ctx context.Context) error {
	if err := m.BuildAgent(ctx); err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if err := m.SpawnAgent(ctx); err != nil {
			return err
		}
		err := m.WaitForReady(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if le, ok := err.(*Error); !ok || le.Kind != StartupTimeout {
			return err
		}
		_ = m.TerminateAgent(ctx)
	}
	return lastErr
}

// EnsureAgentReady returns immediately if the agent is already reachable;
// otherwise it runs EnsureRunning.
func (m *Manager) EnsureAgentReady(ctx context.Context) error {
	if m.IsAgentReachable() {
		return nil
	}
	return m.EnsureRunning(ctx)
}

// Close kills the owned child process, if any. Callers that construct a
// Manager for a session are responsible for calling Close when the
// session ends.
func (m *Manager) Close() {
	m.mu.Lock()
	child := m.child
	m.child = nil
	m.mu.Unlock()
	if child != nil && child.Process != nil {
		_ = child.Process.Kill()
	}
}
