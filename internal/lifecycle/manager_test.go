package lifecycle

import (
	"context"
	"testing"
	"time"
)

func TestBuildAgentProjectNotFound(t *testing.T) {
	cfg := DefaultConfig("/nonexistent/path/to/project", "AgentScheme", "platform=iOS Simulator,name=iPhone 15")
	m := NewManager(cfg)

	err := m.BuildAgent(context.Background())
	le, ok := err.(*Error)
	if !ok || le.Kind != ProjectNotFound {
		t.Fatalf("expected ProjectNotFound, got %v", err)
	}
}

func TestIsAgentReachableFalseWithNothingListening(t *testing.T) {
	cfg := DefaultConfig(t.TempDir(), "AgentScheme", "platform=iOS Simulator,name=iPhone 15")
	cfg.Port = 1 // reserved, nothing listens here in test environments
	m := NewManager(cfg)

	if m.IsAgentReachable() {
		t.Fatal("expected IsAgentReachable to be false with no agent listening")
	}
}

func TestWaitForReadyTimesOutWithNoAgent(t *testing.T) {
	cfg := DefaultConfig(t.TempDir(), "AgentScheme", "platform=iOS Simulator,name=iPhone 15")
	cfg.Port = 1
	cfg.StartupTimeout = 50 * time.Millisecond
	m := NewManager(cfg)

	err := m.WaitForReady(context.Background())
	le, ok := err.(*Error)
	if !ok || le.Kind != StartupTimeout {
		t.Fatalf("expected StartupTimeout, got %v", err)
	}
}

func TestEnsureAgentReadyFallsBackToEnsureRunningWhenUnreachable(t *testing.T) {
	// Nothing listens on port 1, so the reachability probe fails and
	// EnsureAgentReady falls back to EnsureRunning, whose BuildAgent step
	// surfaces ProjectNotFound for the bogus project path.
	cfg := DefaultConfig("/nonexistent/path/to/project", "AgentScheme", "platform=iOS Simulator,name=iPhone 15")
	cfg.Port = 1
	m := NewManager(cfg)

	err := m.EnsureAgentReady(context.Background())
	le, ok := err.(*Error)
	if !ok || le.Kind != ProjectNotFound {
		t.Fatalf("expected ProjectNotFound from EnsureRunning fallback, got %v", err)
	}
}

func TestErrorKindStrings(t *testing.T) {
	cases := map[ErrorKind]string{
		ProjectNotFound: "ProjectNotFound",
		BuildFailed:     "BuildFailed",
		LaunchFailed:    "LaunchFailed",
		StartupTimeout:  "StartupTimeout",
		NotRunning:      "NotRunning",
		Io:              "Io",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
