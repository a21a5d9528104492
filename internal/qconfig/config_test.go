package qconfig

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	t.Setenv("QORVEX_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AgentPort != 8080 {
		t.Errorf("AgentPort = %d, want 8080", cfg.AgentPort)
	}
	if cfg.DefaultTimeoutMs != 5000 {
		t.Errorf("DefaultTimeoutMs = %d, want 5000", cfg.DefaultTimeoutMs)
	}
	if cfg.IdleTimeoutMinutes != 30 {
		t.Errorf("IdleTimeoutMinutes = %d, want 30", cfg.IdleTimeoutMinutes)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("QORVEX_HOME", t.TempDir())

	cfg := Defaults()
	cfg.AgentSourceDir = "/path/to/project"
	cfg.AgentPort = 9090

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AgentSourceDir != cfg.AgentSourceDir {
		t.Errorf("AgentSourceDir = %q, want %q", got.AgentSourceDir, cfg.AgentSourceDir)
	}
	if got.AgentPort != cfg.AgentPort {
		t.Errorf("AgentPort = %d, want %d", got.AgentPort, cfg.AgentPort)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QORVEX_HOME", dir)

	if err := Save(Defaults()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, ".config-*.json.tmp"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestIdleTimeout(t *testing.T) {
	cases := []struct {
		name    string
		minutes int
		want    int64 // minutes
	}{
		{"configured", 45, 45},
		{"zero falls back to 30", 0, 30},
		{"negative falls back to 30", -5, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{IdleTimeoutMinutes: tc.minutes}
			if got := cfg.IdleTimeout().Minutes(); int64(got) != tc.want {
				t.Errorf("IdleTimeout() = %v minutes, want %d", got, tc.want)
			}
		})
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv("QORVEX_HOME", "/home/test/.qorvex")
	got := SocketPath("abc-123")
	want := "/home/test/.qorvex/qorvex_abc-123.sock"
	if got != want {
		t.Errorf("SocketPath = %q, want %q", got, want)
	}
}
