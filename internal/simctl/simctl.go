// Package simctl wraps the third-party simulator-control command-line
// utility as an opaque subprocess (§6.4): listing devices, booting them,
// capturing screenshots, and launching/terminating a target bundle. The
// tool's own output/exit-code contract is the only thing this package
// depends on.
package simctl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// binaryCandidates lists common install locations for the simulator
// control tool, checked before falling back to a PATH lookup — the same
// discovery shape the agent builder and USB tunnel resolver use for
// their own subprocess binaries.
var binaryCandidates = []string{
	"/usr/bin/simctl",
	"/Applications/Xcode.app/Contents/Developer/usr/bin/simctl",
}

func findBinary() string {
	for _, path := range binaryCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if path, err := exec.LookPath("simctl"); err == nil {
		return path
	}
	return "simctl"
}

// Tool invokes the simulator-control binary.
type Tool struct {
	binaryPath string
}

// New constructs a Tool, discovering the binary from
// QORVEX_SIMCTL_BINARY, common install locations, or PATH.
func New() *Tool {
	path := os.Getenv("QORVEX_SIMCTL_BINARY")
	if path == "" {
		path = findBinary()
	}
	return &Tool{binaryPath: path}
}

// NewWithBinary constructs a Tool against an explicit binary path,
// mainly for tests.
func NewWithBinary(path string) *Tool {
	return &Tool{binaryPath: path}
}

// Device is one entry from "list devices -j".
type Device struct {
	UDID       string `json:"udid"`
	Name       string `json:"name"`
	State      string `json:"state"`
	DeviceType string `json:"device_type,omitempty"`
}

// List returns every known simulator device.
func (t *Tool) List(ctx context.Context) ([]Device, error) {
	cmd := exec.CommandContext(ctx, t.binaryPath, "list", "devices", "-j")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("simctl: list devices: %w", err)
	}

	var devices []Device
	if err := json.Unmarshal(out, &devices); err != nil {
		return nil, fmt.Errorf("simctl: parse device list: %w", err)
	}
	return devices, nil
}

// Boot boots udid. "Already booted" is not treated as an error (§6.4).
func (t *Tool) Boot(ctx context.Context, udid string) error {
	cmd := exec.CommandContext(ctx, t.binaryPath, "boot", udid)
	out, err := cmd.CombinedOutput()
	if err != nil && !strings.Contains(strings.ToLower(string(out)), "already booted") {
		return fmt.Errorf("simctl: boot %s: %w: %s", udid, err, out)
	}
	return nil
}

// Screenshot captures a PNG screenshot of udid to destPath.
func (t *Tool) Screenshot(ctx context.Context, udid, destPath string) error {
	cmd := exec.CommandContext(ctx, t.binaryPath, "io", udid, "screenshot", destPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("simctl: screenshot %s: %w: %s", udid, err, out)
	}
	return nil
}

// Launch launches bundleID on udid (the §4.10 StartTarget operation).
func (t *Tool) Launch(ctx context.Context, udid, bundleID string) error {
	cmd := exec.CommandContext(ctx, t.binaryPath, "launch", udid, bundleID)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("simctl: launch %s on %s: %w: %s", bundleID, udid, err, out)
	}
	return nil
}

// Terminate terminates bundleID on udid (the §4.10 StopTarget operation).
func (t *Tool) Terminate(ctx context.Context, udid, bundleID string) error {
	cmd := exec.CommandContext(ctx, t.binaryPath, "terminate", udid, bundleID)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("simctl: terminate %s on %s: %w: %s", bundleID, udid, err, out)
	}
	return nil
}
