// Package usbtunnel resolves a physical device through the host's local
// device-multiplexer daemon and produces a bidirectional stream to a
// device-side port, using the same candidate-path-then-PATH-lookup binary
// discovery the lifecycle manager uses for the agent builder.
package usbtunnel

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"
)

// ErrorKind classifies a tunnel-resolution failure.
type ErrorKind int

const (
	UsbmuxdUnavailable ErrorKind = iota
	DeviceNotFound
	ConnectionFailed
	NoSocket
)

func (k ErrorKind) String() string {
	switch k {
	case UsbmuxdUnavailable:
		return "UsbmuxdUnavailable"
	case DeviceNotFound:
		return "DeviceNotFound"
	case ConnectionFailed:
		return "ConnectionFailed"
	case NoSocket:
		return "NoSocket"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by Resolver methods.
type Error struct {
	Kind ErrorKind
	UDID string
	Msg  string
}

func (e *Error) Error() string {
	switch e.Kind {
	case DeviceNotFound:
		return fmt.Sprintf("usbtunnel: device not found: %s", e.UDID)
	case UsbmuxdUnavailable:
		return "usbtunnel: device multiplexer unavailable"
	case NoSocket:
		return "usbtunnel: no multiplexer socket"
	default:
		return fmt.Sprintf("usbtunnel: %s: %s", e.Kind, e.Msg)
	}
}

// proxyBinaryCandidates lists common install locations for the local
// device-multiplexer proxy tool (e.g. libimobiledevice's iproxy), checked
// before falling back to a PATH lookup — the same discovery order the
// lifecycle manager's agent-builder binary uses.
var proxyBinaryCandidates = []string{
	"/opt/homebrew/bin/iproxy",
	"/usr/local/bin/iproxy",
	"/usr/bin/iproxy",
}

func findProxyBinary() string {
	for _, path := range proxyBinaryCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if path, err := exec.LookPath("iproxy"); err == nil {
		return path
	}
	return "/usr/local/bin/iproxy"
}

const (
	usbmuxdSocket    = "/var/run/usbmuxd"
	tunnelDialTimeout = 5 * time.Second
)

// Resolver resolves devices and opens tunneled streams through the local
// device multiplexer.
type Resolver struct {
	binaryPath string
}

// NewResolver builds a Resolver, discovering the proxy binary from the
// environment or common install locations.
func NewResolver() *Resolver {
	path := os.Getenv("QORVEX_USBPROXY_BINARY")
	if path == "" {
		path = findProxyBinary()
	}
	return &Resolver{binaryPath: path}
}

// DeviceInfo describes one device known to the local multiplexer.
type DeviceInfo struct {
	UDID string
	Name string
}

// ListDevices queries the multiplexer for attached devices.
func (r *Resolver) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	if _, err := os.Stat(usbmuxdSocket); err != nil {
		return nil, &Error{Kind: UsbmuxdUnavailable}
	}
	out, err := exec.CommandContext(ctx, r.binaryPath, "-l").CombinedOutput()
	if err != nil {
		return nil, &Error{Kind: UsbmuxdUnavailable, Msg: string(out)}
	}
	return parseDeviceList(string(out)), nil
}

// Open resolves udid via the local multiplexer and opens a tunneled
// bidirectional stream to devicePort on that device, returning a net.Conn
// that the agent client consumes without further distinction from a
// direct TCP stream.
func (r *Resolver) Open(ctx context.Context, udid string, devicePort int) (net.Conn, error) {
	if _, err := os.Stat(usbmuxdSocket); err != nil {
		return nil, &Error{Kind: UsbmuxdUnavailable}
	}

	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, d := range devices {
		if d.UDID == udid {
			found = true
			break
		}
	}
	if !found {
		return nil, &Error{Kind: DeviceNotFound, UDID: udid}
	}

	localPort, err := r.startProxy(ctx, udid, devicePort)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", localPort), tunnelDialTimeout)
	if err != nil {
		return nil, &Error{Kind: ConnectionFailed, Msg: err.Error()}
	}
	return conn, nil
}

// startProxy spawns the multiplexer proxy tool bound to an ephemeral local
// port forwarding to devicePort on udid, returning that local port once
// the proxy has had a moment to bind.
func (r *Resolver) startProxy(ctx context.Context, udid string, devicePort int) (int, error) {
	localPort, err := freeLocalPort()
	if err != nil {
		return 0, &Error{Kind: NoSocket, Msg: err.Error()}
	}

	cmd := exec.CommandContext(ctx, r.binaryPath,
		"-u", udid,
		fmt.Sprintf("%d:%d", localPort, devicePort))
	if err := cmd.Start(); err != nil {
		return 0, &Error{Kind: ConnectionFailed, Msg: err.Error()}
	}
	// Give the proxy a moment to bind its local listener before the caller
	// dials it.
	time.Sleep(150 * time.Millisecond)
	return localPort, nil
}

func freeLocalPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// parseDeviceList parses iproxy/libimobiledevice-style "-l" output: one
// UDID per line, optionally followed by whitespace and a device name.
func parseDeviceList(out string) []DeviceInfo {
	var devices []DeviceInfo
	line := ""
	for _, r := range out {
		if r == '\n' {
			if d, ok := parseDeviceLine(line); ok {
				devices = append(devices, d)
			}
			line = ""
			continue
		}
		line += string(r)
	}
	if d, ok := parseDeviceLine(line); ok {
		devices = append(devices, d)
	}
	return devices
}

func parseDeviceLine(line string) (DeviceInfo, bool) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return DeviceInfo{}, false
	}
	name := ""
	if len(fields) > 1 {
		name = fields[1]
	}
	return DeviceInfo{UDID: fields[0], Name: name}, true
}

func splitFields(s string) []string {
	var fields []string
	cur := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if cur != "" {
				fields = append(fields, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		fields = append(fields, cur)
	}
	return fields
}
