package lifecycle

import "time"

// Config configures the subprocess lifecycle of a native agent bound to a
// specific simulator or device.
type Config struct {
	// ProjectPath is the directory containing the agent's Xcode project or
	// workspace and build scheme.
	ProjectPath string
	// Scheme is the build-for-testing/test-without-building scheme name.
	Scheme string
	// Destination is the xcodebuild -destination argument (e.g. a
	// simulator UDID or "platform=iOS,id=<device udid>").
	Destination string
	// Port is the agent's listening port.
	Port int
	// StartupTimeout bounds wait_for_ready.
	StartupTimeout time.Duration
	// MaxRetries bounds ensure_running's spawn/wait attempts.
	MaxRetries int
}

// DefaultConfig returns the documented defaults: port 8080, 30s startup
// timeout, 3 retries.
func DefaultConfig(projectPath, scheme, destination string) Config {
	return Config{
		ProjectPath:    projectPath,
		Scheme:         scheme,
		Destination:    destination,
		Port:           8080,
		StartupTimeout: 30 * time.Second,
		MaxRetries:     3,
	}
}
