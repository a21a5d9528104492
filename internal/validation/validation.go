// Package validation checks IPC-supplied identifiers and strings before
// they reach the executor or driver layer: session IDs, device UDIDs,
// bundle identifiers, and selector strings.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// uuidRegex matches a standard UUID, used for session IDs and
	// simulator UDIDs.
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// physicalUDIDRegex matches a 40-char hex UDID (classic physical
	// device format, pre-iOS 17) or a 24-char uppercase hex identifier
	// split 8+16 by a single dash (the newer format).
	physicalUDIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{40}$|^[0-9A-F]{8}-[0-9A-F]{16}$`)

	// bundleIDRegex matches a reverse-DNS bundle identifier, e.g.
	// "com.example.App".
	bundleIDRegex = regexp.MustCompile(`^[A-Za-z0-9]+(\.[A-Za-z0-9-]+)+$`)

	// safePathRegex matches safe path components (alphanumeric, dash,
	// underscore, dot), used for project/log directory inputs.
	safePathRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidateUUID checks that id is a well-formed UUID.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// ValidateSessionID validates a qorvexd session ID, minted as a plain
// UUID (session.generateSessionID).
func ValidateSessionID(id string) error {
	if err := ValidateUUID(id); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	return nil
}

// ValidateUDID validates a device identifier: either a simulator UUID or
// a physical device's 40-char (pre-iOS 17) or dash-separated 24-char hex
// UDID.
func ValidateUDID(udid string) error {
	if udid == "" {
		return fmt.Errorf("UDID cannot be empty")
	}
	if uuidRegex.MatchString(udid) || physicalUDIDRegex.MatchString(udid) {
		return nil
	}
	return fmt.Errorf("invalid UDID format: %s", udid)
}

// ValidateBundleID validates a reverse-DNS application bundle identifier
// (the SetTarget action's payload).
func ValidateBundleID(bundleID string) error {
	if bundleID == "" {
		return fmt.Errorf("bundle ID cannot be empty")
	}
	if !bundleIDRegex.MatchString(bundleID) {
		return fmt.Errorf("invalid bundle ID format: %s", bundleID)
	}
	return nil
}

// ValidateSelector validates a Tap/WaitFor/GetValue selector string: it
// must be non-empty and within a sane length. Selectors may contain glob
// wildcards ('*', '?'), so no character-class restriction applies beyond
// excluding control characters.
func ValidateSelector(selector string) error {
	if selector == "" {
		return fmt.Errorf("selector cannot be empty")
	}
	if len(selector) > 512 {
		return fmt.Errorf("selector too long (%d bytes)", len(selector))
	}
	for _, r := range selector {
		if r < 0x20 {
			return fmt.Errorf("selector contains control character")
		}
	}
	return nil
}

// SanitizePath removes path traversal attempts and validates path
// components of a relative path (e.g. an agent project directory
// supplied over IPC).
func SanitizePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}

	if strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}

	parts := strings.Split(path, "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		if !safePathRegex.MatchString(part) {
			return "", fmt.Errorf("unsafe path component: %s", part)
		}
	}

	return path, nil
}
