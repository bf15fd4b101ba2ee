//go:build !windows

package osutils

import "os"

// IsAdmin reports whether the process runs as root
func IsAdmin() bool {
	return os.Geteuid() == 0
}

// ElevationHint explains what the platform needs for synthetic input
func ElevationHint() string {
	return "grant Accessibility permission to the terminal or binary (System Settings > Privacy & Security)"
}
