// Package osutils holds small platform checks used at startup.
package osutils

import "log"

// WarnIfUnprivileged logs a hint when input injection may be blocked
func WarnIfUnprivileged() bool {
	if IsAdmin() {
		return false
	}
	log.Printf("Warning: Not running elevated; %s", ElevationHint())
	return true
}
