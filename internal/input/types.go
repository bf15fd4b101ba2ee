// Package input provides synthetic keyboard/mouse injection and physical key sampling.
package input

import (
	"errors"
	"strings"
)

var (
	// ErrUnsupported is returned by drivers on platforms without injection support
	ErrUnsupported = errors.New("input injection not supported on this platform")

	// ErrUnknownKey is returned when a key name has no mapping
	ErrUnknownKey = errors.New("unknown key name")

	// ErrUnknownButton is returned when a mouse button name is not MouseLeft/MouseRight/MouseMiddle
	ErrUnknownButton = errors.New("unknown mouse button")

	// ErrTimeout is returned when a driver call does not complete in time
	ErrTimeout = errors.New("input driver call timed out")
)

// Mouse button names accepted by ClickMouse
const (
	MouseLeft   = "MouseLeft"
	MouseRight  = "MouseRight"
	MouseMiddle = "MouseMiddle"

	mousePrefix = "Mouse"
)

// Driver injects input events and samples physical key state.
// Calls are synchronous from the caller's perspective.
type Driver interface {
	KeyDown(key string) error
	KeyUp(key string) error
	ClickMouse(button string) error
	IsKeyDown(key string) bool
}

// IsMouseButton reports whether a slot key denotes a mouse button
func IsMouseButton(key string) bool {
	return strings.HasPrefix(key, mousePrefix)
}

// KnownButton reports whether name is a button ClickMouse accepts
func KnownButton(name string) bool {
	switch name {
	case MouseLeft, MouseRight, MouseMiddle:
		return true
	}
	return false
}
