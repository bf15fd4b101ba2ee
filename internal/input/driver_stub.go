//go:build !windows && !darwin

package input

// Stub implementation for platforms without an injection backend

// Injector represents a stub input driver
type Injector struct{}

// NewDriver creates the platform input driver (stub)
func NewDriver() Driver {
	return &Injector{}
}

// KeyDown presses a key (stub)
func (i *Injector) KeyDown(key string) error {
	return ErrUnsupported
}

// KeyUp releases a key (stub)
func (i *Injector) KeyUp(key string) error {
	return ErrUnsupported
}

// ClickMouse clicks a mouse button (stub)
func (i *Injector) ClickMouse(button string) error {
	return ErrUnsupported
}

// IsKeyDown samples key state (stub)
func (i *Injector) IsKeyDown(key string) bool {
	return false
}
