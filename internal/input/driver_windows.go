//go:build windows

package input

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procSendInput        = user32.NewProc("SendInput")
	procGetAsyncKeyState = user32.NewProc("GetAsyncKeyState")
)

const (
	INPUT_MOUSE    = 0
	INPUT_KEYBOARD = 1

	KEYEVENTF_EXTENDEDKEY = 0x0001
	KEYEVENTF_KEYUP       = 0x0002
	KEYEVENTF_SCANCODE    = 0x0008

	MOUSEEVENTF_LEFTDOWN   = 0x0002
	MOUSEEVENTF_LEFTUP     = 0x0004
	MOUSEEVENTF_RIGHTDOWN  = 0x0008
	MOUSEEVENTF_RIGHTUP    = 0x0010
	MOUSEEVENTF_MIDDLEDOWN = 0x0020
	MOUSEEVENTF_MIDDLEUP   = 0x0040
)

type KEYBDINPUT struct {
	WVk         uint16
	WScan       uint16
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

type MOUSEINPUT struct {
	Dx          int32
	Dy          int32
	MouseData   uint32
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

// keyboardINPUT matches INPUT with the KEYBDINPUT union member; the tail pads
// the union up to the size of its largest member (MOUSEINPUT).
type keyboardINPUT struct {
	Type uint32
	Ki   KEYBDINPUT
	_    [8]byte
}

type mouseINPUT struct {
	Type uint32
	Mi   MOUSEINPUT
}

// Injector is the Windows driver built on SendInput and GetAsyncKeyState
type Injector struct{}

// NewDriver creates the platform input driver
func NewDriver() Driver {
	return &Injector{}
}

// KeyDown presses a key using its hardware scan code
func (i *Injector) KeyDown(key string) error {
	return i.sendKey(key, false)
}

// KeyUp releases a key using its hardware scan code
func (i *Injector) KeyUp(key string) error {
	return i.sendKey(key, true)
}

func (i *Injector) sendKey(key string, up bool) error {
	sc, ok := lookupScanCode(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	flags := uint32(KEYEVENTF_SCANCODE)
	if sc.extended {
		flags |= KEYEVENTF_EXTENDEDKEY
	}
	if up {
		flags |= KEYEVENTF_KEYUP
	}

	in := keyboardINPUT{
		Type: INPUT_KEYBOARD,
		Ki: KEYBDINPUT{
			WScan:   sc.code,
			DwFlags: flags,
		},
	}

	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if n != 1 {
		return fmt.Errorf("SendInput(%s): %w", key, err)
	}
	return nil
}

// ClickMouse sends a button down and up in a single SendInput call
func (i *Injector) ClickMouse(button string) error {
	var down, up uint32
	switch button {
	case MouseLeft:
		down, up = MOUSEEVENTF_LEFTDOWN, MOUSEEVENTF_LEFTUP
	case MouseRight:
		down, up = MOUSEEVENTF_RIGHTDOWN, MOUSEEVENTF_RIGHTUP
	case MouseMiddle:
		down, up = MOUSEEVENTF_MIDDLEDOWN, MOUSEEVENTF_MIDDLEUP
	default:
		return fmt.Errorf("%w: %s", ErrUnknownButton, button)
	}

	inputs := [2]mouseINPUT{
		{Type: INPUT_MOUSE, Mi: MOUSEINPUT{DwFlags: down}},
		{Type: INPUT_MOUSE, Mi: MOUSEINPUT{DwFlags: up}},
	}

	n, _, err := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if n != uintptr(len(inputs)) {
		return fmt.Errorf("SendInput(%s): %w", button, err)
	}
	return nil
}

// IsKeyDown samples the physical state of a key
func (i *Injector) IsKeyDown(key string) bool {
	vk, ok := VirtualKey(key)
	if !ok {
		return false
	}
	// High-order bit set means the key is currently down
	r, _, _ := procGetAsyncKeyState.Call(uintptr(vk))
	return int16(r) < 0
}
