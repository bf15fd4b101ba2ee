//go:build darwin

package input

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/go-vgo/robotgo"
	hook "github.com/robotn/gohook"
)

// robotgo spells a few keys differently from the Windows tables
var robotgoNames = map[string]string{
	"ESCAPE":       "esc",
	"PAGEUP":       "pageup",
	"PAGEDOWN":     "pagedown",
	"BACKQUOTE":    "`",
	"COMMA":        ",",
	"PERIOD":       ".",
	"SEMICOLON":    ";",
	"QUOTE":        "'",
	"BRACKETLEFT":  "[",
	"BRACKETRIGHT": "]",
	"BACKSLASH":    "\\",
	"MULTIPLY":     "num*",
	"ADD":          "num+",
	"SUBTRACT":     "num-",
	"DECIMAL":      "num.",
	"DIVIDE":       "num/",
}

// Injector is the macOS driver: robotgo posts events, a gohook event tap
// tracks which keys are physically held.
type Injector struct {
	once sync.Once
	mu   sync.RWMutex
	held map[uint16]bool
}

// NewDriver creates the platform input driver
func NewDriver() Driver {
	return &Injector{held: make(map[uint16]bool)}
}

func robotgoKey(key string) (string, error) {
	name := NormalizeKey(key)
	if _, ok := scanCodes[name]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if rk, ok := robotgoNames[name]; ok {
		return rk, nil
	}
	if strings.HasPrefix(name, "NUMPAD") {
		return "num" + strings.TrimPrefix(name, "NUMPAD"), nil
	}
	return strings.ToLower(name), nil
}

// KeyDown presses a key
func (i *Injector) KeyDown(key string) error {
	rk, err := robotgoKey(key)
	if err != nil {
		return err
	}
	return robotgo.KeyToggle(rk, "down")
}

// KeyUp releases a key
func (i *Injector) KeyUp(key string) error {
	rk, err := robotgoKey(key)
	if err != nil {
		return err
	}
	return robotgo.KeyToggle(rk, "up")
}

// ClickMouse sends a full click of the given button
func (i *Injector) ClickMouse(button string) error {
	switch button {
	case MouseLeft:
		robotgo.Click("left")
	case MouseRight:
		robotgo.Click("right")
	case MouseMiddle:
		robotgo.Click("center")
	default:
		return fmt.Errorf("%w: %s", ErrUnknownButton, button)
	}
	return nil
}

// IsKeyDown reports whether a key is held according to the event tap.
// The tap starts on first use; keys pressed before that are not seen.
func (i *Injector) IsKeyDown(key string) bool {
	i.once.Do(i.startTap)

	rk, err := robotgoKey(key)
	if err != nil {
		return false
	}
	code, ok := hook.Keycode[rk]
	if !ok {
		return false
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.held[code]
}

func (i *Injector) startTap() {
	events := hook.Start()
	log.Println("Input: macOS event tap started")

	go func() {
		for ev := range events {
			switch ev.Kind {
			case hook.KeyDown, hook.KeyHold:
				i.mu.Lock()
				i.held[ev.Keycode] = true
				i.mu.Unlock()
			case hook.KeyUp:
				i.mu.Lock()
				delete(i.held, ev.Keycode)
				i.mu.Unlock()
			}
		}
	}()
}
