package input

import "strings"

// Windows virtual-key codes, used to sample physical key state.
var vkCodes = map[string]uint16{
	"0": 0x30, "1": 0x31, "2": 0x32, "3": 0x33, "4": 0x34,
	"5": 0x35, "6": 0x36, "7": 0x37, "8": 0x38, "9": 0x39,

	"A": 0x41, "B": 0x42, "C": 0x43, "D": 0x44, "E": 0x45, "F": 0x46,
	"G": 0x47, "H": 0x48, "I": 0x49, "J": 0x4A, "K": 0x4B, "L": 0x4C,
	"M": 0x4D, "N": 0x4E, "O": 0x4F, "P": 0x50, "Q": 0x51, "R": 0x52,
	"S": 0x53, "T": 0x54, "U": 0x55, "V": 0x56, "W": 0x57, "X": 0x58,
	"Y": 0x59, "Z": 0x5A,

	"SPACE":  0x20,
	"ENTER":  0x0D,
	"TAB":    0x09,
	"ESCAPE": 0x1B,

	"F1": 0x70, "F2": 0x71, "F3": 0x72, "F4": 0x73, "F5": 0x74, "F6": 0x75,
	"F7": 0x76, "F8": 0x77, "F9": 0x78, "F10": 0x79, "F11": 0x7A, "F12": 0x7B,

	"/":        0xBF,
	"INSERT":   0x2D,
	"DELETE":   0x2E,
	"HOME":     0x24,
	"END":      0x23,
	"PAGEUP":   0x21,
	"PAGEDOWN": 0x22,
	"UP":       0x26,
	"DOWN":     0x28,
	"LEFT":     0x25,
	"RIGHT":    0x27,

	"COMMA":        0xBC,
	"PERIOD":       0xBE,
	"SEMICOLON":    0xBA,
	"QUOTE":        0xDE,
	"BRACKETLEFT":  0xDB,
	"BRACKETRIGHT": 0xDD,
	"BACKSLASH":    0xDC,
	"BACKQUOTE":    0xC0,

	"NUMPAD0": 0x60, "NUMPAD1": 0x61, "NUMPAD2": 0x62, "NUMPAD3": 0x63, "NUMPAD4": 0x64,
	"NUMPAD5": 0x65, "NUMPAD6": 0x66, "NUMPAD7": 0x67, "NUMPAD8": 0x68, "NUMPAD9": 0x69,
	"MULTIPLY": 0x6A,
	"ADD":      0x6B,
	"SUBTRACT": 0x6D,
	"DECIMAL":  0x6E,
	"DIVIDE":   0x6F,

	"LSHIFT": 0xA0,
	"RSHIFT": 0xA1,
	"LCTRL":  0xA2,
	"RCTRL":  0xA3,
	"LALT":   0xA4,
	"RALT":   0xA5,
}

// scanCode is a set-1 hardware scan code; extended keys carry the E0 prefix flag.
type scanCode struct {
	code     uint16
	extended bool
}

// Scan codes used for injection. Games reading raw input ignore VK-only events.
var scanCodes = map[string]scanCode{
	"1": {0x02, false}, "2": {0x03, false}, "3": {0x04, false}, "4": {0x05, false}, "5": {0x06, false},
	"6": {0x07, false}, "7": {0x08, false}, "8": {0x09, false}, "9": {0x0A, false}, "0": {0x0B, false},

	"Q": {0x10, false}, "W": {0x11, false}, "E": {0x12, false}, "R": {0x13, false}, "T": {0x14, false},
	"Y": {0x15, false}, "U": {0x16, false}, "I": {0x17, false}, "O": {0x18, false}, "P": {0x19, false},
	"A": {0x1E, false}, "S": {0x1F, false}, "D": {0x20, false}, "F": {0x21, false}, "G": {0x22, false},
	"H": {0x23, false}, "J": {0x24, false}, "K": {0x25, false}, "L": {0x26, false},
	"Z": {0x2C, false}, "X": {0x2D, false}, "C": {0x2E, false}, "V": {0x2F, false}, "B": {0x30, false},
	"N": {0x31, false}, "M": {0x32, false},

	"SPACE":  {0x39, false},
	"ENTER":  {0x1C, false},
	"TAB":    {0x0F, false},
	"ESCAPE": {0x01, false},

	"F1": {0x3B, false}, "F2": {0x3C, false}, "F3": {0x3D, false}, "F4": {0x3E, false},
	"F5": {0x3F, false}, "F6": {0x40, false}, "F7": {0x41, false}, "F8": {0x42, false},
	"F9": {0x43, false}, "F10": {0x44, false}, "F11": {0x57, false}, "F12": {0x58, false},

	"/":        {0x35, false},
	"INSERT":   {0x52, true},
	"DELETE":   {0x53, true},
	"HOME":     {0x47, true},
	"END":      {0x4F, true},
	"PAGEUP":   {0x49, true},
	"PAGEDOWN": {0x51, true},
	"UP":       {0x48, true},
	"DOWN":     {0x50, true},
	"LEFT":     {0x4B, true},
	"RIGHT":    {0x4D, true},

	"COMMA":        {0x33, false},
	"PERIOD":       {0x34, false},
	"SEMICOLON":    {0x27, false},
	"QUOTE":        {0x28, false},
	"BRACKETLEFT":  {0x1A, false},
	"BRACKETRIGHT": {0x1B, false},
	"BACKSLASH":    {0x2B, false},
	"BACKQUOTE":    {0x29, false},

	"NUMPAD0": {0x52, false}, "NUMPAD1": {0x4F, false}, "NUMPAD2": {0x50, false}, "NUMPAD3": {0x51, false},
	"NUMPAD4": {0x4B, false}, "NUMPAD5": {0x4C, false}, "NUMPAD6": {0x4D, false}, "NUMPAD7": {0x47, false},
	"NUMPAD8": {0x48, false}, "NUMPAD9": {0x49, false},
	"MULTIPLY": {0x37, false},
	"ADD":      {0x4E, false},
	"SUBTRACT": {0x4A, false},
	"DECIMAL":  {0x53, false},
	"DIVIDE":   {0x35, true},

	"LSHIFT": {0x2A, false},
	"RSHIFT": {0x36, false},
	"LCTRL":  {0x1D, false},
	"RCTRL":  {0x1D, true},
	"LALT":   {0x38, false},
	"RALT":   {0x38, true},
}

var keyAliases = map[string]string{
	"ESC":       "ESCAPE",
	"RETURN":    "ENTER",
	"SLASH":     "/",
	"PGUP":      "PAGEUP",
	"PGDN":      "PAGEDOWN",
	"INS":       "INSERT",
	"DEL":       "DELETE",
	"SHIFT":     "LSHIFT",
	"CTRL":      "LCTRL",
	"CONTROL":   "LCTRL",
	"ALT":       "LALT",
	"BACKTICK":  "BACKQUOTE",
	"ARROWUP":   "UP",
	"ARROWDOWN": "DOWN",
}

// NormalizeKey maps a configured key name onto its canonical table name
func NormalizeKey(name string) string {
	k := strings.ToUpper(strings.TrimSpace(name))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// VirtualKey returns the Windows virtual-key code for a key name
func VirtualKey(name string) (uint16, bool) {
	vk, ok := vkCodes[NormalizeKey(name)]
	return vk, ok
}

// KnownKey reports whether a key name can be sampled for hotkey polling
func KnownKey(name string) bool {
	_, ok := VirtualKey(name)
	return ok
}

// Injectable reports whether a key name can be sent as a synthetic key event
func Injectable(name string) bool {
	_, ok := scanCodes[NormalizeKey(name)]
	return ok
}

func lookupScanCode(name string) (scanCode, bool) {
	sc, ok := scanCodes[NormalizeKey(name)]
	return sc, ok
}
