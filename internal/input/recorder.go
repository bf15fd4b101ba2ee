package input

import (
	"log"
	"sync"
)

// Op identifies a recorded driver call
type Op string

const (
	OpKeyDown    Op = "down"
	OpKeyUp      Op = "up"
	OpClickMouse Op = "click"
)

// Call is one recorded driver call
type Call struct {
	Op  Op
	Key string
}

// Recorder is an in-memory Driver. It records every call, tracks which keys
// it holds down, and lets callers simulate physical key presses. It backs
// dry-run mode and the tests of the engine and poller.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	held     map[string]bool
	physical map[string]bool
	failures map[Call]error
	verbose  bool
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		held:     make(map[string]bool),
		physical: make(map[string]bool),
		failures: make(map[Call]error),
	}
}

// NewDryRun creates a recorder that logs every injected event
func NewDryRun() *Recorder {
	r := NewRecorder()
	r.verbose = true
	return r
}

func (r *Recorder) record(op Op, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := Call{Op: op, Key: key}
	if err, ok := r.failures[c]; ok {
		return err
	}
	r.calls = append(r.calls, c)

	name := NormalizeKey(key)
	switch op {
	case OpKeyDown:
		r.held[name] = true
	case OpKeyUp:
		delete(r.held, name)
	}

	if r.verbose {
		log.Printf("DryRun: %s %s", op, key)
	}
	return nil
}

// KeyDown records a key press
func (r *Recorder) KeyDown(key string) error {
	return r.record(OpKeyDown, key)
}

// KeyUp records a key release
func (r *Recorder) KeyUp(key string) error {
	return r.record(OpKeyUp, key)
}

// ClickMouse records a mouse click
func (r *Recorder) ClickMouse(button string) error {
	return r.record(OpClickMouse, button)
}

// IsKeyDown reports a key as down if it is physically pressed or held by a recorded KeyDown
func (r *Recorder) IsKeyDown(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := NormalizeKey(key)
	return r.physical[name] || r.held[name]
}

// SetPhysical simulates the user pressing or releasing a key
func (r *Recorder) SetPhysical(key string, down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := NormalizeKey(key)
	if down {
		r.physical[name] = true
	} else {
		delete(r.physical, name)
	}
}

// FailOn makes every future call matching op and key return err without being recorded
func (r *Recorder) FailOn(op Op, key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[Call{Op: op, Key: key}] = err
}

// ClearFailures removes all configured failures
func (r *Recorder) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = make(map[Call]error)
}

// Calls returns a copy of the recorded calls
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many recorded calls match op and key
func (r *Recorder) Count(op Op, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op && c.Key == key {
			n++
		}
	}
	return n
}

// Held returns whether a synthetic KeyDown for key has not been released yet
func (r *Recorder) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[NormalizeKey(key)]
}

// HeldKeys returns every key currently held by synthetic input
func (r *Recorder) HeldKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.held))
	for k := range r.held {
		keys = append(keys, k)
	}
	return keys
}

// Reset forgets recorded calls but keeps held and physical state
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
