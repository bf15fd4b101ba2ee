package input

import (
	"fmt"
	"time"
)

// actuationQueueSize bounds how many calls may wait behind a hung one
const actuationQueueSize = 64

// timeoutDriver bounds every call of the wrapped driver so a hung injection
// primitive cannot stall the engine tick or the hotkey poll. Actuation calls
// run one at a time on a single worker, in submission order, so a late
// KeyDown can never land after the KeyUp issued for it.
type timeoutDriver struct {
	next    Driver
	timeout time.Duration
	queue   chan func()
}

// WithTimeout wraps a driver so each call returns ErrTimeout after d.
// A timed-out actuation stays queued and still runs, in order, once the
// calls ahead of it finish; only its result is discarded.
func WithTimeout(d Driver, timeout time.Duration) Driver {
	if timeout <= 0 {
		return d
	}
	t := &timeoutDriver{
		next:    d,
		timeout: timeout,
		queue:   make(chan func(), actuationQueueSize),
	}
	go t.worker()
	return t
}

func (t *timeoutDriver) worker() {
	for fn := range t.queue {
		fn()
	}
}

func (t *timeoutDriver) call(name, key string, fn func() error) error {
	done := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s(%s) panicked: %v", name, key, r)
			}
		}()
		done <- fn()
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case t.queue <- job:
	case <-timer.C:
		return fmt.Errorf("%s(%s): %w after %v (queue full)", name, key, ErrTimeout, t.timeout)
	}

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%s(%s): %w after %v", name, key, ErrTimeout, t.timeout)
	}
}

func (t *timeoutDriver) KeyDown(key string) error {
	return t.call("KeyDown", key, func() error { return t.next.KeyDown(key) })
}

func (t *timeoutDriver) KeyUp(key string) error {
	return t.call("KeyUp", key, func() error { return t.next.KeyUp(key) })
}

func (t *timeoutDriver) ClickMouse(button string) error {
	return t.call("ClickMouse", button, func() error { return t.next.ClickMouse(button) })
}

// IsKeyDown samples outside the actuation queue; a hung sample reads as up.
func (t *timeoutDriver) IsKeyDown(key string) bool {
	done := make(chan bool, 1)
	go func() {
		done <- t.next.IsKeyDown(key)
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case down := <-done:
		return down
	case <-timer.C:
		return false
	}
}
