// Package engine schedules the periodic key and mouse actions of running macro profiles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"d4macro/internal/config"
	"d4macro/internal/input"
)

const (
	// MaxRunningProfiles is the maximum number of concurrently running profiles
	MaxRunningProfiles = 5

	// KeyHoldDuration is how long a synthetic key stays down before its release
	KeyHoldDuration = 50 * time.Millisecond

	// DefaultTickInterval is the actuation loop period
	DefaultTickInterval = 10 * time.Millisecond
)

var (
	ErrAlreadyRunning = errors.New("profile already running")
	ErrProfileCap     = fmt.Errorf("maximum of %d running profiles reached", MaxRunningProfiles)
	ErrNotRunning     = errors.New("profile not running")
	ErrInvalidProfile = errors.New("profile has no id")
	ErrShutdown       = errors.New("engine shut down")
)

// State is the run state of a single profile
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SlotStatus is a snapshot of one scheduled slot
type SlotStatus struct {
	SlotNumber int       `json:"slot_number"`
	Key        string    `json:"key"`
	IntervalMs int       `json:"interval_ms"`
	NextFireAt time.Time `json:"next_fire_at"`
}

// ProfileStatus is a snapshot of one running or paused profile
type ProfileStatus struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	State     State        `json:"state"`
	StartedAt time.Time    `json:"started_at"`
	Slots     []SlotStatus `json:"slots"`
}

type slotTimer struct {
	slotNumber int
	key        string
	interval   time.Duration
	nextFireAt time.Time
}

type runningProfile struct {
	profile   config.Profile
	state     State
	startedAt time.Time
	slots     []*slotTimer
}

// pendingRelease is the single scheduled KeyUp for a held key
type pendingRelease struct {
	key      string
	owner    string
	deadline time.Time
}

// Engine owns the running profiles and drives the input driver from Tick.
// All state is guarded by one mutex so lifecycle calls never interleave
// with a tick pass.
type Engine struct {
	mu       sync.Mutex
	driver   input.Driver
	clock    Clock
	tick     time.Duration
	rng      *rand.Rand
	running  map[string]*runningProfile
	order    []string
	releases map[string]*pendingRelease
	closed   bool
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the time source
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTickInterval sets the Run loop period
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithRand sets the random source used for interval jitter
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// New creates an engine that actuates through driver
func New(driver input.Driver, opts ...Option) *Engine {
	e := &Engine{
		driver:   driver,
		clock:    systemClock{},
		tick:     DefaultTickInterval,
		running:  make(map[string]*runningProfile),
		releases: make(map[string]*pendingRelease),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		now := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(now, now>>1))
	}
	return e
}

// StartProfile begins scheduling profile. The first actuation happens on a
// later tick; nothing is sent to the driver here. On error no state changes.
func (e *Engine) StartProfile(profile config.Profile, opts config.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrShutdown
	}
	if profile.ID == "" {
		return ErrInvalidProfile
	}
	if _, ok := e.running[profile.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, profile.ID)
	}
	if len(e.running) >= MaxRunningProfiles {
		return ErrProfileCap
	}

	now := e.clock.Now()
	rp := &runningProfile{
		profile:   profile,
		state:     StateRunning,
		startedAt: now,
	}

	for _, slot := range profile.SkillSlots {
		if !slot.Enabled || slot.Key == "" {
			continue
		}
		if input.IsMouseButton(slot.Key) {
			if !input.KnownButton(slot.Key) {
				log.Printf("Engine: Warning: profile %s slot %d has unknown mouse button %q, skipping", profile.ID, slot.SlotNumber, slot.Key)
				continue
			}
		} else if !input.Injectable(slot.Key) {
			log.Printf("Engine: Warning: profile %s slot %d has unknown key %q, skipping", profile.ID, slot.SlotNumber, slot.Key)
			continue
		}

		intervalMs := slot.IntervalMs
		if opts.RandomDelay {
			intervalMs = Jitter(intervalMs, opts.RandomDelayPercent, e.rng)
		}
		interval := time.Duration(intervalMs) * time.Millisecond

		rp.slots = append(rp.slots, &slotTimer{
			slotNumber: slot.SlotNumber,
			key:        slot.Key,
			interval:   interval,
			nextFireAt: now.Add(interval),
		})
	}

	e.running[profile.ID] = rp
	e.order = append(e.order, profile.ID)

	log.Printf("Engine: Started profile %s (%s) with %d active slots", profile.ID, profile.Name, len(rp.slots))
	return nil
}

// Tick releases keys whose hold expired, then fires every due slot of every
// running profile. Driver failures are logged per slot and never escape.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseDue(now)

	for _, id := range e.order {
		rp := e.running[id]
		if rp.state != StateRunning {
			continue
		}
		for _, st := range rp.slots {
			if now.Before(st.nextFireAt) {
				continue
			}
			e.fire(id, st, now)
			st.nextFireAt = now.Add(st.interval)
		}
	}
}

func (e *Engine) fire(owner string, st *slotTimer, now time.Time) {
	if input.IsMouseButton(st.key) {
		if err := e.call("ClickMouse", st.key, e.driver.ClickMouse); err != nil {
			log.Printf("Engine: Failed to click %s for profile %s slot %d: %v", st.key, owner, st.slotNumber, err)
		}
		return
	}

	if err := e.call("KeyDown", st.key, e.driver.KeyDown); err != nil {
		log.Printf("Engine: Failed to press %s for profile %s slot %d: %v", st.key, owner, st.slotNumber, err)
		// A timed-out press may still land; it must get its release.
		if !errors.Is(err, input.ErrTimeout) {
			return
		}
	}

	// Re-arm: a newer press of the same key replaces the pending release.
	e.releases[input.NormalizeKey(st.key)] = &pendingRelease{
		key:      st.key,
		owner:    owner,
		deadline: now.Add(KeyHoldDuration),
	}
}

func (e *Engine) releaseDue(now time.Time) {
	for name, r := range e.releases {
		if now.Before(r.deadline) {
			continue
		}
		delete(e.releases, name)
		if err := e.call("KeyUp", r.key, e.driver.KeyUp); err != nil {
			log.Printf("Engine: Failed to release %s: %v", r.key, err)
		}
	}
}

// call invokes a driver method, converting a panic into an error.
func (e *Engine) call(op, key string, fn func(string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s(%s) panicked: %v", op, key, r)
		}
	}()
	return fn(key)
}

// releaseProfileKeys issues KeyUp for every pending release owned by the
// profile, then for every enabled keyboard slot key not yet released.
// Any pending release for a released key is cancelled whatever its owner.
func (e *Engine) releaseProfileKeys(rp *runningProfile) {
	released := make(map[string]bool)

	var pending []string
	for name, r := range e.releases {
		if r.owner == rp.profile.ID {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)

	keys := make([]string, 0, len(pending)+config.SlotCount)
	for _, name := range pending {
		keys = append(keys, e.releases[name].key)
	}
	for _, slot := range rp.profile.SkillSlots {
		if slot.Enabled && slot.Key != "" && !input.IsMouseButton(slot.Key) {
			keys = append(keys, slot.Key)
		}
	}

	for _, key := range keys {
		name := input.NormalizeKey(key)
		if released[name] {
			continue
		}
		released[name] = true
		delete(e.releases, name)
		if err := e.call("KeyUp", key, e.driver.KeyUp); err != nil {
			log.Printf("Engine: Failed to release %s for profile %s: %v", key, rp.profile.ID, err)
		}
	}
}

// StopProfile removes a profile from the schedule and releases its keys
// before returning.
func (e *Engine) StopProfile(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rp, ok := e.running[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	delete(e.running, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.releaseProfileKeys(rp)

	log.Printf("Engine: Stopped profile %s", id)
	return nil
}

// PauseProfile suspends firing and releases the profile's keys. Slot
// schedules are preserved. Pausing a paused profile is a no-op.
func (e *Engine) PauseProfile(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rp, ok := e.running[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	if rp.state == StatePaused {
		return nil
	}

	rp.state = StatePaused
	e.releaseProfileKeys(rp)

	log.Printf("Engine: Paused profile %s", id)
	return nil
}

// ResumeProfile continues a paused profile. Slots whose fire time passed
// while paused fire on the next tick. Resuming a running profile is a no-op.
func (e *Engine) ResumeProfile(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rp, ok := e.running[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	if rp.state == StateRunning {
		return nil
	}

	rp.state = StateRunning
	log.Printf("Engine: Resumed profile %s", id)
	return nil
}

// State returns the run state of a profile
func (e *Engine) State(id string) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rp, ok := e.running[id]; ok {
		return rp.state
	}
	return StateStopped
}

// Profiles returns snapshots of every started profile in start order
func (e *Engine) Profiles() []ProfileStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ProfileStatus, 0, len(e.order))
	for _, id := range e.order {
		rp := e.running[id]
		ps := ProfileStatus{
			ID:        id,
			Name:      rp.profile.Name,
			State:     rp.state,
			StartedAt: rp.startedAt,
		}
		for _, st := range rp.slots {
			ps.Slots = append(ps.Slots, SlotStatus{
				SlotNumber: st.slotNumber,
				Key:        st.key,
				IntervalMs: int(st.interval / time.Millisecond),
				NextFireAt: st.nextFireAt,
			})
		}
		out = append(out, ps)
	}
	return out
}

// RunningIDs returns the ids of every started profile in start order
func (e *Engine) RunningIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// RunningCount returns the number of started (running or paused) profiles
func (e *Engine) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// PendingReleases returns the number of keys waiting for their release
func (e *Engine) PendingReleases() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.releases)
}

// nextWake returns how long Run should sleep before the next pass.
func (e *Engine) nextWake(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	wait := e.tick
	for _, r := range e.releases {
		if d := r.deadline.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Run drives Tick until ctx is cancelled. It wakes every tick interval, or
// earlier when a key release is due.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("Engine: Tick loop started (interval %v)", e.tick)

	timer := time.NewTimer(e.tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Engine: Tick loop stopped")
			return ctx.Err()
		case <-timer.C:
		}

		e.Tick(e.clock.Now())
		timer.Reset(e.nextWake(e.clock.Now()))
	}
}

// Shutdown stops every profile, releases every held key and refuses
// further starts.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	for _, id := range e.order {
		e.releaseProfileKeys(e.running[id])
	}
	for name, r := range e.releases {
		delete(e.releases, name)
		if err := e.call("KeyUp", r.key, e.driver.KeyUp); err != nil {
			log.Printf("Engine: Failed to release %s: %v", r.key, err)
		}
	}

	e.running = make(map[string]*runningProfile)
	e.order = nil
	log.Printf("Engine: Shut down")
}
