// Package hotkey polls physical key state and turns key presses into
// profile lifecycle calls.
package hotkey

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"d4macro/internal/config"
	"d4macro/internal/input"
)

// DefaultPollInterval is the hotkey sampling period
const DefaultPollInterval = 100 * time.Millisecond

// EmergencyKey stops every profile while anything is running
const EmergencyKey = "Escape"

// Controller is the lifecycle surface the poller drives
type Controller interface {
	ToggleProfile(id string) error
	StopAllProfiles()
	IsAnyRunning() bool
	PauseAll() []string
	ResumeProfiles(ids []string) []string
}

// Store supplies the live configuration on every poll
type Store interface {
	GetProfiles() []config.Profile
	GetGlobalOptions() config.GlobalOptions
}

// Poller samples hotkeys at a fixed cadence and fires on rising edges only
type Poller struct {
	mu       sync.Mutex
	driver   input.Driver
	store    Store
	ctrl     Controller
	interval time.Duration

	// previous is rebuilt on every poll from the identifiers sampled in it
	previous map[string]bool
	// warned maps a binding owner to the broken binding already reported
	warned map[string]string

	// specialPaused holds the profiles paused by the hold-to-pause key
	specialPaused []string
}

// Option configures a Poller
type Option func(*Poller)

// WithInterval sets the poll period
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// NewPoller creates a hotkey poller
func NewPoller(driver input.Driver, store Store, ctrl Controller, opts ...Option) *Poller {
	p := &Poller{
		driver:   driver,
		store:    store,
		ctrl:     ctrl,
		interval: DefaultPollInterval,
		previous: make(map[string]bool),
		warned:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// parseBinding splits a hotkey string (e.g. "F1", "Ctrl+F2") into key names.
// An unknown key is reported once per owner until the binding parses again.
func (p *Poller) parseBinding(owner, binding string) ([]string, bool) {
	parts := strings.Split(binding, "+")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if !input.KnownKey(part) {
			if p.warned[owner] != binding {
				log.Printf("Poller: Warning: unknown key %q in hotkey %q, skipping", part, binding)
				p.warned[owner] = binding
			}
			return nil, false
		}
		parts[i] = part
	}
	delete(p.warned, owner)
	return parts, true
}

// bindingDown reports whether every key of a binding is physically down.
func (p *Poller) bindingDown(keys []string) bool {
	for _, k := range keys {
		if !p.driver.IsKeyDown(k) {
			return false
		}
	}
	return true
}

// sample records the state of id in current and reports a rising edge.
func (p *Poller) sample(current map[string]bool, id string, down bool) bool {
	current[id] = down
	return down && !p.previous[id]
}

// Poll performs one sampling pass over every hotkey
func (p *Poller) Poll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]bool)
	profiles := p.store.GetProfiles()
	opts := p.store.GetGlobalOptions()

	for _, prof := range profiles {
		if prof.StartStopKey == "" {
			continue
		}
		keys, ok := p.parseBinding("profile:"+prof.ID, prof.StartStopKey)
		if !ok {
			continue
		}
		if p.sample(current, "profile:"+prof.ID, p.bindingDown(keys)) {
			log.Printf("Poller: Hotkey %s toggles profile %s", prof.StartStopKey, prof.ID)
			if err := p.ctrl.ToggleProfile(prof.ID); err != nil {
				log.Printf("Poller: Toggle %s failed: %v", prof.ID, err)
			}
		}
	}

	stopAll := false
	if p.sample(current, "escape", p.driver.IsKeyDown(EmergencyKey)) {
		stopAll = true
	}

	names := make([]string, 0, len(opts.StopKeys))
	for name, enabled := range opts.StopKeys {
		if enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		key, ok := config.StopKeyBindings[name]
		if !ok {
			if p.warned["stop:"+name] != name {
				log.Printf("Poller: Warning: unknown stop key binding %q, skipping", name)
				p.warned["stop:"+name] = name
			}
			continue
		}
		if p.sample(current, "stop:"+name, p.driver.IsKeyDown(key)) {
			stopAll = true
		}
	}

	if stopAll && p.ctrl.IsAnyRunning() {
		log.Printf("Poller: Stop key pressed, stopping all profiles")
		p.ctrl.StopAllProfiles()
	}

	p.pollSpecialKey(current, opts.SpecialKey)

	p.previous = current
}

// pollSpecialKey pauses every running profile while the special key is held
// and resumes the same profiles when it is released.
func (p *Poller) pollSpecialKey(current map[string]bool, sk config.SpecialKey) {
	down := false
	if sk.Enabled && sk.Key != "" {
		if keys, ok := p.parseBinding("special", sk.Key); ok {
			down = p.bindingDown(keys)
		}
	}

	if p.sample(current, "special", down) {
		p.specialPaused = p.ctrl.PauseAll()
		if len(p.specialPaused) > 0 {
			log.Printf("Poller: Special key held, paused %d profile(s)", len(p.specialPaused))
		}
		return
	}

	if !down && p.previous["special"] && len(p.specialPaused) > 0 {
		resumed := p.ctrl.ResumeProfiles(p.specialPaused)
		log.Printf("Poller: Special key released, resumed %d profile(s)", len(resumed))
		p.specialPaused = nil
	}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	log.Printf("Poller: Hotkey polling started (interval %v)", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Poller: Hotkey polling stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Poll()
		}
	}
}
