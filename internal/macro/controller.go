// Package macro provides the profile lifecycle controller that sits between
// hotkeys, the local API and the scheduling engine.
package macro

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"d4macro/internal/config"
	"d4macro/internal/engine"
)

// ErrUnknownProfile is returned when a profile id is not in the store
var ErrUnknownProfile = errors.New("unknown profile")

// Store is the read side of the profile configuration
type Store interface {
	GetProfiles() []config.Profile
	GetProfile(id string) (config.Profile, bool)
	GetGlobalOptions() config.GlobalOptions
}

// Status is the aggregate run state plus every started profile
type Status struct {
	State    engine.State           `json:"state"`
	Running  int                    `json:"running"`
	Profiles []engine.ProfileStatus `json:"profiles"`
}

// Controller is the only caller of the engine's lifecycle operations
type Controller struct {
	// opMu serializes lifecycle calls so listeners observe statuses in order
	opMu   sync.Mutex
	mu     sync.Mutex
	store  Store
	engine *engine.Engine

	onStatus func(Status)
}

// New creates a controller over store and eng
func New(store Store, eng *engine.Engine) *Controller {
	return &Controller{
		store:  store,
		engine: eng,
	}
}

// OnStatusChange sets the status listener. Only one listener is kept; a
// later call replaces the earlier one. The listener must not call back
// into lifecycle operations.
func (c *Controller) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

func (c *Controller) emit() {
	status := c.Status()

	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}

// Status recomputes the aggregate status from the engine
func (c *Controller) Status() Status {
	profiles := c.engine.Profiles()

	status := Status{
		State:    engine.StateStopped,
		Running:  len(profiles),
		Profiles: profiles,
	}
	if len(profiles) == 0 {
		return status
	}

	status.State = engine.StatePaused
	for _, p := range profiles {
		if p.State == engine.StateRunning {
			status.State = engine.StateRunning
			break
		}
	}
	return status
}

// ProfileState returns the run state of one profile
func (c *Controller) ProfileState(id string) engine.State {
	return c.engine.State(id)
}

// IsAnyRunning reports whether any profile is started (running or paused)
func (c *Controller) IsAnyRunning() bool {
	return c.engine.RunningCount() > 0
}

// StartProfile starts a configured profile with the current global options
func (c *Controller) StartProfile(id string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startLocked(id)
}

// startLocked starts a profile; the caller holds opMu
func (c *Controller) startLocked(id string) error {
	profile, ok := c.store.GetProfile(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}

	opts := c.store.GetGlobalOptions()
	if err := c.engine.StartProfile(profile, opts.Options); err != nil {
		return err
	}

	c.emit()
	return nil
}

// StopProfile stops a profile and releases its keys. Stopping a stopped
// profile is a no-op.
func (c *Controller) StopProfile(id string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked(id)
}

// stopLocked stops a profile; the caller holds opMu
func (c *Controller) stopLocked(id string) error {
	if c.engine.State(id) == engine.StateStopped {
		log.Printf("Controller: Warning: profile %s is not running", id)
		return nil
	}
	if err := c.engine.StopProfile(id); err != nil {
		return err
	}

	c.emit()
	return nil
}

// PauseProfile pauses a running profile. Pausing anything else is a no-op.
func (c *Controller) PauseProfile(id string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine.State(id) != engine.StateRunning {
		log.Printf("Controller: Warning: profile %s is not running, cannot pause", id)
		return nil
	}
	if err := c.engine.PauseProfile(id); err != nil {
		return err
	}

	c.emit()
	return nil
}

// ResumeProfile resumes a paused profile. Resuming anything else is a no-op.
func (c *Controller) ResumeProfile(id string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine.State(id) != engine.StatePaused {
		log.Printf("Controller: Warning: profile %s is not paused, cannot resume", id)
		return nil
	}
	if err := c.engine.ResumeProfile(id); err != nil {
		return err
	}

	c.emit()
	return nil
}

// ToggleProfile starts a stopped profile or stops a started one
func (c *Controller) ToggleProfile(id string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine.State(id) == engine.StateStopped {
		return c.startLocked(id)
	}
	return c.stopLocked(id)
}

// StopAllProfiles stops every started profile. Individual failures are
// logged and never abort the loop.
func (c *Controller) StopAllProfiles() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ids := c.engine.RunningIDs()
	if len(ids) == 0 {
		log.Printf("Controller: Warning: stop all requested but nothing is running")
		return
	}

	for _, id := range ids {
		if err := c.engine.StopProfile(id); err != nil {
			log.Printf("Controller: Warning: stop %s: %v", id, err)
		}
	}
	log.Printf("Controller: Stopped %d profile(s)", len(ids))

	c.emit()
}

// PauseAll pauses every running profile and returns the ids it paused
func (c *Controller) PauseAll() []string {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var paused []string
	for _, p := range c.engine.Profiles() {
		if p.State != engine.StateRunning {
			continue
		}
		if err := c.engine.PauseProfile(p.ID); err != nil {
			log.Printf("Controller: Warning: pause %s: %v", p.ID, err)
			continue
		}
		paused = append(paused, p.ID)
	}

	if len(paused) > 0 {
		c.emit()
	}
	return paused
}

// ResumeAll resumes every paused profile and returns the ids it resumed
func (c *Controller) ResumeAll() []string {
	var ids []string
	for _, p := range c.engine.Profiles() {
		if p.State == engine.StatePaused {
			ids = append(ids, p.ID)
		}
	}
	return c.ResumeProfiles(ids)
}

// ResumeProfiles resumes the listed profiles that are still paused
func (c *Controller) ResumeProfiles(ids []string) []string {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var resumed []string
	for _, id := range ids {
		if c.engine.State(id) != engine.StatePaused {
			continue
		}
		if err := c.engine.ResumeProfile(id); err != nil {
			log.Printf("Controller: Warning: resume %s: %v", id, err)
			continue
		}
		resumed = append(resumed, id)
	}

	if len(resumed) > 0 {
		c.emit()
	}
	return resumed
}

// Profiles returns the configured profiles
func (c *Controller) Profiles() []config.Profile {
	return c.store.GetProfiles()
}
