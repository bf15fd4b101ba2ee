// Package tray provides system tray functionality using getlantern/systray.
package tray

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"d4macro/internal/config"
	"d4macro/internal/engine"
	"d4macro/internal/macro"

	"github.com/getlantern/systray"
)

// Controller is the lifecycle surface driven from the tray menu
type Controller interface {
	ToggleProfile(id string) error
	StopAllProfiles()
	PauseAll() []string
	ResumeAll() []string
}

// MenuItem represents a menu item
type MenuItem struct {
	ID       int
	Title    string
	Callback func()
	item     *systray.MenuItem
}

// profileItem is the start/stop entry for one profile
type profileItem struct {
	profile config.Profile
	state   engine.State
	item    *systray.MenuItem
}

// Tray manages the system tray icon and menu
type Tray struct {
	mu       sync.Mutex
	ctrl     Controller
	items    []*MenuItem
	profiles map[string]*profileItem
	order    []string
	tooltip  string
	ready    bool

	onQuit  func()
	readyCh chan struct{}
	quitCh  chan struct{}
}

// New creates a new system tray. onQuit runs when the user picks Quit.
func New(ctrl Controller, onQuit func()) *Tray {
	t := &Tray{
		ctrl:     ctrl,
		profiles: make(map[string]*profileItem),
		tooltip:  Tooltip(macro.Status{State: engine.StateStopped}),
		onQuit:   onQuit,
		readyCh:  make(chan struct{}),
		quitCh:   make(chan struct{}),
	}

	t.AddMenuItem("Pause all", func() { t.ctrl.PauseAll() })
	t.AddMenuItem("Resume all", func() { t.ctrl.ResumeAll() })
	t.AddMenuItem("Stop all", t.ctrl.StopAllProfiles)
	t.AddSeparator()
	t.AddMenuItem("Quit", func() {
		if t.onQuit != nil {
			t.onQuit()
		}
	})

	return t
}

// AddMenuItem adds a menu item below the profile entries
func (t *Tray) AddMenuItem(title string, callback func()) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := len(t.items)
	t.items = append(t.items, &MenuItem{
		ID:       id,
		Title:    title,
		Callback: callback,
	})
	return id
}

// AddSeparator adds a separator to the menu
func (t *Tray) AddSeparator() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, nil) // nil indicates separator
}

// SetProfiles replaces the set of profile entries. Entries for removed
// profiles are hidden; new profiles are appended.
func (t *Tray) SetProfiles(profiles []config.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		seen[p.ID] = true
		if pi, ok := t.profiles[p.ID]; ok {
			pi.profile = p
			if pi.item != nil {
				pi.item.Show()
			}
			continue
		}

		pi := &profileItem{profile: p, state: engine.StateStopped}
		t.profiles[p.ID] = pi
		t.order = append(t.order, p.ID)
		if t.ready {
			t.addProfileItem(pi)
		}
	}

	for id, pi := range t.profiles {
		if !seen[id] && pi.item != nil {
			pi.item.Hide()
		}
	}
	t.refreshLocked()
}

// UpdateStatus reflects a controller status in the tooltip and profile entries
func (t *Tray) UpdateStatus(status macro.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	states := make(map[string]engine.State, len(status.Profiles))
	for _, p := range status.Profiles {
		states[p.ID] = p.State
	}
	for id, pi := range t.profiles {
		state, ok := states[id]
		if !ok {
			state = engine.StateStopped
		}
		pi.state = state
	}

	t.tooltip = Tooltip(status)
	t.refreshLocked()
}

// refreshLocked pushes titles and the tooltip to systray; the caller holds mu
func (t *Tray) refreshLocked() {
	if !t.ready {
		return
	}
	systray.SetTooltip(t.tooltip)
	for _, pi := range t.profiles {
		if pi.item == nil {
			continue
		}
		pi.item.SetTitle(ProfileTitle(pi.profile, pi.state))
		if pi.state == engine.StateStopped {
			pi.item.Uncheck()
		} else {
			pi.item.Check()
		}
	}
}

// Run starts the tray event loop (blocks)
func (t *Tray) Run() {
	systray.Run(t.setupMenu, func() { close(t.quitCh) })
}

// setupMenu is called when systray is ready
func (t *Tray) setupMenu() {
	systray.SetTitle("D4Macro")
	systray.SetIcon(getIcon())

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range t.order {
		t.addProfileItem(t.profiles[id])
	}
	systray.AddSeparator()

	for _, menuItem := range t.items {
		if menuItem == nil {
			// Separator
			systray.AddSeparator()
			continue
		}

		menuItem.item = systray.AddMenuItem(menuItem.Title, "")
		if menuItem.Callback != nil {
			go t.watchClicks(menuItem.item, menuItem.Callback)
		}
	}

	t.ready = true
	close(t.readyCh)
	t.refreshLocked()
}

// addProfileItem creates the menu entry for a profile; the caller holds mu
func (t *Tray) addProfileItem(pi *profileItem) {
	id := pi.profile.ID
	pi.item = systray.AddMenuItem(ProfileTitle(pi.profile, pi.state), "Start or stop this profile")
	go t.watchClicks(pi.item, func() {
		if err := t.ctrl.ToggleProfile(id); err != nil {
			log.Printf("Tray: Toggle %s failed: %v", id, err)
		}
	})
}

func (t *Tray) watchClicks(item *systray.MenuItem, callback func()) {
	for {
		select {
		case <-item.ClickedCh:
			callback()
		case <-t.quitCh:
			return
		}
	}
}

// Stop stops the tray
func (t *Tray) Stop() {
	systray.Quit()
}

// ProfileTitle is the menu label for a profile in a given state
func ProfileTitle(p config.Profile, state engine.State) string {
	verb := "Start"
	if state != engine.StateStopped {
		verb = "Stop"
	}
	label := p.Name
	if p.StartStopKey != "" {
		label = fmt.Sprintf("%s [%s]", p.Name, p.StartStopKey)
	}
	if state == engine.StatePaused {
		label += " (paused)"
	}
	return verb + " " + label
}

// Tooltip summarizes a controller status for the tray icon
func Tooltip(status macro.Status) string {
	if status.State == engine.StateStopped || len(status.Profiles) == 0 {
		return "D4Macro: stopped"
	}

	names := make([]string, 0, len(status.Profiles))
	for _, p := range status.Profiles {
		name := p.Name
		if p.State == engine.StatePaused {
			name += " (paused)"
		}
		names = append(names, name)
	}
	return fmt.Sprintf("D4Macro: %s - %s", status.State, strings.Join(names, ", "))
}

// getIcon returns a placeholder icon (valid 16x16 ICO)
func getIcon() []byte {
	// A valid 16x16 32-bit ICO file with correct size and DIB header
	icon := make([]byte, 1118)
	// ICO Header
	copy(icon[0:6], []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00})
	// Icon Directory
	copy(icon[6:22], []byte{
		0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00,
		0x48, 0x04, 0x00, 0x00, // Size: 1024 (pixels) + 40 (header) + 32 (mask) = 1096 bytes
		0x16, 0x00, 0x00, 0x00, // Offset
	})
	// DIB Header
	copy(icon[22:62], []byte{
		0x28, 0x00, 0x00, 0x00, // Size
		0x10, 0x00, 0x00, 0x00, // Width
		0x20, 0x00, 0x00, 0x00, // Height (16 * 2 for icon)
		0x01, 0x00, // Planes
		0x20, 0x00, // BPP
		0x00, 0x00, 0x00, 0x00, // Compression
		0x00, 0x04, 0x00, 0x00, // Image Size
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})
	// Red fill so the icon is visible on light and dark taskbars
	for i := 62; i < 62+1024; i += 4 {
		icon[i+2] = 0xC0
		icon[i+3] = 0xFF
	}
	return icon
}
