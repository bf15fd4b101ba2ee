package tray

import (
	"testing"

	"d4macro/internal/config"
	"d4macro/internal/engine"
	"d4macro/internal/macro"
)

type nopController struct{}

func (nopController) ToggleProfile(id string) error { return nil }
func (nopController) StopAllProfiles()              {}
func (nopController) PauseAll() []string            { return nil }
func (nopController) ResumeAll() []string           { return nil }

// TestProfileTitle tests menu labels per state
func TestProfileTitle(t *testing.T) {
	p := config.Profile{ID: "p1", Name: "Barb", StartStopKey: "F1"}

	tests := []struct {
		state engine.State
		want  string
	}{
		{engine.StateStopped, "Start Barb [F1]"},
		{engine.StateRunning, "Stop Barb [F1]"},
		{engine.StatePaused, "Stop Barb [F1] (paused)"},
	}
	for _, tt := range tests {
		if got := ProfileTitle(p, tt.state); got != tt.want {
			t.Errorf("ProfileTitle(%s) = %q, want %q", tt.state, got, tt.want)
		}
	}

	p.StartStopKey = ""
	if got := ProfileTitle(p, engine.StateStopped); got != "Start Barb" {
		t.Errorf("Expected no key suffix, got %q", got)
	}
}

// TestTooltip tests the aggregate tooltip
func TestTooltip(t *testing.T) {
	if got := Tooltip(macro.Status{State: engine.StateStopped}); got != "D4Macro: stopped" {
		t.Errorf("Unexpected stopped tooltip: %q", got)
	}

	status := macro.Status{
		State:   engine.StateRunning,
		Running: 2,
		Profiles: []engine.ProfileStatus{
			{ID: "p1", Name: "Barb", State: engine.StateRunning},
			{ID: "p2", Name: "Necro", State: engine.StatePaused},
		},
	}
	want := "D4Macro: running - Barb, Necro (paused)"
	if got := Tooltip(status); got != want {
		t.Errorf("Tooltip = %q, want %q", got, want)
	}
}

// TestStateTrackingBeforeReady tests menu state bookkeeping without a tray loop
func TestStateTrackingBeforeReady(t *testing.T) {
	tr := New(nopController{}, nil)

	tr.SetProfiles([]config.Profile{{ID: "p1", Name: "Barb"}, {ID: "p2", Name: "Necro"}})
	tr.UpdateStatus(macro.Status{
		State:    engine.StateRunning,
		Running:  1,
		Profiles: []engine.ProfileStatus{{ID: "p2", Name: "Necro", State: engine.StateRunning}},
	})

	if tr.profiles["p1"].state != engine.StateStopped {
		t.Errorf("Expected p1 stopped, got %s", tr.profiles["p1"].state)
	}
	if tr.profiles["p2"].state != engine.StateRunning {
		t.Errorf("Expected p2 running, got %s", tr.profiles["p2"].state)
	}
	if tr.tooltip != "D4Macro: running - Necro" {
		t.Errorf("Unexpected tooltip: %q", tr.tooltip)
	}

	tr.SetProfiles([]config.Profile{{ID: "p2", Name: "Necromancer"}})
	if len(tr.order) != 2 {
		t.Errorf("Expected removed profiles kept hidden, got order %v", tr.order)
	}
	if tr.profiles["p2"].profile.Name != "Necromancer" {
		t.Error("Expected profile rename applied")
	}

	// Pause all, Resume all, Stop all, separator, Quit
	if len(tr.items) != 5 {
		t.Errorf("Expected 5 static entries, got %d", len(tr.items))
	}
}
