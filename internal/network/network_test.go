package network

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"d4macro/internal/api"
	"d4macro/internal/config"
	"d4macro/internal/engine"
	"d4macro/internal/input"
	"d4macro/internal/macro"
	"d4macro/internal/protocol"
)

func startService(t *testing.T, token string) (string, *macro.Controller) {
	t.Helper()

	cfg := config.NewManagerAt(filepath.Join(t.TempDir(), "config.json"))
	c := cfg.Get()
	c.General.APIToken = token
	if err := cfg.Set(c); err != nil {
		t.Fatal(err)
	}

	eng := engine.New(input.NewRecorder())
	ctrl := macro.New(cfg, eng)
	srv := api.NewServer(cfg, ctrl)
	ctrl.OnStatusChange(srv.BroadcastStatus)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
		eng.Shutdown()
	})

	return strings.TrimPrefix(ts.URL, "http://"), ctrl
}

// TestClientLifecycle tests the HTTP control client against a live server
func TestClientLifecycle(t *testing.T) {
	addr, ctrl := startService(t, "tok")
	client := NewClient(addr, "tok")
	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health failed: %v", err)
	}

	profiles, err := client.Profiles(ctx)
	if err != nil {
		t.Fatalf("Profiles failed: %v", err)
	}
	if len(profiles) != 1 || profiles[0].StartStopKey != "F1" {
		t.Errorf("Unexpected profiles: %+v", profiles)
	}

	if err := client.ProfileAction(ctx, "default", "start"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if ctrl.ProfileState("default") != engine.StateRunning {
		t.Error("Expected default running")
	}

	if err := client.ProfileAction(ctx, "default", "start"); err == nil {
		t.Error("Expected error for double start")
	}

	status, err := client.StopAll(ctx)
	if err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if status.State != "stopped" {
		t.Errorf("Expected stopped, got %s", status.State)
	}
}

// TestClientUnauthorized tests the token error
func TestClientUnauthorized(t *testing.T) {
	addr, _ := startService(t, "tok")

	_, err := NewClient(addr, "wrong").Status(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

// TestStatusClientFollow tests the status stream client
func TestStatusClientFollow(t *testing.T) {
	addr, ctrl := startService(t, "tok")

	updates := make(chan protocol.StatusPayload, 16)
	sc := NewStatusClient(addr, "tok")
	sc.OnStatus = func(s protocol.StatusPayload) { updates <- s }
	sc.Start()
	defer sc.Close()

	wait := func(want string) {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case s := <-updates:
				if s.State == want {
					return
				}
			case <-timeout:
				t.Fatalf("Timed out waiting for %s status", want)
			}
		}
	}

	wait("stopped")

	if err := ctrl.StartProfile("default"); err != nil {
		t.Fatal(err)
	}
	wait("running")

	sc.SendCommand(protocol.CommandPause, "default")
	wait("paused")

	if !sc.IsConnected() {
		t.Error("Expected client connected")
	}
}
