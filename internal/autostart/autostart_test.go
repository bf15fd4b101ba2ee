package autostart

import (
	"bytes"
	"strings"
	"testing"
)

// TestRenderPlist tests the LaunchAgent document
func TestRenderPlist(t *testing.T) {
	var buf bytes.Buffer
	if err := renderPlist(&buf, []string{"/Applications/d4macro", "run"}); err != nil {
		t.Fatalf("renderPlist failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"<string>com.d4macro.agent</string>",
		"<string>/Applications/d4macro</string>",
		"<string>run</string>",
		"<key>RunAtLoad</key>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected plist to contain %q:\n%s", want, out)
		}
	}
}

// TestLaunchAgentLifecycle tests write, detect and remove
func TestLaunchAgentLifecycle(t *testing.T) {
	dir := t.TempDir()

	if launchAgentExists(dir) {
		t.Fatal("Expected no agent in empty dir")
	}
	if err := writeLaunchAgent(dir, []string{"/bin/d4macro", "run"}); err != nil {
		t.Fatalf("writeLaunchAgent failed: %v", err)
	}
	if !launchAgentExists(dir) {
		t.Error("Expected agent after write")
	}
	if err := removeLaunchAgent(dir); err != nil {
		t.Fatalf("removeLaunchAgent failed: %v", err)
	}
	if launchAgentExists(dir) {
		t.Error("Expected agent removed")
	}
	if err := removeLaunchAgent(dir); err != nil {
		t.Errorf("Expected second remove to be a no-op, got %v", err)
	}
}

// TestCommand tests the login command line
func TestCommand(t *testing.T) {
	args, err := Command()
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 2 || args[1] != "run" {
		t.Errorf("Unexpected command: %v", args)
	}
}
