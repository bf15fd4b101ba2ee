// Package autostart registers d4macro to start on login.
package autostart

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"text/template"
)

// AppName is the registry value and LaunchAgent label suffix
const AppName = "d4macro"

const launchAgentLabel = "com.d4macro.agent"

const macLaunchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>
`

// Command returns the command line started on login
func Command() ([]string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	return []string{execPath, "run"}, nil
}

// Enable enables auto-start on login
func Enable() error {
	args, err := Command()
	if err != nil {
		return err
	}

	switch runtime.GOOS {
	case "darwin":
		dir, err := launchAgentsDir()
		if err != nil {
			return err
		}
		return writeLaunchAgent(dir, args)
	case "windows":
		return enableWindows(args)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// Disable disables auto-start on login
func Disable() error {
	switch runtime.GOOS {
	case "darwin":
		dir, err := launchAgentsDir()
		if err != nil {
			return err
		}
		return removeLaunchAgent(dir)
	case "windows":
		return disableWindows()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// IsEnabled checks if auto-start is enabled
func IsEnabled() bool {
	switch runtime.GOOS {
	case "darwin":
		dir, err := launchAgentsDir()
		if err != nil {
			return false
		}
		return launchAgentExists(dir)
	case "windows":
		return isEnabledWindows()
	default:
		return false
	}
}

// macOS implementation
func launchAgentsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents"), nil
}

func plistPath(dir string) string {
	return filepath.Join(dir, launchAgentLabel+".plist")
}

func renderPlist(w io.Writer, args []string) error {
	tmpl, err := template.New("plist").Parse(macLaunchAgentPlist)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, struct {
		Label string
		Args  []string
	}{launchAgentLabel, args})
}

func writeLaunchAgent(dir string, args []string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.Create(plistPath(dir))
	if err != nil {
		return err
	}
	defer f.Close()

	return renderPlist(f, args)
}

func removeLaunchAgent(dir string) error {
	if err := os.Remove(plistPath(dir)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func launchAgentExists(dir string) bool {
	_, err := os.Stat(plistPath(dir))
	return err == nil
}
