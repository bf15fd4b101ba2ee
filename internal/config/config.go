// Package config provides profile storage and configuration management for the macro engine.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SlotCount is the fixed number of skill slots per profile
const SlotCount = 8

// MaxIntervalMs caps a slot interval so a typo cannot park a slot for days
const MaxIntervalMs = 3_600_000

var (
	// ErrProfileNotFound is returned when a profile id is not configured
	ErrProfileNotFound = errors.New("profile not found")

	// ErrInvalidConfig is returned when a configuration fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config represents the application configuration
type Config struct {
	// Version is the config file format version
	Version string `json:"version" yaml:"version"`

	// Profiles contains all macro profiles
	Profiles []Profile `json:"profiles" yaml:"profiles"`

	// SelectedProfileID is the profile shown by default in UIs
	SelectedProfileID string `json:"selected_profile_id,omitempty" yaml:"selected_profile_id,omitempty"`

	// StopKeys enables stop-all bindings by name (see StopKeyBindings)
	StopKeys map[string]bool `json:"stop_keys" yaml:"stop_keys"`

	// SpecialKey is an optional hold-to-pause key
	SpecialKey SpecialKey `json:"special_key" yaml:"special_key"`

	// Options contains timing options shared by every profile
	Options Options `json:"options" yaml:"options"`

	// General contains general application settings
	General GeneralConfig `json:"general" yaml:"general"`
}

// SkillSlot is one periodic key or mouse action within a profile
type SkillSlot struct {
	// SlotNumber is the 1-based slot position (1..8)
	SlotNumber int `json:"slot_number" yaml:"slot_number"`

	// Key is a keyboard key name or MouseLeft/MouseRight/MouseMiddle; empty disables the slot
	Key string `json:"key" yaml:"key"`

	// IntervalMs is the period between presses in milliseconds
	IntervalMs int `json:"interval_ms" yaml:"interval_ms"`

	// Enabled toggles the slot without clearing its key
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Profile is an independently startable set of skill slots
type Profile struct {
	// ID uniquely identifies the profile
	ID string `json:"id" yaml:"id"`

	// Name is the display name
	Name string `json:"name" yaml:"name"`

	// StartStopKey toggles this profile when pressed (e.g. "F1")
	StartStopKey string `json:"start_stop_key" yaml:"start_stop_key"`

	// SkillSlots holds the eight slot definitions
	SkillSlots [SlotCount]SkillSlot `json:"skill_slots" yaml:"skill_slots"`
}

// Options are timing options applied when a profile starts
type Options struct {
	// RandomDelay jitters every slot interval when a profile starts
	RandomDelay bool `json:"random_delay" yaml:"random_delay"`

	// RandomDelayPercent is the symmetric jitter band in percent (0..100)
	RandomDelayPercent int `json:"random_delay_percent" yaml:"random_delay_percent"`
}

// SpecialKey configures the hold-to-pause key
type SpecialKey struct {
	Key     string `json:"key" yaml:"key"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// StartOnBoot determines if the app starts on login
	StartOnBoot bool `json:"start_on_boot" yaml:"start_on_boot"`

	// ShowTray shows the system tray icon when running as a service
	ShowTray bool `json:"show_tray" yaml:"show_tray"`

	// APIEnabled enables the local control/status server
	APIEnabled bool `json:"api_enabled" yaml:"api_enabled"`

	// APIPort is the loopback port for the control server
	APIPort int `json:"api_port" yaml:"api_port"`

	// APIToken is an optional bearer token for API requests
	APIToken string `json:"api_token,omitempty" yaml:"api_token,omitempty"`

	// DriverTimeoutMs bounds every input driver call (0 disables the bound)
	DriverTimeoutMs int `json:"driver_timeout_ms" yaml:"driver_timeout_ms"`
}

// GlobalOptions is the read-only snapshot of options the engine and poller consume
type GlobalOptions struct {
	Options
	StopKeys   map[string]bool
	SpecialKey SpecialKey
}

// StopKeyBindings maps stop-key names to the physical key they watch.
// The set is fixed; configuration only enables or disables entries.
var StopKeyBindings = map[string]string{
	"inventory":  "C",
	"skills":     "K",
	"follower":   "F",
	"map":        "Tab",
	"worldMap":   "M",
	"townPortal": "T",
	"chat":       "Enter",
	"whisper":    "/",
}

// DefaultProfile returns the profile created for a fresh install
func DefaultProfile() Profile {
	return Profile{
		ID:           "default",
		Name:         "Default",
		StartStopKey: "F1",
		SkillSlots: [SlotCount]SkillSlot{
			{SlotNumber: 1, Key: "1", IntervalMs: 11, Enabled: true},
			{SlotNumber: 2, Key: "2", IntervalMs: 1000, Enabled: true},
			{SlotNumber: 3, Key: "3", IntervalMs: 1008, Enabled: false},
			{SlotNumber: 4, Key: "", IntervalMs: 305, Enabled: false},
			{SlotNumber: 5, Key: "5", IntervalMs: 500, Enabled: true},
			{SlotNumber: 6, Key: "6", IntervalMs: 310, Enabled: true},
			{SlotNumber: 7, Key: "Space", IntervalMs: 100, Enabled: true},
			{SlotNumber: 8, Key: "Q", IntervalMs: 1000, Enabled: true},
		},
	}
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	stopKeys := make(map[string]bool, len(StopKeyBindings))
	for name := range StopKeyBindings {
		stopKeys[name] = false
	}

	return &Config{
		Version:           "2.0.0",
		Profiles:          []Profile{DefaultProfile()},
		SelectedProfileID: "default",
		StopKeys:          stopKeys,
		Options: Options{
			RandomDelay:        false,
			RandomDelayPercent: 10,
		},
		General: GeneralConfig{
			ShowTray:        true,
			APIEnabled:      true,
			APIPort:         18090,
			DriverTimeoutMs: 200,
		},
	}
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	out.Profiles = append([]Profile(nil), c.Profiles...)
	out.StopKeys = make(map[string]bool, len(c.StopKeys))
	for k, v := range c.StopKeys {
		out.StopKeys[k] = v
	}
	return &out
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.StopKeys == nil {
		c.StopKeys = make(map[string]bool)
	}
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("Profile %d", i+1)
		}
		for j := range p.SkillSlots {
			if p.SkillSlots[j].SlotNumber == 0 {
				p.SkillSlots[j].SlotNumber = j + 1
			}
		}
	}
	if c.SelectedProfileID == "" && len(c.Profiles) > 0 {
		c.SelectedProfileID = c.Profiles[0].ID
	}
	if c.General.APIPort == 0 {
		c.General.APIPort = 18090
	}
}

// Validate checks that all fields are present and consistent.
func (c *Config) Validate() error {
	var errs []string

	seen := make(map[string]bool)
	for i, p := range c.Profiles {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("profiles[%d].id is required", i))
		} else if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("profiles[%d].id %q is duplicated", i, p.ID))
		}
		seen[p.ID] = true

		for j, s := range p.SkillSlots {
			if s.SlotNumber != j+1 {
				errs = append(errs, fmt.Sprintf("profiles[%d].skill_slots[%d].slot_number must be %d", i, j, j+1))
			}
			if s.IntervalMs < 0 || s.IntervalMs > MaxIntervalMs {
				errs = append(errs, fmt.Sprintf("profiles[%d].skill_slots[%d].interval_ms must be within 0..%d", i, j, MaxIntervalMs))
			}
		}
	}

	if c.Options.RandomDelayPercent < 0 || c.Options.RandomDelayPercent > 100 {
		errs = append(errs, "options.random_delay_percent must be within 0..100")
	}
	for name := range c.StopKeys {
		if _, ok := StopKeyBindings[name]; !ok {
			errs = append(errs, fmt.Sprintf("stop_keys.%s is not a known binding", name))
		}
	}
	if c.General.APIPort < 0 || c.General.APIPort > 65535 {
		errs = append(errs, "general.api_port must be within 0..65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
}

// NewManager creates a configuration manager at the platform default path
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return NewManagerAt(configPath), nil
}

// NewManagerAt creates a configuration manager for an explicit file path.
// The format follows the extension: .yaml/.yml for YAML, anything else JSON.
func NewManagerAt(path string) *Manager {
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "d4macro")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "d4macro")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "d4macro")
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(configDir, "config.json"), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func encode(path string, cfg *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// Path returns the configuration file path
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk. A missing file keeps the defaults.
func (m *Manager) Load() error {
	m.mu.Lock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}

	cfg := DefaultConfig()
	defaults := cfg.Profiles
	cfg.Profiles = nil
	if err := decode(m.configPath, data, cfg); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("config: parse %s: %w", m.configPath, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = defaults
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}

	m.config = cfg
	onChanged := m.onChanged
	m.mu.Unlock()

	if onChanged != nil {
		onChanged()
	}
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := encode(m.configPath, m.config)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return err
	}

	log.Printf("Config: Saving configuration to %s (%d bytes)", m.configPath, len(data))
	return os.WriteFile(m.configPath, data, 0644)
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Clone()
}

// Set validates and replaces the configuration
func (m *Manager) Set(config *Config) error {
	cfg := config.Clone()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	onChanged := m.onChanged
	m.mu.Unlock()

	if onChanged != nil {
		onChanged()
	}
	return nil
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}

// GetProfiles returns a snapshot of every configured profile
func (m *Manager) GetProfiles() []Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Profile(nil), m.config.Profiles...)
}

// GetProfile returns a profile by id
func (m *Manager) GetProfile(id string) (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.config.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// GetGlobalOptions returns the options shared by every profile
func (m *Manager) GetGlobalOptions() GlobalOptions {
	m.mu.Lock()
	defer m.mu.Unlock()

	stopKeys := make(map[string]bool, len(m.config.StopKeys))
	for k, v := range m.config.StopKeys {
		stopKeys[k] = v
	}
	return GlobalOptions{
		Options:    m.config.Options,
		StopKeys:   stopKeys,
		SpecialKey: m.config.SpecialKey,
	}
}

// SetProfile updates or adds a profile
func (m *Manager) SetProfile(profile Profile) error {
	m.mu.Lock()
	cfg := m.config.Clone()
	m.mu.Unlock()

	replaced := false
	for i := range cfg.Profiles {
		if profile.ID != "" && cfg.Profiles[i].ID == profile.ID {
			cfg.Profiles[i] = profile
			replaced = true
			break
		}
	}
	if !replaced {
		cfg.Profiles = append(cfg.Profiles, profile)
	}
	return m.Set(cfg)
}

// DeleteProfile removes a profile by id
func (m *Manager) DeleteProfile(id string) error {
	m.mu.Lock()
	cfg := m.config.Clone()
	m.mu.Unlock()

	for i := range cfg.Profiles {
		if cfg.Profiles[i].ID == id {
			cfg.Profiles = append(cfg.Profiles[:i], cfg.Profiles[i+1:]...)
			return m.Set(cfg)
		}
	}
	return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}
