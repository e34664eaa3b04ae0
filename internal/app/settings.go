package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys. Duration fields accept any
// value time.ParseDuration understands ("336h", "48h30m").
type Settings struct {
	DBPath                    string `yaml:"db_path"`
	InactivityThreshold       string `yaml:"inactivity_threshold"`
	GoodbyeTimeout            string `yaml:"goodbye_timeout"`
	RemindLater               string `yaml:"remind_later"`
	UnpromptedReturnThreshold string `yaml:"unprompted_return_threshold"`
	MaxMessageRetries         int    `yaml:"max_message_retries"`
}

// EngagementConfig holds the effective, validated timing thresholds that
// drive the state machine and the daily scheduling sweeps. Unlike Settings
// (raw YAML strings), durations here are already parsed.
type EngagementConfig struct {
	InactivityThreshold       time.Duration
	GoodbyeTimeout            time.Duration
	RemindLater               time.Duration
	UnpromptedReturnThreshold time.Duration
	MaxMessageRetries         int
}

const (
	defaultInactivityThreshold       = 14 * 24 * time.Hour
	defaultGoodbyeTimeout            = 48 * time.Hour
	defaultRemindLater               = 14 * 24 * time.Hour
	defaultUnpromptedReturnThreshold = 3 * 24 * time.Hour
	defaultMaxMessageRetries         = 3
)

// EffectiveEngagementConfig returns validated engagement thresholds with
// defaults filled in. Malformed duration strings in config.yaml are ignored
// in favor of the default rather than failing the caller; LoadSettings
// already surfaced the underlying read/parse error once at load time.
func EffectiveEngagementConfig() EngagementConfig {
	cfg := EngagementConfig{
		InactivityThreshold:       defaultInactivityThreshold,
		GoodbyeTimeout:            defaultGoodbyeTimeout,
		RemindLater:               defaultRemindLater,
		UnpromptedReturnThreshold: defaultUnpromptedReturnThreshold,
		MaxMessageRetries:         defaultMaxMessageRetries,
	}

	s, err := LoadSettings()
	if err != nil {
		return cfg
	}

	if d, err := time.ParseDuration(s.InactivityThreshold); err == nil && d > 0 {
		cfg.InactivityThreshold = d
	}
	if d, err := time.ParseDuration(s.GoodbyeTimeout); err == nil && d > 0 {
		cfg.GoodbyeTimeout = d
	}
	if d, err := time.ParseDuration(s.RemindLater); err == nil && d > 0 {
		cfg.RemindLater = d
	}
	if d, err := time.ParseDuration(s.UnpromptedReturnThreshold); err == nil && d > 0 {
		cfg.UnpromptedReturnThreshold = d
	}
	if s.MaxMessageRetries > 0 {
		cfg.MaxMessageRetries = s.MaxMessageRetries
	}

	return cfg
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
// These globals are required by the sync.Once pattern and the RWMutex pattern; they cannot be avoided.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/reengage/config.yaml
// 2) /etc/reengage/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "reengage", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}
