package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/reengage/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "reengage"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# reengage configuration
# Run: reengage --help

# Optional: override the SQLite database location.
# Can also be set via REENGAGE_DB_PATH or --db-path.
# db_path: ~/.config/reengage/reengage.db

# Timing thresholds for the engagement state machine. All accept Go
# duration strings (e.g. "336h" for 14 days).
# inactivity_threshold: 336h
# goodbye_timeout: 48h
# remind_later: 336h
# unprompted_return_threshold: 72h
# max_message_retries: 3
`
