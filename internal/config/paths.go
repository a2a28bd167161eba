package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolvePaths fills in the state directory and makes it absolute
func (c *Config) resolvePaths() error {
	if c.Activation.StateDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return err
		}
		c.Activation.StateDir = dir
	}

	abs, err := filepath.Abs(c.Activation.StateDir)
	if err != nil {
		return fmt.Errorf("failed to resolve state dir: %w", err)
	}
	c.Activation.StateDir = abs
	return nil
}

// DefaultStateDir returns the per-user location of the activation state,
// e.g. ~/.config/keygate on Linux
func DefaultStateDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, StateDirName), nil
}

// EnsureStateDir creates the state directory with owner-only permissions
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.Activation.StateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir %s: %w", c.Activation.StateDir, err)
	}
	return nil
}
