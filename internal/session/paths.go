package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.fetmsg.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fetmsg")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// DBPath returns the local replica database path for a session.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "fetmsg.db")
}

// TokenPath returns where a session's OAuth token material is persisted.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token.json")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "fetmsgd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
