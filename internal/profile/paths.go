// Package profile locates the per-profile data directory: message database,
// media cache, room index snapshot, socket, lock and logs.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.vczap, or $VCZAP_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("VCZAP_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vczap")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the UDS socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the local message store path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "messages.db")
}

// MediaDir returns the media cache directory.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// RoomIndexDir returns the directory holding the offline room snapshot.
func RoomIndexDir(name string) string {
	return filepath.Join(Dir(name), "state")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "vczapd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
		MediaDir(name),
		RoomIndexDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
