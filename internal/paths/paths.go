package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.baatkare, or $BAATKARE_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("BAATKARE_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".baatkare")
}

// Dir returns the instance-specific data directory.
func Dir(instance string) string {
	return filepath.Join(BaseDir(), "instances", instance)
}

// SocketPath returns the admin gRPC socket path for an instance.
func SocketPath(instance string) string {
	return filepath.Join(Dir(instance), "admin.sock")
}

// LockPath returns the lock file path for an instance.
func LockPath(instance string) string {
	return filepath.Join(Dir(instance), "LOCK")
}

// DBPath returns the chat database path.
func DBPath(instance string) string {
	return filepath.Join(Dir(instance), "chat.db")
}

// LogDir returns the log directory for an instance.
func LogDir(instance string) string {
	return filepath.Join(Dir(instance), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(instance string) string {
	return filepath.Join(LogDir(instance), "chatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the instance directory tree.
func EnsureDir(instance string) error {
	for _, d := range []string{Dir(instance), LogDir(instance)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
