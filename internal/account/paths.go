package account

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatmail, or $CHATMAIL_HOME when set.
func BaseDir() string {
	if d := os.Getenv("CHATMAIL_HOME"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatmail")
}

// Dir returns the account-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "accounts", name)
}

// SocketPath returns the UDS socket path for an account.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for an account.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the account database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "chatmail.db")
}

// AccountConfigPath returns the per-account account.toml path.
func AccountConfigPath(name string) string {
	return filepath.Join(Dir(name), "account.toml")
}

// LogDir returns the log directory for an account.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chatmaild.log")
}

// TUILogPath returns the terminal UI log file path.
func TUILogPath(name string) string {
	return filepath.Join(LogDir(name), "chatmailtui.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the account directory tree with proper permissions.
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
