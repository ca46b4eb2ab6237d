// Package paths locates deskline's files under ~/.deskline.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// HomeEnv overrides the base directory, mainly for tests and containers.
const HomeEnv = "DESKLINE_HOME"

// BaseDir returns $DESKLINE_HOME or ~/.deskline.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".deskline")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// DaemonDir returns the default data directory of desklined.
func DaemonDir() string {
	return filepath.Join(BaseDir(), "daemon")
}

// SocketPath returns the daemon's unix socket inside dataDir.
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, "desklined.sock")
}

// DBPath returns the daemon's database inside dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "deskline.db")
}

// LogPath returns the log file of a component (desklined, desklinetui) inside dir.
func LogPath(dir, component string) string {
	return filepath.Join(dir, "logs", component+".log")
}

// ProfileDir returns the client state directory of a profile.
func ProfileDir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// StatePath returns the persistent client state file of a profile.
func StatePath(profile string) string {
	return filepath.Join(ProfileDir(profile), "state.toml")
}

// EnsureDir creates dir and its log directory with owner-only permissions.
func EnsureDir(dir string) error {
	for _, d := range []string{dir, filepath.Join(dir, "logs")} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ValidateName checks a profile name before it is used in a path.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: use lowercase letters, digits, - and _", name)
	}
	return nil
}
