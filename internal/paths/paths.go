// Package paths locates the history database, logs and reports of the
// invoking user, also when mtlcap runs under sudo for device access.
package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

const appDir = "mtlcap"

// HomeDir returns the home directory of the user who invoked sudo, or the
// current user's home otherwise.
func HomeDir() (string, error) {
	if name := os.Getenv("SUDO_USER"); name != "" {
		if u, err := user.Lookup(name); err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// RealUser returns SUDO_UID and SUDO_GID. ok is false outside sudo.
func RealUser() (uid, gid int, ok bool) {
	u, err := strconv.Atoi(os.Getenv("SUDO_UID"))
	if err != nil {
		return 0, 0, false
	}
	g, _ := strconv.Atoi(os.Getenv("SUDO_GID"))
	return u, g, true
}

// ChownToRealUser hands path to the invoking user when running under sudo,
// so later unprivileged runs can open the database and reports.
func ChownToRealUser(path string) {
	if uid, gid, ok := RealUser(); ok {
		os.Chown(path, uid, gid)
	}
}

// base resolves an XDG base directory. The variable is ignored under sudo,
// where it usually belongs to root.
func base(env string, fallback ...string) (string, error) {
	if _, _, sudo := RealUser(); !sudo {
		if dir := os.Getenv(env); filepath.IsAbs(dir) {
			return dir, nil
		}
	}
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{home}, fallback...)...), nil
}

func ensure(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}

// DataDir holds the history database: $XDG_DATA_HOME/mtlcap or
// ~/.local/share/mtlcap.
func DataDir() (string, error) {
	dir, err := base("XDG_DATA_HOME", ".local", "share")
	if err != nil {
		return "", err
	}
	return ensure(filepath.Join(dir, appDir))
}

// CacheDir holds logs: $XDG_CACHE_HOME/mtlcap or ~/.cache/mtlcap.
func CacheDir() (string, error) {
	dir, err := base("XDG_CACHE_HOME", ".cache")
	if err != nil {
		return "", err
	}
	return ensure(filepath.Join(dir, appDir))
}

// ReportsDir holds the JSON report of every interactive sweep.
func ReportsDir() (string, error) {
	cache, err := CacheDir()
	if err != nil {
		return "", err
	}
	return ensure(filepath.Join(cache, "reports"))
}
