package paths

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestDirsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SUDO_USER", "")
	t.Setenv("SUDO_UID", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "relative/ignored")

	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"cache", CacheDir, filepath.Join(home, ".cache", "mtlcap")},
		{"data", DataDir, filepath.Join(home, ".local", "share", "mtlcap")},
		{"reports", ReportsDir, filepath.Join(home, ".cache", "mtlcap", "reports")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("dir = %s, want %s", got, tt.want)
			}
			if fi, err := os.Stat(got); err != nil || !fi.IsDir() {
				t.Errorf("dir not created: %v", err)
			}
		})
	}
}

func TestXDGDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SUDO_USER", "")
	t.Setenv("SUDO_UID", "")
	data, cache := t.TempDir(), t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)
	t.Setenv("XDG_CACHE_HOME", cache)

	if got, err := DataDir(); err != nil || got != filepath.Join(data, "mtlcap") {
		t.Errorf("DataDir = %s, %v", got, err)
	}
	if got, err := ReportsDir(); err != nil || got != filepath.Join(cache, "mtlcap", "reports") {
		t.Errorf("ReportsDir = %s, %v", got, err)
	}

	// Under sudo the variables belong to root and are ignored.
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SUDO_UID", strconv.Itoa(os.Getuid()))
	t.Setenv("SUDO_GID", strconv.Itoa(os.Getgid()))
	if got, err := DataDir(); err != nil || got != filepath.Join(home, ".local", "share", "mtlcap") {
		t.Errorf("DataDir under sudo = %s, %v", got, err)
	}
}

func TestRealUser(t *testing.T) {
	t.Setenv("SUDO_UID", "")
	if _, _, ok := RealUser(); ok {
		t.Error("RealUser ok without sudo")
	}

	t.Setenv("SUDO_UID", "1000")
	t.Setenv("SUDO_GID", "1001")
	uid, gid, ok := RealUser()
	if !ok || uid != 1000 || gid != 1001 {
		t.Errorf("RealUser = %d, %d, %v", uid, gid, ok)
	}

	t.Setenv("SUDO_UID", "root")
	if _, _, ok := RealUser(); ok {
		t.Error("RealUser ok with a non-numeric uid")
	}
}
