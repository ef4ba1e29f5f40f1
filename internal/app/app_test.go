package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mtlcap/internal/classify"
	"mtlcap/internal/logging"
	"mtlcap/internal/process"
	"mtlcap/internal/scenario"
	"mtlcap/internal/storage/sqlite"
	"mtlcap/internal/sweep"
	pkgerrors "mtlcap/pkg/errors"
)

func openTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "mtlcap.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDefaultsMatchSeededSettings(t *testing.T) {
	db := openTestDB(t)
	seeded, err := db.GetAllSettings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(seeded) != len(Defaults) {
		t.Errorf("seeded %d settings, Defaults has %d", len(seeded), len(Defaults))
	}
	for k, v := range Defaults {
		if seeded[k] != v {
			t.Errorf("setting %s: seeded %q, default %q", k, seeded[k], v)
		}
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.WarmUp != 10*time.Second || s.CoolDown != 5*time.Second || s.Threshold != 0.99 {
		t.Errorf("window = %v %v %v", s.WarmUp, s.CoolDown, s.Threshold)
	}
	if s.LinkRecovery != 10*time.Second || s.RebindSettle != 2*time.Second || s.Driver != "vfio-pci" {
		t.Errorf("recovery = %v %v %s", s.LinkRecovery, s.RebindSettle, s.Driver)
	}
	if !s.CleanExitCodes[0] || len(s.CleanExitCodes) != 1 {
		t.Errorf("clean exit codes = %v", s.CleanExitCodes)
	}
	if len(s.StalePatterns) != 1 || s.StalePatterns[0] != "RxTxApp" {
		t.Errorf("stale patterns = %v", s.StalePatterns)
	}
}

func TestLoadSettings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for k, v := range map[string]string{
		"settle":           "3s",
		"clean_exit_codes": "0, 143",
		"sudo":             "true",
		"stale_patterns":   "RxTxApp,ffmpeg",
	} {
		if err := db.SetSetting(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}

	s, err := LoadSettings(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if s.Settle != 3*time.Second || !s.Sudo || !s.CleanExitCodes[143] || len(s.StalePatterns) != 2 {
		t.Errorf("settings = %+v", s)
	}

	cfg := s.ExecutorConfig()
	if cfg.Settle != 3*time.Second || cfg.Drain != 2*time.Second || !cfg.CleanExitCodes[143] {
		t.Errorf("executor config = %+v", cfg)
	}
	if d := s.DeviceConfig(); d.Driver != "vfio-pci" || len(d.StalePatterns) != 2 {
		t.Errorf("device config = %+v", d)
	}

	if err := db.SetSetting(ctx, "threshold", "lots"); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(ctx, db); err == nil {
		t.Error("bad stored threshold accepted")
	}
}

func TestValidateSetting(t *testing.T) {
	tests := []struct {
		key, value string
		ok         bool
	}{
		{"warm_up", "15s", true},
		{"warm_up", "-1s", false},
		{"warm_up", "ten", false},
		{"threshold", "0.95", true},
		{"threshold", "1.5", false},
		{"startup_scan_lines", "0", false},
		{"sudo", "yes", false},
		{"driver", "", false},
		{"log_level", "warning", true},
		{"log_level", "loud", false},
		{"clean_exit_codes", "0,x", false},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := ValidateSetting(tt.key, tt.value)
			if (err == nil) != tt.ok {
				t.Errorf("err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
	if err := ValidateSetting("colour", "red"); !errors.Is(err, pkgerrors.ErrUnknownOption) {
		t.Errorf("unknown key err = %v", err)
	}
}

// brokenLauncher fails every start, as when the companion host is unreachable.
type brokenLauncher struct{}

func (brokenLauncher) Start(context.Context, process.Spec) (process.Handle, error) {
	return nil, errors.New("ssh: connect to host peer port 22: connection refused")
}

type okBinder struct{}

func (okBinder) Driver(context.Context, scenario.HostSpec, string) (string, error) {
	return "vfio-pci", nil
}
func (okBinder) Unbind(context.Context, scenario.HostSpec, string) error       { return nil }
func (okBinder) Bind(context.Context, scenario.HostSpec, string, string) error { return nil }
func (okBinder) KillStale(context.Context, scenario.HostSpec, []string) error  { return nil }

type nopFiles struct{}

func (nopFiles) ReadLines(context.Context, scenario.HostSpec, string) ([]string, error) {
	return nil, nil
}
func (nopFiles) WriteFile(context.Context, scenario.HostSpec, string, []byte) error { return nil }

func TestRunSweepRecordsHistory(t *testing.T) {
	db := openTestDB(t)
	a := &App{Storage: db, Logger: logging.Discard()}
	ctx := context.Background()

	sc := &scenario.Descriptor{
		Direction:  scenario.DirectionSend,
		CoreMode:   scenario.CoreModeSingle,
		FPS:        59.94,
		Resolution: "1080p",
		Duration:   30 * time.Second,
		Measured:   scenario.HostSpec{Name: "dut", BuildDir: "/opt/mtl", NICs: []string{"0000:4b:01.0"}},
		Companion:  scenario.HostSpec{Name: "peer", BuildDir: "/opt/mtl", NICs: []string{"0000:31:01.0"}},
	}
	r, err := a.RunSweep(ctx, SweepRequest{
		Name:          "smoke",
		Scenario:      sc,
		StartProbe:    8,
		MaxProbe:      16,
		Settings:      DefaultSettings(),
		Collaborators: Collaborators{Launcher: brokenLauncher{}, Files: nopFiles{}, Binder: okBinder{}},
	})
	if !errors.Is(err, pkgerrors.ErrSweepAborted) {
		t.Fatalf("err = %v, want ErrSweepAborted", err)
	}
	if r.Status != sweep.StatusAborted || len(r.Iterations) != 1 || r.Iterations[0].Label != classify.InfraFail {
		t.Fatalf("report = %+v", r)
	}

	got, err := db.GetSweep(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "smoke" || got.Status != "aborted" || got.Iterations != 1 || got.FinishedAt == nil {
		t.Errorf("stored sweep = %+v", got)
	}
}
