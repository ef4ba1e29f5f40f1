package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mtlcap/internal/classify"
	"mtlcap/internal/command"
	"mtlcap/internal/device"
	"mtlcap/internal/executor"
	"mtlcap/internal/logging"
	"mtlcap/internal/monitor"
	"mtlcap/internal/scenario"
	"mtlcap/internal/storage/sqlite"
	"mtlcap/internal/sweep"
)

func testReport() *sweep.Report {
	return &sweep.Report{
		ID: "5d1e7c9a-0000-4000-8000-000000000001",
		Scenario: &scenario.Descriptor{
			Name:       "nightly-send",
			Direction:  scenario.DirectionSend,
			CoreMode:   scenario.CoreModeMulti,
			FPS:        59.94,
			Resolution: "1080p",
			Duration:   30 * time.Second,
			Measured:   scenario.HostSpec{Name: "dut", BuildDir: "/opt/mtl", NICs: []string{"0000:4b:01.0"}},
			Companion:  scenario.HostSpec{Name: "peer", BuildDir: "/opt/mtl", NICs: []string{"0000:31:01.0"}},
		},
		StartProbe: 20,
		MaxProbe:   48,
		Status:     sweep.StatusRunning,
		Started:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func passResult(index, sessions int) *executor.Result {
	return &executor.Result{
		Index:          index,
		Sessions:       sessions,
		Label:          classify.Pass,
		PassedCount:    sessions,
		Detail:         "all sessions reached 59.34 fps",
		CompanionAlive: true,
		Recovery:       device.Outcome{Action: device.ActionNone},
		Config: &command.AppConfig{
			TxSessions: []command.SessionGroup{{ST20P: []command.ST20PSpec{{Replicas: sessions}}}},
		},
		Commands: []string{"RxTxApp --config_file a.json", "RxTxApp --config_file b.json"},
		Measured: &monitor.Metrics{Passed: true, PassedCount: sessions, DeviceTxMbps: 41000},
		Started:  time.Date(2024, 5, 1, 10, 1, index, 0, time.UTC),
		Duration: 72 * time.Second,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	db, err := sqlite.New(filepath.Join(t.TempDir(), "mtlcap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx, cancel := context.WithCancel(context.Background())

	s := NewStore(ctx, db, "nightly", logging.Discard())
	r := testReport()
	s.SweepStarted(r)

	crash := &executor.Result{
		Index: 1, Sessions: 48, Label: classify.Crash, ExitCode: -11,
		Detail:   "measured exited with code -11\nlast lines...",
		Warnings: []string{"session 2: receiver counted 3 frames but sender transmitted 2"},
		Started:  r.Started.Add(2 * time.Minute), Duration: 20 * time.Second,
	}
	reset := passResult(2, 34)
	reset.Recovery = device.Outcome{Action: device.ActionReset, Rebound: []string{"0000:4b:01.0"}, Waited: 10 * time.Second}
	for _, res := range []*executor.Result{passResult(0, 20), crash, reset} {
		r.Iterations = append(r.Iterations, res)
		s.IterationFinished(r, res)
	}

	// Cancelling the sweep context must not stop the final update.
	cancel()
	r.MaxPassing = 34
	r.Config = reset.Config
	r.Status = sweep.StatusCompleted
	r.Finished = r.Started.Add(5 * time.Minute)
	s.SweepFinished(r)

	if err := s.Err(); err != nil {
		t.Fatalf("store error: %v", err)
	}

	got, err := Load(context.Background(), db, "5d1e7c9a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != r.ID || got.Status != sweep.StatusCompleted || got.MaxPassing != 34 {
		t.Errorf("report = %+v", got)
	}
	if got.Scenario.Label() != r.Scenario.Label() || got.Scenario.Duration != 30*time.Second {
		t.Errorf("scenario = %+v", got.Scenario)
	}
	if got.Config == nil || got.Config.TxSessions[0].ST20P[0].Replicas != 34 {
		t.Errorf("config = %+v", got.Config)
	}
	if !got.Finished.Equal(r.Finished) {
		t.Errorf("finished = %v", got.Finished)
	}
	if probes := got.Probes(); len(probes) != 3 || probes[0] != 20 || probes[1] != 48 || probes[2] != 34 {
		t.Fatalf("probes = %v", probes)
	}

	c := got.Iterations[1]
	if c.Label != classify.Crash || c.ExitCode != -11 || len(c.Warnings) != 1 {
		t.Errorf("crash iteration = %+v", c)
	}
	if c.Duration != 20*time.Second || c.Recovery.Action != device.ActionNone {
		t.Errorf("crash duration/recovery = %v / %q", c.Duration, c.Recovery.Action)
	}
	last := got.Iterations[2]
	if last.Recovery.Action != device.ActionReset || last.Recovery.Waited != 10*time.Second {
		t.Errorf("recovery = %+v", last.Recovery)
	}
	if last.Measured == nil || last.Measured.DeviceTxMbps != 41000 || len(last.Commands) != 2 {
		t.Errorf("artifacts = %+v / %v", last.Measured, last.Commands)
	}
}

func TestStoreRecordsFirstError(t *testing.T) {
	db, err := sqlite.New(filepath.Join(t.TempDir(), "mtlcap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewStore(context.Background(), db, "", logging.Discard())
	r := testReport()
	// Finishing a sweep that was never created has nothing to update.
	r.Status = sweep.StatusAborted
	s.SweepFinished(r)
	s.IterationFinished(r, passResult(0, 20))

	err = s.Err()
	if err == nil || !strings.HasPrefix(err.Error(), "update sweep") {
		t.Errorf("err = %v", err)
	}
}

func TestJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "sweep.json")
	j := NewJSONFile(path, logging.Discard())
	r := testReport()
	j.SweepStarted(r)

	res := passResult(0, 20)
	r.Iterations = append(r.Iterations, res)
	j.IterationFinished(r, res)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded sweep.Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Iterations) != 1 || decoded.Iterations[0].Sessions != 20 {
		t.Errorf("iterations = %+v", decoded.Iterations)
	}
	if decoded.Status != sweep.StatusRunning {
		t.Errorf("status = %q", decoded.Status)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

type fakeTextfile struct {
	paths []string
	err   error
}

func (f *fakeTextfile) WriteTextfile(path string) error {
	f.paths = append(f.paths, path)
	return f.err
}

func TestTextfile(t *testing.T) {
	w := &fakeTextfile{}
	tf := NewTextfile(w, "/var/lib/node_exporter/mtlcap.prom", logging.Discard())
	r := testReport()

	tf.SweepStarted(r)
	tf.IterationFinished(r, passResult(0, 20))
	w.err = errors.New("disk full")
	tf.SweepFinished(r)

	if len(w.paths) != 2 {
		t.Errorf("writes = %v, want 2", w.paths)
	}
}

func TestLogBlock(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogBlock(slog.New(slog.NewTextHandler(&buf, nil)))
	r := testReport()
	l.SweepStarted(r)

	r.Iterations = []*executor.Result{passResult(0, 20), {Index: 1, Sessions: 48, Label: classify.CapacityFail, Detail: "40/48 sessions reached 59.34 fps\nmore"}}
	r.MaxPassing = 20
	r.Status = sweep.StatusAborted
	r.Reason = "sweep aborted: companion exited early"
	r.Finished = r.Started.Add(time.Minute)
	l.SweepFinished(r)

	out := buf.String()
	for _, want := range []string{
		"msg=\"sweep started\"",
		"level=WARN msg=\"sweep finished\"",
		"max_passing=20",
		"label=CAPACITY_FAIL",
		"detail=\"40/48 sessions reached 59.34 fps\"",
		"companion exited early",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log block missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "best configuration") {
		t.Error("best configuration logged without a config")
	}
}

func TestSummary(t *testing.T) {
	r := testReport()
	out := Summary(r)
	if !strings.Contains(out, "No iterations run.") {
		t.Errorf("empty summary:\n%s", out)
	}

	r.Iterations = []*executor.Result{passResult(0, 20), passResult(1, 48)}
	r.MaxPassing = 48
	r.Status = sweep.StatusCompleted
	r.Finished = r.Started.Add(3 * time.Minute)
	out = Summary(r)
	for _, want := range []string{r.ID, "send-single-path-multi-1080p-59.94fps", "completed", "SESSIONS", "48/48", "3m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate long = %q", got)
	}
}
