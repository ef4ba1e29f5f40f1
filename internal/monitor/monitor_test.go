package monitor

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

// buildLog produces a stats log with a timestamp block every 10s from 0s to
// span. fps(session, offset) supplies the per-sample rate.
func buildLog(sessions int, span time.Duration, side string, fps func(sid int, off time.Duration) float64) []string {
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	lines := []string{"MTL: Starting up", "some banner text"}
	var frames int64
	for off := time.Duration(0); off <= span; off += 10 * time.Second {
		lines = append(lines, fmt.Sprintf("MTL: %s, * *    M T    D E V   S T A T E   * *", base.Add(off).Format("2006-01-02 15:04:05")))
		lines = append(lines, "MTL: DEV(0): Avr rate, tx: 2500.0 Mb/s, rx: 10.0 Mb/s")
		frames += 600
		for sid := 0; sid < sessions; sid++ {
			lines = append(lines, fmt.Sprintf("MTL: %s_VIDEO_SESSION(0,%d:app_%d): fps %.6f frames %d pkts 123",
				side, sid, sid, fps(sid, off), frames))
		}
	}
	return lines
}

func constant(v float64) func(int, time.Duration) float64 {
	return func(int, time.Duration) float64 { return v }
}

func TestClassify(t *testing.T) {
	ts := time.Date(2024, 5, 10, 12, 0, 10, 0, time.UTC)
	tests := []struct {
		line string
		want Line
	}{
		{"MTL: 2024-05-10 12:00:10, * * M T D E V * *", Line{Kind: KindTimestamp, Time: ts, HasTime: true}},
		{"[2024-05-10 12:00:10] stat", Line{Kind: KindTimestamp, Time: ts, HasTime: true}},
		{"MTL: TX_VIDEO_SESSION(0,3:app_tx_3): fps 59.940000 frames 1200 pkts 5",
			Line{Kind: KindSession, Side: SideTx, Session: 3, FPS: 59.94, Frames: 1200, HasFrames: true}},
		{"RX_VIDEO_SESSION(1,0): fps 50.0, frame 17",
			Line{Kind: KindSession, Side: SideRx, Session: 0, FPS: 50, Frames: 17, HasFrames: true}},
		{"RX_VIDEO_SESSION(1,2): fps 12", Line{Kind: KindSession, Side: SideRx, Session: 2, FPS: 12}},
		{"DEV(0): Avr rate, tx: 100.5 Mb/s, rx: 2.5 Mb/s", Line{Kind: KindDevice, TxMbps: 100.5, RxMbps: 2.5}},
		{"ERROR: dev open fail for 0000:4b:01.0", Line{Kind: KindMarker, Marker: "open fail"}},
		{"mtl_init fail", Line{Kind: KindMarker, Marker: "mtl_init fail"}},
		{"MTL: 2024-05-10 12:00:10, TX_VIDEO_SESSION(0,0:app_tx_video_0): fps 59.99 frames 600",
			Line{Kind: KindSession, Time: ts, HasTime: true, Side: SideTx, Session: 0, FPS: 59.99, Frames: 600, HasFrames: true}},
		{"MTL: 2024-05-10 12:00:10, DEV(0): Avr rate, tx: 100.5 Mb/s, rx: 2.5 Mb/s",
			Line{Kind: KindDevice, Time: ts, HasTime: true, TxMbps: 100.5, RxMbps: 2.5}},
		{"nothing here", Line{Kind: KindOther}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := Classify(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify(%q) =\n  %+v\nwant\n  %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestExtractAllPass(t *testing.T) {
	lines := buildLog(3, 60*time.Second, "TX", constant(59.94))
	m := Extract(lines, 3, DefaultOptions(59.94, SideTx))

	if !m.Passed || m.PassedCount != 3 {
		t.Fatalf("Passed=%v PassedCount=%d, want all pass", m.Passed, m.PassedCount)
	}
	if m.Span != 60*time.Second {
		t.Errorf("Span = %v, want 60s", m.Span)
	}
	// Offsets 10..50 qualify with warm-up 10s and cool-down 5s.
	for _, s := range m.Sessions {
		if s.Qualifying != 5 {
			t.Errorf("session %d qualifying = %d, want 5", s.Session, s.Qualifying)
		}
		if s.TxFrames != 7*600 {
			t.Errorf("session %d TxFrames = %d, want %d", s.Session, s.TxFrames, 7*600)
		}
	}
	if m.DeviceTxMbps != 2500 || m.DeviceRxMbps != 10 {
		t.Errorf("device rate = %v/%v", m.DeviceTxMbps, m.DeviceRxMbps)
	}
}

func TestExtractTimestampedStatLines(t *testing.T) {
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	var lines []string
	for i := 0; i <= 6; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Second).Format("2006-01-02 15:04:05")
		lines = append(lines, fmt.Sprintf("MTL: %s, TX_VIDEO_SESSION(0,0:app_tx_video_0): fps 59.99 frames %d", ts, 600*(i+1)))
	}

	m := Extract(lines, 1, DefaultOptions(59.99, SideTx))
	if !m.HasTimestamp || m.Span != 60*time.Second {
		t.Fatalf("HasTimestamp=%v Span=%v", m.HasTimestamp, m.Span)
	}
	s := m.Sessions[0]
	if len(s.Samples) != 7 || s.Qualifying != 5 || !m.Passed {
		t.Errorf("samples=%d qualifying=%d passed=%v", len(s.Samples), s.Qualifying, m.Passed)
	}
	if s.Samples[0].Offset != 0 || s.Samples[6].Offset != 60*time.Second {
		t.Errorf("offsets = %v..%v", s.Samples[0].Offset, s.Samples[6].Offset)
	}
	if s.TxFrames != 4200 {
		t.Errorf("TxFrames = %d, want 4200", s.TxFrames)
	}
}

func TestExtractPartialPass(t *testing.T) {
	lines := buildLog(4, 60*time.Second, "TX", func(sid int, _ time.Duration) float64 {
		if sid >= 2 {
			return 40
		}
		return 60
	})
	m := Extract(lines, 4, DefaultOptions(60, SideTx))
	if m.Passed {
		t.Fatal("expected overall failure")
	}
	if m.PassedCount != 2 {
		t.Errorf("PassedCount = %d, want 2", m.PassedCount)
	}
}

func TestExtractThresholdBoundary(t *testing.T) {
	lines := buildLog(1, 60*time.Second, "TX", constant(49.5))
	if m := Extract(lines, 1, DefaultOptions(50, SideTx)); !m.Passed {
		t.Errorf("49.5 is exactly 99%% of 50 and should pass: mean=%v", m.Sessions[0].MeanFPS)
	}
	lines = buildLog(1, 60*time.Second, "TX", constant(49.4))
	if m := Extract(lines, 1, DefaultOptions(50, SideTx)); m.Passed {
		t.Error("49.4 is below 99% of 50 and should fail")
	}
}

func TestExtractWarmUpExcluded(t *testing.T) {
	// Rate is terrible during start-up only.
	lines := buildLog(1, 60*time.Second, "TX", func(_ int, off time.Duration) float64 {
		if off < 10*time.Second {
			return 1
		}
		return 60
	})
	if m := Extract(lines, 1, DefaultOptions(60, SideTx)); !m.Passed {
		t.Errorf("warm-up sample should be discarded, mean=%v", m.Sessions[0].MeanFPS)
	}
	noWarmUp := DefaultOptions(60, SideTx)
	noWarmUp.WarmUp = 0
	if m := Extract(lines, 1, noWarmUp); m.Passed {
		t.Error("with no warm-up the start-up sample should drag the mean down")
	}
}

func TestExtractCoolDownExcluded(t *testing.T) {
	lines := buildLog(1, 60*time.Second, "TX", func(_ int, off time.Duration) float64 {
		if off == 60*time.Second {
			return 0
		}
		return 60
	})
	m := Extract(lines, 1, Options{TargetFPS: 60, WarmUp: DefaultWarmUp, CoolDown: DefaultCoolDown})
	if !m.Passed {
		t.Errorf("ramp-down sample should be discarded, mean=%v", m.Sessions[0].MeanFPS)
	}
}

func TestExtractNoTimestampNeverPasses(t *testing.T) {
	lines := []string{
		"TX_VIDEO_SESSION(0,0): fps 60.0 frames 100",
		"TX_VIDEO_SESSION(0,0): fps 60.0 frames 200",
	}
	m := Extract(lines, 1, DefaultOptions(60, SideTx))
	if m.Passed || m.PassedCount != 0 {
		t.Fatal("samples without timing information must not pass")
	}
	if len(m.Sessions[0].Samples) != 0 {
		t.Errorf("untimed samples should be discarded, got %d", len(m.Sessions[0].Samples))
	}
	if m.Sessions[0].TxFrames != 200 {
		t.Errorf("counters are still tracked, TxFrames = %d", m.Sessions[0].TxFrames)
	}
}

func TestExtractMissingSessionFails(t *testing.T) {
	lines := buildLog(2, 60*time.Second, "TX", constant(60))
	m := Extract(lines, 3, DefaultOptions(60, SideTx))
	if m.Passed || m.PassedCount != 2 {
		t.Errorf("Passed=%v PassedCount=%d, want false/2", m.Passed, m.PassedCount)
	}
	if m.Sessions[2].Qualifying != 0 || m.Sessions[2].Passed {
		t.Error("session without samples must not pass")
	}
}

func TestExtractSideSelection(t *testing.T) {
	lines := buildLog(1, 60*time.Second, "RX", constant(60))
	if m := Extract(lines, 1, DefaultOptions(60, SideTx)); m.Passed {
		t.Error("rx lines must not count as tx rate samples")
	}
	m := Extract(lines, 1, DefaultOptions(60, SideRx))
	if !m.Passed {
		t.Error("rx lines should pass on the rx side")
	}
	if m.Sessions[0].RxFrames == 0 || m.Sessions[0].TxFrames != 0 {
		t.Errorf("counters: tx=%d rx=%d", m.Sessions[0].TxFrames, m.Sessions[0].RxFrames)
	}
}

func TestExtractCounterIsMaximum(t *testing.T) {
	lines := []string{
		"MTL: 2024-05-10 12:00:00, stat",
		"TX_VIDEO_SESSION(0,0): fps 60 frames 500",
		"TX_VIDEO_SESSION(0,0): fps 60 frames 300",
	}
	m := Extract(lines, 1, Options{TargetFPS: 60})
	if m.Sessions[0].TxFrames != 500 {
		t.Errorf("TxFrames = %d, want 500", m.Sessions[0].TxFrames)
	}
}

func TestExtractIdempotent(t *testing.T) {
	lines := buildLog(3, 60*time.Second, "TX", func(sid int, off time.Duration) float64 {
		return 55 + float64(sid) + off.Seconds()/60
	})
	opts := DefaultOptions(59.94, SideTx)
	a := Extract(lines, 3, opts)
	b := Extract(lines, 3, opts)
	if !reflect.DeepEqual(a, b) {
		t.Error("extracting the same lines twice must give identical metrics")
	}
}

func TestWideningCoolDownOnlyRemovesSamples(t *testing.T) {
	lines := buildLog(1, 60*time.Second, "TX", func(_ int, off time.Duration) float64 {
		return 50 + off.Seconds()/10
	})
	prev := -1
	for _, cd := range []time.Duration{0, 5 * time.Second, 15 * time.Second, 25 * time.Second, 35 * time.Second} {
		m := Extract(lines, 1, Options{TargetFPS: 60, WarmUp: DefaultWarmUp, CoolDown: cd})
		s := m.Sessions[0]
		if len(s.Samples) != 7 {
			t.Fatalf("raw samples changed with window: %d", len(s.Samples))
		}
		if prev >= 0 && s.Qualifying > prev {
			t.Errorf("cool-down %v added samples: %d > %d", cd, s.Qualifying, prev)
		}
		var sum float64
		var n int
		for _, sample := range s.Samples {
			if sample.Offset >= DefaultWarmUp && sample.Offset <= m.Span-cd {
				sum += sample.FPS
				n++
			}
		}
		if n > 0 && s.MeanFPS != sum/float64(n) {
			t.Errorf("cool-down %v mean %v does not match subset mean %v", cd, s.MeanFPS, sum/float64(n))
		}
		prev = s.Qualifying
	}
}

func TestExtractCollectsMarkers(t *testing.T) {
	lines := append(buildLog(1, 20*time.Second, "TX", constant(60)), "ERR: rx session exited early")
	m := Extract(lines, 1, Options{TargetFPS: 60})
	if len(m.Markers) != 1 || !strings.Contains(m.Markers[0], "exited early") {
		t.Errorf("Markers = %q", m.Markers)
	}
}

func TestCounterWarnings(t *testing.T) {
	sender := &Metrics{Sessions: []SessionMetric{{Session: 0, TxFrames: 100}, {Session: 1, TxFrames: 100}}}
	receiver := &Metrics{Sessions: []SessionMetric{{Session: 0, RxFrames: 90}, {Session: 1, RxFrames: 150}}}

	w := CounterWarnings(sender, receiver)
	if len(w) != 1 || !strings.Contains(w[0], "session 1") {
		t.Errorf("warnings = %q", w)
	}
	if CounterWarnings(nil, receiver) != nil {
		t.Error("nil sender should produce no warnings")
	}
}

func TestScanStartup(t *testing.T) {
	lines := []string{"banner", "MTL: mtl_init fail", "later"}
	if line, bad := ScanStartup(lines, 5); !bad || line != "MTL: mtl_init fail" {
		t.Errorf("ScanStartup = %q %v", line, bad)
	}
	if _, bad := ScanStartup(lines, 1); bad {
		t.Error("scan must be limited to the first n lines")
	}
	if !HasInfraMarker("Timeout waiting for process") {
		t.Error("HasInfraMarker should match case-insensitively")
	}
}
