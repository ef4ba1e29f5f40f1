package sweep

import (
	"context"
	"strings"
	"testing"
	"time"

	"mtlcap/internal/command"
	"mtlcap/internal/device"
	"mtlcap/internal/executor"
	"mtlcap/internal/logging"
	"mtlcap/internal/process"
	"mtlcap/internal/scenario"
)

// rig records every externally visible step of a sweep in order.
type rig struct {
	events        []string
	measuredCodes []int
	measuredRuns  int
}

type rigHandle struct {
	code  int
	alive bool
}

func (h *rigHandle) Wait(context.Context, time.Duration) (int, error) {
	h.alive = false
	return h.code, nil
}

func (h *rigHandle) Stop(context.Context) error {
	h.alive = false
	return nil
}

func (h *rigHandle) Output() string { return "" }
func (h *rigHandle) Alive() bool    { return h.alive }
func (h *rigHandle) PID() int       { return 1 }

func (r *rig) Start(_ context.Context, spec process.Spec) (process.Handle, error) {
	if strings.HasSuffix(spec.LogPath, "-companion.log") {
		r.events = append(r.events, "start companion")
		return &rigHandle{alive: true}, nil
	}
	code := 0
	if r.measuredRuns < len(r.measuredCodes) {
		code = r.measuredCodes[r.measuredRuns]
	}
	r.measuredRuns++
	r.events = append(r.events, "start measured")
	return &rigHandle{code: code}, nil
}

func (r *rig) ReadLines(context.Context, scenario.HostSpec, string) ([]string, error) {
	return nil, nil
}

func (r *rig) WriteFile(context.Context, scenario.HostSpec, string, []byte) error { return nil }

func (r *rig) Driver(context.Context, scenario.HostSpec, string) (string, error) {
	return device.DefaultDriver, nil
}

func (r *rig) Unbind(_ context.Context, h scenario.HostSpec, bdf string) error {
	r.events = append(r.events, "unbind "+h.Name+"/"+bdf)
	return nil
}

func (r *rig) Bind(_ context.Context, h scenario.HostSpec, bdf, _ string) error {
	r.events = append(r.events, "bind "+h.Name+"/"+bdf)
	return nil
}

func (r *rig) KillStale(_ context.Context, h scenario.HostSpec, _ []string) error {
	return nil
}

func TestDriverCrashTriggersFullResetBeforeNextProbe(t *testing.T) {
	sc := &scenario.Descriptor{
		Direction:  scenario.DirectionSend,
		CoreMode:   scenario.CoreModeMulti,
		FPS:        60,
		Resolution: "1080p",
		Duration:   30 * time.Second,
		Measured:   scenario.HostSpec{Name: "dut", BuildDir: "/opt/mtl", NICs: []string{"0000:4b:01.0"}},
		Companion:  scenario.HostSpec{Name: "peer", BuildDir: "/opt/mtl", NICs: []string{"0000:31:01.0"}},
	}
	r := &rig{measuredCodes: []int{-1}}

	mgr := device.NewManager(r, sc, device.DefaultConfig(), logging.Discard())
	var waited time.Duration
	mgr.Sleep = func(_ context.Context, d time.Duration) error {
		waited += d
		r.events = append(r.events, "recovery wait "+d.String())
		return nil
	}
	exec := executor.New(r, r, command.NewBuilder(command.Options{}), mgr, executor.DefaultConfig(), logging.Discard())
	exec.Sleep = func(context.Context, time.Duration) error { return nil }

	report, _ := NewController(exec, logging.Discard()).Sweep(context.Background(), sc, 20, 48)
	if len(report.Iterations) < 2 {
		t.Fatalf("only %d iterations", len(report.Iterations))
	}
	if report.Iterations[0].ExitCode != -1 || report.Iterations[0].Label != "CRASH" {
		t.Fatalf("first iteration = %s exit %d", report.Iterations[0].Label, report.Iterations[0].ExitCode)
	}
	if report.Iterations[1].Recovery.Action != device.ActionReset {
		t.Errorf("second iteration recovery = %s, want reset", report.Iterations[1].Recovery.Action)
	}
	if report.Iterations[1].Recovery.Waited < device.DefaultLinkRecovery {
		t.Errorf("second probe delayed %v, want at least %v", report.Iterations[1].Recovery.Waited, device.DefaultLinkRecovery)
	}

	// Between the crashed run and the next companion start every device is
	// rebound and the link recovery interval elapses.
	var between []string
	seenCrash := false
	for _, e := range r.events {
		if e == "start measured" && !seenCrash {
			seenCrash = true
			continue
		}
		if seenCrash {
			if e == "start companion" {
				break
			}
			between = append(between, e)
		}
	}
	want := []string{
		"unbind dut/0000:4b:01.0", "bind dut/0000:4b:01.0",
		"unbind peer/0000:31:01.0", "bind peer/0000:31:01.0",
		"recovery wait " + device.DefaultLinkRecovery.String(),
	}
	if strings.Join(between, "|") != strings.Join(want, "|") {
		t.Errorf("steps between probes =\n%v\nwant\n%v", between, want)
	}

	// Later iterations without a crash take the cheap path.
	for _, it := range report.Iterations[2:] {
		if it.Recovery.Action != device.ActionNone {
			t.Errorf("iteration %d recovery = %s", it.Index, it.Recovery.Action)
		}
	}
	if waited != device.DefaultLinkRecovery {
		t.Errorf("total recovery wait %v", waited)
	}
}
