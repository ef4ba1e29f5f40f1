// Package executor runs one capacity probe: it recovers devices, starts the
// companion and measured applications and turns their output into a
// classified result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mtlcap/internal/classify"
	"mtlcap/internal/command"
	"mtlcap/internal/device"
	"mtlcap/internal/logging"
	"mtlcap/internal/monitor"
	"mtlcap/internal/process"
	"mtlcap/internal/scenario"
	pkgerrors "mtlcap/pkg/errors"
)

// Defaults for Config.
const (
	DefaultSettle           = 10 * time.Second
	DefaultCompanionGrace   = 10 * time.Second
	DefaultTimeoutBuffer    = 30 * time.Second
	DefaultDrain            = 2 * time.Second
	DefaultStartupScanLines = 50
	DefaultTailLines        = 20

	stopTimeout = 15 * time.Second
)

// Config tunes the iteration protocol.
type Config struct {
	// Settle is waited after starting the companion before checking it.
	Settle time.Duration
	// CompanionGrace is how much longer the companion runs than the
	// measured process. The companion also covers Settle, which elapses
	// before the measured process starts.
	CompanionGrace time.Duration
	// TimeoutBuffer is added to the test duration to bound the measured
	// process.
	TimeoutBuffer time.Duration
	// Drain is waited before reading the companion log.
	Drain            time.Duration
	StartupScanLines int
	TailLines        int

	Threshold float64
	WarmUp    time.Duration
	CoolDown  time.Duration

	CleanExitCodes map[int]bool
}

// DefaultConfig returns the standard protocol timings.
func DefaultConfig() Config {
	return Config{
		Settle:           DefaultSettle,
		CompanionGrace:   DefaultCompanionGrace,
		TimeoutBuffer:    DefaultTimeoutBuffer,
		Drain:            DefaultDrain,
		StartupScanLines: DefaultStartupScanLines,
		TailLines:        DefaultTailLines,
		Threshold:        monitor.DefaultThreshold,
		WarmUp:           monitor.DefaultWarmUp,
		CoolDown:         monitor.DefaultCoolDown,
	}
}

// Recovery restores devices between iterations.
type Recovery interface {
	Prepare(ctx context.Context) (device.Outcome, error)
	// Record receives the label and measured exit code of each iteration.
	Record(label classify.Label, exitCode int)
	NeedsReset() bool
}

// Result is the immutable outcome of one iteration.
type Result struct {
	Index    int            `json:"index"`
	Sessions int            `json:"sessions"`
	Label    classify.Label `json:"label"`
	// PassedCount is the number of sessions that met the rate threshold.
	PassedCount    int    `json:"passed_count"`
	Detail         string `json:"detail"`
	ExitCode       int    `json:"exit_code"`
	CompanionAlive bool   `json:"companion_alive"`
	// Exception is set when the iteration failed with an unexpected error.
	Exception string   `json:"exception,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`

	Recovery device.Outcome `json:"recovery"`

	// Config is the measured application configuration actually used.
	Config    *command.AppConfig `json:"config,omitempty"`
	Commands  []string           `json:"commands,omitempty"`
	Measured  *monitor.Metrics   `json:"measured,omitempty"`
	Companion *monitor.Metrics   `json:"companion,omitempty"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Executor runs iterations. It holds no state between iterations other
// than what its Recovery keeps.
type Executor struct {
	launcher   process.Launcher
	files      process.Files
	builder    *command.Builder
	recovery   Recovery
	classifier classify.Classifier
	cfg        Config
	logger     *slog.Logger

	// Sleep waits d or until ctx is done. Replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor.
func New(l process.Launcher, f process.Files, b *command.Builder, r Recovery, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		launcher:   l,
		files:      f,
		builder:    b,
		recovery:   r,
		classifier: classify.Classifier{CleanExitCodes: cfg.CleanExitCodes},
		cfg:        cfg,
		logger:     logging.Component(logger, "executor"),
		Sleep:      sleep,
	}
}

// iteration carries the mutable state of one RunIteration call.
type iteration struct {
	attempt   scenario.Attempt
	res       *Result
	companion process.Handle
	logger    *slog.Logger
}

// RunIteration executes attempt and always returns a result; failures are
// reported through the result label, never as errors or panics.
func (e *Executor) RunIteration(ctx context.Context, attempt scenario.Attempt) (res *Result) {
	it := &iteration{
		attempt: attempt,
		res: &Result{
			Index:    attempt.Index,
			Sessions: attempt.Sessions,
			Started:  time.Now(),
			ExitCode: -1,
		},
		logger: e.logger.With("iteration", attempt.Index, "sessions", attempt.Sessions),
	}
	res = it.res

	defer func() {
		if r := recover(); r != nil {
			e.exception(it, fmt.Errorf("panic: %v", r))
		}
		e.stopCompanion(ctx, it)
		res.Duration = time.Since(res.Started)
		if e.recovery != nil {
			e.recovery.Record(res.Label, res.ExitCode)
		}
		it.logger.Info("iteration finished", "label", res.Label, "passed", res.PassedCount, "detail", res.Detail)
	}()

	if err := e.run(ctx, it); err != nil {
		e.exception(it, err)
	}
	return res
}

func (e *Executor) run(ctx context.Context, it *iteration) error {
	sc := it.attempt.Scenario
	res := it.res

	if e.recovery != nil {
		if e.recovery.NeedsReset() {
			it.logger.Info("full device reset pending")
		}
		out, err := e.recovery.Prepare(ctx)
		res.Recovery = out
		if err != nil {
			e.infra(it, fmt.Sprintf("device recovery failed: %v", err))
			return nil
		}
		if out.Action != device.ActionNone {
			it.logger.Info("devices recovered", "action", out.Action, "rebound", len(out.Rebound), "waited", out.Waited)
		}
	}

	// Companion.
	compInv, err := e.builder.Build(it.attempt, command.RoleCompanion, e.companionTestTime(sc))
	if err != nil {
		return fmt.Errorf("build companion command: %w", err)
	}
	if err := e.writeConfig(ctx, compInv); err != nil {
		return err
	}
	res.Commands = append(res.Commands, compInv.Command)

	it.logger.Debug("starting companion", "host", compInv.Host.Name, "command", compInv.Command)
	it.companion, err = e.launcher.Start(ctx, process.Spec{
		Command: compInv.Command,
		Host:    compInv.Host,
		WorkDir: compInv.WorkDir,
		Timeout: compInv.TestTime + e.cfg.TimeoutBuffer,
		LogPath: compInv.LogPath,
	})
	if err != nil {
		e.infra(it, fmt.Sprintf("companion failed to start: %v", err))
		return nil
	}

	if err := e.Sleep(ctx, e.cfg.Settle); err != nil {
		return err
	}
	startup := e.companionLines(ctx, it, compInv)
	alive := it.companion.Alive()
	if line, fatal := monitor.ScanStartup(startup, e.cfg.StartupScanLines); fatal || !alive {
		reason := "companion exited early"
		if fatal {
			reason = "companion fatal startup: " + strings.TrimSpace(line)
		}
		e.infra(it, reason+"\n"+strings.Join(process.Tail(startup, e.cfg.TailLines), "\n"))
		return nil
	}

	// Measured.
	measInv, err := e.builder.Build(it.attempt, command.RoleMeasured, sc.Duration)
	if err != nil {
		return fmt.Errorf("build measured command: %w", err)
	}
	if err := e.writeConfig(ctx, measInv); err != nil {
		return err
	}
	res.Config = measInv.Config
	res.Commands = append(res.Commands, measInv.Command)

	deadline := sc.Duration + e.cfg.TimeoutBuffer
	it.logger.Debug("starting measured", "host", measInv.Host.Name, "command", measInv.Command, "deadline", deadline)
	measured, err := e.launcher.Start(ctx, process.Spec{
		Command: measInv.Command,
		Host:    measInv.Host,
		WorkDir: measInv.WorkDir,
		Timeout: deadline,
		LogPath: measInv.LogPath,
	})
	if err != nil {
		return fmt.Errorf("start measured process: %w", err)
	}
	code, err := measured.Wait(ctx, deadline)
	res.ExitCode = code
	var detail []string
	switch {
	case errors.Is(err, pkgerrors.ErrProcessTimeout):
		res.ExitCode = process.ExitCodeTimeout
		detail = append(detail, fmt.Sprintf("measured process killed after exceeding %s", deadline))
	case err != nil:
		return fmt.Errorf("wait for measured process: %w", err)
	}
	res.CompanionAlive = it.companion.Alive()
	if !res.CompanionAlive {
		detail = append(detail, "companion exited early")
	}

	measLines := process.SplitLines(measured.Output())
	if res.ExitCode != 0 && !e.classifier.CleanExitCodes[res.ExitCode] {
		detail = append(detail, fmt.Sprintf("measured process exited with %d", res.ExitCode))
		detail = append(detail, process.Tail(measLines, e.cfg.TailLines)...)
		e.finish(it, false, detail)
		return nil
	}

	if err := e.Sleep(ctx, e.cfg.Drain); err != nil {
		return err
	}
	compLines := e.companionLines(ctx, it, compInv)

	measSide, compSide := monitor.SideRx, monitor.SideTx
	if measInv.Transmits {
		measSide, compSide = monitor.SideTx, monitor.SideRx
	}
	res.Measured = monitor.Extract(measLines, it.attempt.Sessions, e.monitorOptions(sc.FPS, measSide))
	res.Companion = monitor.Extract(compLines, it.attempt.Sessions, e.monitorOptions(sc.FPS, compSide))
	res.PassedCount = res.Measured.PassedCount

	sender, receiver := res.Measured, res.Companion
	if !measInv.Transmits {
		sender, receiver = res.Companion, res.Measured
	}
	res.Warnings = monitor.CounterWarnings(sender, receiver)
	for _, w := range res.Warnings {
		it.logger.Warn("frame counter mismatch", "warning", w)
	}

	detail = append(detail, fmt.Sprintf("%d/%d sessions reached %.2f fps", res.PassedCount, it.attempt.Sessions, e.cfg.Threshold*sc.FPS))
	detail = append(detail, res.Measured.Markers...)
	e.finish(it, res.Measured.Passed, detail)
	return nil
}

// companionTestTime is the companion run time: the settle wait, the
// measured run and the grace margin that must remain once it ends.
func (e *Executor) companionTestTime(sc *scenario.Descriptor) time.Duration {
	return e.cfg.Settle + sc.Duration + e.cfg.CompanionGrace
}

func (e *Executor) monitorOptions(fps float64, side monitor.Side) monitor.Options {
	return monitor.Options{
		TargetFPS: fps,
		Threshold: e.cfg.Threshold,
		WarmUp:    e.cfg.WarmUp,
		CoolDown:  e.cfg.CoolDown,
		Side:      side,
	}
}

func (e *Executor) finish(it *iteration, passed bool, detail []string) {
	res := it.res
	res.Detail = strings.Join(detail, "\n")
	res.Label = e.classifier.Classify(classify.Input{
		ExitCode:       res.ExitCode,
		CompanionAlive: res.CompanionAlive,
		ExtractorPass:  passed,
		Detail:         res.Detail,
	})
}

func (e *Executor) infra(it *iteration, detail string) {
	it.res.CompanionAlive = false
	it.res.Detail = detail
	it.res.Label = classify.InfraFail
}

// exception records an unexpected error. It narrows the search like a
// capacity failure unless the error text carries an infrastructure marker.
func (e *Executor) exception(it *iteration, err error) {
	res := it.res
	res.Exception = err.Error()
	res.Detail = "exception: " + err.Error()
	res.Label = classify.CapacityFail
	if monitor.HasInfraMarker(res.Detail) {
		res.Label = classify.InfraFail
	}
	it.logger.Error("iteration raised", "error", err)
}

func (e *Executor) writeConfig(ctx context.Context, inv *command.Invocation) error {
	data, err := inv.ConfigJSON()
	if err != nil {
		return fmt.Errorf("encode %s config: %w", inv.Role, err)
	}
	if err := e.files.WriteFile(ctx, inv.Host, inv.ConfigPath, data); err != nil {
		return &pkgerrors.HostError{Host: inv.Host.Name, Err: fmt.Errorf("write %s config: %w", inv.Role, err)}
	}
	return nil
}

// companionLines reads the companion log from its host, falling back to the
// output captured by the handle.
func (e *Executor) companionLines(ctx context.Context, it *iteration, inv *command.Invocation) []string {
	lines, err := e.files.ReadLines(ctx, inv.Host, inv.LogPath)
	if err == nil && len(lines) > 0 {
		return lines
	}
	if err != nil {
		it.logger.Debug("companion log unavailable, using captured output", "path", inv.LogPath, "error", err)
	}
	return process.SplitLines(it.companion.Output())
}

func (e *Executor) stopCompanion(ctx context.Context, it *iteration) {
	if it.companion == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if it.companion.Alive() {
		it.logger.Debug("stopping companion", "pid", it.companion.PID())
	}
	if err := it.companion.Stop(stopCtx); err != nil {
		it.logger.Warn("failed to stop companion", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
