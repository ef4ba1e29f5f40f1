// Package device keeps the NIC virtual functions and accelerator devices of
// both hosts attachable between iterations.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mtlcap/internal/classify"
	"mtlcap/internal/logging"
	"mtlcap/internal/scenario"
	pkgerrors "mtlcap/pkg/errors"
)

// State is the recovery state of one host.
type State string

const (
	StateBound     State = "BOUND"
	StateDirty     State = "DIRTY"
	StateResetting State = "RESETTING"
)

// Recovery defaults.
const (
	DefaultDriver       = "vfio-pci"
	DefaultLinkRecovery = 10 * time.Second
	DefaultRebindSettle = 2 * time.Second
)

// DefaultStalePatterns match media applications left over from earlier runs.
var DefaultStalePatterns = []string{"RxTxApp"}

// Config tunes the Manager.
type Config struct {
	// Driver is the user-space driver functions are bound to.
	Driver string
	// LinkRecovery is waited after a full reset.
	LinkRecovery time.Duration
	// RebindSettle is waited after the cheap check rebound something.
	RebindSettle  time.Duration
	StalePatterns []string
}

// DefaultConfig returns the standard recovery configuration.
func DefaultConfig() Config {
	return Config{
		Driver:        DefaultDriver,
		LinkRecovery:  DefaultLinkRecovery,
		RebindSettle:  DefaultRebindSettle,
		StalePatterns: DefaultStalePatterns,
	}
}

// HostState is the recovery state of one host.
type HostState struct {
	Host scenario.HostSpec `json:"host"`
	// VFs are expected to stay bound to the user-space driver.
	VFs         []string `json:"vfs"`
	Accelerator string   `json:"accelerator,omitempty"`
	State       State    `json:"state"`
}

func (h *HostState) devices() []string {
	out := append([]string(nil), h.VFs...)
	if h.Accelerator != "" {
		out = append(out, h.Accelerator)
	}
	return out
}

// Action is the recovery path taken by Prepare.
type Action string

const (
	ActionNone   Action = "none"
	ActionRebind Action = "rebind"
	ActionReset  Action = "reset"
)

// Outcome summarises one Prepare call.
type Outcome struct {
	Action   Action        `json:"action"`
	Rebound  []string      `json:"rebound,omitempty"`
	Waited   time.Duration `json:"waited"`
	Duration time.Duration `json:"duration"`
}

// Manager owns the per-host recovery state for one sweep. It is the only
// component that rebinds or resets devices.
type Manager struct {
	binder Binder
	cfg    Config
	logger *slog.Logger

	// Sleep waits d or until ctx is done. Replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	hosts []*HostState
}

// NewManager tracks the devices sc uses on both hosts. All hosts start BOUND.
func NewManager(binder Binder, sc *scenario.Descriptor, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver
	}
	m := &Manager{
		binder: binder,
		cfg:    cfg,
		logger: logging.Component(logger, "device"),
		Sleep:  sleep,
	}
	for _, h := range sc.Hosts() {
		n := 1
		if sc.Redundant {
			n = 2
		}
		if n > len(h.NICs) {
			n = len(h.NICs)
		}
		hs := &HostState{Host: h, VFs: append([]string(nil), h.NICs[:n]...), State: StateBound}
		if sc.UseAccelerator {
			hs.Accelerator = h.Accelerator
		}
		m.hosts = append(m.hosts, hs)
	}
	return m
}

// NeedsReset reports whether the next Prepare takes the full reset path.
func (m *Manager) NeedsReset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hosts {
		if h.State != StateBound {
			return true
		}
	}
	return false
}

// Record updates the state after an iteration ended with label and the
// measured exit code. Only a crash with a driver-level exit code marks
// devices dirty; other crashes leave recovery to the rebind check.
func (m *Manager) Record(label classify.Label, exitCode int) {
	if label != classify.Crash {
		return
	}
	if !classify.IsDriverCrash(exitCode) {
		m.logger.Info("crash without driver fault, keeping devices bound", "exit_code", exitCode)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hosts {
		h.State = StateDirty
	}
	m.logger.Warn("devices marked dirty after crash", "exit_code", exitCode)
}

// Prepare readies both hosts for the next iteration. Stale processes are
// killed on both hosts first. Dirty hosts are fully reset and the link
// recovery interval is waited; otherwise unbound functions are rebound and
// the settle interval is waited only if something was rebound.
func (m *Manager) Prepare(ctx context.Context) (Outcome, error) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.killStale(ctx); err != nil {
		return Outcome{Action: ActionNone}, err
	}

	var out Outcome
	var err error
	if m.dirty() {
		out, err = m.reset(ctx)
	} else {
		out, err = m.rebind(ctx)
	}
	out.Duration = time.Since(start)
	return out, err
}

func (m *Manager) dirty() bool {
	for _, h := range m.hosts {
		if h.State == StateDirty {
			return true
		}
	}
	return false
}

func (m *Manager) killStale(ctx context.Context) error {
	if len(m.cfg.StalePatterns) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range m.hosts {
		host := h.Host
		g.Go(func() error {
			if err := m.binder.KillStale(gctx, host, m.cfg.StalePatterns); err != nil {
				return fmt.Errorf("kill stale processes: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) reset(ctx context.Context) (Outcome, error) {
	out := Outcome{Action: ActionReset}
	for _, h := range m.hosts {
		if h.State != StateDirty {
			continue
		}
		h.State = StateResetting
		m.logger.Info("resetting devices", "host", h.Host.Name, "devices", h.devices())
		for _, bdf := range h.devices() {
			if err := m.binder.Unbind(ctx, h.Host, bdf); err != nil {
				// An already unbound function is fine; binding decides.
				m.logger.Debug("unbind failed", "host", h.Host.Name, "bdf", bdf, "error", err)
			}
			if err := m.binder.Bind(ctx, h.Host, bdf, m.cfg.Driver); err != nil {
				h.State = StateDirty
				return out, &pkgerrors.HostError{Host: h.Host.Name, Err: err}
			}
			out.Rebound = append(out.Rebound, bdf)
		}
	}
	if err := m.wait(ctx, m.cfg.LinkRecovery, &out); err != nil {
		return out, err
	}
	for _, h := range m.hosts {
		if h.State == StateResetting {
			h.State = StateBound
		}
	}
	return out, nil
}

func (m *Manager) rebind(ctx context.Context) (Outcome, error) {
	out := Outcome{Action: ActionNone}
	for _, h := range m.hosts {
		for _, bdf := range h.devices() {
			drv, err := m.binder.Driver(ctx, h.Host, bdf)
			if err != nil {
				return out, &pkgerrors.HostError{Host: h.Host.Name, Err: err}
			}
			if drv == m.cfg.Driver {
				continue
			}
			m.logger.Info("rebinding device", "host", h.Host.Name, "bdf", bdf, "driver", drv)
			if drv != "" {
				if err := m.binder.Unbind(ctx, h.Host, bdf); err != nil {
					m.logger.Debug("unbind failed", "host", h.Host.Name, "bdf", bdf, "error", err)
				}
			}
			if err := m.binder.Bind(ctx, h.Host, bdf, m.cfg.Driver); err != nil {
				h.State = StateDirty
				return out, &pkgerrors.HostError{Host: h.Host.Name, Err: err}
			}
			out.Rebound = append(out.Rebound, bdf)
		}
	}
	if len(out.Rebound) == 0 {
		return out, nil
	}
	out.Action = ActionRebind
	return out, m.wait(ctx, m.cfg.RebindSettle, &out)
}

func (m *Manager) wait(ctx context.Context, d time.Duration, out *Outcome) error {
	if d <= 0 {
		return nil
	}
	if err := m.Sleep(ctx, d); err != nil {
		return err
	}
	out.Waited += d
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
