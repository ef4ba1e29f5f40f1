package device

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"mtlcap/internal/process"
	"mtlcap/internal/scenario"
	pkgerrors "mtlcap/pkg/errors"
)

// Binder performs driver operations on PCI functions of a host.
type Binder interface {
	// Driver returns the driver currently bound to bdf, or "" when unbound.
	Driver(ctx context.Context, host scenario.HostSpec, bdf string) (string, error)
	Unbind(ctx context.Context, host scenario.HostSpec, bdf string) error
	Bind(ctx context.Context, host scenario.HostSpec, bdf, driver string) error
	// KillStale kills every process whose command line matches one of patterns.
	KillStale(ctx context.Context, host scenario.HostSpec, patterns []string) error
}

// ShellBinder implements Binder with sysfs and dpdk-devbind commands run
// through a process launcher.
type ShellBinder struct {
	launcher process.Launcher
	// DevBind is the dpdk-devbind script to invoke.
	DevBind string
	// Sudo prefixes privileged commands with "sudo -n".
	Sudo    bool
	Timeout time.Duration
}

// NewShellBinder creates a ShellBinder.
func NewShellBinder(l process.Launcher) *ShellBinder {
	return &ShellBinder{launcher: l, DevBind: "dpdk-devbind.py", Timeout: 30 * time.Second}
}

func (b *ShellBinder) Driver(ctx context.Context, host scenario.HostSpec, bdf string) (string, error) {
	res, err := b.run(ctx, host, "readlink /sys/bus/pci/devices/"+bdf+"/driver", false)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		// No driver symlink: the function is unbound.
		return "", nil
	}
	return path.Base(strings.TrimSpace(res.Output)), nil
}

func (b *ShellBinder) Unbind(ctx context.Context, host scenario.HostSpec, bdf string) error {
	return b.mustRun(ctx, host, fmt.Sprintf("%s -u %s", b.DevBind, bdf))
}

func (b *ShellBinder) Bind(ctx context.Context, host scenario.HostSpec, bdf, driver string) error {
	if err := b.mustRun(ctx, host, fmt.Sprintf("%s -b %s %s", b.DevBind, driver, bdf)); err != nil {
		return fmt.Errorf("%w %s to %s: %v", pkgerrors.ErrDeviceBind, bdf, driver, err)
	}
	return nil
}

func (b *ShellBinder) KillStale(ctx context.Context, host scenario.HostSpec, patterns []string) error {
	for _, p := range patterns {
		res, err := b.run(ctx, host, "pkill -9 -f "+p, true)
		if err != nil {
			return err
		}
		// pkill exits 1 when nothing matched.
		if res.ExitCode != 0 && res.ExitCode != 1 {
			return &pkgerrors.HostError{Host: host.Name, Err: fmt.Errorf("pkill %s exited %d: %s", p, res.ExitCode, res.Output)}
		}
	}
	return nil
}

func (b *ShellBinder) mustRun(ctx context.Context, host scenario.HostSpec, cmd string) error {
	res, err := b.run(ctx, host, cmd, true)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &pkgerrors.HostError{Host: host.Name, Err: fmt.Errorf("%q exited %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Output))}
	}
	return nil
}

func (b *ShellBinder) run(ctx context.Context, host scenario.HostSpec, cmd string, privileged bool) (process.Result, error) {
	if privileged && b.Sudo {
		cmd = "sudo -n " + cmd
	}
	return process.Run(ctx, b.launcher, process.Spec{Command: cmd, Host: host}, b.Timeout)
}
