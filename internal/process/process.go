// Package process starts and supervises the media applications on the
// measured and companion hosts, locally or over ssh.
package process

import (
	"context"
	"strings"
	"time"

	"mtlcap/internal/scenario"
)

// ExitCodeTimeout is reported when a process outlives its deadline, matching
// the exit status of the shell timeout utility.
const ExitCodeTimeout = 124

// Spec describes a process to start on a host.
type Spec struct {
	Command string
	Host    scenario.HostSpec
	WorkDir string
	// Timeout bounds the process lifetime; the process group is killed once
	// it expires. Zero means unbounded.
	Timeout time.Duration
	// LogPath, when set, receives the combined output on the host running
	// the process.
	LogPath string
	Env     []string
}

// Handle is a started process. Starting never blocks on completion.
type Handle interface {
	// Wait blocks until the process exits, timeout elapses or ctx is done.
	// On timeout the process is killed and ExitCodeTimeout is returned with
	// ErrProcessTimeout. Signal deaths are reported as the negated signal.
	Wait(ctx context.Context, timeout time.Duration) (int, error)
	// Output returns the combined output captured so far.
	Output() string
	// Alive reports whether the process is still running.
	Alive() bool
	// Stop terminates the process group, escalating to SIGKILL.
	Stop(ctx context.Context) error
	PID() int
}

// Launcher starts processes on hosts.
type Launcher interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// Files reads and writes files on hosts.
type Files interface {
	ReadLines(ctx context.Context, host scenario.HostSpec, path string) ([]string, error)
	WriteFile(ctx context.Context, host scenario.HostSpec, path string, data []byte) error
}

// Result is the outcome of a synchronous Run.
type Result struct {
	ExitCode int
	Output   string
}

// Run starts spec and waits for it to finish within timeout.
func Run(ctx context.Context, l Launcher, spec Spec, timeout time.Duration) (Result, error) {
	h, err := l.Start(ctx, spec)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	code, err := h.Wait(ctx, timeout)
	return Result{ExitCode: code, Output: h.Output()}, err
}

// SplitLines splits captured output into lines, dropping a trailing empty
// line and carriage returns.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// Tail returns the last n lines.
func Tail(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
