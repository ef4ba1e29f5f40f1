package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"mtlcap/internal/logging"
	"mtlcap/internal/scenario"
	pkgerrors "mtlcap/pkg/errors"
)

// stopGrace is how long Stop waits after SIGTERM before sending SIGKILL.
const stopGrace = 5 * time.Second

// remoteKillTimeout bounds the ssh call that kills a remote process group
// after a deadline.
const remoteKillTimeout = 15 * time.Second

// exitCodeSSH is reported by the ssh client when the connection failed.
const exitCodeSSH = 255

// DefaultSSHOptions keep ssh from prompting or hanging on dead peers.
var DefaultSSHOptions = []string{
	"-o", "BatchMode=yes",
	"-o", "StrictHostKeyChecking=accept-new",
	"-o", "ServerAliveInterval=5",
	"-o", "ServerAliveCountMax=3",
}

// Exec launches processes with os/exec. Local hosts run the command
// directly; remote hosts run it through the ssh client.
type Exec struct {
	SSHBinary  string
	SSHOptions []string
	// RunRemote runs a shell script on a remote host. It stops and kills
	// remote process groups, which the local ssh client cannot reach.
	RunRemote  func(ctx context.Context, host scenario.HostSpec, script string) error
	logger     *slog.Logger
}

// NewExec creates an Exec launcher.
func NewExec(logger *slog.Logger) *Exec {
	e := &Exec{
		SSHBinary:  "ssh",
		SSHOptions: DefaultSSHOptions,
		logger:     logging.Component(logger, "process"),
	}
	e.RunRemote = e.runSSH
	return e
}

func (e *Exec) runSSH(ctx context.Context, host scenario.HostSpec, script string) error {
	args := append(append([]string(nil), e.SSHOptions...), host.Address, "--", "bash -c "+shellQuote(script))
	out, err := exec.CommandContext(ctx, e.SSHBinary, args...).CombinedOutput()
	if err != nil {
		return &pkgerrors.HostError{Host: host.Name, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))}
	}
	return nil
}

// Start starts spec without waiting for it.
func (e *Exec) Start(ctx context.Context, spec Spec) (Handle, error) {
	var pidFile string
	if !spec.Host.IsLocal() {
		pidFile = remotePIDFile(spec)
	}
	argv, err := e.argv(spec, pidFile)
	if err != nil {
		return nil, err
	}

	// exec.Command rather than CommandContext: lifetime is governed by
	// Spec.Timeout and Stop, not by the caller's context.
	cmd := exec.Command(argv[0], argv[1:]...)
	if spec.Host.IsLocal() && spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &execHandle{cmd: cmd, done: make(chan struct{}), logger: e.logger.With("host", spec.Host.Name)}
	if pidFile != "" && e.RunRemote != nil {
		host := spec.Host
		h.pidFile = pidFile
		h.remote = func(ctx context.Context, script string) error {
			return e.RunRemote(ctx, host, script)
		}
	}

	var writers []io.Writer
	writers = append(writers, &h.buf)
	if spec.LogPath != "" && spec.Host.IsLocal() {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile, err := os.Create(spec.LogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		h.logFile = logFile
		writers = append(writers, logFile)
	}
	out := &lockedWriter{w: io.MultiWriter(writers...), mu: &h.mu}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		if h.logFile != nil {
			h.logFile.Close()
		}
		return nil, &pkgerrors.HostError{Host: spec.Host.Name, Err: fmt.Errorf("failed to start %q: %w", argv[0], err)}
	}
	atomic.StoreInt32(&h.running, 1)

	e.logger.Debug("process started", "host", spec.Host.Name, "pid", cmd.Process.Pid, "command", spec.Command)

	go func() {
		err := cmd.Wait()
		h.exitCode = exitCode(cmd.ProcessState, err)
		atomic.StoreInt32(&h.running, 0)
		if h.logFile != nil {
			h.logFile.Close()
		}
		close(h.done)
	}()

	if spec.Timeout > 0 {
		h.deadline = time.AfterFunc(spec.Timeout, func() {
			atomic.StoreInt32(&h.timedOut, 1)
			h.kill()
		})
	}

	return h, nil
}

func (e *Exec) argv(spec Spec, pidFile string) ([]string, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("empty command for host %s", spec.Host.Name)
	}
	if spec.Host.IsLocal() {
		args, err := shlex.Split(spec.Command)
		if err != nil {
			return nil, fmt.Errorf("failed to split command: %w", err)
		}
		return args, nil
	}

	// The wrapper records its process group so Stop and deadlines can kill
	// the remote side, which outlives a killed ssh client.
	run := spec.Command + "; rc=$?"
	if spec.LogPath != "" {
		run = fmt.Sprintf("{ %s ; } 2>&1 | tee %s; rc=${PIPESTATUS[0]}", spec.Command, shellQuote(spec.LogPath))
	}
	script := fmt.Sprintf("echo $(ps -o pgid= -p $$) > %s; %s; rm -f %s; exit $rc",
		shellQuote(pidFile), run, shellQuote(pidFile))
	if spec.LogPath != "" {
		script = "mkdir -p " + shellQuote(filepath.Dir(spec.LogPath)) + " || exit 1; " + script
	}
	if spec.WorkDir != "" {
		script = "cd " + shellQuote(spec.WorkDir) + " || exit 1; " + script
	}
	args := []string{e.SSHBinary}
	args = append(args, e.SSHOptions...)
	args = append(args, spec.Host.Address, "--", "bash -c "+shellQuote(script))
	return args, nil
}

// remotePIDFile is where the remote wrapper records its process group.
func remotePIDFile(spec Spec) string {
	if spec.LogPath != "" {
		return spec.LogPath + ".pid"
	}
	return "/tmp/mtlcap-" + uuid.NewString() + ".pid"
}

// remoteStopScript terminates the group recorded in pidFile, escalating to
// SIGKILL after stopGrace.
func remoteStopScript(pidFile string) string {
	return fmt.Sprintf(`pg=$(cat %[1]s 2>/dev/null) || exit 0; [ -n "$pg" ] || exit 0; `+
		`kill -TERM -- -$pg 2>/dev/null; `+
		`for i in $(seq %[2]d); do kill -0 -- -$pg 2>/dev/null || break; sleep 1; done; `+
		`kill -KILL -- -$pg 2>/dev/null; rm -f %[1]s; exit 0`,
		shellQuote(pidFile), int(stopGrace/time.Second))
}

// remoteKillScript kills the group recorded in pidFile at once.
func remoteKillScript(pidFile string) string {
	return fmt.Sprintf(`pg=$(cat %[1]s 2>/dev/null) && [ -n "$pg" ] && kill -KILL -- -$pg 2>/dev/null; rm -f %[1]s; exit 0`,
		shellQuote(pidFile))
}

type execHandle struct {
	cmd      *exec.Cmd
	logger   *slog.Logger
	mu       sync.Mutex
	buf      bytes.Buffer
	logFile  *os.File
	running  int32
	timedOut int32
	exitCode int
	done     chan struct{}
	deadline *time.Timer

	// remote runs a script on the remote host; nil for local processes.
	remote  func(ctx context.Context, script string) error
	pidFile string
}

func (h *execHandle) PID() int { return h.cmd.Process.Pid }

func (h *execHandle) Alive() bool { return atomic.LoadInt32(&h.running) == 1 }

func (h *execHandle) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

func (h *execHandle) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-h.done:
		if atomic.LoadInt32(&h.timedOut) == 1 {
			return ExitCodeTimeout, pkgerrors.ErrProcessTimeout
		}
		return h.exitCode, nil
	case <-expired:
		h.kill()
		<-h.done
		return ExitCodeTimeout, pkgerrors.ErrProcessTimeout
	case <-ctx.Done():
		h.kill()
		<-h.done
		return h.exitCode, ctx.Err()
	}
}

func (h *execHandle) Stop(ctx context.Context) error {
	if h.deadline != nil {
		h.deadline.Stop()
	}
	alive := h.Alive()

	// A lost connection leaves the remote side running as well.
	var err error
	if h.remote != nil && (alive || h.exitCode == exitCodeSSH) {
		if err = h.remote(ctx, remoteStopScript(h.pidFile)); err != nil {
			err = fmt.Errorf("failed to stop remote process: %w", err)
		}
	}
	if !alive || !h.Alive() {
		return err
	}

	h.signal(unix.SIGTERM)
	select {
	case <-h.done:
	case <-time.After(stopGrace):
		h.signal(unix.SIGKILL)
		<-h.done
	case <-ctx.Done():
		h.signal(unix.SIGKILL)
		<-h.done
	}
	return err
}

// kill force-kills the process group, on the remote host first.
func (h *execHandle) kill() {
	if h.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), remoteKillTimeout)
		err := h.remote(ctx, remoteKillScript(h.pidFile))
		cancel()
		if err != nil {
			h.logger.Warn("failed to kill remote process", "pid_file", h.pidFile, "error", err)
		}
	}
	h.signal(unix.SIGKILL)
}

// signal delivers sig to the whole process group.
func (h *execHandle) signal(sig unix.Signal) {
	pid := h.cmd.Process.Pid
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		h.cmd.Process.Signal(sig)
	}
}

type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// exitCode maps a finished process state to an exit code. Signal deaths are
// reported as the negated signal number.
func exitCode(state *os.ProcessState, err error) int {
	if state == nil {
		if err != nil {
			return -1
		}
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
