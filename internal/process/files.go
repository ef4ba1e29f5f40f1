package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"mtlcap/internal/scenario"
	pkgerrors "mtlcap/pkg/errors"
)

// HostFiles implements Files with the local filesystem for local hosts and
// the ssh client for remote ones.
type HostFiles struct {
	SSHBinary  string
	SSHOptions []string
}

// NewHostFiles creates a HostFiles with the default ssh options.
func NewHostFiles() *HostFiles {
	return &HostFiles{SSHBinary: "ssh", SSHOptions: DefaultSSHOptions}
}

// ReadLines fetches a text file from host and splits it into lines.
func (f *HostFiles) ReadLines(ctx context.Context, host scenario.HostSpec, path string) ([]string, error) {
	if host.IsLocal() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return SplitLines(string(data)), nil
	}

	cmd := exec.CommandContext(ctx, f.SSHBinary, f.sshArgs(host, "cat "+shellQuote(path))...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &pkgerrors.HostError{Host: host.Name, Err: fmt.Errorf("failed to read %s: %w: %s", path, err, stderr.String())}
	}
	return SplitLines(string(out)), nil
}

// WriteFile writes data to path on host, creating parent directories.
func (f *HostFiles) WriteFile(ctx context.Context, host scenario.HostSpec, path string, data []byte) error {
	if host.IsLocal() {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		return nil
	}

	script := fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(filepath.Dir(path)), shellQuote(path))
	cmd := exec.CommandContext(ctx, f.SSHBinary, f.sshArgs(host, script)...)
	cmd.Stdin = bytes.NewReader(data)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &pkgerrors.HostError{Host: host.Name, Err: fmt.Errorf("failed to write %s: %w: %s", path, err, out)}
	}
	return nil
}

func (f *HostFiles) sshArgs(host scenario.HostSpec, script string) []string {
	args := append([]string(nil), f.SSHOptions...)
	return append(args, host.Address, "--", script)
}
