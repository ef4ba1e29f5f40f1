// Package logging provides the slog handler used by every mtlcap component.
// Lines look like:
//
//	<time> mtlcap [<LEVEL>] <component>: <message>[ key=value ...]
//
// The "component" attribute is lifted out of the attribute list and printed
// in front of the message so sweep logs can be grepped per component.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const componentKey = "component"

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler is a line-oriented slog.Handler.
type Handler struct {
	name      string
	level     slog.Leveler
	w         io.Writer
	mu        *sync.Mutex
	component string
	attrs     []string
	prefix    string
}

// NewHandler creates a handler that writes to w.
func NewHandler(name string, level slog.Leveler, w io.Writer) *Handler {
	return &Handler{name: name, level: level, w: w, mu: &sync.Mutex{}}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	component := h.component
	parts := append([]string(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == componentKey && h.prefix == "" {
			component = a.Value.String()
			return true
		}
		parts = append(parts, h.format(a))
		return true
	})
	if component == "" {
		component = "main"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s] %s: %s",
		r.Time.Format("2006-01-02T15:04:05.000-07:00"), h.name, r.Level.String(), component, r.Message)
	for _, p := range parts {
		b.WriteByte(' ')
		b.WriteString(p)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		if a.Key == componentKey && h.prefix == "" {
			c.component = a.Value.String()
			continue
		}
		c.attrs = append(c.attrs, h.format(a))
	}
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func (h *Handler) format(a slog.Attr) string {
	v := a.Value.Resolve().String()
	if strings.ContainsAny(v, " \t\n\"") {
		v = fmt.Sprintf("%q", v)
	}
	return h.prefix + a.Key + "=" + v
}

// New builds the process logger. When logPath is non-empty the output is
// mirrored to that file; failures to open it are reported on stderr and the
// logger keeps writing to stderr only. A quiet logger skips stderr, which a
// full-screen terminal UI owns.
func New(level string, logPath string, quiet bool) (*slog.Logger, func() error) {
	var writers []io.Writer
	if !quiet {
		writers = append(writers, os.Stderr)
	}
	closer := func() error { return nil }

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", logPath, err)
		} else {
			writers = append(writers, f)
			closer = f.Close
		}
	}

	logger := slog.New(NewHandler("mtlcap", ParseLevel(level), io.MultiWriter(writers...)))
	return logger, closer
}

// Component returns logger tagged with the component name, falling back to
// slog.Default when logger is nil.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(componentKey, name)
}

// Discard returns a logger that drops all records.
func Discard() *slog.Logger {
	return slog.New(NewHandler("mtlcap", slog.LevelError+1, io.Discard))
}
