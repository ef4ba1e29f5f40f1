package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mtlcap/internal/executor"
	"mtlcap/internal/logging"
	"mtlcap/internal/sweep"
)

// ─── Log block ───

// LogBlock writes the sweep trace to a logger once the sweep finishes.
type LogBlock struct {
	logger *slog.Logger
}

// NewLogBlock creates a log block sink.
func NewLogBlock(logger *slog.Logger) *LogBlock {
	return &LogBlock{logger: logging.Component(logger, "report")}
}

func (l *LogBlock) SweepStarted(r *sweep.Report) {
	l.logger.Info("sweep started",
		"sweep", r.ID,
		"scenario", r.Scenario.Label(),
		"start", r.StartProbe,
		"max", r.MaxProbe,
	)
}

func (l *LogBlock) IterationFinished(*sweep.Report, *executor.Result) {}

func (l *LogBlock) SweepFinished(r *sweep.Report) {
	level := slog.LevelInfo
	if r.Status == sweep.StatusAborted {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "sweep finished",
		"sweep", r.ID,
		"scenario", r.Scenario.Label(),
		"status", r.Status,
		"max_passing", r.MaxPassing,
		"iterations", len(r.Iterations),
		"duration", r.Duration().Round(time.Second),
	)
	for _, res := range r.Iterations {
		attrs := []any{
			"index", res.Index,
			"sessions", res.Sessions,
			"label", res.Label,
			"passed", res.PassedCount,
			"exit_code", res.ExitCode,
			"recovery", res.Recovery.Action,
		}
		if res.Detail != "" {
			attrs = append(attrs, "detail", firstLine(res.Detail))
		}
		l.logger.Info("iteration", attrs...)
	}
	if r.Reason != "" {
		l.logger.Log(context.Background(), level, "sweep reason", "reason", r.Reason)
	}
	if r.Config != nil {
		if data, err := json.Marshal(r.Config); err == nil {
			l.logger.Info("best configuration", "config", string(data))
		}
	}
}

// ─── JSON file ───

// JSONFile rewrites the full report to a file after every iteration.
type JSONFile struct {
	path   string
	logger *slog.Logger
}

// NewJSONFile creates a JSON file sink writing to path.
func NewJSONFile(path string, logger *slog.Logger) *JSONFile {
	return &JSONFile{path: path, logger: logging.Component(logger, "report")}
}

func (j *JSONFile) SweepStarted(r *sweep.Report) { j.write(r) }

func (j *JSONFile) IterationFinished(r *sweep.Report, _ *executor.Result) { j.write(r) }

func (j *JSONFile) SweepFinished(r *sweep.Report) { j.write(r) }

func (j *JSONFile) write(r *sweep.Report) {
	if err := WriteJSON(j.path, r); err != nil {
		j.logger.Error("failed to write report file", "path", j.path, "error", err)
	}
}

// WriteJSON writes r to path as indented JSON, replacing the file
// atomically.
func WriteJSON(path string, r *sweep.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ─── Prometheus textfile ───

// TextfileWriter is implemented by telemetry.Exporter.
type TextfileWriter interface {
	WriteTextfile(path string) error
}

// Textfile dumps metrics for the node exporter textfile collector after
// every iteration.
type Textfile struct {
	w      TextfileWriter
	path   string
	logger *slog.Logger
}

// NewTextfile creates a textfile sink. Register it after the exporter so it
// sees up to date values.
func NewTextfile(w TextfileWriter, path string, logger *slog.Logger) *Textfile {
	return &Textfile{w: w, path: path, logger: logging.Component(logger, "report")}
}

func (t *Textfile) SweepStarted(*sweep.Report) {}

func (t *Textfile) IterationFinished(*sweep.Report, *executor.Result) { t.write() }

func (t *Textfile) SweepFinished(*sweep.Report) { t.write() }

func (t *Textfile) write() {
	if err := t.w.WriteTextfile(t.path); err != nil {
		t.logger.Error("failed to write metrics textfile", "path", t.path, "error", err)
	}
}
