// Package monitor turns the captured output of a media application into
// per-session frame rate and frame counter metrics and judges each session
// against the requested rate.
package monitor

import (
	"fmt"
	"time"
)

// Defaults for Options.
const (
	DefaultThreshold = 0.99
	DefaultWarmUp    = 10 * time.Second
	DefaultCoolDown  = 5 * time.Second
)

// Options controls how rate samples are qualified.
type Options struct {
	TargetFPS float64
	// Threshold is the fraction of TargetFPS a session mean must reach.
	Threshold float64
	// Samples earlier than WarmUp after the first timestamp are ignored.
	WarmUp time.Duration
	// Samples later than CoolDown before the last timestamp are ignored.
	CoolDown time.Duration
	// Side selects which session lines provide rate samples.
	Side Side
}

// DefaultOptions returns the standard window for a target rate.
func DefaultOptions(targetFPS float64, side Side) Options {
	return Options{
		TargetFPS: targetFPS,
		Threshold: DefaultThreshold,
		WarmUp:    DefaultWarmUp,
		CoolDown:  DefaultCoolDown,
		Side:      side,
	}
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Side == "" {
		o.Side = SideTx
	}
	return o
}

// Sample is one observed frame rate at an offset from the first timestamp.
type Sample struct {
	Offset time.Duration `json:"offset"`
	FPS    float64       `json:"fps"`
}

// SessionMetric holds everything observed for one session.
type SessionMetric struct {
	Session int `json:"session"`
	// Samples are all timed rate samples, in log order.
	Samples    []Sample `json:"samples,omitempty"`
	Qualifying int      `json:"qualifying"`
	MeanFPS    float64  `json:"mean_fps"`
	TxFrames   int64    `json:"tx_frames"`
	RxFrames   int64    `json:"rx_frames"`
	Passed     bool     `json:"passed"`
}

// Metrics is the result of one extraction.
type Metrics struct {
	Sessions    []SessionMetric `json:"sessions"`
	Passed      bool            `json:"passed"`
	PassedCount int             `json:"passed_count"`
	// Span is the offset of the last timestamp; zero when none was seen.
	Span         time.Duration `json:"span"`
	HasTimestamp bool          `json:"has_timestamp"`
	DeviceTxMbps float64       `json:"device_tx_mbps"`
	DeviceRxMbps float64       `json:"device_rx_mbps"`
	// Markers lists the lines carrying infrastructure or fatal markers.
	Markers []string `json:"markers,omitempty"`
}

// Extract scans lines and evaluates sessions [0, sessionCount).
// It is a pure function of its inputs.
func Extract(lines []string, sessionCount int, opts Options) *Metrics {
	opts = opts.withDefaults()

	sessions := make([]SessionMetric, sessionCount)
	for i := range sessions {
		sessions[i].Session = i
	}
	m := &Metrics{Sessions: sessions}

	var first, last time.Time
	var devLines int
	var txSum, rxSum float64

	for _, raw := range lines {
		l := Classify(raw)
		if l.HasTime {
			if !m.HasTimestamp {
				first = l.Time
				m.HasTimestamp = true
			}
			last = l.Time
		}
		switch l.Kind {
		case KindSession:
			if l.Session < 0 || l.Session >= sessionCount {
				continue
			}
			s := &sessions[l.Session]
			if l.HasFrames {
				if l.Side == SideTx && l.Frames > s.TxFrames {
					s.TxFrames = l.Frames
				}
				if l.Side == SideRx && l.Frames > s.RxFrames {
					s.RxFrames = l.Frames
				}
			}
			// A sample is only usable once a time reference exists.
			if l.Side == opts.Side && m.HasTimestamp {
				s.Samples = append(s.Samples, Sample{Offset: last.Sub(first), FPS: l.FPS})
			}
		case KindDevice:
			devLines++
			txSum += l.TxMbps
			rxSum += l.RxMbps
		case KindMarker:
			m.Markers = append(m.Markers, raw)
		}
	}

	if m.HasTimestamp {
		m.Span = last.Sub(first)
	}
	if devLines > 0 {
		m.DeviceTxMbps = txSum / float64(devLines)
		m.DeviceRxMbps = rxSum / float64(devLines)
	}

	Evaluate(m, opts)
	return m
}

// Evaluate recomputes the qualifying window verdicts of m in place with the
// given options. Raw samples are left untouched.
func Evaluate(m *Metrics, opts Options) {
	opts = opts.withDefaults()
	need := opts.Threshold * opts.TargetFPS

	m.PassedCount = 0
	for i := range m.Sessions {
		s := &m.Sessions[i]
		s.Qualifying, s.MeanFPS, s.Passed = 0, 0, false

		var sum float64
		for _, sample := range s.Samples {
			if inWindow(sample.Offset, m.Span, opts) {
				sum += sample.FPS
				s.Qualifying++
			}
		}
		if s.Qualifying > 0 {
			s.MeanFPS = sum / float64(s.Qualifying)
			s.Passed = s.MeanFPS >= need
		}
		if s.Passed {
			m.PassedCount++
		}
	}
	m.Passed = len(m.Sessions) > 0 && m.PassedCount == len(m.Sessions)
}

func inWindow(offset, span time.Duration, opts Options) bool {
	return offset >= opts.WarmUp && offset <= span-opts.CoolDown
}

// CounterWarnings compares the frames transmitted by the sender with the
// frames counted by the receiver. A receiver that counted more than was sent
// usually means the sender's counters stopped early.
func CounterWarnings(sender, receiver *Metrics) []string {
	if sender == nil || receiver == nil {
		return nil
	}
	var out []string
	n := len(sender.Sessions)
	if len(receiver.Sessions) < n {
		n = len(receiver.Sessions)
	}
	for i := 0; i < n; i++ {
		tx, rx := sender.Sessions[i].TxFrames, receiver.Sessions[i].RxFrames
		if rx > tx {
			out = append(out, fmt.Sprintf("session %d: receiver counted %d frames but sender transmitted %d", i, rx, tx))
		}
	}
	return out
}
