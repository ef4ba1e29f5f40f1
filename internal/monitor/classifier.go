package monitor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the category a log line falls into.
type Kind int

const (
	KindOther Kind = iota
	KindTimestamp
	KindSession
	KindDevice
	KindMarker
)

// Side is the media direction of a session statistics line.
type Side string

const (
	SideTx Side = "tx"
	SideRx Side = "rx"
)

// Line is the information extracted from one log line. A timestamp may
// share a line with a session, device or marker payload, so HasTime is
// independent of Kind. Kind is KindTimestamp only for lines carrying nothing
// else.
type Line struct {
	Kind Kind

	Time    time.Time
	HasTime bool

	// KindSession
	Side      Side
	Session   int
	FPS       float64
	Frames    int64
	HasFrames bool

	// KindDevice
	TxMbps float64
	RxMbps float64

	// KindMarker
	Marker string
}

var (
	timestampRe = regexp.MustCompile(`(?:MTL:\s*|\[)(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2})`)
	sessionRe   = regexp.MustCompile(`\b(TX|RX)_VIDEO_SESSION\((\d+),(\d+)(?::[^)]*)?\):\s*fps\s+([0-9]+(?:\.[0-9]+)?)(?:.*?\bframes?\s+(\d+))?`)
	deviceRe    = regexp.MustCompile(`DEV\((\d+)\):\s*Avr rate,\s*tx:\s*([0-9.]+)\s*Mb/s,\s*rx:\s*([0-9.]+)\s*Mb/s`)
)

// InfraMarkers are substrings (matched case-insensitively) that indicate a
// broken test environment rather than a saturated device.
var InfraMarkers = []string{
	"exited early",
	"open fail",
	"timeout waiting",
}

// FatalStartupMarkers indicate a process that never finished initialising.
var FatalStartupMarkers = []string{
	"mtl_init fail",
	"rte_eal_init fail",
	"app_init fail",
	"no free space",
	"open fail",
}

// Classify extracts the structured content of a single line.
func Classify(line string) Line {
	l := classifyPayload(line)
	if m := timestampRe.FindStringSubmatch(line); m != nil {
		ts, err := time.Parse("2006-01-02 15:04:05", strings.Replace(m[1], "T", " ", 1))
		if err == nil {
			l.Time, l.HasTime = ts, true
			if l.Kind == KindOther {
				l.Kind = KindTimestamp
			}
		}
	}
	return l
}

func classifyPayload(line string) Line {
	if m := sessionRe.FindStringSubmatch(line); m != nil {
		sid, _ := strconv.Atoi(m[3])
		fps, _ := strconv.ParseFloat(m[4], 64)
		l := Line{Kind: KindSession, Side: SideTx, Session: sid, FPS: fps}
		if m[1] == "RX" {
			l.Side = SideRx
		}
		if m[5] != "" {
			l.Frames, _ = strconv.ParseInt(m[5], 10, 64)
			l.HasFrames = true
		}
		return l
	}

	if m := deviceRe.FindStringSubmatch(line); m != nil {
		tx, _ := strconv.ParseFloat(m[2], 64)
		rx, _ := strconv.ParseFloat(m[3], 64)
		return Line{Kind: KindDevice, TxMbps: tx, RxMbps: rx}
	}

	if marker := matchMarker(line, InfraMarkers, FatalStartupMarkers); marker != "" {
		return Line{Kind: KindMarker, Marker: marker}
	}

	return Line{Kind: KindOther}
}

func matchMarker(line string, sets ...[]string) string {
	lower := strings.ToLower(line)
	for _, set := range sets {
		for _, m := range set {
			if strings.Contains(lower, m) {
				return m
			}
		}
	}
	return ""
}

// HasInfraMarker reports whether text contains any infrastructure marker.
func HasInfraMarker(text string) bool {
	return matchMarker(text, InfraMarkers) != ""
}

// ScanStartup inspects the first n lines for fatal start-up signatures and
// returns the first offending line.
func ScanStartup(lines []string, n int) (string, bool) {
	if n > 0 && len(lines) > n {
		lines = lines[:n]
	}
	for _, l := range lines {
		if matchMarker(l, FatalStartupMarkers, InfraMarkers) != "" {
			return l, true
		}
	}
	return "", false
}
