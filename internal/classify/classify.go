// Package classify labels the outcome of one capacity probe.
package classify

import "mtlcap/internal/monitor"

// Label is the outcome category of an iteration.
type Label string

const (
	Pass         Label = "PASS"
	CapacityFail Label = "CAPACITY_FAIL"
	Crash        Label = "CRASH"
	InfraFail    Label = "INFRA_FAIL"
)

// IsFailure reports whether the label narrows the search downward.
func (l Label) IsFailure() bool { return l != Pass }

// Aborts reports whether the label invalidates the whole sweep.
func (l Label) Aborts() bool { return l == InfraFail }

// DriverCrashCodes are the exit statuses produced by signal deaths, the
// shell timeout utility and shells reporting a signal as 128+n.
var DriverCrashCodes = map[int]bool{
	-1: true, -6: true, -9: true, -11: true, -15: true,
	124: true, 134: true, 137: true, 139: true, 143: true,
}

// Input is everything the classifier looks at.
type Input struct {
	ExitCode       int
	CompanionAlive bool
	ExtractorPass  bool
	Detail         string
}

// Classifier labels iteration results. The zero value treats only exit
// code 0 as a clean shutdown.
type Classifier struct {
	// CleanExitCodes are the application's own clean-shutdown statuses.
	CleanExitCodes map[int]bool
}

// Classify applies the rules in precedence order: a dead companion or an
// infrastructure marker is reported before any crash or rate verdict.
func (c Classifier) Classify(in Input) Label {
	if !in.CompanionAlive {
		return InfraFail
	}
	if monitor.HasInfraMarker(in.Detail) {
		return InfraFail
	}
	if c.isCrash(in.ExitCode) {
		return Crash
	}
	if in.ExtractorPass {
		return Pass
	}
	return CapacityFail
}

// Any status outside the clean set is a crash; negative statuses are
// signal deaths.
func (c Classifier) isCrash(code int) bool {
	return code != 0 && !c.CleanExitCodes[code]
}

// IsDriverCrash reports whether code is one of DriverCrashCodes.
func IsDriverCrash(code int) bool {
	return DriverCrashCodes[code]
}

// Classify labels in with the default classifier.
func Classify(in Input) Label {
	return Classifier{}.Classify(in)
}
