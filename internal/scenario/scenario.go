package scenario

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "mtlcap/pkg/errors"
)

// SchemaVersion is the only scenario file version this build understands.
const SchemaVersion = 1

// Direction is the media direction exercised on the measured host.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// CoreMode selects how sessions are pinned to scheduler cores.
type CoreMode string

const (
	CoreModeSingle CoreMode = "single"
	CoreModeMulti  CoreMode = "multi"
)

// Resolution is a named video format.
type Resolution struct {
	Name   string
	Width  int
	Height int
}

var resolutions = map[string]Resolution{
	"720p":  {Name: "720p", Width: 1280, Height: 720},
	"1080p": {Name: "1080p", Width: 1920, Height: 1080},
	"2160p": {Name: "2160p", Width: 3840, Height: 2160},
	"4k":    {Name: "2160p", Width: 3840, Height: 2160},
	"4320p": {Name: "4320p", Width: 7680, Height: 4320},
}

// LookupResolution resolves a resolution name such as "1080p".
func LookupResolution(name string) (Resolution, bool) {
	r, ok := resolutions[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// HostSpec describes one of the two hosts taking part in a sweep.
type HostSpec struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"` // ssh target; empty means local
	// BuildDir is the media transport build tree containing the application binary.
	BuildDir string `yaml:"build_dir" json:"build_dir"`
	WorkDir  string `yaml:"work_dir" json:"work_dir"`
	// NICs lists virtual function PCI addresses; the second one is used for redundancy.
	NICs        []string `yaml:"nics" json:"nics"`
	Accelerator string   `yaml:"accelerator,omitempty" json:"accelerator,omitempty"`
}

// IsLocal reports whether commands for this host run on the local machine.
func (h HostSpec) IsLocal() bool {
	return h.Address == "" || h.Address == "local" || h.Address == "localhost"
}

// Descriptor fully describes one capacity scenario. It is built once per
// sweep and must not be modified afterwards.
type Descriptor struct {
	Name           string        `yaml:"name" json:"name"`
	Direction      Direction     `yaml:"direction" json:"direction"`
	Redundant      bool          `yaml:"redundant" json:"redundant"`
	CoreMode       CoreMode      `yaml:"core_mode" json:"core_mode"`
	FPS            float64       `yaml:"fps" json:"fps"`
	Resolution     string        `yaml:"resolution" json:"resolution"`
	PixelFormat    string        `yaml:"pixel_format,omitempty" json:"pixel_format,omitempty"`
	UseAccelerator bool          `yaml:"accelerator" json:"accelerator"`
	Duration       time.Duration `yaml:"duration" json:"duration"`

	Measured  HostSpec `yaml:"measured" json:"measured"`
	Companion HostSpec `yaml:"companion" json:"companion"`
}

// DefaultPixelFormat is used when a scenario does not name one.
const DefaultPixelFormat = "YUV422RFC4175PG2BE10"

// Validate checks the descriptor invariants.
func (d *Descriptor) Validate() error {
	switch d.Direction {
	case DirectionSend, DirectionReceive:
	default:
		return invalid("direction", fmt.Errorf("must be %q or %q, got %q", DirectionSend, DirectionReceive, d.Direction))
	}
	switch d.CoreMode {
	case CoreModeSingle, CoreModeMulti:
	default:
		return invalid("core_mode", fmt.Errorf("must be %q or %q, got %q", CoreModeSingle, CoreModeMulti, d.CoreMode))
	}
	if d.FPS <= 0 {
		return invalid("fps", fmt.Errorf("must be positive, got %v", d.FPS))
	}
	if _, ok := LookupResolution(d.Resolution); !ok {
		return invalid("resolution", fmt.Errorf("unknown resolution %q", d.Resolution))
	}
	if d.Duration <= 0 {
		return invalid("duration", fmt.Errorf("must be positive, got %v", d.Duration))
	}

	if err := validateHost("measured", d.Measured, d); err != nil {
		return err
	}
	if err := validateHost("companion", d.Companion, d); err != nil {
		return err
	}
	if d.Measured.Name == d.Companion.Name {
		return invalid("companion.name", fmt.Errorf("measured and companion hosts must differ, both are %q", d.Measured.Name))
	}
	return nil
}

func validateHost(field string, h HostSpec, d *Descriptor) error {
	if h.Name == "" {
		return invalid(field+".name", fmt.Errorf("is required"))
	}
	if h.BuildDir == "" {
		return invalid(field+".build_dir", fmt.Errorf("is required"))
	}
	if len(h.NICs) == 0 {
		return invalid(field+".nics", fmt.Errorf("at least one NIC is required"))
	}
	if d.Redundant && len(h.NICs) < 2 {
		return invalid(field+".nics", fmt.Errorf("redundancy requires a second NIC, got %d", len(h.NICs)))
	}
	if d.UseAccelerator && field == "measured" && h.Accelerator == "" {
		return invalid(field+".accelerator", fmt.Errorf("accelerator requested but no device given"))
	}
	return nil
}

func invalid(field string, err error) error {
	return &pkgerrors.ScenarioError{Field: field, Err: fmt.Errorf("%w: %v", pkgerrors.ErrInvalidScenario, err)}
}

// Format returns the resolved resolution and pixel format.
func (d *Descriptor) Format() (Resolution, string) {
	r, _ := LookupResolution(d.Resolution)
	pf := d.PixelFormat
	if pf == "" {
		pf = DefaultPixelFormat
	}
	return r, pf
}

// Hosts returns the measured and companion host specs in that order.
func (d *Descriptor) Hosts() []HostSpec {
	return []HostSpec{d.Measured, d.Companion}
}

// Label is a short human readable identifier for logs and reports.
func (d *Descriptor) Label() string {
	red := "single-path"
	if d.Redundant {
		red = "redundant"
	}
	accel := ""
	if d.UseAccelerator {
		accel = "-accel"
	}
	return fmt.Sprintf("%s-%s-%s-%s-%gfps%s", d.Direction, red, d.CoreMode, d.Resolution, d.FPS, accel)
}

// Attempt is one session-count probe of a scenario.
type Attempt struct {
	Scenario *Descriptor
	Sessions int
	// Index is the zero-based position of the attempt in its sweep.
	Index int
}
