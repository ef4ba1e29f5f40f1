// Package command builds the RxTxApp command line and JSON session
// configuration for one side of an iteration.
package command

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"mtlcap/internal/scenario"
	pkgerrors "mtlcap/pkg/errors"
)

// Role is the part a host plays in an iteration.
type Role string

const (
	RoleMeasured  Role = "measured"
	RoleCompanion Role = "companion"
)

// DefaultAppPath is the RxTxApp binary relative to a host build directory.
const DefaultAppPath = "tests/tools/RxTxApp/build/RxTxApp"

// IPPlan assigns addresses to the ports of both hosts. It is passed to the
// builder explicitly so repeated sweeps never share address state.
type IPPlan struct {
	MeasuredIPs  []string `json:"measured_ips"`
	CompanionIPs []string `json:"companion_ips"`
	// Multicast groups per port; unicast to the peer when empty.
	Multicast   []string `json:"multicast,omitempty"`
	StartPort   int      `json:"start_port"`
	PayloadType int      `json:"payload_type"`
}

// DefaultIPPlan returns the addresses used by the reference lab setup.
func DefaultIPPlan() IPPlan {
	return IPPlan{
		MeasuredIPs:  []string{"192.168.17.101", "192.168.18.101"},
		CompanionIPs: []string{"192.168.17.102", "192.168.18.102"},
		Multicast:    []string{"239.168.17.1", "239.168.18.1"},
		StartPort:    20000,
		PayloadType:  112,
	}
}

// Options configures a Builder.
type Options struct {
	AppPath string
	// MediaDir holds the raw source files read by transmitting sessions.
	MediaDir string
	Plan     IPPlan
}

// Invocation is everything needed to start one side of an iteration.
type Invocation struct {
	Role    Role              `json:"role"`
	Host    scenario.HostSpec `json:"host"`
	Command string            `json:"command"`
	WorkDir string            `json:"work_dir"`
	// ConfigPath and LogPath live on Host.
	ConfigPath string        `json:"config_path"`
	LogPath    string        `json:"log_path"`
	Config     *AppConfig    `json:"config"`
	TestTime   time.Duration `json:"test_time"`
	Transmits  bool          `json:"transmits"`
}

// ConfigJSON renders the session configuration written to ConfigPath.
func (inv *Invocation) ConfigJSON() ([]byte, error) {
	return json.MarshalIndent(inv.Config, "", "  ")
}

// Builder produces invocations for attempts.
type Builder struct {
	opts Options
}

// NewBuilder creates a Builder, filling unset options with defaults.
func NewBuilder(opts Options) *Builder {
	if opts.AppPath == "" {
		opts.AppPath = DefaultAppPath
	}
	if opts.MediaDir == "" {
		opts.MediaDir = "/mnt/media"
	}
	if len(opts.Plan.MeasuredIPs) == 0 {
		opts.Plan = DefaultIPPlan()
	}
	return &Builder{opts: opts}
}

// Build returns the invocation for role in attempt a, running for testTime.
func (b *Builder) Build(a scenario.Attempt, role Role, testTime time.Duration) (*Invocation, error) {
	sc := a.Scenario
	if a.Sessions < 1 {
		return nil, &pkgerrors.ProbeError{Sessions: a.Sessions, Err: pkgerrors.ErrInvalidProbe}
	}

	ports := 1
	if sc.Redundant {
		ports = 2
	}
	plan := b.opts.Plan
	if len(plan.MeasuredIPs) < ports || len(plan.CompanionIPs) < ports {
		return nil, fmt.Errorf("ip plan has fewer addresses than the %d ports required", ports)
	}

	host := sc.Measured
	ownIPs, peerIPs := plan.MeasuredIPs, plan.CompanionIPs
	if role == RoleCompanion {
		host = sc.Companion
		ownIPs, peerIPs = plan.CompanionIPs, plan.MeasuredIPs
	}
	if len(host.NICs) < ports {
		return nil, &pkgerrors.HostError{Host: host.Name, Err: fmt.Errorf("need %d NICs, have %d", ports, len(host.NICs))}
	}

	transmits := (sc.Direction == scenario.DirectionSend) == (role == RoleMeasured)

	cfg := &AppConfig{TxSessions: []SessionGroup{}, RxSessions: []SessionGroup{}}
	group := SessionGroup{}
	for i := 0; i < ports; i++ {
		cfg.Interfaces = append(cfg.Interfaces, InterfaceConfig{Name: host.NICs[i], IP: ownIPs[i]})
		group.Interface = append(group.Interface, i)
		remote := peerIPs[i]
		if i < len(plan.Multicast) && plan.Multicast[i] != "" {
			remote = plan.Multicast[i]
		}
		if transmits {
			group.IP = append(group.IP, remote)
		} else {
			group.SourceIP = append(group.SourceIP, remote)
		}
	}
	group.ST20P = []ST20PSpec{b.session(sc, a.Sessions, transmits)}
	if transmits {
		cfg.TxSessions = append(cfg.TxSessions, group)
	} else {
		cfg.RxSessions = append(cfg.RxSessions, group)
	}

	workDir := host.WorkDir
	if workDir == "" {
		workDir = host.BuildDir
	}
	base := path.Join(workDir, "mtlcap", fmt.Sprintf("%s-%03d-%d-%s", sc.Label(), a.Index, a.Sessions, role))

	inv := &Invocation{
		Role:       role,
		Host:       host,
		WorkDir:    workDir,
		ConfigPath: base + ".json",
		LogPath:    base + ".log",
		Config:     cfg,
		TestTime:   testTime,
		Transmits:  transmits,
	}
	inv.Command = b.commandLine(sc, a.Sessions, inv)
	return inv, nil
}

func (b *Builder) session(sc *scenario.Descriptor, sessions int, transmits bool) ST20PSpec {
	res, pf := sc.Format()
	s := ST20PSpec{
		Replicas:        sessions,
		StartPort:       b.opts.Plan.StartPort,
		PayloadType:     b.opts.Plan.PayloadType,
		Width:           res.Width,
		Height:          res.Height,
		FPS:             FPSName(sc.FPS),
		Device:          "AUTO",
		Pacing:          "narrow",
		Packing:         "BPM",
		TransportFormat: TransportFormat(pf),
	}
	if transmits {
		s.InputFormat = pf
		s.URL = path.Join(b.opts.MediaDir, fmt.Sprintf("%s_%s.yuv", res.Name, strings.ToLower(pf)))
	} else {
		off := false
		s.OutputFormat = pf
		s.Display = &off
		s.MeasureLatency = &off
	}
	return s
}

func (b *Builder) commandLine(sc *scenario.Descriptor, sessions int, inv *Invocation) string {
	args := []string{
		path.Join(inv.Host.BuildDir, b.opts.AppPath),
		"--config_file", inv.ConfigPath,
		"--test_time", fmt.Sprintf("%d", int(math.Ceil(inv.TestTime.Seconds()))),
	}
	// Core pinning and offload only apply to the profiled side; the
	// companion always runs unconstrained.
	if inv.Role == RoleMeasured {
		if sc.CoreMode == scenario.CoreModeSingle {
			args = append(args, "--sch_session_quota", fmt.Sprintf("%d", sessions))
		}
		if sc.UseAccelerator && inv.Host.Accelerator != "" {
			args = append(args, "--dma_dev", inv.Host.Accelerator)
		}
	}
	return strings.Join(args, " ")
}

// FPSName converts a frame rate to the application's rate token.
func FPSName(fps float64) string {
	switch {
	case math.Abs(fps-59.94) < 0.01:
		return "p59"
	case math.Abs(fps-29.97) < 0.01:
		return "p29"
	case math.Abs(fps-23.98) < 0.01:
		return "p23"
	case math.Abs(fps-119.88) < 0.01:
		return "p119"
	}
	return fmt.Sprintf("p%d", int(math.Round(fps)))
}

// TransportFormat maps a pixel format to its wire format.
func TransportFormat(pixelFormat string) string {
	pf := strings.ToUpper(pixelFormat)
	switch {
	case strings.Contains(pf, "444") && strings.Contains(pf, "12"):
		return "YUV_444_12bit"
	case strings.Contains(pf, "444"):
		return "YUV_444_10bit"
	case strings.Contains(pf, "422") && strings.Contains(pf, "8"):
		return "YUV_422_8bit"
	case strings.Contains(pf, "422") && strings.Contains(pf, "12"):
		return "YUV_422_12bit"
	}
	return "YUV_422_10bit"
}
