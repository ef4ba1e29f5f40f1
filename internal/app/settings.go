package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"mtlcap/internal/command"
	"mtlcap/internal/device"
	"mtlcap/internal/executor"
	"mtlcap/internal/storage"
	pkgerrors "mtlcap/pkg/errors"
)

// setting describes one key of the settings table.
type setting struct {
	def   string
	help  string
	apply func(s *Settings, v string) error
}

// Defaults holds the default value of every known setting. The settings
// table is seeded with the same values.
var Defaults = map[string]string{}

var known = map[string]setting{
	"warm_up": {"10s", "rate samples ignored after the first timestamp",
		durationField(func(s *Settings) *time.Duration { return &s.WarmUp })},
	"cool_down": {"5s", "rate samples ignored before the last timestamp",
		durationField(func(s *Settings) *time.Duration { return &s.CoolDown })},
	"threshold": {"0.99", "fraction of the target frame rate a session must reach",
		func(s *Settings, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			if f <= 0 || f > 1 {
				return fmt.Errorf("must be in (0, 1], got %v", f)
			}
			s.Threshold = f
			return nil
		}},
	"settle": {"10s", "wait after starting the companion",
		durationField(func(s *Settings) *time.Duration { return &s.Settle })},
	"companion_grace": {"10s", "companion run time left after the measured run",
		durationField(func(s *Settings) *time.Duration { return &s.CompanionGrace })},
	"timeout_buffer": {"30s", "added to the test duration to bound processes",
		durationField(func(s *Settings) *time.Duration { return &s.TimeoutBuffer })},
	"drain": {"2s", "wait before reading the companion log",
		durationField(func(s *Settings) *time.Duration { return &s.Drain })},
	"startup_scan_lines": {"50", "companion log lines scanned for fatal startup errors",
		func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			if n < 1 {
				return fmt.Errorf("must be positive, got %d", n)
			}
			s.StartupScanLines = n
			return nil
		}},
	"link_recovery": {"10s", "wait for links after a full device reset",
		durationField(func(s *Settings) *time.Duration { return &s.LinkRecovery })},
	"rebind_settle": {"2s", "wait after rebinding a stray function",
		durationField(func(s *Settings) *time.Duration { return &s.RebindSettle })},
	"driver": {device.DefaultDriver, "user-space driver for NIC functions",
		stringField(func(s *Settings) *string { return &s.Driver })},
	"devbind": {"dpdk-devbind.py", "driver binding script on the hosts",
		stringField(func(s *Settings) *string { return &s.DevBind })},
	"sudo": {"false", "run privileged host commands through sudo -n",
		func(s *Settings, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			s.Sudo = b
			return nil
		}},
	"stale_patterns": {"RxTxApp", "comma separated process patterns killed before each iteration",
		func(s *Settings, v string) error {
			s.StalePatterns = splitList(v)
			return nil
		}},
	"clean_exit_codes": {"0", "comma separated exit codes treated as a clean shutdown",
		func(s *Settings, v string) error {
			codes := map[int]bool{}
			for _, f := range splitList(v) {
				n, err := strconv.Atoi(f)
				if err != nil {
					return err
				}
				codes[n] = true
			}
			s.CleanExitCodes = codes
			return nil
		}},
	"app_path": {command.DefaultAppPath, "media application relative to a host build directory",
		stringField(func(s *Settings) *string { return &s.AppPath })},
	"media_dir": {"/mnt/media", "directory of raw source media on the hosts",
		stringField(func(s *Settings) *string { return &s.MediaDir })},
	"log_level": {"info", "default log level",
		func(s *Settings, v string) error {
			switch strings.ToLower(v) {
			case "debug", "info", "warn", "warning", "error", "critical", "fatal":
			default:
				return fmt.Errorf("unknown level %q", v)
			}
			s.LogLevel = strings.ToLower(v)
			return nil
		}},
}

// choices lists the accepted values of enumerated settings, in display order.
var choices = map[string][]string{
	"sudo":      {"false", "true"},
	"log_level": {"debug", "info", "warn", "error"},
}

func init() {
	for k, s := range known {
		Defaults[k] = s.def
	}
}

func durationField(field func(*Settings) *time.Duration) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		if d < 0 {
			return fmt.Errorf("must not be negative, got %v", d)
		}
		*field(s) = d
		return nil
	}
}

func stringField(field func(*Settings) *string) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		if v == "" {
			return fmt.Errorf("must not be empty")
		}
		*field(s) = v
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Settings is the typed view of the settings table.
type Settings struct {
	WarmUp           time.Duration
	CoolDown         time.Duration
	Threshold        float64
	Settle           time.Duration
	CompanionGrace   time.Duration
	TimeoutBuffer    time.Duration
	Drain            time.Duration
	StartupScanLines int

	LinkRecovery  time.Duration
	RebindSettle  time.Duration
	Driver        string
	DevBind       string
	Sudo          bool
	StalePatterns []string

	CleanExitCodes map[int]bool
	AppPath        string
	MediaDir       string
	LogLevel       string
}

// DefaultSettings returns the settings with every key at its default.
func DefaultSettings() Settings {
	var s Settings
	for k, def := range Defaults {
		if err := known[k].apply(&s, def); err != nil {
			panic(fmt.Sprintf("bad default for setting %s: %v", k, err))
		}
	}
	return s
}

// Set parses value into the setting named key.
func (s *Settings) Set(key, value string) error {
	def, ok := known[key]
	if !ok {
		return fmt.Errorf("%w: %s", pkgerrors.ErrUnknownOption, key)
	}
	if err := def.apply(s, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}

// ValidateSetting reports whether value is acceptable for key.
func ValidateSetting(key, value string) error {
	s := DefaultSettings()
	return s.Set(key, value)
}

// SettingKeys returns the known setting keys, sorted.
func SettingKeys() []string {
	keys := make([]string, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SettingHelp returns the description of key.
func SettingHelp(key string) string { return known[key].help }

// SettingInfo describes one setting for display.
type SettingInfo struct {
	Key     string
	Default string
	Help    string
	// Choices is set for settings restricted to a few values.
	Choices []string
}

// SettingInfos describes every known setting, sorted by key.
func SettingInfos() []SettingInfo {
	keys := SettingKeys()
	out := make([]SettingInfo, len(keys))
	for i, k := range keys {
		out[i] = SettingInfo{Key: k, Default: known[k].def, Help: known[k].help, Choices: choices[k]}
	}
	return out
}

// LoadSettings reads the settings table. Unknown keys are ignored and
// missing keys keep their defaults; a stored value that does not parse is an
// error.
func LoadSettings(ctx context.Context, store storage.Storage) (Settings, error) {
	s := DefaultSettings()
	all, err := store.GetAllSettings(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}
	for _, k := range SettingKeys() {
		v, ok := all[k]
		if !ok {
			continue
		}
		if err := s.Set(k, v); err != nil {
			return s, err
		}
	}
	return s, nil
}

// ExecutorConfig returns the iteration protocol configuration.
func (s Settings) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Settle = s.Settle
	cfg.CompanionGrace = s.CompanionGrace
	cfg.TimeoutBuffer = s.TimeoutBuffer
	cfg.Drain = s.Drain
	cfg.StartupScanLines = s.StartupScanLines
	cfg.Threshold = s.Threshold
	cfg.WarmUp = s.WarmUp
	cfg.CoolDown = s.CoolDown
	cfg.CleanExitCodes = s.CleanExitCodes
	return cfg
}

// DeviceConfig returns the recovery configuration.
func (s Settings) DeviceConfig() device.Config {
	return device.Config{
		Driver:        s.Driver,
		LinkRecovery:  s.LinkRecovery,
		RebindSettle:  s.RebindSettle,
		StalePatterns: s.StalePatterns,
	}
}

// CommandOptions returns the command construction options.
func (s Settings) CommandOptions() command.Options {
	return command.Options{
		AppPath:  s.AppPath,
		MediaDir: s.MediaDir,
		Plan:     command.DefaultIPPlan(),
	}
}
