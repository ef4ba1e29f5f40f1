package scenario

import (
	"errors"
	"testing"
	"time"

	pkgerrors "mtlcap/pkg/errors"
)

const sampleYAML = `
version: 1
name: tx-1080p
direction: send
redundant: false
core_mode: multi
fps: 59.94
resolution: 1080p
accelerator: false
duration: 60s
measured:
  name: dut
  build_dir: /opt/mtl
  work_dir: /tmp/mtl
  nics: ["0000:4b:01.0", "0000:4b:01.1"]
companion:
  name: partner
  address: partner.lab
  build_dir: /opt/mtl
  work_dir: /tmp/mtl
  nics: ["0000:31:01.0", "0000:31:01.1"]
`

func validDescriptor() *Descriptor {
	return &Descriptor{
		Name:       "test",
		Direction:  DirectionSend,
		CoreMode:   CoreModeSingle,
		FPS:        50,
		Resolution: "1080p",
		Duration:   30 * time.Second,
		Measured:   HostSpec{Name: "dut", BuildDir: "/opt/mtl", NICs: []string{"0000:4b:01.0"}},
		Companion:  HostSpec{Name: "partner", BuildDir: "/opt/mtl", NICs: []string{"0000:31:01.0"}},
	}
}

func TestParse(t *testing.T) {
	d, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.Direction != DirectionSend || d.CoreMode != CoreModeMulti {
		t.Errorf("unexpected axes: %+v", d)
	}
	if d.Duration != 60*time.Second {
		t.Errorf("Duration = %v, want 60s", d.Duration)
	}
	if d.Companion.IsLocal() {
		t.Error("companion with an address must not be local")
	}
	if !d.Measured.IsLocal() {
		t.Error("measured without an address must be local")
	}
	r, pf := d.Format()
	if r.Width != 1920 || pf != DefaultPixelFormat {
		t.Errorf("Format() = %+v %q", r, pf)
	}
}

func TestParseRejectsUnknownOption(t *testing.T) {
	_, err := Parse([]byte(sampleYAML + "turbo: true\n"))
	if !errors.Is(err, pkgerrors.ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
}

func TestParseRejectsVersion(t *testing.T) {
	_, err := Parse([]byte("version: 2\n"))
	var se *pkgerrors.ScenarioError
	if !errors.As(err, &se) || se.Field != "version" {
		t.Fatalf("expected version ScenarioError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Descriptor)
		field  string
	}{
		{"valid", func(d *Descriptor) {}, ""},
		{"bad direction", func(d *Descriptor) { d.Direction = "sideways" }, "direction"},
		{"bad core mode", func(d *Descriptor) { d.CoreMode = "some" }, "core_mode"},
		{"zero fps", func(d *Descriptor) { d.FPS = 0 }, "fps"},
		{"unknown resolution", func(d *Descriptor) { d.Resolution = "999p" }, "resolution"},
		{"zero duration", func(d *Descriptor) { d.Duration = 0 }, "duration"},
		{"redundant needs second nic", func(d *Descriptor) { d.Redundant = true }, "measured.nics"},
		{"redundant companion", func(d *Descriptor) {
			d.Redundant = true
			d.Measured.NICs = append(d.Measured.NICs, "0000:4b:01.1")
		}, "companion.nics"},
		{"accelerator without device", func(d *Descriptor) { d.UseAccelerator = true }, "measured.accelerator"},
		{"same host", func(d *Descriptor) { d.Companion.Name = "dut" }, "companion.name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(d)
			err := d.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var se *pkgerrors.ScenarioError
			if !errors.As(err, &se) {
				t.Fatalf("expected ScenarioError, got %v", err)
			}
			if se.Field != tt.field {
				t.Errorf("Field = %q, want %q", se.Field, tt.field)
			}
			if !errors.Is(err, pkgerrors.ErrInvalidScenario) {
				t.Errorf("error should wrap ErrInvalidScenario: %v", err)
			}
		})
	}
}

func TestMatrixExpand(t *testing.T) {
	base := validDescriptor()
	m := Matrix{
		Directions: []Direction{DirectionSend, DirectionReceive},
		Redundancy: []bool{false, true},
		FPS:        []float64{50, 59.94},
	}

	got, errs := m.Expand(base)
	// Redundant combinations are rejected because the hosts have one NIC each.
	if len(got) != 4 {
		t.Errorf("expected 4 valid combinations, got %d", len(got))
	}
	if len(errs) != 4 {
		t.Errorf("expected 4 rejected combinations, got %d", len(errs))
	}
	for _, d := range got {
		if d.Redundant {
			t.Errorf("redundant combination should have been rejected: %s", d.Name)
		}
		if d.Name != d.Label() {
			t.Errorf("Name = %q, want label %q", d.Name, d.Label())
		}
	}

	got[0].Measured.NICs[0] = "changed"
	if base.Measured.NICs[0] == "changed" {
		t.Error("expanded descriptors must not share NIC slices with the base")
	}
}
