package scenario

// Matrix enumerates scenario axis combinations over a base descriptor.
// An empty axis keeps the base value.
type Matrix struct {
	Directions  []Direction
	Redundancy  []bool
	CoreModes   []CoreMode
	FPS         []float64
	Resolutions []string
	Accelerator []bool
}

// Expand returns one validated descriptor per combination, in a stable order.
// Combinations that fail validation (for instance redundancy on hosts with a
// single NIC) are skipped and reported through the second return value.
func (m Matrix) Expand(base *Descriptor) ([]*Descriptor, []error) {
	dirs := m.Directions
	if len(dirs) == 0 {
		dirs = []Direction{base.Direction}
	}
	reds := m.Redundancy
	if len(reds) == 0 {
		reds = []bool{base.Redundant}
	}
	modes := m.CoreModes
	if len(modes) == 0 {
		modes = []CoreMode{base.CoreMode}
	}
	rates := m.FPS
	if len(rates) == 0 {
		rates = []float64{base.FPS}
	}
	res := m.Resolutions
	if len(res) == 0 {
		res = []string{base.Resolution}
	}
	accels := m.Accelerator
	if len(accels) == 0 {
		accels = []bool{base.UseAccelerator}
	}

	var out []*Descriptor
	var errs []error
	for _, dir := range dirs {
		for _, red := range reds {
			for _, mode := range modes {
				for _, fps := range rates {
					for _, r := range res {
						for _, accel := range accels {
							d := base.Clone()
							d.Direction = dir
							d.Redundant = red
							d.CoreMode = mode
							d.FPS = fps
							d.Resolution = r
							d.UseAccelerator = accel
							d.Name = d.Label()
							if err := d.Validate(); err != nil {
								errs = append(errs, err)
								continue
							}
							out = append(out, d)
						}
					}
				}
			}
		}
	}
	return out, errs
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Measured.NICs = append([]string(nil), d.Measured.NICs...)
	c.Companion.NICs = append([]string(nil), d.Companion.NICs...)
	return &c
}
