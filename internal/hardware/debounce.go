package hardware

// Debouncer filters one digital line: a new value must repeat for depth
// consecutive samples before it becomes the reported stable value. Switch
// bounce — bursts shorter than depth samples — never changes the output.
type Debouncer struct {
	depth     int
	stable    bool
	candidate bool
	run       int
}

// NewDebouncer creates a debouncer reporting initial until the line holds
// a different value for depth samples. A depth below 1 is treated as 1
// (no debouncing).
func NewDebouncer(depth int, initial bool) *Debouncer {
	if depth < 1 {
		depth = 1
	}
	return &Debouncer{depth: depth, stable: initial, candidate: initial}
}

// Sample feeds one raw reading and returns the stable value afterwards.
func (d *Debouncer) Sample(v bool) bool {
	if v == d.stable {
		d.candidate = d.stable
		d.run = 0
		return d.stable
	}
	if v != d.candidate {
		d.candidate = v
		d.run = 0
	}
	d.run++
	if d.run >= d.depth {
		d.stable = d.candidate
		d.run = 0
	}
	return d.stable
}

// Stable returns the current debounced value without sampling.
func (d *Debouncer) Stable() bool { return d.stable }
