package audio

// MaxCvPorts is the number of CV ports on the engine's control interface.
const MaxCvPorts = 8

// MaxGatePorts is the number of addressable gate ports. Gate states travel
// packed in 32-bit masks.
const MaxGatePorts = 8

// ControlBuffer carries one chunk's worth of CV and gate values alongside
// the audio buffers. CV values are normalised to [0, 1]; gate states are
// stored one bit per port.
type ControlBuffer struct {
	CvIn    [MaxCvPorts]float32
	CvOut   [MaxCvPorts]float32
	GateIn  uint32
	GateOut uint32
}

// GateInHigh reports whether the given gate input port is high.
func (c *ControlBuffer) GateInHigh(port int) bool {
	return c.GateIn&(1<<uint(port)) != 0
}

// SetGateIn sets or clears one gate input bit.
func (c *ControlBuffer) SetGateIn(port int, high bool) {
	if high {
		c.GateIn |= 1 << uint(port)
	} else {
		c.GateIn &^= 1 << uint(port)
	}
}

// GateOutHigh reports whether the given gate output port is high.
func (c *ControlBuffer) GateOutHigh(port int) bool {
	return c.GateOut&(1<<uint(port)) != 0
}

// SetGateOut sets or clears one gate output bit.
func (c *ControlBuffer) SetGateOut(port int, high bool) {
	if high {
		c.GateOut |= 1 << uint(port)
	} else {
		c.GateOut &^= 1 << uint(port)
	}
}

// Clear resets all CV values and gate bits.
func (c *ControlBuffer) Clear() {
	*c = ControlBuffer{}
}
