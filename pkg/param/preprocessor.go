package param

import "math"

// MinDb is the decibel floor treated as silence.
const MinDb = -200.0

// A PreProcessor maps a parameter's denormalised domain value to the value
// DSP code consumes. Process must be pure and cheap; it runs on the audio
// thread when parameter change events are applied.
type PreProcessor interface {
	Process(value float64) float64
}

// Identity passes values through untouched.
type Identity struct{}

// Process returns value unchanged.
func (Identity) Process(value float64) float64 { return value }

// Clamp limits values to [Min, Max]. The default preprocessor for float,
// int and bool parameters.
type Clamp struct {
	Min, Max float64
}

// Process returns value clamped to the range.
func (c Clamp) Process(value float64) float64 {
	if value < c.Min {
		return c.Min
	}
	if value > c.Max {
		return c.Max
	}
	return value
}

// DbToLin clamps a decibel value to [Min, Max] and converts it to linear
// gain, so DSP code reads a ready-to-multiply factor.
type DbToLin struct {
	Min, Max float64
}

// Process returns the linear gain for the clamped dB value.
func (d DbToLin) Process(value float64) float64 {
	if value < d.Min {
		value = d.Min
	} else if value > d.Max {
		value = d.Max
	}
	return DbToLinear(value)
}

// DbToLinear converts decibels to linear amplitude. Values at or below
// MinDb return 0.
func DbToLinear(db float64) float64 {
	if db <= MinDb {
		return 0
	}
	return math.Pow(10.0, db/20.0)
}

// LinearToDb converts linear amplitude to decibels. Values <= 0 return
// MinDb.
func LinearToDb(linear float64) float64 {
	if linear <= 0 {
		return MinDb
	}
	return 20.0 * math.Log10(linear)
}
