// Package param implements the parameter model shared by every processor:
// typed descriptors, the normalised/domain value mapping with optional
// preprocessors, and lock-free value storage readable from the audio thread.
//
// A parameter's externally visible value is always normalised to [0, 1].
// The domain value is what the descriptor range describes (dB, samples, ms)
// and the processed value is what DSP code consumes after the preprocessor
// has run (for a dB parameter the processed value is the linear gain).
package param

import (
	"math"
	"sync/atomic"

	"github.com/takt-audio/takt/pkg/id"
)

// Kind enumerates parameter and property types.
type Kind int

const (
	Float Kind = iota
	Int
	Bool
	StringProperty
	DataProperty
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Float:
		return "float"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case StringProperty:
		return "string"
	case DataProperty:
		return "data"
	}
	return "unknown"
}

// Parameter is one registered parameter or property. Descriptor fields are
// immutable after construction; values are stored in atomics so the audio
// thread reads and writes without locks.
type Parameter struct {
	ID      id.ObjectID
	Name    string
	Label   string
	Unit    string
	Kind    Kind
	Min     float64 // domain range
	Max     float64
	Default float64 // domain default

	pre PreProcessor

	normalized atomic.Uint64 // float64 bits, [0, 1]
	processed  atomic.Uint64 // float64 bits, preprocessor output

	str  atomic.Pointer[string]
	blob atomic.Pointer[[]byte]
}

// NewFloat creates a float parameter. The default and range are in domain
// units. A nil preprocessor clamps to the range.
func NewFloat(name, label, unit string, def, min, max float64, pre PreProcessor) *Parameter {
	if pre == nil {
		pre = Clamp{Min: min, Max: max}
	}
	p := &Parameter{
		ID:      id.New(),
		Name:    name,
		Label:   label,
		Unit:    unit,
		Kind:    Float,
		Min:     min,
		Max:     max,
		Default: def,
		pre:     pre,
	}
	p.SetDomainValue(def)
	return p
}

// NewInt creates an integer parameter. The default and range are in domain
// units.
func NewInt(name, label, unit string, def, min, max int, pre PreProcessor) *Parameter {
	if pre == nil {
		pre = Clamp{Min: float64(min), Max: float64(max)}
	}
	p := &Parameter{
		ID:      id.New(),
		Name:    name,
		Label:   label,
		Unit:    unit,
		Kind:    Int,
		Min:     float64(min),
		Max:     float64(max),
		Default: float64(def),
		pre:     pre,
	}
	p.SetDomainValue(float64(def))
	return p
}

// NewBool creates a boolean parameter.
func NewBool(name, label string, def bool) *Parameter {
	p := &Parameter{
		ID:    id.New(),
		Name:  name,
		Label: label,
		Kind:  Bool,
		Min:   0,
		Max:   1,
		pre:   Clamp{Min: 0, Max: 1},
	}
	if def {
		p.Default = 1
	}
	p.SetDomainValue(p.Default)
	return p
}

// NewStringPropertyParam creates a string property. Properties carry no
// numeric range and are not automatable per sample.
func NewStringPropertyParam(name, label, def string) *Parameter {
	p := &Parameter{
		ID:    id.New(),
		Name:  name,
		Label: label,
		Kind:  StringProperty,
	}
	p.str.Store(&def)
	return p
}

// NewDataPropertyParam creates a binary blob property.
func NewDataPropertyParam(name, label string) *Parameter {
	return &Parameter{
		ID:    id.New(),
		Name:  name,
		Label: label,
		Kind:  DataProperty,
	}
}

// Normalize converts a domain value to normalized (0-1), clamped.
func (p *Parameter) Normalize(domain float64) float64 {
	if p.Max <= p.Min {
		return 0
	}
	n := (domain - p.Min) / (p.Max - p.Min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// Denormalize converts a normalized (0-1) value to the domain range.
func (p *Parameter) Denormalize(normalized float64) float64 {
	return p.Min + normalized*(p.Max-p.Min)
}

// SetNormalized stores a new normalized value and the derived processed
// value. Lock-free; callable from any thread.
func (p *Parameter) SetNormalized(value float64) {
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}
	p.normalized.Store(math.Float64bits(value))
	p.processed.Store(math.Float64bits(p.pre.Process(p.Denormalize(value))))
}

// SetDomainValue stores a new value given in domain units.
func (p *Parameter) SetDomainValue(domain float64) {
	p.SetNormalized(p.Normalize(domain))
}

// NormalizedValue returns the current value in [0, 1].
func (p *Parameter) NormalizedValue() float64 {
	return math.Float64frombits(p.normalized.Load())
}

// DomainValue returns the current value in domain units (the number a
// control surface would display, e.g. dB).
func (p *Parameter) DomainValue() float64 {
	return p.Denormalize(p.NormalizedValue())
}

// ProcessedValue returns the preprocessor output for the current value,
// the number DSP code consumes.
func (p *Parameter) ProcessedValue() float64 {
	return math.Float64frombits(p.processed.Load())
}

// IntValue returns the processed value rounded to the nearest integer.
func (p *Parameter) IntValue() int {
	return int(math.Round(p.ProcessedValue()))
}

// BoolValue reports whether the current value is at least 0.5.
func (p *Parameter) BoolValue() bool {
	return p.ProcessedValue() >= 0.5
}

// StringValue returns the current string property value.
func (p *Parameter) StringValue() string {
	if s := p.str.Load(); s != nil {
		return *s
	}
	return ""
}

// SetStringValue replaces the string property value.
func (p *Parameter) SetStringValue(value string) {
	p.str.Store(&value)
}

// SwapString installs a new string value and returns the previous one.
// A single pointer exchange, safe on the audio thread; the caller owns the
// returned string and is responsible for sending it back for deletion.
func (p *Parameter) SwapString(value *string) *string {
	return p.str.Swap(value)
}

// DataValue returns the current blob property value, nil if unset.
func (p *Parameter) DataValue() []byte {
	if b := p.blob.Load(); b != nil {
		return *b
	}
	return nil
}

// SetDataValue replaces the blob property value.
func (p *Parameter) SetDataValue(value []byte) {
	p.blob.Store(&value)
}

// SwapData installs a new blob value and returns the previous one.
func (p *Parameter) SwapData(value *[]byte) *[]byte {
	return p.blob.Swap(value)
}

// Automatable reports whether the parameter can be driven by sample-rate
// events. Properties are not.
func (p *Parameter) Automatable() bool {
	return p.Kind == Float || p.Kind == Int || p.Kind == Bool
}
