// Package processor defines the contract audio processors fulfil and the
// base types plugins and tracks build on.
package processor

import (
	"sync/atomic"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/event"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/id"
	"github.com/takt-audio/takt/pkg/param"
)

// RtProcessor is the surface the audio thread calls every chunk. No
// method on it may block or allocate.
type RtProcessor interface {
	ID() id.ObjectID
	ProcessAudio(in, out *audio.Buffer)
	ProcessEvent(ev event.RtEvent)
	InputChannels() int
	OutputChannels() int
}

// Processor is the full control surface of a processor. Everything
// beyond RtProcessor is called from non-RT threads only, before the
// processor is inserted into the realtime graph or through the engine's
// serialised mutation path.
type Processor interface {
	RtProcessor

	Name() string
	SetName(name string)
	Label() string

	// Init prepares the processor for the given sample rate; it runs once
	// before first use and may allocate.
	Init(sampleRate float64) error
	// Configure adapts the processor to a new sample rate after Init.
	Configure(sampleRate float64)

	Enabled() bool
	SetEnabled(enabled bool)
	Bypassed() bool
	SetBypassed(bypassed bool)

	SetInputChannels(n int) error
	SetOutputChannels(n int) error
	MaxInputChannels() int
	MaxOutputChannels() int

	Parameters() []*param.Parameter
	Parameter(paramID id.ObjectID) (*param.Parameter, error)
	ParameterByName(name string) (*param.Parameter, error)

	// SetEventOutput installs the queue outbound realtime events are
	// written to.
	SetEventOutput(out *event.RtQueue)

	State() *State
	SetState(s *State, realtimeRunning bool) error
}

// Base carries the bookkeeping every processor shares: identity, channel
// configuration, the enabled and bypass flags and the outbound event
// queue. Embed it by pointer through Internal.
type Base struct {
	id    id.ObjectID
	name  string
	label string
	host  *host.Control

	sampleRate float64
	enabled    atomic.Bool
	bypassed   atomic.Bool

	inCh   int
	outCh  int
	maxIn  int
	maxOut int

	out *event.RtQueue
}

// ID returns the processor's unique id.
func (b *Base) ID() id.ObjectID { return b.id }

// Name returns the unique processor name.
func (b *Base) Name() string { return b.name }

// SetName renames the processor. Call before registration only.
func (b *Base) SetName(name string) { b.name = name }

// Label returns the human readable display name.
func (b *Base) Label() string { return b.label }

// Host returns the host control handed in at construction.
func (b *Base) Host() *host.Control { return b.host }

// SampleRate returns the rate passed to Init or Configure.
func (b *Base) SampleRate() float64 { return b.sampleRate }

// Init stores the sample rate. Processors with allocations to make
// override it and call through.
func (b *Base) Init(sampleRate float64) error {
	b.sampleRate = sampleRate
	return nil
}

// Configure stores a new sample rate.
func (b *Base) Configure(sampleRate float64) {
	b.sampleRate = sampleRate
}

// Enabled reports whether the engine processes this processor.
func (b *Base) Enabled() bool { return b.enabled.Load() }

// SetEnabled flips the processing flag.
func (b *Base) SetEnabled(enabled bool) { b.enabled.Store(enabled) }

// Bypassed reports whether the processor passes audio through unchanged.
func (b *Base) Bypassed() bool { return b.bypassed.Load() }

// SetBypassed flips the bypass flag. Processors that ramp in and out
// override this.
func (b *Base) SetBypassed(bypassed bool) { b.bypassed.Store(bypassed) }

// InputChannels returns the configured input channel count.
func (b *Base) InputChannels() int { return b.inCh }

// OutputChannels returns the configured output channel count.
func (b *Base) OutputChannels() int { return b.outCh }

// MaxInputChannels returns the most input channels the processor
// supports.
func (b *Base) MaxInputChannels() int { return b.maxIn }

// MaxOutputChannels returns the most output channels the processor
// supports.
func (b *Base) MaxOutputChannels() int { return b.maxOut }

// SetInputChannels configures the input width. Fails with
// ErrInvalidChannelCount outside [0, MaxInputChannels].
func (b *Base) SetInputChannels(n int) error {
	if n < 0 || n > b.maxIn {
		return ErrInvalidChannelCount
	}
	b.inCh = n
	return nil
}

// SetOutputChannels configures the output width. Fails with
// ErrInvalidChannelCount outside [0, MaxOutputChannels].
func (b *Base) SetOutputChannels(n int) error {
	if n < 0 || n > b.maxOut {
		return ErrInvalidChannelCount
	}
	b.outCh = n
	return nil
}

// SetEventOutput installs the outbound realtime event queue.
func (b *Base) SetEventOutput(out *event.RtQueue) { b.out = out }

// OutputEvent pushes an event to the outbound queue and reports whether
// it was accepted. Events are dropped silently when no queue is set.
func (b *Base) OutputEvent(ev event.RtEvent) bool {
	if b.out == nil {
		return false
	}
	return b.out.Push(ev)
}

// Internal extends Base with a parameter registry and the default
// realtime event handling for parameter and property changes. Plugins
// embed *Internal and override ProcessEvent or ProcessAudio as needed.
type Internal struct {
	Base
	params *param.Registry
}

// NewInternal creates the shared plugin base. Channel configuration
// starts at the maximum and is narrowed by the engine during insertion.
func NewInternal(hostCtl *host.Control, name, label string, maxIn, maxOut int) *Internal {
	p := &Internal{params: param.NewRegistry()}
	p.Base.id = id.New()
	p.Base.name = name
	p.Base.label = label
	p.Base.host = hostCtl
	p.Base.maxIn = maxIn
	p.Base.maxOut = maxOut
	p.Base.inCh = maxIn
	p.Base.outCh = maxOut
	return p
}

// RegisterFloatParameter adds a float parameter; def, min and max are in
// domain units. A nil preprocessor clamps to the range.
func (p *Internal) RegisterFloatParameter(name, label, unit string, def, min, max float64, pre param.PreProcessor) (*param.Parameter, error) {
	par := param.NewFloat(name, label, unit, def, min, max, pre)
	if err := p.params.Add(par); err != nil {
		return nil, err
	}
	return par, nil
}

// RegisterIntParameter adds an integer parameter.
func (p *Internal) RegisterIntParameter(name, label, unit string, def, min, max int, pre param.PreProcessor) (*param.Parameter, error) {
	par := param.NewInt(name, label, unit, def, min, max, pre)
	if err := p.params.Add(par); err != nil {
		return nil, err
	}
	return par, nil
}

// RegisterBoolParameter adds a boolean parameter.
func (p *Internal) RegisterBoolParameter(name, label string, def bool) (*param.Parameter, error) {
	par := param.NewBool(name, label, def)
	if err := p.params.Add(par); err != nil {
		return nil, err
	}
	return par, nil
}

// RegisterStringProperty adds a string property.
func (p *Internal) RegisterStringProperty(name, label, def string) (*param.Parameter, error) {
	par := param.NewStringPropertyParam(name, label, def)
	if err := p.params.Add(par); err != nil {
		return nil, err
	}
	return par, nil
}

// RegisterDataProperty adds a binary blob property.
func (p *Internal) RegisterDataProperty(name, label string) (*param.Parameter, error) {
	par := param.NewDataPropertyParam(name, label)
	if err := p.params.Add(par); err != nil {
		return nil, err
	}
	return par, nil
}

// Parameters returns all parameters in registration order.
func (p *Internal) Parameters() []*param.Parameter { return p.params.All() }

// Parameter looks a parameter up by id.
func (p *Internal) Parameter(paramID id.ObjectID) (*param.Parameter, error) {
	if par := p.params.Get(paramID); par != nil {
		return par, nil
	}
	return nil, ErrUnknownParameter
}

// ParameterByName looks a parameter up by its unique name.
func (p *Internal) ParameterByName(name string) (*param.Parameter, error) {
	if par := p.params.ByName(name); par != nil {
		return par, nil
	}
	return nil, ErrUnknownParameter
}

// ParameterCount returns the number of registered parameters.
func (p *Internal) ParameterCount() int { return p.params.Count() }

// ProcessAudio of the base copies input to output with channel
// adaptation. Plugins override it.
func (p *Internal) ProcessAudio(in, out *audio.Buffer) {
	out.AdaptFrom(*in)
}

// ProcessEvent applies parameter and property changes. Plugins that
// handle more kinds override it and call through for these.
func (p *Internal) ProcessEvent(ev event.RtEvent) {
	switch ev.Type() {
	case event.RtFloatParameterChange, event.RtIntParameterChange, event.RtBoolParameterChange:
		if par := p.params.Get(ev.ParameterID()); par != nil {
			par.SetNormalized(float64(ev.Value()))
		}
	case event.RtStringPropertyChange:
		if par := p.params.Get(ev.ParameterID()); par != nil {
			if old := par.SwapString(ev.StringValue()); old != nil {
				p.OutputEvent(event.StringDelete(old))
			}
		}
	case event.RtDataPropertyChange:
		if par := p.params.Get(ev.ParameterID()); par != nil {
			v := ev.DataValue()
			if old := par.SwapData(&v); old != nil {
				p.OutputEvent(event.DataDelete(*old))
			}
		}
	}
}

// SetParameterAndNotify stores a normalised value and reports the change
// to the non-RT side. Called from the audio thread when a processor
// moves its own parameters.
func (p *Internal) SetParameterAndNotify(par *param.Parameter, normalized float64) {
	par.SetNormalized(normalized)
	p.OutputEvent(event.ParameterUpdate(p.ID(), par.ID, float32(par.NormalizedValue())))
}

// State snapshots the bypass flag and every parameter and property
// value.
func (p *Internal) State() *State {
	s := &State{}
	bypassed := p.Bypassed()
	s.Bypassed = &bypassed
	for _, par := range p.params.All() {
		switch par.Kind {
		case param.StringProperty:
			s.Properties = append(s.Properties, PropertyValue{ID: par.ID, Value: par.StringValue()})
		case param.DataProperty:
			// Blobs are not part of snapshots.
		default:
			s.Parameters = append(s.Parameters, ParameterValue{ID: par.ID, Value: float32(par.NormalizedValue())})
		}
	}
	return s
}

// SetState restores a snapshot. With the realtime thread running the
// values travel as events through the dispatcher so the audio thread
// applies them in order; otherwise they are written directly.
func (p *Internal) SetState(s *State, realtimeRunning bool) error {
	if s == nil {
		return nil
	}
	if realtimeRunning {
		for _, pv := range s.Parameters {
			p.host.PostEvent(event.NewParameterChangeEvent(event.ParamFloat, p.ID(), pv.ID, pv.Value, event.ImmediateProcess))
		}
		for _, pv := range s.Properties {
			p.host.PostEvent(event.NewPropertyChangeEvent(p.ID(), pv.ID, pv.Value, event.ImmediateProcess))
		}
		if s.Bypassed != nil {
			p.SetBypassed(*s.Bypassed)
		}
		return nil
	}
	var firstErr error
	for _, pv := range s.Parameters {
		par := p.params.Get(pv.ID)
		if par == nil {
			if firstErr == nil {
				firstErr = ErrUnknownParameter
			}
			continue
		}
		par.SetNormalized(float64(pv.Value))
	}
	for _, pv := range s.Properties {
		par := p.params.Get(pv.ID)
		if par == nil {
			if firstErr == nil {
				firstErr = ErrUnknownParameter
			}
			continue
		}
		par.SetStringValue(pv.Value)
	}
	if s.Bypassed != nil {
		p.SetBypassed(*s.Bypassed)
	}
	return firstErr
}

var _ Processor = (*Internal)(nil)
