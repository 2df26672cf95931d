// Package gain implements a single parameter gain plugin. The gain is
// set in decibels and applied as a linear factor, ramped over each chunk
// so changes never click.
package gain

import (
	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/param"
	"github.com/takt-audio/takt/pkg/processor"
)

const (
	// Name is the uid the plugin factory creates this plugin under.
	Name  = "takt.gain"
	Label = "Gain"

	gainDefault = 0.0
	gainMin     = -120.0
	gainMax     = 24.0
)

// Plugin applies a smoothed gain to every channel.
type Plugin struct {
	*processor.Internal

	gain *param.Parameter
	prev float32
}

// New creates a gain plugin.
func New(hostCtl *host.Control) (*Plugin, error) {
	p := &Plugin{
		Internal: processor.NewInternal(hostCtl, Name, Label, audio.MaxChannels, audio.MaxChannels),
	}
	g, err := p.RegisterFloatParameter("gain", "Gain", "dB",
		gainDefault, gainMin, gainMax,
		param.DbToLin{Min: gainMin, Max: gainMax})
	if err != nil {
		return nil, err
	}
	p.gain = g
	return p, nil
}

// Init primes the smoothing so the first chunk is not a fade-in.
func (p *Plugin) Init(sampleRate float64) error {
	if err := p.Internal.Init(sampleRate); err != nil {
		return err
	}
	p.prev = float32(p.gain.ProcessedValue())
	return nil
}

// ProcessAudio copies the input and applies the gain with a chunk-length
// ramp from the previous value.
func (p *Plugin) ProcessAudio(in, out *audio.Buffer) {
	current := float32(p.gain.ProcessedValue())
	out.AdaptFrom(*in)
	out.ApplyGainRamp(p.prev, current)
	p.prev = current
}

var _ processor.Processor = (*Plugin)(nil)
