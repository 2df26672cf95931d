// Package sampledelay implements a plugin that delays up to two channels
// by a whole number of samples, one ring buffer per channel. Handy for
// aligning parallel chains.
package sampledelay

import (
	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/param"
	"github.com/takt-audio/takt/pkg/processor"
)

const (
	// Name is the uid the plugin factory creates this plugin under.
	Name  = "takt.sample_delay"
	Label = "Sample delay"

	// MaxDelay is the delay line length; one second at 48 kHz.
	MaxDelay = 48000

	delayChannels = 2
)

// Plugin delays each channel independently. The delay parameters take
// effect at the next chunk.
type Plugin struct {
	*processor.Internal

	delay [delayChannels]*param.Parameter
	lines [delayChannels][]float32
	write int
}

// New creates a sample delay plugin.
func New(hostCtl *host.Control) (*Plugin, error) {
	p := &Plugin{
		Internal: processor.NewInternal(hostCtl, Name, Label, delayChannels, delayChannels),
	}
	names := [delayChannels]string{"sample_delay_ch1", "sample_delay_ch2"}
	labels := [delayChannels]string{"Sample delay channel 1", "Sample delay channel 2"}
	for ch := 0; ch < delayChannels; ch++ {
		d, err := p.RegisterIntParameter(names[ch], labels[ch], "samples",
			0, 0, MaxDelay-1, nil)
		if err != nil {
			return nil, err
		}
		p.delay[ch] = d
		p.lines[ch] = make([]float32, MaxDelay)
	}
	return p, nil
}

// ProcessAudio writes the input into the delay lines and reads each
// channel back from its configured distance.
func (p *Plugin) ProcessAudio(in, out *audio.Buffer) {
	channels := in.ChannelCount()
	if out.ChannelCount() < channels {
		channels = out.ChannelCount()
	}
	if channels > delayChannels {
		channels = delayChannels
	}
	for ch := 0; ch < channels; ch++ {
		write := p.write
		read := (write + MaxDelay - p.delay[ch].IntValue()) % MaxDelay
		src, dst := in.Channel(ch), out.Channel(ch)
		line := p.lines[ch]
		for s := 0; s < audio.ChunkSize; s++ {
			line[write] = src[s]
			dst[s] = line[read]
			write = (write + 1) % MaxDelay
			read = (read + 1) % MaxDelay
		}
	}
	p.write = (p.write + audio.ChunkSize) % MaxDelay
}

var _ processor.Processor = (*Plugin)(nil)
