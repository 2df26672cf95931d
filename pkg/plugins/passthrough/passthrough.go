// Package passthrough implements a plugin that copies its input straight
// to its output. Useful as a chain placeholder and as the minimal plugin
// in tests.
package passthrough

import (
	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/processor"
)

const (
	// Name is the uid the plugin factory creates this plugin under.
	Name  = "takt.passthrough"
	Label = "Passthrough"
)

// Plugin copies audio through with channel adaptation. Keyboard events
// reach the outbound stream through the track mirror, so the plugin has
// no event handling of its own.
type Plugin struct {
	*processor.Internal
}

// New creates a passthrough plugin.
func New(hostCtl *host.Control) (*Plugin, error) {
	return &Plugin{
		Internal: processor.NewInternal(hostCtl, Name, Label, audio.MaxChannels, audio.MaxChannels),
	}, nil
}

// ProcessAudio copies the input to the output.
func (p *Plugin) ProcessAudio(in, out *audio.Buffer) {
	out.AdaptFrom(*in)
}

var _ processor.Processor = (*Plugin)(nil)
