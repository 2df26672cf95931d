// Package plugins bundles the internal plugin set and the factory the
// engine loads it through.
package plugins

import (
	"errors"
	"fmt"

	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/plugins/gain"
	"github.com/takt-audio/takt/pkg/plugins/gate"
	"github.com/takt-audio/takt/pkg/plugins/passthrough"
	"github.com/takt-audio/takt/pkg/plugins/sampledelay"
	"github.com/takt-audio/takt/pkg/plugins/wavwriter"
	"github.com/takt-audio/takt/pkg/processor"
)

// ErrUnknownPlugin is returned for a uid the factory does not know.
var ErrUnknownPlugin = errors.New("plugins: unknown plugin")

// Factory creates internal plugins by uid. It satisfies the engine's
// plugin factory signature.
func Factory(uid string, hostCtl *host.Control) (processor.Processor, error) {
	switch uid {
	case passthrough.Name:
		return passthrough.New(hostCtl)
	case gain.Name:
		return gain.New(hostCtl)
	case sampledelay.Name:
		return sampledelay.New(hostCtl)
	case gate.Name:
		return gate.New(hostCtl)
	case wavwriter.Name:
		return wavwriter.New(hostCtl)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, uid)
}

// Names lists the uids the factory knows, in a stable order.
func Names() []string {
	return []string{passthrough.Name, gain.Name, sampledelay.Name, gate.Name, wavwriter.Name}
}
