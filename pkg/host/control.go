// Package host gives processors a narrow view of the services the engine
// hosts for them: posting events to the dispatcher and reading the
// transport.
package host

import (
	"github.com/takt-audio/takt/pkg/event"
	"github.com/takt-audio/takt/pkg/transport"
)

// EventPoster accepts non-RT events for dispatch. The event dispatcher
// implements it.
type EventPoster interface {
	PostEvent(ev event.Event)
}

// Control is the facade handed to every processor at construction.
type Control struct {
	transport *transport.Transport
	poster    EventPoster
}

// NewControl creates a host control over the given transport and poster.
// A nil poster drops posted events, which keeps processors usable in
// isolation.
func NewControl(tr *transport.Transport, poster EventPoster) *Control {
	return &Control{transport: tr, poster: poster}
}

// PostEvent hands an event to the dispatcher. Safe to call from any
// non-RT thread.
func (c *Control) PostEvent(ev event.Event) {
	if c.poster != nil {
		c.poster.PostEvent(ev)
	}
}

// Transport returns the shared transport for position and tempo queries.
func (c *Control) Transport() *transport.Transport {
	return c.transport
}
