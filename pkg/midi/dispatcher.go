// Package midi translates between raw MIDI messages and engine events.
// Inbound messages are decoded and routed to tracks or parameters per
// the configured connections; keyboard events leaving the engine are
// encoded back to MIDI on the connected output ports.
package midi

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/takt-audio/takt/pkg/event"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/id"
)

// OmniChannel connects a port on all sixteen MIDI channels.
const OmniChannel = -1

const (
	modWheelController = 1
	maxDataByte        = 127
	pitchBendRange     = 8192
)

var (
	ErrInvalidPort       = errors.New("midi: invalid port")
	ErrInvalidChannel    = errors.New("midi: invalid channel")
	ErrInvalidController = errors.New("midi: invalid controller")
)

// Sender delivers an encoded message to a MIDI output port. Frontends
// install one backed by the platform MIDI driver.
type Sender func(port int, msg gomidi.Message)

type kbConnection struct {
	track   id.ObjectID
	channel int
	raw     bool
}

type ccConnection struct {
	processor id.ObjectID
	parameter id.ObjectID
	cc        uint8
	channel   int
	min, max  float32
}

type outConnection struct {
	port    int
	channel uint8
}

// Dispatcher owns the MIDI routing tables. It implements event.Poster
// so the event dispatcher can hand it outbound keyboard notifications.
type Dispatcher struct {
	log    *slog.Logger
	poster host.EventPoster

	mu      sync.RWMutex
	inputs  int
	outputs int
	kbIn    map[int][]kbConnection
	ccIn    map[int][]ccConnection
	outBy   map[id.ObjectID][]outConnection
	send    Sender

	unrouted atomic.Uint64
}

// New creates a dispatcher posting decoded events through poster.
func New(poster host.EventPoster, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:    log,
		poster: poster,
		kbIn:   make(map[int][]kbConnection),
		ccIn:   make(map[int][]ccConnection),
		outBy:  make(map[id.ObjectID][]outConnection),
	}
}

// SetSender installs the output backend.
func (d *Dispatcher) SetSender(s Sender) {
	d.mu.Lock()
	d.send = s
	d.mu.Unlock()
}

// SetInputPorts declares how many input ports exist; connections to
// ports beyond the count are rejected.
func (d *Dispatcher) SetInputPorts(n int) {
	d.mu.Lock()
	d.inputs = n
	d.mu.Unlock()
}

// SetOutputPorts declares how many output ports exist.
func (d *Dispatcher) SetOutputPorts(n int) {
	d.mu.Lock()
	d.outputs = n
	d.mu.Unlock()
}

// UnroutedMessages counts inbound messages no connection matched.
func (d *Dispatcher) UnroutedMessages() uint64 { return d.unrouted.Load() }

func validChannel(channel int) bool {
	return channel == OmniChannel || (channel >= 0 && channel <= 15)
}

func (d *Dispatcher) checkInput(port, channel int) error {
	if port < 0 || (d.inputs > 0 && port >= d.inputs) {
		return ErrInvalidPort
	}
	if !validChannel(channel) {
		return ErrInvalidChannel
	}
	return nil
}

// ConnectKbToTrack routes decoded keyboard messages from an input port
// to a track.
func (d *Dispatcher) ConnectKbToTrack(port int, trackID id.ObjectID, channel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkInput(port, channel); err != nil {
		return err
	}
	d.kbIn[port] = append(d.kbIn[port], kbConnection{track: trackID, channel: channel})
	return nil
}

// ConnectRawMidiToTrack routes every message from an input port to a
// track as wrapped raw MIDI, leaving decoding to the processors.
func (d *Dispatcher) ConnectRawMidiToTrack(port int, trackID id.ObjectID, channel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkInput(port, channel); err != nil {
		return err
	}
	d.kbIn[port] = append(d.kbIn[port], kbConnection{track: trackID, channel: channel, raw: true})
	return nil
}

// ConnectCCToParameter maps a controller on an input port to a
// processor parameter. The controller range [0, 127] spans [minNorm,
// maxNorm] in normalized parameter values.
func (d *Dispatcher) ConnectCCToParameter(port int, procID, paramID id.ObjectID, cc, channel int, minNorm, maxNorm float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkInput(port, channel); err != nil {
		return err
	}
	if cc < 0 || cc > maxDataByte {
		return ErrInvalidController
	}
	d.ccIn[port] = append(d.ccIn[port], ccConnection{
		processor: procID,
		parameter: paramID,
		cc:        uint8(cc),
		channel:   channel,
		min:       minNorm,
		max:       maxNorm,
	})
	return nil
}

// ConnectTrackToOutput encodes keyboard events from a track to MIDI on
// the given output port and channel.
func (d *Dispatcher) ConnectTrackToOutput(port int, trackID id.ObjectID, channel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if port < 0 || (d.outputs > 0 && port >= d.outputs) {
		return ErrInvalidPort
	}
	if channel < 0 || channel > 15 {
		return ErrInvalidChannel
	}
	d.outBy[trackID] = append(d.outBy[trackID], outConnection{port: port, channel: uint8(channel)})
	return nil
}

// SendMidi decodes one inbound message from a port and posts the
// resulting events. Safe from any goroutine, including driver
// callbacks.
func (d *Dispatcher) SendMidi(port int, data []byte, timestamp time.Duration) {
	msg := gomidi.Message(data)
	routed := d.postRaw(port, data, timestamp)

	var ch, key, val uint8
	var rel int16
	var abs uint16
	switch {
	case msg.GetNoteStart(&ch, &key, &val):
		routed = d.postKb(port, event.KbNoteOn, ch, int(key), float32(val)/maxDataByte, timestamp) || routed
	case msg.GetNoteEnd(&ch, &key):
		routed = d.postKb(port, event.KbNoteOff, ch, int(key), 0, timestamp) || routed
	case msg.GetPolyAfterTouch(&ch, &key, &val):
		routed = d.postKb(port, event.KbNoteAftertouch, ch, int(key), float32(val)/maxDataByte, timestamp) || routed
	case msg.GetControlChange(&ch, &key, &val):
		routed = d.handleControlChange(port, ch, key, val, timestamp) || routed
	case msg.GetAfterTouch(&ch, &val):
		routed = d.postKb(port, event.KbAftertouch, ch, 0, float32(val)/maxDataByte, timestamp) || routed
	case msg.GetPitchBend(&ch, &rel, &abs):
		routed = d.postKb(port, event.KbPitchBend, ch, 0, float32(rel)/pitchBendRange, timestamp) || routed
	}

	if !routed {
		d.unrouted.Add(1)
	}
}

// postRaw forwards the message to raw connections on the port.
func (d *Dispatcher) postRaw(port int, data []byte, timestamp time.Duration) bool {
	channel := -1
	if len(data) > 0 && data[0] >= 0x80 && data[0] < 0xF0 {
		channel = int(data[0] & 0x0F)
	}
	routed := false
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.kbIn[port] {
		if !c.raw {
			continue
		}
		if c.channel != OmniChannel && c.channel != channel {
			continue
		}
		var wrapped [4]byte
		copy(wrapped[:], data)
		d.poster.PostEvent(event.NewWrappedMidiEvent(c.track, wrapped, timestamp))
		routed = true
	}
	return routed
}

// postKb delivers a decoded keyboard message to the matching track
// connections.
func (d *Dispatcher) postKb(port int, sub event.KeyboardSubtype, ch uint8, note int, value float32, timestamp time.Duration) bool {
	routed := false
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.kbIn[port] {
		if c.raw {
			continue
		}
		if c.channel != OmniChannel && c.channel != int(ch) {
			continue
		}
		d.poster.PostEvent(event.NewKeyboardEvent(sub, c.track, int(ch), note, value, timestamp))
		routed = true
	}
	return routed
}

func (d *Dispatcher) handleControlChange(port int, ch, cc, val uint8, timestamp time.Duration) bool {
	routed := false
	if cc == modWheelController {
		routed = d.postKb(port, event.KbModulation, ch, 0, float32(val)/maxDataByte, timestamp)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.ccIn[port] {
		if c.cc != cc {
			continue
		}
		if c.channel != OmniChannel && c.channel != int(ch) {
			continue
		}
		value := c.min + (c.max-c.min)*float32(val)/maxDataByte
		d.poster.PostEvent(event.NewParameterChangeEvent(event.ParamFloat, c.processor, c.parameter, value, timestamp))
		routed = true
	}
	return routed
}

// PosterID registers the dispatcher as the MIDI poster.
func (d *Dispatcher) PosterID() int { return event.PosterMidiDispatcher }

// Process encodes outbound keyboard notifications to the connected
// output ports. Subscribe it to keyboard events on the event
// dispatcher.
func (d *Dispatcher) Process(ev event.Event) event.Status {
	n, ok := ev.(*event.KeyboardNotificationEvent)
	if !ok {
		return event.StatusNotHandled
	}
	d.mu.RLock()
	conns := d.outBy[n.Source]
	send := d.send
	d.mu.RUnlock()
	if send == nil {
		return event.StatusHandledOK
	}
	for _, c := range conns {
		if msg, ok := encodeNotification(n, c.channel); ok {
			send(c.port, msg)
		}
	}
	return event.StatusHandledOK
}

func encodeNotification(n *event.KeyboardNotificationEvent, channel uint8) (gomidi.Message, bool) {
	switch n.Subtype {
	case event.KbNoteOn:
		return gomidi.NoteOn(channel, uint8(n.Note), dataByte(n.Value)), true
	case event.KbNoteOff:
		return gomidi.NoteOff(channel, uint8(n.Note)), true
	case event.KbNoteAftertouch:
		return gomidi.PolyAfterTouch(channel, uint8(n.Note), dataByte(n.Value)), true
	case event.KbAftertouch:
		return gomidi.AfterTouch(channel, dataByte(n.Value)), true
	case event.KbModulation:
		return gomidi.ControlChange(channel, modWheelController, dataByte(n.Value)), true
	case event.KbPitchBend:
		bend := n.Value
		if bend < -1 {
			bend = -1
		} else if bend > 1 {
			bend = 1
		}
		v := int32(bend * pitchBendRange)
		if v > pitchBendRange-1 {
			v = pitchBendRange - 1
		}
		return gomidi.Pitchbend(channel, int16(v)), true
	case event.KbWrappedMidi:
		return rawMessage(n.Midi), true
	}
	return nil, false
}

// rawMessage trims a wrapped message to its wire length.
func rawMessage(data [4]byte) gomidi.Message {
	n := 3
	switch data[0] & 0xF0 {
	case 0xC0, 0xD0:
		n = 2
	}
	msg := make([]byte, n)
	copy(msg, data[:n])
	return msg
}

func dataByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return maxDataByte
	}
	return uint8(math.Round(float64(v) * maxDataByte))
}

var _ event.Poster = (*Dispatcher)(nil)
