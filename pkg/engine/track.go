package engine

import (
	"fmt"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/event"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/id"
	"github.com/takt-audio/takt/pkg/param"
	"github.com/takt-audio/takt/pkg/processor"
)

const (
	// maxTracks bounds the audio graph.
	maxTracks = 64
	// maxChainLength bounds the processors on one track; the chain slice
	// is pre-allocated so realtime splices never grow it.
	maxChainLength = 32
	// kbQueueSize holds the keyboard events cached between chunks.
	kbQueueSize = 64

	trackGainDefault = 0.0
	trackGainMin     = -120.0
	trackGainMax     = 24.0
)

// Track owns an ordered chain of processors and renders them into its
// output buffer, one stereo bus per channel pair. Bus i covers channels
// 2i and 2i+1; each bus has its own gain and pan parameters applied with
// a per-chunk ramp.
type Track struct {
	*processor.Internal

	channels int
	buses    int

	chain []processor.Processor

	input    audio.Buffer
	output   audio.Buffer
	scratchA audio.Buffer
	scratchB audio.Buffer

	kbEvents  *event.RtQueue
	outEvents *event.RtQueue

	gainParams []*param.Parameter
	panParams  []*param.Parameter
	prevGain   [][2]float32
}

// NewTrack creates a track with the given channel count.
func NewTrack(hostCtl *host.Control, name string, channels int) (*Track, error) {
	if channels < 1 || channels > audio.MaxChannels {
		return nil, ErrInvalidChannel
	}
	t := &Track{
		Internal:  processor.NewInternal(hostCtl, name, name, channels, channels),
		channels:  channels,
		buses:     (channels + 1) / 2,
		chain:     make([]processor.Processor, 0, maxChainLength),
		input:     audio.New(channels),
		output:    audio.New(channels),
		scratchA:  audio.New(channels),
		scratchB:  audio.New(channels),
		kbEvents:  event.NewRtQueue(kbQueueSize),
		outEvents: event.NewRtQueue(event.DefaultQueueSize),
	}
	t.SetEventOutput(t.outEvents)

	for b := 0; b < t.buses; b++ {
		gainName, panName := "gain", "pan"
		if b > 0 {
			gainName = fmt.Sprintf("gain_sub_%d", b)
			panName = fmt.Sprintf("pan_sub_%d", b)
		}
		gp, err := t.RegisterFloatParameter(gainName, "Gain", "dB",
			trackGainDefault, trackGainMin, trackGainMax,
			param.DbToLin{Min: trackGainMin, Max: trackGainMax})
		if err != nil {
			return nil, err
		}
		pp, err := t.RegisterFloatParameter(panName, "Pan", "",
			0.0, -1.0, 1.0, nil)
		if err != nil {
			return nil, err
		}
		t.gainParams = append(t.gainParams, gp)
		t.panParams = append(t.panParams, pp)
		t.prevGain = append(t.prevGain, [2]float32{})
	}
	return t, nil
}

// NewMultibusTrack creates a track with the given number of stereo
// buses.
func NewMultibusTrack(hostCtl *host.Control, name string, buses int) (*Track, error) {
	return NewTrack(hostCtl, name, 2*buses)
}

// Init primes the gain smoothing so the first chunk does not fade in.
func (t *Track) Init(sampleRate float64) error {
	if err := t.Internal.Init(sampleRate); err != nil {
		return err
	}
	for b := range t.prevGain {
		l, r := panGains(float32(t.gainParams[b].ProcessedValue()),
			float32(t.panParams[b].ProcessedValue()))
		t.prevGain[b] = [2]float32{l, r}
	}
	return nil
}

// Channels returns the track width.
func (t *Track) Channels() int { return t.channels }

// Buses returns the number of stereo buses.
func (t *Track) Buses() int { return t.buses }

// OutputQueue returns the queue the track and its processors write
// outbound realtime events to. The engine drains it every chunk.
func (t *Track) OutputQueue() *event.RtQueue { return t.outEvents }

// Chain returns the live chain slice. Audio thread only.
func (t *Track) Chain() []processor.Processor { return t.chain }

// ProcessEvent caches keyboard events for the next chunk and applies
// everything else to the track's own parameters. Events addressed to a
// chain member go straight to it; events for any other id leave through
// the output queue.
func (t *Track) ProcessEvent(ev event.RtEvent) {
	if target := ev.Target(); target != t.ID() {
		if p := t.chainMember(target); p != nil {
			p.ProcessEvent(ev)
		} else {
			t.OutputEvent(ev)
		}
		return
	}
	switch ev.Type() {
	case event.RtNoteOn, event.RtNoteOff, event.RtNoteAftertouch,
		event.RtPitchBend, event.RtAftertouch, event.RtModulation,
		event.RtWrappedMidi:
		t.kbEvents.Push(ev)
	default:
		t.Internal.ProcessEvent(ev)
	}
}

func (t *Track) chainMember(pid id.ObjectID) processor.Processor {
	for _, p := range t.chain {
		if p.ID() == pid {
			return p
		}
	}
	return nil
}

// ProcessAudio runs the chain and applies the bus strips. Keyboard
// events cached since the last chunk go to every chain member first and
// are mirrored to the event output so notes pass through the track.
func (t *Track) ProcessAudio(in, out *audio.Buffer) {
	for {
		ev, ok := t.kbEvents.Pop()
		if !ok {
			break
		}
		for _, p := range t.chain {
			p.ProcessEvent(ev)
		}
		t.OutputEvent(ev)
	}

	src := in
	useA := true
	for _, p := range t.chain {
		dst := &t.scratchA
		if !useA {
			dst = &t.scratchB
		}
		if p.OutputChannels() < t.channels {
			dst.Clear()
		}
		if p.Enabled() && !p.Bypassed() {
			p.ProcessAudio(src, dst)
		} else {
			dst.AdaptFrom(*src)
		}
		src = dst
		useA = !useA
	}

	out.Clear()
	for b := 0; b < t.buses; b++ {
		first := 2 * b
		width := t.channels - first
		if width > 2 {
			width = 2
		}
		busIn := src.NonOwning(first, width)
		busOut := out.NonOwning(first, width)
		busOut.CopyFrom(busIn)

		l, r := panGains(float32(t.gainParams[b].ProcessedValue()),
			float32(t.panParams[b].ProcessedValue()))
		left := out.NonOwning(first, 1)
		left.ApplyGainRamp(t.prevGain[b][0], l)
		if width > 1 {
			right := out.NonOwning(first+1, 1)
			right.ApplyGainRamp(t.prevGain[b][1], r)
		}
		t.prevGain[b] = [2]float32{l, r}
	}
}

// addRt splices a processor into the chain on the audio thread. The
// chain never reallocates; a full chain rejects the splice.
func (t *Track) addRt(p processor.Processor, before id.ObjectID, hasBefore bool) bool {
	if len(t.chain) == cap(t.chain) {
		return false
	}
	pos := len(t.chain)
	if hasBefore {
		for i, member := range t.chain {
			if member.ID() == before {
				pos = i
				break
			}
		}
	}
	t.chain = t.chain[:len(t.chain)+1]
	copy(t.chain[pos+1:], t.chain[pos:])
	t.chain[pos] = p
	return true
}

// removeRt drops a processor from the chain on the audio thread.
func (t *Track) removeRt(pid id.ObjectID) bool {
	for i, p := range t.chain {
		if p.ID() == pid {
			copy(t.chain[i:], t.chain[i+1:])
			t.chain[len(t.chain)-1] = nil
			t.chain = t.chain[:len(t.chain)-1]
			return true
		}
	}
	return false
}

var _ processor.Processor = (*Track)(nil)

// panGains splits a linear gain over a stereo pair: panning attenuates
// the far side and leaves the near side at full level.
func panGains(gain, pan float32) (left, right float32) {
	left, right = gain, gain
	if pan < 0 {
		right *= 1 + pan
	} else if pan > 0 {
		left *= 1 - pan
	}
	return left, right
}
