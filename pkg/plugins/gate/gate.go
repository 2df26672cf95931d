// Package gate implements a per channel noise gate. Each channel runs a
// four state machine (closed, attack, opened, decay) driven by the
// instantaneous sample level; attack and decay move a gate factor
// linearly between the range attenuation and unity.
package gate

import (
	"math"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/param"
	"github.com/takt-audio/takt/pkg/processor"
)

const (
	// Name is the uid the plugin factory creates this plugin under.
	Name  = "takt.gate"
	Label = "Gate"

	thresholdDefault = -70.0
	thresholdMin     = -70.0
	thresholdMax     = 12.0
	attackDefault    = 30.0
	attackMin        = 0.1
	attackMax        = 500.0
	holdDefault      = 500.0
	holdMin          = 5.0
	holdMax          = 3000.0
	decayDefault     = 1000.0
	decayMin         = 5.0
	decayMax         = 4000.0
	rangeDefault     = -90.0
	rangeMin         = -90.0
	rangeMax         = -20.0
)

type gateState int

const (
	stateClosed gateState = iota
	stateAttack
	stateOpened
	stateDecay
)

// Plugin gates every channel independently with shared parameters.
// Coefficients are recomputed once per chunk so the load stays flat.
type Plugin struct {
	*processor.Internal

	threshold *param.Parameter
	attack    *param.Parameter
	hold      *param.Parameter
	decay     *param.Parameter
	rng       *param.Parameter

	state   [audio.MaxChannels]gateState
	gate    [audio.MaxChannels]float32
	holding [audio.MaxChannels]int
}

// New creates a gate plugin.
func New(hostCtl *host.Control) (*Plugin, error) {
	p := &Plugin{
		Internal: processor.NewInternal(hostCtl, Name, Label, audio.MaxChannels, audio.MaxChannels),
	}
	var err error
	if p.threshold, err = p.RegisterFloatParameter("threshold", "Gate threshold", "dB",
		thresholdDefault, thresholdMin, thresholdMax,
		param.DbToLin{Min: thresholdMin, Max: thresholdMax}); err != nil {
		return nil, err
	}
	if p.attack, err = p.RegisterFloatParameter("attack", "Gate attack time", "ms",
		attackDefault, attackMin, attackMax, nil); err != nil {
		return nil, err
	}
	if p.hold, err = p.RegisterFloatParameter("hold", "Gate hold time", "ms",
		holdDefault, holdMin, holdMax, nil); err != nil {
		return nil, err
	}
	if p.decay, err = p.RegisterFloatParameter("decay", "Gate decay time", "ms",
		decayDefault, decayMin, decayMax, nil); err != nil {
		return nil, err
	}
	if p.rng, err = p.RegisterFloatParameter("range", "Gate range", "dB",
		rangeDefault, rangeMin, rangeMax,
		param.DbToLin{Min: rangeMin, Max: rangeMax}); err != nil {
		return nil, err
	}
	return p, nil
}

// ProcessAudio runs the gate over every channel.
func (p *Plugin) ProcessAudio(in, out *audio.Buffer) {
	threshold := float32(p.threshold.ProcessedValue())
	attackCoef := float32(1000 / (p.attack.ProcessedValue() * p.SampleRate()))
	holdSamples := int(math.Round(p.hold.ProcessedValue() * p.SampleRate() * 0.001))
	decayCoef := float32(1000 / (p.decay.ProcessedValue() * p.SampleRate()))
	// A range at the bottom of its scale mutes instead of attenuating.
	var rangeCoef float32
	if p.rng.DomainValue() > rangeMin {
		rangeCoef = float32(p.rng.ProcessedValue())
	}

	channels := in.ChannelCount()
	if out.ChannelCount() < channels {
		channels = out.ChannelCount()
	}
	for ch := 0; ch < channels; ch++ {
		src, dst := in.Channel(ch), out.Channel(ch)
		state, gate, holding := p.state[ch], p.gate[ch], p.holding[ch]
		for s := 0; s < audio.ChunkSize; s++ {
			sample := src[s]
			abs := sample
			if abs < 0 {
				abs = -abs
			}

			switch state {
			case stateClosed, stateDecay:
				if abs >= threshold {
					state = stateAttack
				}
			case stateOpened:
				if abs >= threshold {
					holding = holdSamples
				} else if holding <= 0 {
					state = stateDecay
				} else {
					holding--
				}
			}

			// Attack and decay advance in a second switch so the state
			// change above takes effect within the same sample.
			switch state {
			case stateClosed:
				dst[s] = sample * rangeCoef
			case stateAttack:
				gate += attackCoef
				if gate >= 1 {
					gate = 1
					state = stateOpened
					holding = holdSamples
				}
				dst[s] = sample * (rangeCoef*(1-gate) + gate)
			case stateOpened:
				dst[s] = sample
			case stateDecay:
				gate -= decayCoef
				if gate <= 0 {
					gate = 0
					state = stateClosed
				}
				dst[s] = sample * (rangeCoef*(1-gate) + gate)
			}
		}
		p.state[ch], p.gate[ch], p.holding[ch] = state, gate, holding
	}
}

var _ processor.Processor = (*Plugin)(nil)
