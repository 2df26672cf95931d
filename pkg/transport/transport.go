// Package transport keeps musical time for the engine: tempo, time
// signature, play state and the beat positions derived from sample counts.
// The audio thread advances the transport once per chunk; non-RT writers
// stage changes in a pending slot that is committed at the next chunk
// boundary.
package transport

import (
	"sync"
	"time"

	"github.com/takt-audio/takt/pkg/audio"
)

// PlayingMode is the transport's play state.
type PlayingMode int

const (
	Stopped PlayingMode = iota
	Playing
	Recording
)

// String returns the mode name.
func (m PlayingMode) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Recording:
		return "recording"
	}
	return "unknown"
}

// SyncMode selects the tempo sync source.
type SyncMode int

const (
	Internal SyncMode = iota
	MidiSync
	GateInput
	AbletonLink
)

// String returns the sync mode name.
func (m SyncMode) String() string {
	switch m {
	case Internal:
		return "internal"
	case MidiSync:
		return "midi"
	case GateInput:
		return "gate input"
	case AbletonLink:
		return "link"
	}
	return "unknown"
}

// TimeSignature is a musical time signature.
type TimeSignature struct {
	Numerator   int
	Denominator int
}

// Flags describe the transport state a plugin host would report, derived
// fresh from current state each time they are read.
type Flags uint32

const (
	FlagPlaying Flags = 1 << iota
	FlagRecording
	FlagTempoValid
	FlagBarPositionValid
	FlagTimeSigValid
)

const (
	// DefaultTempo is the tempo before any set_tempo call, in BPM.
	DefaultTempo = 120.0
)

// Transport derives musical time from the sample counts the audio frontend
// reports. Exactly one chunk elapses per SetTime call. All getters without
// further comment are safe only on the audio thread or while audio is
// stopped.
type Transport struct {
	sampleRate float64
	latency    time.Duration

	time          time.Duration
	samples       int64
	playStartSamp int64

	tempo     float64
	signature TimeSignature
	playMode  PlayingMode
	syncMode  SyncMode

	beats         float64
	barStartBeats float64
	beatsPerChunk float64
	beatsPerBar   float64

	pending struct {
		mu        sync.Mutex
		tempo     float64
		hasTempo  bool
		signature TimeSignature
		hasSig    bool
		playMode  PlayingMode
		hasPlay   bool
		syncMode  SyncMode
		hasSync   bool
	}
}

// New creates a transport at the given sample rate: 120 BPM, 4/4, stopped,
// internal sync.
func New(sampleRate float64) *Transport {
	t := &Transport{
		sampleRate: sampleRate,
		tempo:      DefaultTempo,
		signature:  TimeSignature{Numerator: 4, Denominator: 4},
		playMode:   Stopped,
		syncMode:   Internal,
	}
	t.updateInternals()
	return t
}

// SetSampleRate reconfigures the sample rate. Only valid while audio is
// stopped.
func (t *Transport) SetSampleRate(rate float64) {
	t.sampleRate = rate
	t.updateInternals()
}

// SetOutputLatency records the frontend's output latency, added to the
// timestamps reported to processors.
func (t *Transport) SetOutputLatency(latency time.Duration) {
	t.latency = latency
}

// SetTempo stages a tempo change, applied at the next chunk boundary.
// Safe from any non-RT thread.
func (t *Transport) SetTempo(bpm float64) {
	t.pending.mu.Lock()
	t.pending.tempo = bpm
	t.pending.hasTempo = true
	t.pending.mu.Unlock()
}

// SetTimeSignature stages a time signature change, applied at the next
// chunk boundary. Safe from any non-RT thread.
func (t *Transport) SetTimeSignature(sig TimeSignature) {
	t.pending.mu.Lock()
	t.pending.signature = sig
	t.pending.hasSig = true
	t.pending.mu.Unlock()
}

// SetPlayingMode stages a play state change. When the transport is already
// playing the change takes effect at the next bar, otherwise at the next
// chunk boundary. Safe from any non-RT thread.
func (t *Transport) SetPlayingMode(mode PlayingMode) {
	t.pending.mu.Lock()
	t.pending.playMode = mode
	t.pending.hasPlay = true
	t.pending.mu.Unlock()
}

// SetSyncMode stages a sync source change, applied like SetPlayingMode.
// Safe from any non-RT thread.
func (t *Transport) SetSyncMode(mode SyncMode) {
	t.pending.mu.Lock()
	t.pending.syncMode = mode
	t.pending.hasSync = true
	t.pending.mu.Unlock()
}

// SetTime advances the transport to a new chunk: timestamp from the audio
// frontend and total samples since start. Pending tempo and signature
// changes are committed first so they shape this chunk; mode changes wait
// for a bar boundary while playing. Audio thread only.
func (t *Transport) SetTime(timestamp time.Duration, samples int64) {
	t.time = timestamp + t.latency
	t.samples = samples
	prevBeats := t.beats

	t.pending.mu.Lock()
	if t.pending.hasTempo {
		t.tempo = t.pending.tempo
		t.pending.hasTempo = false
	}
	if t.pending.hasSig {
		t.signature = t.pending.signature
		t.pending.hasSig = false
	}
	t.pending.mu.Unlock()

	t.updateInternals()
	t.updatePosition()
	t.applyPendingModes(prevBeats)
}

func (t *Transport) applyPendingModes(prevBeats float64) {
	t.pending.mu.Lock()
	defer t.pending.mu.Unlock()

	if !t.pending.hasPlay && !t.pending.hasSync {
		return
	}
	atBar := t.playMode == Stopped || t.newBar(prevBeats)
	if !atBar {
		return
	}
	if t.pending.hasPlay {
		if t.playMode == Stopped && t.pending.playMode != Stopped {
			// resume from the top of the bar
			t.playStartSamp = t.samples
		}
		t.playMode = t.pending.playMode
		t.pending.hasPlay = false
		t.updatePosition()
	}
	if t.pending.hasSync {
		t.syncMode = t.pending.syncMode
		t.pending.hasSync = false
	}
}

// newBar reports whether a bar line falls between the previous chunk start
// and this one.
func (t *Transport) newBar(prevBeats float64) bool {
	if t.beatsPerBar <= 0 {
		return true
	}
	if t.beats <= 0 {
		return true
	}
	return int(t.beats/t.beatsPerBar) != int(prevBeats/t.beatsPerBar)
}

func (t *Transport) updateInternals() {
	if t.sampleRate > 0 {
		t.beatsPerChunk = float64(audio.ChunkSize) * t.tempo / (60.0 * t.sampleRate)
	}
	t.beatsPerBar = 4.0 * float64(t.signature.Numerator) / float64(t.signature.Denominator)
}

func (t *Transport) updatePosition() {
	if t.sampleRate <= 0 {
		return
	}
	elapsed := t.samples
	if t.playMode != Stopped {
		elapsed = t.samples - t.playStartSamp
	}
	t.beats = float64(elapsed) * t.tempo / (60.0 * t.sampleRate)
	if t.beatsPerBar > 0 {
		bars := float64(int(t.beats / t.beatsPerBar))
		t.barStartBeats = bars * t.beatsPerBar
	}
}

// Time returns the current chunk's timestamp including output latency.
func (t *Transport) Time() time.Duration { return t.time }

// Samples returns the total samples elapsed since start.
func (t *Transport) Samples() int64 { return t.samples }

// SampleRate returns the configured sample rate.
func (t *Transport) SampleRate() float64 { return t.sampleRate }

// Tempo returns the committed tempo in BPM.
func (t *Transport) Tempo() float64 { return t.tempo }

// TimeSignature returns the committed time signature.
func (t *Transport) TimeSignature() TimeSignature { return t.signature }

// PlayingMode returns the committed play state.
func (t *Transport) PlayingMode() PlayingMode { return t.playMode }

// SyncMode returns the committed sync source.
func (t *Transport) SyncMode() SyncMode { return t.syncMode }

// Playing reports whether the transport is rolling.
func (t *Transport) Playing() bool { return t.playMode != Stopped }

// BeatPosition returns the beat count at the start of the current chunk.
func (t *Transport) BeatPosition() float64 { return t.beats }

// BarStartBeat returns the beat count at which the current bar began.
func (t *Transport) BarStartBeat() float64 { return t.barStartBeats }

// BeatsPerChunk returns how many beats elapse per processed chunk.
func (t *Transport) BeatsPerChunk() float64 { return t.beatsPerChunk }

// BeatsPerBar returns the bar length in quarter-note beats.
func (t *Transport) BeatsPerBar() float64 { return t.beatsPerBar }

// PlayingFlags derives the host transport flags from current state.
func (t *Transport) PlayingFlags() Flags {
	var f Flags
	switch t.playMode {
	case Playing:
		f |= FlagPlaying
	case Recording:
		f |= FlagPlaying | FlagRecording
	}
	if t.tempo > 0 {
		f |= FlagTempoValid
	}
	if t.beatsPerBar > 0 {
		f |= FlagBarPositionValid
	}
	if t.signature.Numerator > 0 && t.signature.Denominator > 0 {
		f |= FlagTimeSigValid
	}
	return f
}
