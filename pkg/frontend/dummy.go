package frontend

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/engine"
)

// Dummy paces the engine with silent chunks at wall-clock rate. It
// keeps a session responsive to MIDI and control traffic on machines
// without audio hardware.
type Dummy struct {
	eng *engine.Engine
	log *slog.Logger
	dur time.Duration

	in     audio.Buffer
	out    audio.Buffer
	ctlIn  audio.ControlBuffer
	ctlOut audio.ControlBuffer

	connected   bool
	sampleCount int64
	stop        atomic.Bool
	running     atomic.Bool
}

var _ Frontend = (*Dummy)(nil)

// NewDummy creates a silence-paced frontend. A zero duration runs
// until Stop.
func NewDummy(e *engine.Engine, duration time.Duration, log *slog.Logger) *Dummy {
	if log == nil {
		log = slog.Default()
	}
	return &Dummy{eng: e, log: log, dur: duration}
}

// Connect sizes the chunk buffers to the engine widths.
func (f *Dummy) Connect() error {
	f.in = audio.New(f.eng.AudioInputChannels())
	f.out = audio.New(f.eng.AudioOutputChannels())
	f.connected = true
	return nil
}

// Run arms the realtime path and processes a silent chunk per chunk
// period until the duration passes or Stop is called.
func (f *Dummy) Run() error {
	if !f.connected {
		return ErrNotConnected
	}
	if !f.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	rate := f.eng.SampleRate()
	interval := Timestamp(audio.ChunkSize, rate)
	f.eng.EnableRealtime(true)
	f.log.Info("dummy frontend running", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for !f.stop.Load() {
		<-ticker.C
		ts := Timestamp(f.sampleCount, rate)
		if f.dur > 0 && ts >= f.dur {
			break
		}
		f.eng.ProcessChunk(&f.in, &f.out, &f.ctlIn, &f.ctlOut, ts, f.sampleCount)
		f.sampleCount += audio.ChunkSize
	}

	// One final chunk so the stop event clears the audio path.
	f.eng.EnableRealtime(false)
	f.eng.ProcessChunk(&f.in, &f.out, &f.ctlIn, &f.ctlOut,
		Timestamp(f.sampleCount, rate), f.sampleCount)
	f.sampleCount += audio.ChunkSize
	return nil
}

// Stop ends Run after the chunk in flight.
func (f *Dummy) Stop() { f.stop.Store(true) }
