// Package portaudio drives the engine from a duplex portaudio stream.
// The device callback delivers non-interleaved float32 planes that map
// one to one onto engine chunk buffers.
package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/engine"
	"github.com/takt-audio/takt/pkg/frontend"
)

const stopTimeout = 250 * time.Millisecond

// Frontend owns the stream and runs the engine inside its callback.
type Frontend struct {
	eng *engine.Engine
	log *slog.Logger

	stream *pa.Stream

	in     audio.Buffer
	out    audio.Buffer
	ctlIn  audio.ControlBuffer
	ctlOut audio.ControlBuffer

	sampleCount int64
	done        chan struct{}
	stopOnce    sync.Once
}

var _ frontend.Frontend = (*Frontend)(nil)

// New creates a portaudio frontend for the engine.
func New(e *engine.Engine, log *slog.Logger) *Frontend {
	if log == nil {
		log = slog.Default()
	}
	return &Frontend{eng: e, log: log, done: make(chan struct{})}
}

// Connect initializes portaudio and opens the default duplex stream
// at the engine's rate and channel widths.
func (f *Frontend) Connect() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	inCh := f.eng.AudioInputChannels()
	outCh := f.eng.AudioOutputChannels()
	f.in = audio.New(inCh)
	f.out = audio.New(outCh)

	stream, err := pa.OpenDefaultStream(inCh, outCh, f.eng.SampleRate(), audio.ChunkSize, f.process)
	if err != nil {
		pa.Terminate()
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	f.stream = stream

	if info := stream.Info(); info != nil {
		f.eng.SetOutputLatency(info.OutputLatency)
		f.log.Info("portaudio stream open",
			"samplerate", f.eng.SampleRate(),
			"inputs", inCh,
			"outputs", outCh,
			"output_latency", info.OutputLatency)
	}
	return nil
}

// Run starts the stream and blocks until Stop.
func (f *Frontend) Run() error {
	if f.stream == nil {
		return frontend.ErrNotConnected
	}
	f.eng.EnableRealtime(true)
	if err := f.stream.Start(); err != nil {
		f.eng.EnableRealtime(false)
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	<-f.done
	return nil
}

// Stop winds the engine down, then tears the stream and portaudio
// down. Run returns once Stop completes.
func (f *Frontend) Stop() {
	f.stopOnce.Do(func() {
		if f.stream != nil {
			f.eng.EnableRealtime(false)
			if !frontend.WaitStopped(f.eng, stopTimeout) {
				f.log.Warn("engine did not reach stopped before teardown")
			}
			if err := f.stream.Stop(); err != nil {
				f.log.Warn("portaudio stream stop failed", "error", err)
			}
			if err := f.stream.Close(); err != nil {
				f.log.Warn("portaudio stream close failed", "error", err)
			}
			pa.Terminate()
			f.log.Info("portaudio stream stopped", "dropped_events", f.eng.DroppedEvents())
		}
		close(f.done)
	})
}

// process is the device callback. It runs on the portaudio audio
// thread once per chunk.
func (f *Frontend) process(in, out [][]float32) {
	for ch := 0; ch < len(in) && ch < f.in.ChannelCount(); ch++ {
		copy(f.in.Channel(ch), in[ch])
	}

	f.eng.ProcessChunk(&f.in, &f.out, &f.ctlIn, &f.ctlOut,
		frontend.Timestamp(f.sampleCount, f.eng.SampleRate()), f.sampleCount)
	f.sampleCount += audio.ChunkSize

	for ch := range out {
		if ch < f.out.ChannelCount() {
			copy(out[ch], f.out.Channel(ch))
			continue
		}
		for i := range out[ch] {
			out[ch][i] = 0
		}
	}
}
