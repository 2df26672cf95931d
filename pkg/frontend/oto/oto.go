// Package oto plays the engine's output through an oto stream. oto
// pulls samples with an io.Reader, so the reader callback doubles as
// the audio thread: each call renders whole chunks and carries any
// remainder bytes over to the next call. The frontend is output-only;
// the engine sees silent inputs and sources inside the graph provide
// the audio.
package oto

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/engine"
	"github.com/takt-audio/takt/pkg/frontend"
)

const (
	bytesPerSample = 4
	bufferLength   = 20 * time.Millisecond
	stopTimeout    = 250 * time.Millisecond
)

// Frontend owns the oto context and renders the engine inside the
// player's pull callback.
type Frontend struct {
	eng *engine.Engine
	log *slog.Logger

	ctx    *oto.Context
	player *oto.Player

	in     audio.Buffer
	out    audio.Buffer
	ctlIn  audio.ControlBuffer
	ctlOut audio.ControlBuffer

	channels int
	chunk    []byte
	unread   []byte

	sampleCount int64
	done        chan struct{}
	stopOnce    sync.Once
}

var _ frontend.Frontend = (*Frontend)(nil)

// New creates an oto playback frontend for the engine.
func New(e *engine.Engine, log *slog.Logger) *Frontend {
	if log == nil {
		log = slog.Default()
	}
	return &Frontend{eng: e, log: log, done: make(chan struct{})}
}

// Connect opens the oto context at the engine's rate and output width
// and blocks until the device is ready.
func (f *Frontend) Connect() error {
	f.channels = f.eng.AudioOutputChannels()
	f.in = audio.New(f.eng.AudioInputChannels())
	f.out = audio.New(f.channels)
	f.chunk = make([]byte, audio.ChunkSize*f.channels*bytesPerSample)

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(f.eng.SampleRate()),
		ChannelCount: f.channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufferLength,
	})
	if err != nil {
		return fmt.Errorf("oto: new context: %w", err)
	}
	<-ready

	f.ctx = ctx
	f.eng.SetOutputLatency(bufferLength)
	f.log.Info("oto context ready",
		"samplerate", f.eng.SampleRate(),
		"outputs", f.channels,
		"buffer", bufferLength)
	return nil
}

// Run starts playback and blocks until Stop.
func (f *Frontend) Run() error {
	if f.ctx == nil {
		return frontend.ErrNotConnected
	}
	f.eng.EnableRealtime(true)
	f.player = f.ctx.NewPlayer(f)
	f.player.Play()
	<-f.done
	return nil
}

// Stop winds the engine down, closes the player and unblocks Run.
func (f *Frontend) Stop() {
	f.stopOnce.Do(func() {
		if f.player != nil {
			f.eng.EnableRealtime(false)
			if !frontend.WaitStopped(f.eng, stopTimeout) {
				f.log.Warn("engine did not reach stopped before teardown")
			}
			if err := f.player.Close(); err != nil {
				f.log.Warn("oto player close failed", "error", err)
			}
			f.log.Info("oto playback stopped", "dropped_events", f.eng.DroppedEvents())
		}
		close(f.done)
	})
}

// Read renders engine chunks into p as little-endian float32 frames.
// oto calls it from the playback goroutine; requests need not align to
// chunk boundaries, so leftover bytes wait in the carry slice.
func (f *Frontend) Read(p []byte) (int, error) {
	filled := 0
	for filled < len(p) {
		if len(f.unread) == 0 {
			f.renderChunk()
			f.unread = f.chunk
		}
		n := copy(p[filled:], f.unread)
		f.unread = f.unread[n:]
		filled += n
	}
	return filled, nil
}

func (f *Frontend) renderChunk() {
	f.eng.ProcessChunk(&f.in, &f.out, &f.ctlIn, &f.ctlOut,
		frontend.Timestamp(f.sampleCount, f.eng.SampleRate()), f.sampleCount)
	f.sampleCount += audio.ChunkSize

	pos := 0
	for s := 0; s < audio.ChunkSize; s++ {
		for ch := 0; ch < f.channels; ch++ {
			bits := math.Float32bits(f.out.Channel(ch)[s])
			binary.LittleEndian.PutUint32(f.chunk[pos:], bits)
			pos += bytesPerSample
		}
	}
}
