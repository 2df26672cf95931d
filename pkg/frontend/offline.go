package frontend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/engine"
	"github.com/takt-audio/takt/pkg/frontend/codec"
)

const bounceBitDepth = 24

// OfflineOptions configure an offline render.
type OfflineOptions struct {
	// InputPath is decoded through the codec registry.
	InputPath string
	// OutputPath receives the rendered audio as 24 bit PCM WAV.
	OutputPath string
	// Registry overrides codec.Default when set.
	Registry *codec.Registry
}

// Offline pulls chunks from an input file through the engine and
// bounces the result to a WAV file. The engine stays in direct mode,
// so control changes apply between chunks without the realtime
// queues.
type Offline struct {
	eng  *engine.Engine
	log  *slog.Logger
	opts OfflineOptions

	src  codec.Source
	file *os.File
	enc  *wav.Encoder

	in     audio.Buffer
	out    audio.Buffer
	ctlIn  audio.ControlBuffer
	ctlOut audio.ControlBuffer

	inPlanes    [][]float32
	outPlanes   [][]float32
	interleaved []float32
	bounce      *goaudio.IntBuffer

	sampleCount int64
	stop        atomic.Bool
	running     atomic.Bool
	closeOnce   sync.Once
	closeErr    error
}

var _ Frontend = (*Offline)(nil)

// NewOffline creates an offline render frontend.
func NewOffline(e *engine.Engine, opts OfflineOptions, log *slog.Logger) *Offline {
	if log == nil {
		log = slog.Default()
	}
	return &Offline{eng: e, log: log, opts: opts}
}

// Connect opens the input file, matches the engine to its rate and
// width and prepares the bounce encoder.
func (f *Offline) Connect() error {
	if f.opts.InputPath == "" {
		return ErrNoInput
	}
	if f.opts.OutputPath == "" {
		return ErrNoOutput
	}
	reg := f.opts.Registry
	if reg == nil {
		reg = codec.Default
	}
	src, err := reg.Open(f.opts.InputPath)
	if err != nil {
		return err
	}
	if src.Channels() > audio.MaxChannels {
		src.Close()
		return fmt.Errorf("frontend: input has %d channels, the engine takes at most %d",
			src.Channels(), audio.MaxChannels)
	}

	// The graph runs at the file rate; resampling is out of scope.
	f.eng.SetSampleRate(float64(src.SampleRate()))
	if err := f.eng.SetAudioInputChannels(src.Channels()); err != nil {
		src.Close()
		return err
	}

	file, err := os.Create(f.opts.OutputPath)
	if err != nil {
		src.Close()
		return err
	}

	outCh := f.eng.AudioOutputChannels()
	f.src = src
	f.file = file
	f.enc = wav.NewEncoder(file, src.SampleRate(), bounceBitDepth, outCh, 1)

	f.in = audio.New(src.Channels())
	f.out = audio.New(outCh)
	f.inPlanes = planes(&f.in)
	f.outPlanes = planes(&f.out)
	f.interleaved = make([]float32, audio.ChunkSize*src.Channels())
	f.bounce = &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: outCh, SampleRate: src.SampleRate()},
		Data:           make([]int, 0, audio.ChunkSize*outCh),
		SourceBitDepth: bounceBitDepth,
	}

	f.log.Info("offline render connected",
		"input", f.opts.InputPath,
		"output", f.opts.OutputPath,
		"samplerate", src.SampleRate(),
		"channels", src.Channels())
	return nil
}

// Run renders the whole input through the graph. It returns once the
// input is exhausted, Stop is called or writing fails.
func (f *Offline) Run() error {
	if f.src == nil || f.enc == nil {
		return ErrNotConnected
	}
	if !f.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	rate := f.eng.SampleRate()
	var runErr error
	for !f.stop.Load() {
		n, readErr := f.readChunk()
		if n == 0 && readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				runErr = readErr
			}
			break
		}
		f.deinterleave()
		f.eng.ProcessChunk(&f.in, &f.out, &f.ctlIn, &f.ctlOut,
			Timestamp(f.sampleCount, rate), f.sampleCount)
		f.sampleCount += audio.ChunkSize

		if err := f.writeChunk(); err != nil {
			runErr = err
			break
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				runErr = readErr
			}
			break
		}
	}

	if err := f.close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil {
		f.log.Info("offline render finished", "frames", f.sampleCount)
	}
	return runErr
}

// Stop asks Run to finish after the current chunk. When Run was never
// entered, Stop releases what Connect claimed.
func (f *Offline) Stop() {
	f.stop.Store(true)
	if !f.running.Load() {
		if err := f.close(); err != nil {
			f.log.Warn("offline close failed", "error", err)
		}
	}
}

// readChunk fills the interleave buffer, padding a short final read
// with silence. It reports how many frames carry input.
func (f *Offline) readChunk() (int, error) {
	filled := 0
	var err error
	for filled < len(f.interleaved) {
		var n int
		n, err = f.src.ReadSamples(f.interleaved[filled:])
		filled += n
		if err != nil || n == 0 {
			if err == nil {
				err = io.EOF
			}
			break
		}
	}
	for i := filled; i < len(f.interleaved); i++ {
		f.interleaved[i] = 0
	}
	return filled / f.in.ChannelCount(), err
}

func (f *Offline) deinterleave() {
	channels := len(f.inPlanes)
	for ch, plane := range f.inPlanes {
		for s := 0; s < audio.ChunkSize; s++ {
			plane[s] = f.interleaved[s*channels+ch]
		}
	}
}

func (f *Offline) writeChunk() error {
	f.bounce.Data = f.bounce.Data[:0]
	for s := 0; s < audio.ChunkSize; s++ {
		for _, plane := range f.outPlanes {
			f.bounce.Data = append(f.bounce.Data, pcm24(plane[s]))
		}
	}
	return f.enc.Write(f.bounce)
}

func (f *Offline) close() error {
	f.closeOnce.Do(func() {
		if f.enc != nil {
			f.closeErr = f.enc.Close()
		}
		if f.file != nil {
			if err := f.file.Close(); f.closeErr == nil {
				f.closeErr = err
			}
		}
		if f.src != nil {
			if err := f.src.Close(); err != nil && f.closeErr == nil {
				f.closeErr = err
			}
		}
	})
	return f.closeErr
}

// planes collects the channel slices of a buffer so the render loop
// indexes them without per-sample lookups.
func planes(b *audio.Buffer) [][]float32 {
	out := make([][]float32, b.ChannelCount())
	for ch := range out {
		out[ch] = b.Channel(ch)
	}
	return out
}

// pcm24 maps [-1, 1] to the 24 bit integer range.
func pcm24(v float32) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(v * 8388607)
}
