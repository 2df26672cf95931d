// Package wavwriter implements a capture plugin. Audio passes through
// unchanged; while the write parameter is on, frames are pushed onto a
// lock-free ring and a background goroutine encodes them to a WAV file,
// keeping file I/O off the audio thread.
package wavwriter

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/param"
	"github.com/takt-audio/takt/pkg/processor"
)

const (
	// Name is the uid the plugin factory creates this plugin under.
	Name  = "takt.wav_writer"
	Label = "Wav writer"

	wavChannels   = 2
	wavBitDepth   = 24
	wavPCMFormat  = 1
	ringFrames    = 16384
	drainFrames   = 4096
	flushInterval = 20 * time.Millisecond
)

// Plugin taps the audio stream into a WAV file. The file opens when the
// write parameter turns on and is finalised when it turns off or the
// plugin is closed.
type Plugin struct {
	*processor.Internal

	write *param.Parameter
	dest  *param.Parameter

	ring    *frameRing
	chunk   [audio.ChunkSize][2]float32
	dropped atomic.Uint64

	mu  sync.Mutex
	err error

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a wav writer plugin.
func New(hostCtl *host.Control) (*Plugin, error) {
	p := &Plugin{
		Internal: processor.NewInternal(hostCtl, Name, Label, wavChannels, wavChannels),
		ring:     newFrameRing(ringFrames),
		done:     make(chan struct{}),
	}
	w, err := p.RegisterBoolParameter("write", "Write to file", false)
	if err != nil {
		return nil, err
	}
	d, err := p.RegisterStringProperty("destination", "Destination file", "takt_capture.wav")
	if err != nil {
		return nil, err
	}
	p.write, p.dest = w, d
	return p, nil
}

// Init starts the writer goroutine.
func (p *Plugin) Init(sampleRate float64) error {
	if err := p.Internal.Init(sampleRate); err != nil {
		return err
	}
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.writerLoop()
	})
	return nil
}

// Close stops the writer, finalises any open file and returns the first
// write error.
func (p *Plugin) Close() error {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return p.Err()
}

// Err returns the first error the writer hit, nil if none.
func (p *Plugin) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// DroppedFrames returns how many frames were lost to a full ring.
func (p *Plugin) DroppedFrames() uint64 { return p.dropped.Load() }

// ProcessAudio passes audio through and captures it while writing is on.
// A mono input records to both file channels.
func (p *Plugin) ProcessAudio(in, out *audio.Buffer) {
	out.AdaptFrom(*in)
	if !p.write.BoolValue() || in.ChannelCount() == 0 {
		return
	}
	left := in.Channel(0)
	right := left
	if in.ChannelCount() > 1 {
		right = in.Channel(1)
	}
	for s := 0; s < audio.ChunkSize; s++ {
		p.chunk[s] = [2]float32{left[s], right[s]}
	}
	if !p.ring.write(p.chunk[:]) {
		p.dropped.Add(audio.ChunkSize)
	}
}

func (p *Plugin) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Plugin) writerLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var enc *wav.Encoder
	var file *os.File
	frames := make([][2]float32, drainFrames)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: wavChannels},
		Data:   make([]int, 0, drainFrames*wavChannels),
	}

	open := func() {
		f, err := os.Create(p.dest.StringValue())
		if err != nil {
			p.setErr(err)
			return
		}
		rate := int(p.SampleRate())
		buf.Format.SampleRate = rate
		file = f
		enc = wav.NewEncoder(f, rate, wavBitDepth, wavChannels, wavPCMFormat)
	}
	flush := func() {
		if enc == nil {
			return
		}
		for {
			n := p.ring.read(frames)
			if n == 0 {
				return
			}
			buf.Data = buf.Data[:0]
			for _, fr := range frames[:n] {
				buf.Data = append(buf.Data, pcm24(fr[0]), pcm24(fr[1]))
			}
			if err := enc.Write(buf); err != nil {
				p.setErr(err)
				return
			}
		}
	}
	finish := func() {
		if enc == nil {
			return
		}
		if err := enc.Close(); err != nil {
			p.setErr(err)
		}
		if err := file.Close(); err != nil {
			p.setErr(err)
		}
		enc, file = nil, nil
	}
	defer finish()

	for {
		select {
		case <-p.done:
			// Captured frames the ticker never picked up still land in
			// the file.
			if enc == nil && p.Err() == nil && p.ring.buffered() > 0 {
				open()
			}
			flush()
			return
		case <-ticker.C:
			recording := p.write.BoolValue()
			if recording && enc == nil && p.Err() == nil {
				open()
			}
			flush()
			if !recording {
				finish()
			}
		}
	}
}

// pcm24 converts a float sample to a 24 bit integer sample.
func pcm24(v float32) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(v * 8388607)
}

var _ processor.Processor = (*Plugin)(nil)
