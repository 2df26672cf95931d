package sampledelay

import (
	"testing"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/transport"
)

func newTestPlugin(t *testing.T) *Plugin {
	t.Helper()
	p, err := New(host.NewControl(transport.New(48000), nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Init(48000); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p
}

func TestSampleDelayZeroPassesThrough(t *testing.T) {
	p := newTestPlugin(t)
	in := audio.New(2)
	out := audio.New(2)
	for s := 0; s < audio.ChunkSize; s++ {
		in.Channel(0)[s] = float32(s)
		in.Channel(1)[s] = -float32(s)
	}

	p.ProcessAudio(&in, &out)

	for s := 0; s < audio.ChunkSize; s++ {
		if out.Channel(0)[s] != float32(s) || out.Channel(1)[s] != -float32(s) {
			t.Fatalf("sample %d = %f, %f, want %d, %d",
				s, out.Channel(0)[s], out.Channel(1)[s], s, -s)
		}
	}
}

func TestSampleDelayShiftsImpulse(t *testing.T) {
	p := newTestPlugin(t)
	for ch, delay := range map[string]float64{"sample_delay_ch1": 10, "sample_delay_ch2": 20} {
		par, err := p.ParameterByName(ch)
		if err != nil {
			t.Fatalf("ParameterByName(%q): %v", ch, err)
		}
		par.SetDomainValue(delay)
	}

	in := audio.New(2)
	out := audio.New(2)
	in.Channel(0)[0] = 1
	in.Channel(1)[0] = 1

	p.ProcessAudio(&in, &out)

	for s := 0; s < audio.ChunkSize; s++ {
		want0, want1 := float32(0), float32(0)
		if s == 10 {
			want0 = 1
		}
		if s == 20 {
			want1 = 1
		}
		if out.Channel(0)[s] != want0 || out.Channel(1)[s] != want1 {
			t.Fatalf("sample %d = %f, %f, want %f, %f",
				s, out.Channel(0)[s], out.Channel(1)[s], want0, want1)
		}
	}
}

func TestSampleDelayCrossesChunkBoundary(t *testing.T) {
	p := newTestPlugin(t)
	par, err := p.ParameterByName("sample_delay_ch1")
	if err != nil {
		t.Fatalf("ParameterByName: %v", err)
	}
	par.SetDomainValue(10)

	in := audio.New(1)
	out := audio.New(1)
	in.Channel(0)[audio.ChunkSize-4] = 1

	p.ProcessAudio(&in, &out)
	in.Clear()
	p.ProcessAudio(&in, &out)

	// An impulse 4 samples before the boundary, delayed by 10, lands 6
	// samples into the next chunk.
	for s := 0; s < audio.ChunkSize; s++ {
		want := float32(0)
		if s == 6 {
			want = 1
		}
		if out.Channel(0)[s] != want {
			t.Fatalf("sample %d = %f, want %f", s, out.Channel(0)[s], want)
		}
	}
}

func BenchmarkSampleDelayProcessAudio(b *testing.B) {
	p, err := New(host.NewControl(transport.New(48000), nil))
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	if err := p.Init(48000); err != nil {
		b.Fatalf("Init: %v", err)
	}
	in := audio.New(2)
	out := audio.New(2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.ProcessAudio(&in, &out)
	}
}
