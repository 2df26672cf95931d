package codec

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type stubSource struct {
	closed bool
}

func (s *stubSource) SampleRate() int { return 48000 }
func (s *stubSource) Channels() int   { return 1 }
func (s *stubSource) Close() error    { s.closed = true; return nil }

func (s *stubSource) ReadSamples(dst []float32) (int, error) {
	return 0, io.EOF
}

type stubDecoder struct {
	src   *stubSource
	calls int
}

func (d *stubDecoder) Decode(r io.ReadSeeker) (Source, error) {
	d.calls++
	return d.src, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	dec := &stubDecoder{src: &stubSource{}}
	reg.Register("fake", dec)

	got, ok := reg.Get("fake")
	if !ok {
		t.Fatal("Get() did not find registered decoder")
	}
	if got != Decoder(dec) {
		t.Error("Get() returned a different decoder")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get() found a decoder that was never registered")
	}
}

func TestOpenPicksDecoderByExtension(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"lower_case", "clip.fake"},
		{"upper_case", "CLIP.FAKE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			dec := &stubDecoder{src: &stubSource{}}
			reg.Register("fake", dec)

			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
				t.Fatal(err)
			}

			src, err := reg.Open(path)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if dec.calls != 1 {
				t.Errorf("decoder called %d times, want 1", dec.calls)
			}
			if err := src.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
			if !dec.src.closed {
				t.Error("Close() did not reach the decoded source")
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	t.Run("unknown_format", func(t *testing.T) {
		_, err := Open("session.xyz")
		if !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("Open() error = %v, want ErrUnknownFormat", err)
		}
	})
	t.Run("missing_file", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "missing.wav"))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Open() error = %v, want fs.ErrNotExist", err)
		}
	})
}

func writeTestWav(t *testing.T, path string, rate, channels int, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWavRoundTrip(t *testing.T) {
	const frames = 100
	samples := make([]int, 2*frames)
	for i := 0; i < frames; i++ {
		samples[2*i] = i * 100
		samples[2*i+1] = -i * 100
	}
	path := filepath.Join(t.TempDir(), "ramp.wav")
	writeTestWav(t, path, 44100, 2, samples)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	if got := src.SampleRate(); got != 44100 {
		t.Errorf("SampleRate() = %d, want 44100", got)
	}
	if got := src.Channels(); got != 2 {
		t.Errorf("Channels() = %d, want 2", got)
	}

	var decoded []float32
	dst := make([]float32, 150)
	for {
		n, err := src.ReadSamples(dst)
		decoded = append(decoded, dst[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadSamples() error = %v", err)
		}
	}

	if len(decoded) != 2*frames {
		t.Fatalf("decoded %d samples, want %d", len(decoded), 2*frames)
	}
	for i := 0; i < frames; i++ {
		want := float32(i*100) / 32768.0
		if decoded[2*i] != want {
			t.Fatalf("sample %d left = %v, want %v", i, decoded[2*i], want)
		}
		if decoded[2*i+1] != -want {
			t.Fatalf("sample %d right = %v, want %v", i, decoded[2*i+1], -want)
		}
	}
}

func TestDecodersRejectGarbage(t *testing.T) {
	garbage := []byte("this is not an audio stream of any kind whatsoever")
	tests := []struct {
		name string
		dec  Decoder
	}{
		{"wav", WavDecoder{}},
		{"mp3", MP3Decoder{}},
		{"ogg", OggDecoder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.dec.Decode(bytes.NewReader(garbage)); err == nil {
				t.Error("Decode() accepted garbage input")
			}
		})
	}
}
