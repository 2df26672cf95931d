package codec

import (
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavDecoder reads RIFF WAVE files with integer PCM data.
type WavDecoder struct{}

func (WavDecoder) Decode(r io.ReadSeeker) (Source, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidFile
	}
	return &wavSource{
		dec:   dec,
		buf:   &goaudio.IntBuffer{Data: make([]int, 4096)},
		scale: 1.0 / float32(int(1)<<(dec.BitDepth-1)),
	}, nil
}

type wavSource struct {
	dec   *wav.Decoder
	buf   *goaudio.IntBuffer
	scale float32
}

func (s *wavSource) SampleRate() int { return int(s.dec.SampleRate) }
func (s *wavSource) Channels() int   { return int(s.dec.NumChans) }
func (s *wavSource) Close() error    { return nil }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if cap(s.buf.Data) < len(dst) {
		s.buf.Data = make([]int, len(dst))
	}
	s.buf.Data = s.buf.Data[:len(dst)]

	// The decoder swallows io.EOF, so a short or empty read marks the
	// end of the data chunk.
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		dst[i] = float32(s.buf.Data[i]) * s.scale
	}
	return n, nil
}
