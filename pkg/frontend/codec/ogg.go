package codec

import (
	"io"

	"github.com/jfreymuth/oggvorbis"
)

// OggDecoder reads ogg vorbis streams.
type OggDecoder struct{}

func (OggDecoder) Decode(r io.ReadSeeker) (Source, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &oggSource{dec: dec}, nil
}

type oggSource struct {
	dec *oggvorbis.Reader
}

func (s *oggSource) SampleRate() int { return s.dec.SampleRate() }
func (s *oggSource) Channels() int   { return s.dec.Channels() }
func (s *oggSource) Close() error    { return nil }

// ReadSamples delegates to the vorbis reader, which already hands out
// interleaved float32 values and io.EOF at the stream end.
func (s *oggSource) ReadSamples(dst []float32) (int, error) {
	return s.dec.Read(dst)
}
