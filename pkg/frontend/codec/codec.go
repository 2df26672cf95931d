// Package codec decodes audio files into streams of float32 samples.
// A Registry maps format names to decoders and Open picks the decoder
// from the file extension. The built-in formats are wav, mp3 and ogg
// vorbis.
package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrUnknownFormat = errors.New("codec: unknown format")
	ErrInvalidFile   = errors.New("codec: invalid file")
)

// Source is a stream of decoded audio.
type Source interface {
	// SampleRate of the stream in Hz.
	SampleRate() int
	// Channels per frame.
	Channels() int
	// ReadSamples fills dst with interleaved samples in [-1, 1] and
	// returns the number of values written. A return of 0 with io.EOF
	// marks the end of the stream.
	ReadSamples(dst []float32) (int, error)
	// Close releases decoder resources.
	Close() error
}

// Decoder builds a Source from an open file.
type Decoder interface {
	Decode(r io.ReadSeeker) (Source, error)
}

// Registry maps format names to decoders.
type Registry struct {
	mtx    sync.Mutex
	codecs map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// Register adds a decoder under a format name such as "wav".
// Registering the same name again replaces the earlier decoder.
func (r *Registry) Register(format string, d Decoder) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.codecs[format] = d
}

// Get returns the decoder registered under format.
func (r *Registry) Get(format string) (Decoder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	d, ok := r.codecs[format]
	return d, ok
}

// Open decodes the file at path, picking the decoder from the file
// extension. Closing the returned source also closes the file.
func (r *Registry) Open(path string) (Source, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	dec, ok := r.Get(format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := dec.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &fileSource{Source: src, file: f}, nil
}

// fileSource ties the lifetime of the backing file to the source.
type fileSource struct {
	Source
	file *os.File
}

func (s *fileSource) Close() error {
	err := s.Source.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Default holds the built-in formats.
var Default = func() *Registry {
	r := NewRegistry()
	r.Register("wav", WavDecoder{})
	r.Register("mp3", MP3Decoder{})
	r.Register("ogg", OggDecoder{})
	return r
}()

// Open decodes path with the default registry.
func Open(path string) (Source, error) { return Default.Open(path) }
