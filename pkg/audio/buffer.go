// Package audio provides the fixed-chunk sample buffers that move audio
// between the driver, the engine, tracks and processors. All processing
// happens in chunks of exactly ChunkSize frames; a Buffer stores its
// channels as consecutive planes in one allocation so non-owning views over
// a channel range are plain sub-slices.
package audio

// ChunkSize is the number of frames processed per engine call.
const ChunkSize = 64

// MaxChannels bounds the channel count of any processor or frontend buffer.
const MaxChannels = 16

// Buffer is a multi-channel chunk of samples. The zero value is an empty
// buffer with no channels. Buffers created with New own their samples;
// views created with NonOwning alias the owner's storage and must not
// outlive it.
type Buffer struct {
	data     []float32
	channels int
}

// New returns a Buffer owning storage for the given number of channels.
func New(channels int) Buffer {
	if channels <= 0 {
		return Buffer{}
	}
	return Buffer{
		data:     make([]float32, channels*ChunkSize),
		channels: channels,
	}
}

// NonOwning returns a view over count channels of b starting at first.
// The view shares storage with b.
func (b *Buffer) NonOwning(first, count int) Buffer {
	if first < 0 || count <= 0 || first+count > b.channels {
		return Buffer{}
	}
	return Buffer{
		data:     b.data[first*ChunkSize : (first+count)*ChunkSize],
		channels: count,
	}
}

// ChannelCount returns the number of channels in the buffer.
func (b *Buffer) ChannelCount() int {
	return b.channels
}

// Channel returns the sample plane for one channel. The slice aliases the
// buffer's storage and always has ChunkSize elements.
func (b *Buffer) Channel(ch int) []float32 {
	return b.data[ch*ChunkSize : (ch+1)*ChunkSize]
}

// Clear zeroes every sample.
func (b *Buffer) Clear() {
	for i := range b.data {
		b.data[i] = 0
	}
}

// CopyFrom copies samples from src on the channels both buffers have.
func (b *Buffer) CopyFrom(src Buffer) {
	n := min(b.channels, src.channels)
	copy(b.data[:n*ChunkSize], src.data[:n*ChunkSize])
}

// Add sums src into b on the channels both buffers have. A mono src is
// broadcast to every channel of b.
func (b *Buffer) Add(src Buffer) {
	if src.channels == 1 && b.channels > 1 {
		mono := src.Channel(0)
		for ch := 0; ch < b.channels; ch++ {
			dst := b.Channel(ch)
			for i, s := range mono {
				dst[i] += s
			}
		}
		return
	}
	n := min(b.channels, src.channels) * ChunkSize
	for i := 0; i < n; i++ {
		b.data[i] += src.data[i]
	}
}

// AddWithGain sums src into b scaled by gain.
func (b *Buffer) AddWithGain(src Buffer, gain float32) {
	n := min(b.channels, src.channels) * ChunkSize
	for i := 0; i < n; i++ {
		b.data[i] += src.data[i] * gain
	}
}

// AdaptFrom copies src into b with channel-count adaptation: matching
// channels copy one to one, extra destination channels are zeroed and extra
// source channels fold into the first destination channels. This is the
// pass-through used by bypassed processors.
func (b *Buffer) AdaptFrom(src Buffer) {
	if b.channels == 0 {
		return
	}
	common := min(b.channels, src.channels)
	copy(b.data[:common*ChunkSize], src.data[:common*ChunkSize])
	for ch := common; ch < b.channels; ch++ {
		dst := b.Channel(ch)
		for i := range dst {
			dst[i] = 0
		}
	}
	for ch := common; ch < src.channels; ch++ {
		dst := b.Channel(ch % b.channels)
		from := src.Channel(ch)
		for i, s := range from {
			dst[i] += s
		}
	}
}

// ApplyGain scales every sample by gain.
func (b *Buffer) ApplyGain(gain float32) {
	for i := range b.data {
		b.data[i] *= gain
	}
}

// ApplyGainRamp scales every channel with a per-sample linear ramp from
// start to end across the chunk. Used for click-free gain and bypass
// transitions.
func (b *Buffer) ApplyGainRamp(start, end float32) {
	inc := (end - start) / float32(ChunkSize)
	for ch := 0; ch < b.channels; ch++ {
		plane := b.Channel(ch)
		gain := start
		for i := range plane {
			plane[i] *= gain
			gain += inc
		}
	}
}

// RampUp fades the chunk in from silence.
func (b *Buffer) RampUp() {
	b.ApplyGainRamp(0, 1)
}

// RampDown fades the chunk out to silence.
func (b *Buffer) RampDown() {
	b.ApplyGainRamp(1, 0)
}

// Peak returns the largest absolute sample value in the buffer.
func (b *Buffer) Peak() float32 {
	var peak float32
	for _, s := range b.data {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
