package engine

import (
	"math"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/event"
)

// clipInterval is the per-channel hold-off between clipping
// notifications.
const clipInterval = 0.5 // seconds

// clipDetector watches one side of the engine for samples beyond full
// scale and emits rate-limited notifications.
type clipDetector struct {
	input       bool
	interval    int64
	nextAllowed [audio.MaxChannels]int64
}

func newClipDetector(sampleRate float64, input bool) *clipDetector {
	d := &clipDetector{input: input, interval: int64(sampleRate * clipInterval)}
	for ch := range d.nextAllowed {
		d.nextAllowed[ch] = math.MinInt64
	}
	return d
}

func (d *clipDetector) setSampleRate(sampleRate float64) {
	d.interval = int64(sampleRate * clipInterval)
}

// detect scans the buffer and pushes one notification per clipped
// channel, at most once per interval.
func (d *clipDetector) detect(buf *audio.Buffer, sampleCount int64, out *event.RtQueue) {
	for ch := 0; ch < buf.ChannelCount() && ch < audio.MaxChannels; ch++ {
		if sampleCount < d.nextAllowed[ch] {
			continue
		}
		samples := buf.Channel(ch)
		for _, s := range samples {
			if s > 1.0 || s < -1.0 {
				out.Push(event.ClipNotification(ch, d.input))
				d.nextAllowed[ch] = sampleCount + d.interval
				break
			}
		}
	}
}
