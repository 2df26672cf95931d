package wavwriter

import "sync/atomic"

// frameRing is a wait-free single producer single consumer ring of
// stereo frames. The audio thread writes whole chunks, the writer
// goroutine drains at its own pace.
type frameRing struct {
	head atomic.Uint64
	tail atomic.Uint64
	mask uint64
	ring [][2]float32
}

// newFrameRing creates a ring holding up to capacity frames, rounded up
// to a power of two.
func newFrameRing(capacity int) *frameRing {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &frameRing{mask: size - 1, ring: make([][2]float32, size)}
}

// write appends all frames or none, so a chunk is never torn. It
// reports whether the frames fit.
func (r *frameRing) write(frames [][2]float32) bool {
	tail := r.tail.Load()
	if uint64(len(r.ring))-(tail-r.head.Load()) < uint64(len(frames)) {
		return false
	}
	for i, f := range frames {
		r.ring[(tail+uint64(i))&r.mask] = f
	}
	r.tail.Store(tail + uint64(len(frames)))
	return true
}

// buffered returns the queued frame count.
func (r *frameRing) buffered() int {
	return int(r.tail.Load() - r.head.Load())
}

// read copies up to len(out) frames and returns the count.
func (r *frameRing) read(out [][2]float32) int {
	head := r.head.Load()
	avail := r.tail.Load() - head
	n := len(out)
	if uint64(n) > avail {
		n = int(avail)
	}
	for i := 0; i < n; i++ {
		out[i] = r.ring[(head+uint64(i))&r.mask]
	}
	r.head.Store(head + uint64(n))
	return n
}
