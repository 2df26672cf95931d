// Package frontend connects the engine chunk loop to the outside
// world. The offline frontend renders files through the graph, the
// dummy frontend paces silence in real time, and the portaudio and oto
// subpackages drive hardware streams. Frontends own the chunk cadence;
// the engine never spins a loop of its own.
package frontend

import (
	"errors"
	"time"

	"github.com/takt-audio/takt/pkg/engine"
)

var (
	ErrNotConnected   = errors.New("frontend: not connected")
	ErrAlreadyRunning = errors.New("frontend: already running")
	ErrNoInput        = errors.New("frontend: no input configured")
	ErrNoOutput       = errors.New("frontend: no output configured")
)

// Frontend is the lifecycle every audio frontend follows.
type Frontend interface {
	// Connect claims devices or opens files.
	Connect() error
	// Run processes chunks until the input ends or Stop is called.
	// It blocks for the lifetime of the stream.
	Run() error
	// Stop ends Run and releases what Connect claimed. Safe to call
	// from another goroutine while Run blocks.
	Stop()
}

// WaitStopped polls the engine until the realtime state reaches
// stopped or the timeout passes. Realtime frontends disarm the engine
// and then wait here for the stop event to clear the audio thread
// before tearing the stream down.
func WaitStopped(e *engine.Engine, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for e.State() != engine.Stopped {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// Timestamp converts a running sample count to stream time.
func Timestamp(sampleCount int64, sampleRate float64) time.Duration {
	return time.Duration(float64(sampleCount) / sampleRate * float64(time.Second))
}
