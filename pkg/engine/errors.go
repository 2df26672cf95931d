package engine

import "errors"

var (
	// ErrInvalidTrack is returned when a track id or name does not
	// resolve.
	ErrInvalidTrack = errors.New("engine: unknown track")

	// ErrInvalidProcessor is returned when a processor id or name does
	// not resolve.
	ErrInvalidProcessor = errors.New("engine: unknown processor")

	// ErrInvalidPlugin is returned when no plugin with the requested uid
	// is registered with the factory.
	ErrInvalidPlugin = errors.New("engine: unknown plugin uid")

	// ErrProcessorExists is returned when a processor name is already
	// taken.
	ErrProcessorExists = errors.New("engine: processor name already in use")

	// ErrProcessorOnTrack is returned when deleting a processor that is
	// still part of a track chain.
	ErrProcessorOnTrack = errors.New("engine: processor still on a track")

	// ErrAlreadyOnTrack is returned when adding a processor that already
	// belongs to a track.
	ErrAlreadyOnTrack = errors.New("engine: processor already on a track")

	// ErrNotOnTrack is returned when removing a processor from a track it
	// is not part of.
	ErrNotOnTrack = errors.New("engine: processor not on that track")

	// ErrInvalidChannel is returned for audio connections outside the
	// configured channel ranges.
	ErrInvalidChannel = errors.New("engine: invalid channel")

	// ErrInvalidPort is returned for CV or gate connections outside the
	// port range.
	ErrInvalidPort = errors.New("engine: invalid control port")

	// ErrInvalidPpq is returned for sync routes with a non-positive tick
	// rate.
	ErrInvalidPpq = errors.New("engine: invalid pulses per quarter note")

	// ErrTooManyProcessors is returned when the realtime processor table
	// is exhausted.
	ErrTooManyProcessors = errors.New("engine: realtime processor limit reached")

	// ErrQueueFull is returned when a realtime queue rejects an event.
	ErrQueueFull = errors.New("engine: realtime queue full")

	// ErrTimeout is returned when the audio thread does not acknowledge a
	// graph change in time.
	ErrTimeout = errors.New("engine: timed out waiting for audio thread")

	// ErrChainFull is returned when a track chain cannot take another
	// processor.
	ErrChainFull = errors.New("engine: track chain full")
)
