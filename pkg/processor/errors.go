package processor

import "errors"

var (
	// ErrUnknownParameter is returned when a parameter or property id does
	// not exist on the processor.
	ErrUnknownParameter = errors.New("processor: unknown parameter")

	// ErrInvalidChannelCount is returned when a channel configuration
	// exceeds what the processor supports.
	ErrInvalidChannelCount = errors.New("processor: invalid channel count")

	// ErrStateVersion is returned when a state blob was written by an
	// incompatible version.
	ErrStateVersion = errors.New("processor: unsupported state version")

	// ErrStateCorrupt is returned when a state blob fails to parse.
	ErrStateCorrupt = errors.New("processor: corrupt state blob")
)
