// Package id provides process-wide unique identifiers for engine objects.
// Processors and parameters draw from the same monotonic counter, so an
// ObjectId never refers to two live objects at once.
package id

import "sync/atomic"

// ObjectID identifies a processor, track or parameter within the process.
type ObjectID uint32

// InvalidID is returned by lookups that found nothing.
const InvalidID ObjectID = ^ObjectID(0)

var counter atomic.Uint32

// New returns the next unused ObjectID. Safe for concurrent use from any
// thread; wrap-around is not handled.
func New() ObjectID {
	return ObjectID(counter.Add(1) - 1)
}

// Peek returns the id the next call to New will allocate. Intended for
// tests that need to predict id assignment.
func Peek() ObjectID {
	return ObjectID(counter.Load())
}
