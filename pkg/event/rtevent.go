// Package event defines the engine's two event taxonomies and the queues
// that carry them. RtEvent is a fixed-size value record moved between the
// audio thread and the rest of the system through lock-free queues; Event
// is the heap-allocated message used between controllers, the dispatcher
// and its subscribers.
package event

import (
	"time"

	"github.com/takt-audio/takt/pkg/id"
	"github.com/takt-audio/takt/pkg/transport"
)

// ImmediateProcess marks an event due at the next processed chunk.
const ImmediateProcess time.Duration = 0

// RtType enumerates the real-time event kinds.
type RtType int32

const (
	RtNoteOn RtType = iota
	RtNoteOff
	RtNoteAftertouch
	RtPitchBend
	RtAftertouch
	RtModulation
	RtWrappedMidi
	RtFloatParameterChange
	RtIntParameterChange
	RtBoolParameterChange
	RtStringPropertyChange
	RtDataPropertyChange
	RtParameterUpdate
	RtCvOut
	RtGateOut
	RtClipNotification
	RtInsertProcessor
	RtRemoveProcessor
	RtAddProcessorToTrack
	RtRemoveProcessorFromTrack
	RtAddTrack
	RtRemoveTrack
	RtAsyncWork
	RtAsyncWorkCompletion
	RtStringDelete
	RtDataDelete
	RtTempo
	RtTimeSignature
	RtPlayingMode
	RtSyncMode
	RtStopEngine
)

// AsyncWorkCallback runs on a background thread on behalf of a processor
// that requested asynchronous work; the returned status is delivered back
// to the processor in an RtAsyncWorkCompletion event.
type AsyncWorkCallback func(workerID uint32) int

// RtEvent is the trivially copyable event record passed by value through
// the real-time queues. Construct with the package-level factory
// functions; accessors are only meaningful for the kinds that set them.
type RtEvent struct {
	typ    RtType
	target id.ObjectID
	time   time.Duration
	offset int

	channel   int
	note      int
	value     float32
	intValue  int
	boolValue bool

	param     id.ObjectID
	before    id.ObjectID
	hasBefore bool

	midi [4]byte
	str  *string
	data []byte
	obj  any

	workerID uint32
	work     AsyncWorkCallback
	status   int

	tempo    float32
	timeSig  transport.TimeSignature
	playMode transport.PlayingMode
	syncMode transport.SyncMode
}

// Type returns the event kind.
func (e RtEvent) Type() RtType { return e.typ }

// Target returns the ObjectID the event is addressed to.
func (e RtEvent) Target() id.ObjectID { return e.target }

// Time returns the due time; ImmediateProcess means the next chunk.
func (e RtEvent) Time() time.Duration { return e.time }

// Offset returns the sample offset within the chunk.
func (e RtEvent) Offset() int { return e.offset }

// Channel returns the keyboard channel for note and MIDI kinds.
func (e RtEvent) Channel() int { return e.channel }

// Note returns the note number for note kinds.
func (e RtEvent) Note() int { return e.note }

// Value returns the float payload: velocity, normalised parameter value,
// pitch bend amount or CV level depending on the kind.
func (e RtEvent) Value() float32 { return e.value }

// IntValue returns the integer payload of RtIntParameterChange and the
// port number of CV and gate output kinds.
func (e RtEvent) IntValue() int { return e.intValue }

// BoolValue returns the boolean payload.
func (e RtEvent) BoolValue() bool { return e.boolValue }

// ParameterID returns the addressed parameter for parameter kinds.
func (e RtEvent) ParameterID() id.ObjectID { return e.param }

// BeforeID returns the insertion position for RtAddProcessorToTrack; ok is
// false when the processor goes at the back.
func (e RtEvent) BeforeID() (pos id.ObjectID, ok bool) { return e.before, e.hasBefore }

// MidiData returns the raw message of an RtWrappedMidi event.
func (e RtEvent) MidiData() [4]byte { return e.midi }

// StringValue returns the heap string carried by string property kinds.
// The non-RT side owns it; consumers return it through an RtStringDelete.
func (e RtEvent) StringValue() *string { return e.str }

// DataValue returns the blob carried by data property kinds.
func (e RtEvent) DataValue() []byte { return e.data }

// Object returns the live object carried by graph mutation kinds.
func (e RtEvent) Object() any { return e.obj }

// WorkerID identifies an async work request or completion, and doubles as
// the acknowledgement id of graph mutation kinds.
func (e RtEvent) WorkerID() uint32 { return e.workerID }

// WorkCallback returns the callback of an RtAsyncWork event.
func (e RtEvent) WorkCallback() AsyncWorkCallback { return e.work }

// Status returns the status of an RtAsyncWorkCompletion event.
func (e RtEvent) Status() int { return e.status }

// Tempo returns the BPM of an RtTempo event.
func (e RtEvent) Tempo() float32 { return e.tempo }

// TimeSig returns the signature of an RtTimeSignature event.
func (e RtEvent) TimeSig() transport.TimeSignature { return e.timeSig }

// PlayMode returns the mode of an RtPlayingMode event.
func (e RtEvent) PlayMode() transport.PlayingMode { return e.playMode }

// SyncModeValue returns the mode of an RtSyncMode event.
func (e RtEvent) SyncModeValue() transport.SyncMode { return e.syncMode }

// ClipChannel returns the clipped channel and whether it was an input
// channel for an RtClipNotification event.
func (e RtEvent) ClipChannel() (channel int, input bool) { return e.channel, e.boolValue }

// WithTime returns a copy of the event stamped with a due time.
func (e RtEvent) WithTime(t time.Duration) RtEvent {
	e.time = t
	return e
}

// NoteOn creates a note-on for a processor. Velocity is in [0, 1].
func NoteOn(target id.ObjectID, offset, channel, note int, velocity float32) RtEvent {
	return RtEvent{typ: RtNoteOn, target: target, offset: offset, channel: channel, note: note, value: velocity}
}

// NoteOff creates a note-off for a processor.
func NoteOff(target id.ObjectID, offset, channel, note int, velocity float32) RtEvent {
	return RtEvent{typ: RtNoteOff, target: target, offset: offset, channel: channel, note: note, value: velocity}
}

// NoteAftertouch creates a polyphonic aftertouch event.
func NoteAftertouch(target id.ObjectID, offset, channel, note int, value float32) RtEvent {
	return RtEvent{typ: RtNoteAftertouch, target: target, offset: offset, channel: channel, note: note, value: value}
}

// PitchBend creates a pitch bend event; value is in [-1, 1].
func PitchBend(target id.ObjectID, offset, channel int, value float32) RtEvent {
	return RtEvent{typ: RtPitchBend, target: target, offset: offset, channel: channel, value: value}
}

// ChannelAftertouch creates a channel aftertouch event; value in [0, 1].
func ChannelAftertouch(target id.ObjectID, offset, channel int, value float32) RtEvent {
	return RtEvent{typ: RtAftertouch, target: target, offset: offset, channel: channel, value: value}
}

// ModulationWheel creates a modulation wheel event; value in [0, 1].
func ModulationWheel(target id.ObjectID, offset, channel int, value float32) RtEvent {
	return RtEvent{typ: RtModulation, target: target, offset: offset, channel: channel, value: value}
}

// WrappedMidi wraps a raw MIDI message for a processor that parses MIDI
// itself.
func WrappedMidi(target id.ObjectID, offset int, data [4]byte) RtEvent {
	return RtEvent{typ: RtWrappedMidi, target: target, offset: offset, midi: data}
}

// FloatParameterChange sets a float parameter; value is normalised.
func FloatParameterChange(target id.ObjectID, offset int, paramID id.ObjectID, value float32) RtEvent {
	return RtEvent{typ: RtFloatParameterChange, target: target, offset: offset, param: paramID, value: value}
}

// IntParameterChange sets an integer parameter; value is normalised.
func IntParameterChange(target id.ObjectID, offset int, paramID id.ObjectID, value float32) RtEvent {
	return RtEvent{typ: RtIntParameterChange, target: target, offset: offset, param: paramID, value: value}
}

// BoolParameterChange sets a boolean parameter; value is normalised.
func BoolParameterChange(target id.ObjectID, offset int, paramID id.ObjectID, value float32) RtEvent {
	return RtEvent{typ: RtBoolParameterChange, target: target, offset: offset, param: paramID, value: value}
}

// StringPropertyChange delivers a new string value to a property. The
// string stays owned by the non-RT side.
func StringPropertyChange(target id.ObjectID, offset int, propertyID id.ObjectID, value *string) RtEvent {
	return RtEvent{typ: RtStringPropertyChange, target: target, offset: offset, param: propertyID, str: value}
}

// DataPropertyChange delivers a new blob value to a property.
func DataPropertyChange(target id.ObjectID, offset int, propertyID id.ObjectID, value []byte) RtEvent {
	return RtEvent{typ: RtDataPropertyChange, target: target, offset: offset, param: propertyID, data: value}
}

// StringDelete returns ownership of a consumed string to the non-RT side
// for release.
func StringDelete(value *string) RtEvent {
	return RtEvent{typ: RtStringDelete, str: value}
}

// DataDelete returns ownership of a consumed blob to the non-RT side for
// release.
func DataDelete(value []byte) RtEvent {
	return RtEvent{typ: RtDataDelete, data: value}
}

// ParameterUpdate notifies the non-RT side that a parameter changed on
// the audio thread; value is normalised.
func ParameterUpdate(source id.ObjectID, paramID id.ObjectID, value float32) RtEvent {
	return RtEvent{typ: RtParameterUpdate, target: source, param: paramID, value: value}
}

// CvOut requests a CV output write on the given port.
func CvOut(source id.ObjectID, port int, value float32) RtEvent {
	return RtEvent{typ: RtCvOut, target: source, intValue: port, value: value}
}

// GateOut requests a gate output transition on the given port.
func GateOut(source id.ObjectID, port int, high bool) RtEvent {
	return RtEvent{typ: RtGateOut, target: source, intValue: port, boolValue: high}
}

// ClipNotification reports a clipped channel; input selects which side of
// the engine clipped.
func ClipNotification(channel int, input bool) RtEvent {
	return RtEvent{typ: RtClipNotification, channel: channel, boolValue: input}
}

// InsertProcessor asks the audio thread to adopt a processor into its
// realtime lookup table. The object must satisfy the engine's RT
// processor contract.
func InsertProcessor(ackID uint32, p any) RtEvent {
	return RtEvent{typ: RtInsertProcessor, workerID: ackID, obj: p}
}

// RemoveProcessor asks the audio thread to drop a processor from its
// realtime lookup table.
func RemoveProcessor(ackID uint32, processorID id.ObjectID) RtEvent {
	return RtEvent{typ: RtRemoveProcessor, workerID: ackID, target: processorID}
}

// AddProcessorToTrack asks the audio thread to splice a processor into a
// track's chain, before the given position when hasBefore is set.
func AddProcessorToTrack(ackID uint32, p any, trackID id.ObjectID, before id.ObjectID, hasBefore bool) RtEvent {
	return RtEvent{typ: RtAddProcessorToTrack, workerID: ackID, obj: p, target: trackID, before: before, hasBefore: hasBefore}
}

// RemoveProcessorFromTrack asks the audio thread to remove a processor
// from a track's chain.
func RemoveProcessorFromTrack(ackID uint32, processorID, trackID id.ObjectID) RtEvent {
	return RtEvent{typ: RtRemoveProcessorFromTrack, workerID: ackID, param: processorID, target: trackID}
}

// AddTrack asks the audio thread to append a track to the graph.
func AddTrack(ackID uint32, track any) RtEvent {
	return RtEvent{typ: RtAddTrack, workerID: ackID, obj: track}
}

// RemoveTrack asks the audio thread to drop a track from the graph.
func RemoveTrack(ackID uint32, trackID id.ObjectID) RtEvent {
	return RtEvent{typ: RtRemoveTrack, workerID: ackID, target: trackID}
}

// AsyncWork carries a processor's request to run work on a background
// thread.
func AsyncWork(source id.ObjectID, workerID uint32, callback AsyncWorkCallback) RtEvent {
	return RtEvent{typ: RtAsyncWork, target: source, workerID: workerID, work: callback}
}

// AsyncWorkCompletion reports finished background work back to the
// processor that requested it.
func AsyncWorkCompletion(target id.ObjectID, workerID uint32, status int) RtEvent {
	return RtEvent{typ: RtAsyncWorkCompletion, target: target, workerID: workerID, status: status}
}

// TempoChange carries a tempo change onto the audio thread.
func TempoChange(bpm float32) RtEvent {
	return RtEvent{typ: RtTempo, tempo: bpm}
}

// TimeSignatureChange carries a time signature change onto the audio
// thread.
func TimeSignatureChange(sig transport.TimeSignature) RtEvent {
	return RtEvent{typ: RtTimeSignature, timeSig: sig}
}

// PlayingModeChange carries a play state change onto the audio thread.
func PlayingModeChange(mode transport.PlayingMode) RtEvent {
	return RtEvent{typ: RtPlayingMode, playMode: mode}
}

// SyncModeChange carries a sync source change onto the audio thread.
func SyncModeChange(mode transport.SyncMode) RtEvent {
	return RtEvent{typ: RtSyncMode, syncMode: mode}
}

// StopEngine asks the audio thread to begin the stop transition.
func StopEngine() RtEvent {
	return RtEvent{typ: RtStopEngine}
}
