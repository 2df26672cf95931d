package event

import (
	"sync/atomic"
	"time"

	"github.com/takt-audio/takt/pkg/id"
	"github.com/takt-audio/takt/pkg/transport"
)

// Status reports the outcome of processing a non-RT event.
type Status int

const (
	StatusHandledOK Status = iota
	StatusNotHandled
	StatusUnrecognizedReceiver
	StatusUnrecognizedEvent
	StatusQueueFull
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusHandledOK:
		return "handled_ok"
	case StatusNotHandled:
		return "not_handled"
	case StatusUnrecognizedReceiver:
		return "unrecognized_receiver"
	case StatusUnrecognizedEvent:
		return "unrecognized_event"
	case StatusQueueFull:
		return "queue_full"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Poster ids. Every poster registers with the dispatcher under one of
// these; events carry the id of the poster that should receive them.
const (
	PosterAudioEngine = iota
	PosterMidiDispatcher
	PosterController
	PosterWorker
	PosterCount
)

// Poster is a component that receives posted events from the dispatcher.
type Poster interface {
	PosterID() int
	Process(ev Event) Status
}

// CompletionCallback is invoked by the dispatcher once an event has been
// processed, with the final status.
type CompletionCallback func(ev Event, status Status)

// Event is the non-realtime message passed through the dispatcher.
type Event interface {
	// ID returns the serial number assigned at construction.
	ID() uint32
	// Time returns when the event is due; the dispatcher holds events
	// scheduled in the future.
	Time() time.Duration
	// Receiver returns the poster id the event is addressed to.
	Receiver() int
	// Completion returns the callback to invoke after processing, or nil.
	Completion() CompletionCallback
	// SetCompletion installs the post-processing callback.
	SetCompletion(cb CompletionCallback)
}

// RtMapper is implemented by events that convert to a realtime event for
// the audio thread. Conversion happens off the audio thread, so it may
// allocate.
type RtMapper interface {
	ToRtEvent(offset int) (RtEvent, bool)
}

var eventSerial atomic.Uint32

// NextEventID returns a process-unique serial for correlating requests
// with acknowledgements.
func NextEventID() uint32 {
	return eventSerial.Add(1)
}

var processStart = time.Now()

// Now returns the monotonic time used for event scheduling.
func Now() time.Duration {
	return time.Since(processStart)
}

type baseEvent struct {
	eventID    uint32
	time       time.Duration
	receiver   int
	completion CompletionCallback
}

func newBase(receiver int, t time.Duration) baseEvent {
	return baseEvent{eventID: NextEventID(), time: t, receiver: receiver}
}

func (b *baseEvent) ID() uint32                          { return b.eventID }
func (b *baseEvent) Time() time.Duration                 { return b.time }
func (b *baseEvent) Receiver() int                       { return b.receiver }
func (b *baseEvent) Completion() CompletionCallback      { return b.completion }
func (b *baseEvent) SetCompletion(cb CompletionCallback) { b.completion = cb }

// KeyboardSubtype distinguishes the keyboard event kinds.
type KeyboardSubtype int

const (
	KbNoteOn KeyboardSubtype = iota
	KbNoteOff
	KbNoteAftertouch
	KbPitchBend
	KbAftertouch
	KbModulation
	KbWrappedMidi
)

// KeyboardEvent is a note or performance controller message addressed to
// a processor. It maps to a realtime event.
type KeyboardEvent struct {
	baseEvent
	Subtype KeyboardSubtype
	Target  id.ObjectID
	Channel int
	Note    int
	Value   float32
	Midi    [4]byte
}

// NewKeyboardEvent creates a keyboard event due at time t.
func NewKeyboardEvent(subtype KeyboardSubtype, target id.ObjectID, channel, note int, value float32, t time.Duration) *KeyboardEvent {
	return &KeyboardEvent{
		baseEvent: newBase(PosterAudioEngine, t),
		Subtype:   subtype,
		Target:    target,
		Channel:   channel,
		Note:      note,
		Value:     value,
	}
}

// NewWrappedMidiEvent creates a keyboard event carrying a raw MIDI
// message.
func NewWrappedMidiEvent(target id.ObjectID, data [4]byte, t time.Duration) *KeyboardEvent {
	return &KeyboardEvent{
		baseEvent: newBase(PosterAudioEngine, t),
		Subtype:   KbWrappedMidi,
		Target:    target,
		Midi:      data,
	}
}

// ToRtEvent implements RtMapper.
func (e *KeyboardEvent) ToRtEvent(offset int) (RtEvent, bool) {
	switch e.Subtype {
	case KbNoteOn:
		return NoteOn(e.Target, offset, e.Channel, e.Note, e.Value), true
	case KbNoteOff:
		return NoteOff(e.Target, offset, e.Channel, e.Note, e.Value), true
	case KbNoteAftertouch:
		return NoteAftertouch(e.Target, offset, e.Channel, e.Note, e.Value), true
	case KbPitchBend:
		return PitchBend(e.Target, offset, e.Channel, e.Value), true
	case KbAftertouch:
		return ChannelAftertouch(e.Target, offset, e.Channel, e.Value), true
	case KbModulation:
		return ModulationWheel(e.Target, offset, e.Channel, e.Value), true
	case KbWrappedMidi:
		return WrappedMidi(e.Target, offset, e.Midi), true
	}
	return RtEvent{}, false
}

// KeyboardNotificationEvent reports a keyboard event that left the engine,
// for fan-out to keyboard subscribers.
type KeyboardNotificationEvent struct {
	baseEvent
	Subtype KeyboardSubtype
	Source  id.ObjectID
	Channel int
	Note    int
	Value   float32
	Midi    [4]byte
}

// NewKeyboardNotificationEvent creates a notification of an outbound
// keyboard event from the given source processor.
func NewKeyboardNotificationEvent(subtype KeyboardSubtype, source id.ObjectID, channel, note int, value float32, t time.Duration) *KeyboardNotificationEvent {
	return &KeyboardNotificationEvent{
		baseEvent: newBase(PosterMidiDispatcher, t),
		Subtype:   subtype,
		Source:    source,
		Channel:   channel,
		Note:      note,
		Value:     value,
	}
}

// ParameterSubtype distinguishes the parameter change kinds.
type ParameterSubtype int

const (
	ParamFloat ParameterSubtype = iota
	ParamInt
	ParamBool
)

// ParameterChangeEvent sets a parameter on a processor; Value is
// normalised. It maps to a realtime event.
type ParameterChangeEvent struct {
	baseEvent
	Subtype     ParameterSubtype
	Target      id.ObjectID
	ParameterID id.ObjectID
	Value       float32
}

// NewParameterChangeEvent creates a parameter change due at time t.
func NewParameterChangeEvent(subtype ParameterSubtype, target, parameterID id.ObjectID, value float32, t time.Duration) *ParameterChangeEvent {
	return &ParameterChangeEvent{
		baseEvent:   newBase(PosterAudioEngine, t),
		Subtype:     subtype,
		Target:      target,
		ParameterID: parameterID,
		Value:       value,
	}
}

// ToRtEvent implements RtMapper.
func (e *ParameterChangeEvent) ToRtEvent(offset int) (RtEvent, bool) {
	switch e.Subtype {
	case ParamFloat:
		return FloatParameterChange(e.Target, offset, e.ParameterID, e.Value), true
	case ParamInt:
		return IntParameterChange(e.Target, offset, e.ParameterID, e.Value), true
	case ParamBool:
		return BoolParameterChange(e.Target, offset, e.ParameterID, e.Value), true
	}
	return RtEvent{}, false
}

// PropertyChangeEvent sets a string property on a processor. The RT
// conversion allocates the heap string whose ownership travels with the
// realtime event.
type PropertyChangeEvent struct {
	baseEvent
	Target     id.ObjectID
	PropertyID id.ObjectID
	Value      string
}

// NewPropertyChangeEvent creates a string property change due at time t.
func NewPropertyChangeEvent(target, propertyID id.ObjectID, value string, t time.Duration) *PropertyChangeEvent {
	return &PropertyChangeEvent{
		baseEvent:  newBase(PosterAudioEngine, t),
		Target:     target,
		PropertyID: propertyID,
		Value:      value,
	}
}

// ToRtEvent implements RtMapper.
func (e *PropertyChangeEvent) ToRtEvent(offset int) (RtEvent, bool) {
	v := e.Value
	return StringPropertyChange(e.Target, offset, e.PropertyID, &v), true
}

// DataPropertyChangeEvent sets a binary property on a processor.
type DataPropertyChangeEvent struct {
	baseEvent
	Target     id.ObjectID
	PropertyID id.ObjectID
	Value      []byte
}

// NewDataPropertyChangeEvent creates a blob property change due at time
// t. The slice must not be mutated after posting.
func NewDataPropertyChangeEvent(target, propertyID id.ObjectID, value []byte, t time.Duration) *DataPropertyChangeEvent {
	return &DataPropertyChangeEvent{
		baseEvent:  newBase(PosterAudioEngine, t),
		Target:     target,
		PropertyID: propertyID,
		Value:      value,
	}
}

// ToRtEvent implements RtMapper.
func (e *DataPropertyChangeEvent) ToRtEvent(offset int) (RtEvent, bool) {
	return DataPropertyChange(e.Target, offset, e.PropertyID, e.Value), true
}

// ParameterNotificationEvent reports a parameter value that changed on
// the audio thread, for fan-out to parameter subscribers.
type ParameterNotificationEvent struct {
	baseEvent
	Source      id.ObjectID
	ParameterID id.ObjectID
	Value       float32
}

// NewParameterNotificationEvent creates a parameter change notification.
func NewParameterNotificationEvent(source, parameterID id.ObjectID, value float32, t time.Duration) *ParameterNotificationEvent {
	return &ParameterNotificationEvent{
		baseEvent:   newBase(PosterController, t),
		Source:      source,
		ParameterID: parameterID,
		Value:       value,
	}
}

// ClipNotificationEvent reports that a channel exceeded full scale.
type ClipNotificationEvent struct {
	baseEvent
	Channel int
	Input   bool
}

// NewClipNotificationEvent creates a clipping notification.
func NewClipNotificationEvent(channel int, input bool, t time.Duration) *ClipNotificationEvent {
	return &ClipNotificationEvent{
		baseEvent: newBase(PosterController, t),
		Channel:   channel,
		Input:     input,
	}
}

// Engine is the control surface engine command events execute against.
type Engine interface {
	SetTempo(bpm float32)
	SetTimeSignature(sig transport.TimeSignature)
	SetPlayingMode(mode transport.PlayingMode)
	SetSyncMode(mode transport.SyncMode)
}

// EngineCommandEvent carries a deferred engine operation; the audio
// engine poster executes it on the dispatcher thread.
type EngineCommandEvent struct {
	baseEvent
	run func(Engine) error
}

// NewEngineCommandEvent wraps an arbitrary engine operation.
func NewEngineCommandEvent(run func(Engine) error, t time.Duration) *EngineCommandEvent {
	return &EngineCommandEvent{baseEvent: newBase(PosterAudioEngine, t), run: run}
}

// Execute runs the wrapped operation.
func (e *EngineCommandEvent) Execute(eng Engine) error {
	return e.run(eng)
}

// NewSetTempoEvent creates a command that changes the engine tempo.
func NewSetTempoEvent(bpm float32, t time.Duration) *EngineCommandEvent {
	return NewEngineCommandEvent(func(eng Engine) error {
		eng.SetTempo(bpm)
		return nil
	}, t)
}

// NewSetTimeSignatureEvent creates a command that changes the time
// signature.
func NewSetTimeSignatureEvent(sig transport.TimeSignature, t time.Duration) *EngineCommandEvent {
	return NewEngineCommandEvent(func(eng Engine) error {
		eng.SetTimeSignature(sig)
		return nil
	}, t)
}

// NewSetPlayingModeEvent creates a command that changes the play state.
func NewSetPlayingModeEvent(mode transport.PlayingMode, t time.Duration) *EngineCommandEvent {
	return NewEngineCommandEvent(func(eng Engine) error {
		eng.SetPlayingMode(mode)
		return nil
	}, t)
}

// NewSetSyncModeEvent creates a command that changes the sync source.
func NewSetSyncModeEvent(mode transport.SyncMode, t time.Duration) *EngineCommandEvent {
	return NewEngineCommandEvent(func(eng Engine) error {
		eng.SetSyncMode(mode)
		return nil
	}, t)
}

// AsyncWorkEvent asks the dispatcher's worker to run a processor callback
// off the audio thread.
type AsyncWorkEvent struct {
	baseEvent
	Source   id.ObjectID
	WorkerID uint32
	Callback AsyncWorkCallback
}

// NewAsyncWorkEvent creates a background work request from a processor.
func NewAsyncWorkEvent(source id.ObjectID, workerID uint32, callback AsyncWorkCallback, t time.Duration) *AsyncWorkEvent {
	return &AsyncWorkEvent{
		baseEvent: newBase(PosterWorker, t),
		Source:    source,
		WorkerID:  workerID,
		Callback:  callback,
	}
}

// AsyncWorkCompletionEvent reports the status of finished background work
// back to the audio thread. It maps to a realtime event.
type AsyncWorkCompletionEvent struct {
	baseEvent
	Target   id.ObjectID
	WorkerID uint32
	Status   int
}

// NewAsyncWorkCompletionEvent creates a completion for delivery to the
// processor that requested the work.
func NewAsyncWorkCompletionEvent(target id.ObjectID, workerID uint32, status int, t time.Duration) *AsyncWorkCompletionEvent {
	return &AsyncWorkCompletionEvent{
		baseEvent: newBase(PosterAudioEngine, t),
		Target:    target,
		WorkerID:  workerID,
		Status:    status,
	}
}

// ToRtEvent implements RtMapper.
func (e *AsyncWorkCompletionEvent) ToRtEvent(int) (RtEvent, bool) {
	return AsyncWorkCompletion(e.Target, e.WorkerID, e.Status), true
}
