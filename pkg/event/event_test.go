package event

import (
	"testing"
	"time"

	"github.com/takt-audio/takt/pkg/transport"
)

func TestKeyboardEventToRt(t *testing.T) {
	tests := []struct {
		name    string
		subtype KeyboardSubtype
		want    RtType
	}{
		{"note on", KbNoteOn, RtNoteOn},
		{"note off", KbNoteOff, RtNoteOff},
		{"note aftertouch", KbNoteAftertouch, RtNoteAftertouch},
		{"pitch bend", KbPitchBend, RtPitchBend},
		{"aftertouch", KbAftertouch, RtAftertouch},
		{"modulation", KbModulation, RtModulation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewKeyboardEvent(tt.subtype, 7, 2, 64, 0.75, ImmediateProcess)
			rt, ok := ev.ToRtEvent(12)
			if !ok {
				t.Fatal("keyboard event should map to rt")
			}
			if rt.Type() != tt.want {
				t.Errorf("expected rt type %v, got %v", tt.want, rt.Type())
			}
			if rt.Target() != 7 || rt.Offset() != 12 || rt.Channel() != 2 {
				t.Errorf("addressing lost in conversion: target=%d offset=%d channel=%d",
					rt.Target(), rt.Offset(), rt.Channel())
			}
			if rt.Value() != 0.75 {
				t.Errorf("expected value 0.75, got %f", rt.Value())
			}
		})
	}
}

func TestWrappedMidiEventToRt(t *testing.T) {
	data := [4]byte{0x90, 0x40, 0x64, 0x00}
	ev := NewWrappedMidiEvent(3, data, ImmediateProcess)

	rt, ok := ev.ToRtEvent(0)
	if !ok || rt.Type() != RtWrappedMidi {
		t.Fatalf("expected wrapped midi rt event, got %v ok=%v", rt.Type(), ok)
	}
	if rt.MidiData() != data {
		t.Errorf("midi bytes lost: %v", rt.MidiData())
	}
}

func TestParameterChangeEventToRt(t *testing.T) {
	tests := []struct {
		name    string
		subtype ParameterSubtype
		want    RtType
	}{
		{"float", ParamFloat, RtFloatParameterChange},
		{"int", ParamInt, RtIntParameterChange},
		{"bool", ParamBool, RtBoolParameterChange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewParameterChangeEvent(tt.subtype, 5, 11, 0.25, ImmediateProcess)
			rt, ok := ev.ToRtEvent(0)
			if !ok || rt.Type() != tt.want {
				t.Fatalf("expected %v, got %v ok=%v", tt.want, rt.Type(), ok)
			}
			if rt.Target() != 5 || rt.ParameterID() != 11 {
				t.Errorf("addressing lost: target=%d param=%d", rt.Target(), rt.ParameterID())
			}
			if rt.Value() != 0.25 {
				t.Errorf("expected value 0.25, got %f", rt.Value())
			}
		})
	}
}

func TestPropertyChangeEventToRt(t *testing.T) {
	ev := NewPropertyChangeEvent(4, 9, "output.wav", ImmediateProcess)

	rt, ok := ev.ToRtEvent(0)
	if !ok || rt.Type() != RtStringPropertyChange {
		t.Fatalf("expected string property change, got %v ok=%v", rt.Type(), ok)
	}
	if rt.StringValue() == nil || *rt.StringValue() != "output.wav" {
		t.Errorf("string payload lost: %v", rt.StringValue())
	}

	// The returned pointer travels back in a delete event unchanged.
	del := StringDelete(rt.StringValue())
	if del.StringValue() != rt.StringValue() {
		t.Error("delete event should carry the identical pointer")
	}
}

func TestDataPropertyChangeEventToRt(t *testing.T) {
	blob := []byte{1, 2, 3}
	ev := NewDataPropertyChangeEvent(4, 9, blob, ImmediateProcess)

	rt, ok := ev.ToRtEvent(0)
	if !ok || rt.Type() != RtDataPropertyChange {
		t.Fatalf("expected data property change, got %v ok=%v", rt.Type(), ok)
	}
	if len(rt.DataValue()) != 3 || rt.DataValue()[2] != 3 {
		t.Errorf("blob payload lost: %v", rt.DataValue())
	}
}

func TestAsyncWorkCompletionEventToRt(t *testing.T) {
	ev := NewAsyncWorkCompletionEvent(8, 42, 3, ImmediateProcess)

	rt, ok := ev.ToRtEvent(0)
	if !ok || rt.Type() != RtAsyncWorkCompletion {
		t.Fatalf("expected async work completion, got %v ok=%v", rt.Type(), ok)
	}
	if rt.Target() != 8 || rt.WorkerID() != 42 || rt.Status() != 3 {
		t.Errorf("completion fields lost: target=%d worker=%d status=%d",
			rt.Target(), rt.WorkerID(), rt.Status())
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		ev := NewClipNotificationEvent(0, false, ImmediateProcess)
		if seen[ev.ID()] {
			t.Fatalf("duplicate event id %d", ev.ID())
		}
		seen[ev.ID()] = true
	}
}

func TestEventReceivers(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want int
	}{
		{"keyboard", NewKeyboardEvent(KbNoteOn, 1, 0, 60, 1, 0), PosterAudioEngine},
		{"parameter change", NewParameterChangeEvent(ParamFloat, 1, 2, 0.5, 0), PosterAudioEngine},
		{"parameter notification", NewParameterNotificationEvent(1, 2, 0.5, 0), PosterController},
		{"clip notification", NewClipNotificationEvent(0, true, 0), PosterController},
		{"keyboard notification", NewKeyboardNotificationEvent(KbNoteOn, 1, 0, 60, 1, 0), PosterMidiDispatcher},
		{"async work", NewAsyncWorkEvent(1, 7, nil, 0), PosterWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ev.Receiver() != tt.want {
				t.Errorf("expected receiver %d, got %d", tt.want, tt.ev.Receiver())
			}
		})
	}
}

type recordingEngine struct {
	tempo    float32
	sig      transport.TimeSignature
	playMode transport.PlayingMode
	syncMode transport.SyncMode
}

func (e *recordingEngine) SetTempo(bpm float32)                       { e.tempo = bpm }
func (e *recordingEngine) SetTimeSignature(s transport.TimeSignature) { e.sig = s }
func (e *recordingEngine) SetPlayingMode(m transport.PlayingMode)     { e.playMode = m }
func (e *recordingEngine) SetSyncMode(m transport.SyncMode)           { e.syncMode = m }

func TestEngineCommandsExecute(t *testing.T) {
	eng := &recordingEngine{}

	if err := NewSetTempoEvent(140, 0).Execute(eng); err != nil {
		t.Fatalf("tempo command failed: %v", err)
	}
	if eng.tempo != 140 {
		t.Errorf("expected tempo 140, got %f", eng.tempo)
	}

	sig := transport.TimeSignature{Numerator: 7, Denominator: 8}
	if err := NewSetTimeSignatureEvent(sig, 0).Execute(eng); err != nil {
		t.Fatalf("signature command failed: %v", err)
	}
	if eng.sig != sig {
		t.Errorf("expected signature %v, got %v", sig, eng.sig)
	}

	if err := NewSetPlayingModeEvent(transport.Playing, 0).Execute(eng); err != nil {
		t.Fatalf("playing mode command failed: %v", err)
	}
	if eng.playMode != transport.Playing {
		t.Errorf("expected playing mode, got %v", eng.playMode)
	}

	if err := NewSetSyncModeEvent(transport.MidiSync, 0).Execute(eng); err != nil {
		t.Fatalf("sync mode command failed: %v", err)
	}
	if eng.syncMode != transport.MidiSync {
		t.Errorf("expected midi sync, got %v", eng.syncMode)
	}
}

func TestCompletionCallback(t *testing.T) {
	ev := NewParameterChangeEvent(ParamFloat, 1, 2, 0.5, ImmediateProcess)
	if ev.Completion() != nil {
		t.Error("new event should have no completion callback")
	}

	var got Status
	ev.SetCompletion(func(_ Event, status Status) { got = status })
	ev.Completion()(ev, StatusHandledOK)
	if got != StatusHandledOK {
		t.Errorf("callback received %v", got)
	}
}

func TestRtEventWithTime(t *testing.T) {
	e := NoteOn(1, 0, 0, 60, 0.5)
	if e.Time() != ImmediateProcess {
		t.Errorf("expected immediate time, got %v", e.Time())
	}

	due := 5 * time.Millisecond
	stamped := e.WithTime(due)
	if stamped.Time() != due {
		t.Errorf("expected stamped time %v, got %v", due, stamped.Time())
	}
	if e.Time() != ImmediateProcess {
		t.Error("stamping must not mutate the original")
	}
}
