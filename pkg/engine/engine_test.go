package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/event"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/param"
	"github.com/takt-audio/takt/pkg/processor"
	"github.com/takt-audio/takt/pkg/transport"
)

const testEpsilon = 1e-5

func testHostControl() *host.Control {
	return host.NewControl(transport.New(48000), nil)
}

// gainPlugin scales every sample by its gain parameter. Range [0, 4] so
// normalized 0.25 is unity.
type gainPlugin struct {
	*processor.Internal
	gain *param.Parameter
}

func newGainPlugin(hostCtl *host.Control) (*gainPlugin, error) {
	p := &gainPlugin{Internal: processor.NewInternal(hostCtl, "gain", "Test Gain", 2, 2)}
	g, err := p.RegisterFloatParameter("gain", "Gain", "", 1.0, 0.0, 4.0, nil)
	if err != nil {
		return nil, err
	}
	p.gain = g
	return p, nil
}

func (p *gainPlugin) ProcessAudio(in, out *audio.Buffer) {
	out.AdaptFrom(*in)
	out.ApplyGain(float32(p.gain.ProcessedValue()))
}

// recorderPlugin keeps every event handed to it, then lets the base
// processor apply it.
type recorderPlugin struct {
	*processor.Internal
	events []event.RtEvent
}

func newRecorderPlugin(hostCtl *host.Control) (*recorderPlugin, error) {
	p := &recorderPlugin{Internal: processor.NewInternal(hostCtl, "recorder", "Event Recorder", 2, 2)}
	if _, err := p.RegisterFloatParameter("level", "Level", "", 0.5, 0.0, 1.0, nil); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *recorderPlugin) ProcessEvent(ev event.RtEvent) {
	p.events = append(p.events, ev)
	p.Internal.ProcessEvent(ev)
}

func testPluginFactory(uid string, hostCtl *host.Control) (processor.Processor, error) {
	switch uid {
	case "test.gain":
		return newGainPlugin(hostCtl)
	case "test.recorder":
		return newRecorderPlugin(hostCtl)
	}
	return nil, fmt.Errorf("unknown uid %q", uid)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := New(Options{SampleRate: 48000, Plugins: testPluginFactory})
	t.Cleanup(eng.Close)
	return eng
}

func fillChannel(b *audio.Buffer, ch int, value float32) {
	plane := b.Channel(ch)
	for i := range plane {
		plane[i] = value
	}
}

func drainRtQueue(q *event.RtQueue) []event.RtEvent {
	var evs []event.RtEvent
	for {
		ev, ok := q.Pop()
		if !ok {
			return evs
		}
		evs = append(evs, ev)
	}
}

func TestEngineRoutesAudio(t *testing.T) {
	eng := newTestEngine(t)
	tid, err := eng.CreateTrack("main", 2)
	if err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	for ch := 0; ch < 2; ch++ {
		if err := eng.ConnectAudioInputChannel(ch, ch, tid); err != nil {
			t.Fatalf("connect input %d: %v", ch, err)
		}
		if err := eng.ConnectAudioOutputChannel(ch, ch, tid); err != nil {
			t.Fatalf("connect output %d: %v", ch, err)
		}
	}

	in := audio.New(2)
	out := audio.New(2)
	fillChannel(&in, 0, 0.25)
	fillChannel(&in, 1, -0.5)
	eng.ProcessChunk(&in, &out, nil, nil, 0, 0)

	for i, want := range []float32{0.25, -0.5} {
		got := out.Channel(i)[audio.ChunkSize-1]
		if math.Abs(float64(got-want)) > testEpsilon {
			t.Errorf("channel %d = %f, want %f", i, got, want)
		}
	}
}

func TestEngineGainPluginAndParameterChange(t *testing.T) {
	eng := newTestEngine(t)
	tid, err := eng.CreateTrack("main", 2)
	if err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	pid, err := eng.CreateProcessor("test.gain", "g1")
	if err != nil {
		t.Fatalf("CreateProcessor: %v", err)
	}
	if err := eng.AddProcessorToTrack(pid, tid); err != nil {
		t.Fatalf("AddProcessorToTrack: %v", err)
	}
	eng.ConnectAudioInputChannel(0, 0, tid)
	eng.ConnectAudioOutputChannel(0, 0, tid)

	p, _ := eng.Container().Processor(pid)
	par, err := p.ParameterByName("gain")
	if err != nil {
		t.Fatalf("ParameterByName: %v", err)
	}

	in := audio.New(2)
	out := audio.New(2)
	fillChannel(&in, 0, 0.1)

	// Default gain is unity.
	eng.ProcessChunk(&in, &out, nil, nil, 0, 0)
	if got := out.Channel(0)[0]; math.Abs(float64(got-0.1)) > testEpsilon {
		t.Errorf("unity output = %f, want 0.1", got)
	}

	// Normalized 0.5 on a [0, 4] range is a gain of 2.
	st := eng.Process(event.NewParameterChangeEvent(event.ParamFloat, pid, par.ID, 0.5, 0))
	if st != event.StatusHandledOK {
		t.Fatalf("Process status = %v, want StatusHandledOK", st)
	}
	eng.ProcessChunk(&in, &out, nil, nil, 0, audio.ChunkSize)
	if got := par.NormalizedValue(); math.Abs(got-0.5) > testEpsilon {
		t.Errorf("normalized = %f, want 0.5", got)
	}
	if got := out.Channel(0)[0]; math.Abs(float64(got-0.2)) > testEpsilon {
		t.Errorf("doubled output = %f, want 0.2", got)
	}
}

func TestEngineNoteEventFlow(t *testing.T) {
	eng := newTestEngine(t)
	tid, err := eng.CreateTrack("synth", 2)
	if err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	pid, err := eng.CreateProcessor("test.recorder", "rec")
	if err != nil {
		t.Fatalf("CreateProcessor: %v", err)
	}
	if err := eng.AddProcessorToTrack(pid, tid); err != nil {
		t.Fatalf("AddProcessorToTrack: %v", err)
	}

	st := eng.Process(event.NewKeyboardEvent(event.KbNoteOn, tid, 0, 60, 0.8, 0))
	if st != event.StatusHandledOK {
		t.Fatalf("Process status = %v, want StatusHandledOK", st)
	}

	in := audio.New(2)
	out := audio.New(2)
	eng.ProcessChunk(&in, &out, nil, nil, 0, 0)

	p, _ := eng.Container().Processor(pid)
	rec := p.(*recorderPlugin)
	found := false
	for _, ev := range rec.events {
		if ev.Type() == event.RtNoteOn && ev.Note() == 60 && ev.Channel() == 0 {
			found = true
			if math.Abs(float64(ev.Value()-0.8)) > testEpsilon {
				t.Errorf("velocity = %f, want 0.8", ev.Value())
			}
		}
	}
	if !found {
		t.Error("chain processor never saw the note on")
	}

	mirrored := drainRtQueue(eng.OutboundEvents())
	found = false
	for _, ev := range mirrored {
		if ev.Type() == event.RtNoteOn && ev.Note() == 60 {
			found = true
		}
	}
	if !found {
		t.Error("note on was not mirrored to the outbound queue")
	}
}

func TestEngineStateTransitions(t *testing.T) {
	eng := newTestEngine(t)
	if eng.State() != Stopped {
		t.Fatalf("initial state = %v, want stopped", eng.State())
	}
	eng.EnableRealtime(true)
	if eng.State() != Starting {
		t.Fatalf("state after enable = %v, want starting", eng.State())
	}

	in := audio.New(2)
	out := audio.New(2)
	eng.ProcessChunk(&in, &out, nil, nil, 0, 0)
	if eng.State() != Running {
		t.Fatalf("state after first chunk = %v, want running", eng.State())
	}

	eng.EnableRealtime(false)
	if eng.State() != Running {
		t.Fatalf("state before wind-down chunk = %v, want running", eng.State())
	}
	eng.ProcessChunk(&in, &out, nil, nil, 0, audio.ChunkSize)
	if eng.State() != Stopped {
		t.Fatalf("state after wind-down chunk = %v, want stopped", eng.State())
	}
}

func TestEngineRealtimeGraphMutation(t *testing.T) {
	eng := newTestEngine(t)
	eng.EnableRealtime(true)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		in := audio.New(2)
		out := audio.New(2)
		var samples int64
		for {
			select {
			case <-stop:
				return
			default:
			}
			eng.ProcessChunk(&in, &out, nil, nil, 0, samples)
			samples += audio.ChunkSize
			time.Sleep(100 * time.Microsecond)
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	tid, err := eng.CreateTrack("live", 2)
	if err != nil {
		t.Fatalf("CreateTrack while running: %v", err)
	}
	if eng.State() != Running {
		t.Errorf("state = %v, want running after acknowledged mutation", eng.State())
	}
	pid, err := eng.CreateProcessor("test.gain", "live_gain")
	if err != nil {
		t.Fatalf("CreateProcessor while running: %v", err)
	}
	if err := eng.AddProcessorToTrack(pid, tid); err != nil {
		t.Fatalf("AddProcessorToTrack while running: %v", err)
	}
	if err := eng.RemoveProcessorFromTrack(pid, tid); err != nil {
		t.Fatalf("RemoveProcessorFromTrack while running: %v", err)
	}
	if err := eng.DeleteProcessor(pid); err != nil {
		t.Fatalf("DeleteProcessor while running: %v", err)
	}
	if err := eng.DeleteTrack(tid); err != nil {
		t.Fatalf("DeleteTrack while running: %v", err)
	}

	eng.EnableRealtime(false)
	deadline := time.Now().Add(time.Second)
	for eng.State() != Stopped && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if eng.State() != Stopped {
		t.Errorf("state = %v, want stopped after disable", eng.State())
	}
}

func TestEngineClipNotifications(t *testing.T) {
	eng := New(Options{
		SampleRate:          48000,
		Plugins:             testPluginFactory,
		InputClipDetection:  true,
		OutputClipDetection: true,
	})
	t.Cleanup(eng.Close)
	tid, err := eng.CreateTrack("hot", 2)
	if err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	eng.ConnectAudioInputChannel(0, 0, tid)
	eng.ConnectAudioOutputChannel(0, 0, tid)

	in := audio.New(2)
	out := audio.New(2)
	fillChannel(&in, 0, 1.5)

	eng.ProcessChunk(&in, &out, nil, nil, 0, 0)
	evs := drainRtQueue(eng.OutboundEvents())
	var inputClips, outputClips int
	for _, ev := range evs {
		if ev.Type() != event.RtClipNotification {
			continue
		}
		ch, isInput := ev.ClipChannel()
		if ch != 0 {
			t.Errorf("clip channel = %d, want 0", ch)
		}
		if isInput {
			inputClips++
		} else {
			outputClips++
		}
	}
	if inputClips != 1 || outputClips != 1 {
		t.Fatalf("clip events = %d input, %d output, want 1 and 1", inputClips, outputClips)
	}

	// Within the rate limit window the same channel stays quiet.
	eng.ProcessChunk(&in, &out, nil, nil, 0, audio.ChunkSize)
	if evs := drainRtQueue(eng.OutboundEvents()); len(evs) != 0 {
		t.Errorf("got %d events inside the rate limit window, want 0", len(evs))
	}

	// Half a second later it reports again.
	eng.ProcessChunk(&in, &out, nil, nil, 0, 24000)
	evs = drainRtQueue(eng.OutboundEvents())
	clips := 0
	for _, ev := range evs {
		if ev.Type() == event.RtClipNotification {
			clips++
		}
	}
	if clips != 2 {
		t.Errorf("clip events after window = %d, want 2", clips)
	}
}

func TestEngineCvConnections(t *testing.T) {
	eng := newTestEngine(t)
	pid, err := eng.CreateProcessor("test.gain", "cv_target")
	if err != nil {
		t.Fatalf("CreateProcessor: %v", err)
	}
	if err := eng.ConnectCvInputToParameter(2, pid, "gain"); err != nil {
		t.Fatalf("ConnectCvInputToParameter: %v", err)
	}
	if err := eng.ConnectCvOutputFromParameter(5, pid, "gain"); err != nil {
		t.Fatalf("ConnectCvOutputFromParameter: %v", err)
	}
	if err := eng.ConnectCvInputToParameter(audio.MaxCvPorts, pid, "gain"); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("out of range port error = %v, want ErrInvalidPort", err)
	}

	in := audio.New(2)
	out := audio.New(2)
	var ctrlIn, ctrlOut audio.ControlBuffer
	ctrlIn.CvIn[2] = 0.7
	eng.ProcessChunk(&in, &out, &ctrlIn, &ctrlOut, 0, 0)

	p, _ := eng.Container().Processor(pid)
	par, _ := p.ParameterByName("gain")
	if got := par.NormalizedValue(); math.Abs(got-0.7) > testEpsilon {
		t.Errorf("normalized = %f, want 0.7", got)
	}
	if got := ctrlOut.CvOut[5]; math.Abs(float64(got-0.7)) > testEpsilon {
		t.Errorf("cv out = %f, want 0.7", got)
	}
}

func TestEngineGateConnections(t *testing.T) {
	eng := newTestEngine(t)
	tid, err := eng.CreateTrack("gate_track", 2)
	if err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	pid, err := eng.CreateProcessor("test.recorder", "gate_rec")
	if err != nil {
		t.Fatalf("CreateProcessor: %v", err)
	}
	if err := eng.ConnectGateInputToProcessor(0, pid, 0, 36); err != nil {
		t.Fatalf("ConnectGateInputToProcessor: %v", err)
	}
	if err := eng.ConnectGateOutputFromProcessor(3, tid, 0, 60); err != nil {
		t.Fatalf("ConnectGateOutputFromProcessor: %v", err)
	}

	in := audio.New(2)
	out := audio.New(2)
	var ctrlIn, ctrlOut audio.ControlBuffer

	// Rising edge on gate 0 becomes a note on.
	ctrlIn.SetGateIn(0, true)
	eng.ProcessChunk(&in, &out, &ctrlIn, &ctrlOut, 0, 0)
	p, _ := eng.Container().Processor(pid)
	rec := p.(*recorderPlugin)
	if len(rec.events) != 1 || rec.events[0].Type() != event.RtNoteOn || rec.events[0].Note() != 36 {
		t.Fatalf("events after rising edge = %+v, want one note on 36", rec.events)
	}

	// No edge, no event.
	eng.ProcessChunk(&in, &out, &ctrlIn, &ctrlOut, 0, audio.ChunkSize)
	if len(rec.events) != 1 {
		t.Fatalf("events without edge = %d, want 1", len(rec.events))
	}

	// Falling edge becomes a note off.
	ctrlIn.SetGateIn(0, false)
	eng.ProcessChunk(&in, &out, &ctrlIn, &ctrlOut, 0, 2*audio.ChunkSize)
	if len(rec.events) != 2 || rec.events[1].Type() != event.RtNoteOff {
		t.Fatalf("events after falling edge = %+v, want note off", rec.events)
	}

	// A note on passing through the track raises the connected gate out.
	eng.Process(event.NewKeyboardEvent(event.KbNoteOn, tid, 0, 60, 1.0, 0))
	eng.ProcessChunk(&in, &out, &ctrlIn, &ctrlOut, 0, 3*audio.ChunkSize)
	if !ctrlOut.GateOutHigh(3) {
		t.Error("gate out 3 low after matching note on")
	}
	eng.Process(event.NewKeyboardEvent(event.KbNoteOff, tid, 0, 60, 0.0, 0))
	eng.ProcessChunk(&in, &out, &ctrlIn, &ctrlOut, 0, 4*audio.ChunkSize)
	if ctrlOut.GateOutHigh(3) {
		t.Error("gate out 3 high after matching note off")
	}
}

func TestEngineGateSyncRoutes(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.ConnectGateInputToSync(audio.MaxGatePorts, 24); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("out of range port error = %v, want ErrInvalidPort", err)
	}
	if err := eng.ConnectGateOutputFromSync(0, 0); !errors.Is(err, ErrInvalidPpq) {
		t.Errorf("zero ppq error = %v, want ErrInvalidPpq", err)
	}
	if _, ok := eng.SyncInputRoute(); ok {
		t.Error("sync input route set after rejected connects")
	}

	if err := eng.ConnectGateInputToSync(1, 24); err != nil {
		t.Fatalf("ConnectGateInputToSync: %v", err)
	}
	if r, ok := eng.SyncInputRoute(); !ok || r.Port != 1 || r.PpqTicks != 24 {
		t.Errorf("sync input route = %+v ok=%v, want port 1 ppq 24", r, ok)
	}
	if err := eng.ConnectGateOutputFromSync(2, 1); err != nil {
		t.Fatalf("ConnectGateOutputFromSync: %v", err)
	}
	if r, ok := eng.SyncOutputRoute(); !ok || r.Port != 2 || r.PpqTicks != 1 {
		t.Errorf("sync output route = %+v ok=%v, want port 2 ppq 1", r, ok)
	}

	in := audio.New(2)
	out := audio.New(2)
	var ctrlOut audio.ControlBuffer

	// No pulses while stopped.
	eng.ProcessChunk(&in, &out, nil, &ctrlOut, 0, 0)
	if ctrlOut.GateOutHigh(2) {
		t.Error("sync gate high while stopped")
	}

	// At 120 BPM and one tick per quarter note the gate is high for the
	// first half of each beat, 12000 samples at 48 kHz.
	eng.SetPlayingMode(transport.Playing)
	eng.ProcessChunk(&in, &out, nil, &ctrlOut, 0, audio.ChunkSize)
	if !ctrlOut.GateOutHigh(2) {
		t.Error("sync gate low at the start of the first beat")
	}
	eng.ProcessChunk(&in, &out, nil, &ctrlOut, 0, audio.ChunkSize+18048)
	if ctrlOut.GateOutHigh(2) {
		t.Error("sync gate high in the second half of the beat")
	}
	eng.ProcessChunk(&in, &out, nil, &ctrlOut, 0, audio.ChunkSize+24064)
	if !ctrlOut.GateOutHigh(2) {
		t.Error("sync gate low at the start of the second beat")
	}
}

func TestEngineMulticoreMatchesSingleThreaded(t *testing.T) {
	build := func(workers int) *Engine {
		eng := New(Options{SampleRate: 48000, Workers: workers, Plugins: testPluginFactory})
		t.Cleanup(eng.Close)
		for i := 0; i < 4; i++ {
			tid, err := eng.CreateTrack(fmt.Sprintf("track_%d", i), 2)
			if err != nil {
				t.Fatalf("CreateTrack: %v", err)
			}
			pid, err := eng.CreateProcessor("test.gain", fmt.Sprintf("gain_%d", i))
			if err != nil {
				t.Fatalf("CreateProcessor: %v", err)
			}
			if err := eng.AddProcessorToTrack(pid, tid); err != nil {
				t.Fatalf("AddProcessorToTrack: %v", err)
			}
			p, _ := eng.Container().Processor(pid)
			par, _ := p.ParameterByName("gain")
			par.SetNormalized(0.1 + 0.2*float64(i))
			for ch := 0; ch < 2; ch++ {
				eng.ConnectAudioInputChannel(ch, ch, tid)
				eng.ConnectAudioOutputChannel(ch, ch, tid)
			}
		}
		return eng
	}

	single := build(0)
	multi := build(3)

	in := audio.New(2)
	for ch := 0; ch < 2; ch++ {
		plane := in.Channel(ch)
		for i := range plane {
			plane[i] = float32(math.Sin(float64(i+ch*7) * 0.13))
		}
	}
	outSingle := audio.New(2)
	outMulti := audio.New(2)
	for chunk := int64(0); chunk < 8; chunk++ {
		single.ProcessChunk(&in, &outSingle, nil, nil, 0, chunk*audio.ChunkSize)
		multi.ProcessChunk(&in, &outMulti, nil, nil, 0, chunk*audio.ChunkSize)
		for ch := 0; ch < 2; ch++ {
			a, b := outSingle.Channel(ch), outMulti.Channel(ch)
			for i := range a {
				if a[i] != b[i] {
					t.Fatalf("chunk %d channel %d sample %d: single %f, multi %f",
						chunk, ch, i, a[i], b[i])
				}
			}
		}
	}
}

func TestEngineCreateProcessorErrors(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.CreateProcessor("no.such.plugin", "x"); !errors.Is(err, ErrInvalidPlugin) {
		t.Errorf("unknown uid error = %v, want ErrInvalidPlugin", err)
	}
	if _, err := eng.CreateProcessor("test.gain", "dup"); err != nil {
		t.Fatalf("CreateProcessor: %v", err)
	}
	if _, err := eng.CreateProcessor("test.gain", "dup"); !errors.Is(err, ErrProcessorExists) {
		t.Errorf("duplicate name error = %v, want ErrProcessorExists", err)
	}

	bare := New(Options{SampleRate: 48000})
	t.Cleanup(bare.Close)
	if _, err := bare.CreateProcessor("test.gain", "x"); !errors.Is(err, ErrInvalidPlugin) {
		t.Errorf("no factory error = %v, want ErrInvalidPlugin", err)
	}
}

func TestEngineGraphErrors(t *testing.T) {
	eng := newTestEngine(t)
	tid, err := eng.CreateTrack("t", 2)
	if err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	pid, err := eng.CreateProcessor("test.gain", "g")
	if err != nil {
		t.Fatalf("CreateProcessor: %v", err)
	}

	if err := eng.AddProcessorToTrack(9999, tid); !errors.Is(err, ErrInvalidProcessor) {
		t.Errorf("bad processor error = %v, want ErrInvalidProcessor", err)
	}
	if err := eng.AddProcessorToTrack(pid, 9999); !errors.Is(err, ErrInvalidTrack) {
		t.Errorf("bad track error = %v, want ErrInvalidTrack", err)
	}
	if err := eng.AddProcessorToTrack(pid, tid); err != nil {
		t.Fatalf("AddProcessorToTrack: %v", err)
	}
	if err := eng.AddProcessorToTrack(pid, tid); !errors.Is(err, ErrAlreadyOnTrack) {
		t.Errorf("double add error = %v, want ErrAlreadyOnTrack", err)
	}
	if err := eng.DeleteTrack(tid); !errors.Is(err, ErrProcessorOnTrack) {
		t.Errorf("delete occupied track error = %v, want ErrProcessorOnTrack", err)
	}
	if err := eng.DeleteProcessor(pid); !errors.Is(err, ErrProcessorOnTrack) {
		t.Errorf("delete bound processor error = %v, want ErrProcessorOnTrack", err)
	}
	if err := eng.RemoveProcessorFromTrack(pid, tid); err != nil {
		t.Fatalf("RemoveProcessorFromTrack: %v", err)
	}
	if err := eng.RemoveProcessorFromTrack(pid, tid); !errors.Is(err, ErrNotOnTrack) {
		t.Errorf("double remove error = %v, want ErrNotOnTrack", err)
	}
	if err := eng.DeleteProcessor(pid); err != nil {
		t.Fatalf("DeleteProcessor: %v", err)
	}
	if err := eng.DeleteTrack(tid); err != nil {
		t.Fatalf("DeleteTrack: %v", err)
	}
	if err := eng.DeleteTrack(tid); !errors.Is(err, ErrInvalidTrack) {
		t.Errorf("double delete error = %v, want ErrInvalidTrack", err)
	}
}

func TestEngineTempoCommand(t *testing.T) {
	eng := newTestEngine(t)
	st := eng.Process(event.NewSetTempoEvent(140, 0))
	if st != event.StatusHandledOK {
		t.Fatalf("Process status = %v, want StatusHandledOK", st)
	}

	in := audio.New(2)
	out := audio.New(2)
	eng.ProcessChunk(&in, &out, nil, nil, 0, 0)
	if got := eng.Transport().Tempo(); math.Abs(got-140) > testEpsilon {
		t.Errorf("tempo = %f, want 140", got)
	}
}

func BenchmarkEngineProcessChunk(b *testing.B) {
	eng := New(Options{SampleRate: 48000, Plugins: testPluginFactory})
	defer eng.Close()
	for i := 0; i < 4; i++ {
		tid, err := eng.CreateTrack(fmt.Sprintf("track_%d", i), 2)
		if err != nil {
			b.Fatal(err)
		}
		pid, err := eng.CreateProcessor("test.gain", fmt.Sprintf("gain_%d", i))
		if err != nil {
			b.Fatal(err)
		}
		if err := eng.AddProcessorToTrack(pid, tid); err != nil {
			b.Fatal(err)
		}
		for ch := 0; ch < 2; ch++ {
			eng.ConnectAudioInputChannel(ch, ch, tid)
			eng.ConnectAudioOutputChannel(ch, ch, tid)
		}
	}

	in := audio.New(2)
	out := audio.New(2)
	fillChannel(&in, 0, 0.5)
	fillChannel(&in, 1, -0.5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		eng.ProcessChunk(&in, &out, nil, nil, 0, int64(i)*audio.ChunkSize)
	}
}
