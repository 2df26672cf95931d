package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/takt-audio/takt/pkg/event"
)

// fakePoster records every event it receives and replies with the
// scripted statuses, repeating the last one.
type fakePoster struct {
	mu       sync.Mutex
	pid      int
	statuses []event.Status
	events   []event.Event
}

func (p *fakePoster) PosterID() int { return p.pid }

func (p *fakePoster) Process(ev event.Event) event.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	if len(p.statuses) == 0 {
		return event.StatusHandledOK
	}
	st := p.statuses[0]
	if len(p.statuses) > 1 {
		p.statuses = p.statuses[1:]
	}
	return st
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *fakePoster) event(i int) event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[i]
}

func TestRegisterPoster(t *testing.T) {
	d := New(nil, nil)
	engine := &fakePoster{pid: event.PosterAudioEngine}
	if st := d.RegisterPoster(engine); st != StatusOK {
		t.Errorf("first register = %v, want StatusOK", st)
	}
	if st := d.RegisterPoster(engine); st != StatusAlreadySubscribed {
		t.Errorf("second register = %v, want StatusAlreadySubscribed", st)
	}
	if st := d.RegisterPoster(&fakePoster{pid: 99}); st != StatusUnknownPoster {
		t.Errorf("out of range register = %v, want StatusUnknownPoster", st)
	}
}

func TestDispatchRoutesByReceiver(t *testing.T) {
	d := New(nil, nil)
	engine := &fakePoster{pid: event.PosterAudioEngine}
	d.RegisterPoster(engine)

	d.PostEvent(event.NewParameterChangeEvent(event.ParamFloat, 1, 2, 0.5, 0))
	d.runOnce(0)
	if engine.count() != 1 {
		t.Fatalf("engine poster events = %d, want 1", engine.count())
	}

	// An event addressed to an unregistered poster completes with
	// an unrecognized receiver status.
	bare := New(nil, nil)
	var got event.Status
	ev := event.NewParameterChangeEvent(event.ParamFloat, 1, 2, 0.5, 0)
	ev.SetCompletion(func(_ event.Event, st event.Status) { got = st })
	bare.PostEvent(ev)
	bare.runOnce(0)
	if got != event.StatusUnrecognizedReceiver {
		t.Errorf("completion status = %v, want StatusUnrecognizedReceiver", got)
	}
}

func TestScheduledEventsReleaseInOrder(t *testing.T) {
	d := New(nil, nil)
	engine := &fakePoster{pid: event.PosterAudioEngine}
	d.RegisterPoster(engine)

	for _, due := range []time.Duration{
		30 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
	} {
		d.PostEvent(event.NewParameterChangeEvent(event.ParamFloat, 1, 2, float32(due/time.Millisecond), due))
	}

	d.runOnce(5 * time.Millisecond)
	if engine.count() != 0 {
		t.Fatalf("events before due time = %d, want 0", engine.count())
	}
	d.runOnce(15 * time.Millisecond)
	if engine.count() != 1 {
		t.Fatalf("events at 15ms = %d, want 1", engine.count())
	}
	d.runOnce(40 * time.Millisecond)
	if engine.count() != 3 {
		t.Fatalf("events at 40ms = %d, want 3", engine.count())
	}
	wantOrder := []float32{10, 20, 30}
	for i, want := range wantOrder {
		pc := engine.event(i).(*event.ParameterChangeEvent)
		if pc.Value != want {
			t.Errorf("release %d carried value %.0f, want %.0f", i, pc.Value, want)
		}
	}
}

func TestSubscriptionBookkeeping(t *testing.T) {
	d := New(nil, nil)
	tests := []struct {
		name  string
		sub   func(event.Poster) Status
		unsub func(event.Poster) Status
	}{
		{"keyboard", d.SubscribeToKeyboardEvents, d.UnsubscribeFromKeyboardEvents},
		{"parameter", d.SubscribeToParameterChangeNotifications, d.UnsubscribeFromParameterChangeNotifications},
		{"engine", d.SubscribeToEngineNotifications, d.UnsubscribeFromEngineNotifications},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePoster{pid: event.PosterController}
			if st := tt.sub(p); st != StatusOK {
				t.Errorf("subscribe = %v, want StatusOK", st)
			}
			if st := tt.sub(p); st != StatusAlreadySubscribed {
				t.Errorf("double subscribe = %v, want StatusAlreadySubscribed", st)
			}
			if st := tt.unsub(p); st != StatusOK {
				t.Errorf("unsubscribe = %v, want StatusOK", st)
			}
			if st := tt.unsub(p); st != StatusUnknownPoster {
				t.Errorf("double unsubscribe = %v, want StatusUnknownPoster", st)
			}
		})
	}
}

func TestOutboundConversionAndFanout(t *testing.T) {
	queue := event.NewRtQueue(64)
	d := New(queue, nil)
	kb := &fakePoster{pid: event.PosterController}
	par := &fakePoster{pid: event.PosterController}
	eng := &fakePoster{pid: event.PosterController}
	d.SubscribeToKeyboardEvents(kb)
	d.SubscribeToParameterChangeNotifications(par)
	d.SubscribeToEngineNotifications(eng)

	queue.Push(event.NoteOn(3, 0, 1, 60, 0.9))
	queue.Push(event.ParameterUpdate(3, 7, 0.4))
	queue.Push(event.ClipNotification(1, true))
	displaced := "gone"
	queue.Push(event.StringDelete(&displaced))

	d.runOnce(0)

	if kb.count() != 1 || par.count() != 1 || eng.count() != 1 {
		t.Fatalf("fanout counts = %d, %d, %d, want 1 each", kb.count(), par.count(), eng.count())
	}
	note := kb.event(0).(*event.KeyboardNotificationEvent)
	if note.Subtype != event.KbNoteOn || note.Source != 3 || note.Channel != 1 || note.Note != 60 {
		t.Errorf("keyboard notification = %+v", note)
	}
	pn := par.event(0).(*event.ParameterNotificationEvent)
	if pn.Source != 3 || pn.ParameterID != 7 || pn.Value != 0.4 {
		t.Errorf("parameter notification = %+v", pn)
	}
	clip := eng.event(0).(*event.ClipNotificationEvent)
	if clip.Channel != 1 || !clip.Input {
		t.Errorf("clip notification = %+v", clip)
	}
}

func TestQueueFullRetries(t *testing.T) {
	d := New(nil, nil)
	engine := &fakePoster{
		pid:      event.PosterAudioEngine,
		statuses: []event.Status{event.StatusQueueFull, event.StatusQueueFull, event.StatusHandledOK},
	}
	d.RegisterPoster(engine)

	var completions int
	var final event.Status
	ev := event.NewParameterChangeEvent(event.ParamFloat, 1, 2, 0.5, 0)
	ev.SetCompletion(func(_ event.Event, st event.Status) {
		completions++
		final = st
	})
	d.PostEvent(ev)

	d.runOnce(0)
	if engine.count() != 1 || completions != 0 {
		t.Fatalf("after first attempt: deliveries %d, completions %d", engine.count(), completions)
	}
	d.runOnce(0)
	if engine.count() != 2 || completions != 0 {
		t.Fatalf("after second attempt: deliveries %d, completions %d", engine.count(), completions)
	}
	d.runOnce(0)
	if engine.count() != 3 || completions != 1 || final != event.StatusHandledOK {
		t.Fatalf("after third attempt: deliveries %d, completions %d, status %v",
			engine.count(), completions, final)
	}
}

func TestAsyncWorkRoundTrip(t *testing.T) {
	queue := event.NewRtQueue(64)
	d := New(queue, nil)
	engine := &fakePoster{pid: event.PosterAudioEngine}
	d.RegisterPoster(engine)

	ran := make(chan uint32, 1)
	queue.Push(event.AsyncWork(9, 42, func(workerID uint32) int {
		ran <- workerID
		return 3
	}))

	d.Run()
	defer d.Stop()

	select {
	case wid := <-ran:
		if wid != 42 {
			t.Errorf("worker id = %d, want 42", wid)
		}
	case <-time.After(time.Second):
		t.Fatal("work callback never ran")
	}

	deadline := time.Now().Add(time.Second)
	for engine.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if engine.count() != 1 {
		t.Fatal("completion never reached the engine poster")
	}
	comp, ok := engine.event(0).(*event.AsyncWorkCompletionEvent)
	if !ok {
		t.Fatalf("completion type = %T", engine.event(0))
	}
	if comp.Target != 9 || comp.WorkerID != 42 || comp.Status != 3 {
		t.Errorf("completion = %+v", comp)
	}
}

func TestConcurrentPosting(t *testing.T) {
	d := New(nil, nil)
	engine := &fakePoster{pid: event.PosterAudioEngine}
	d.RegisterPoster(engine)
	d.Run()
	defer d.Stop()

	const producers = 10
	const perProducer = 100
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				d.PostEvent(event.NewParameterChangeEvent(event.ParamFloat, 1, 2, 0.5, 0))
			}
		}()
	}
	wg.Wait()

	want := producers * perProducer
	deadline := time.Now().Add(2 * time.Second)
	for engine.count() < want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if engine.count() != want {
		t.Fatalf("delivered = %d, want %d", engine.count(), want)
	}
}
