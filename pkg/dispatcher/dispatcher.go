// Package dispatcher runs the non-realtime event loop. It accepts
// events from any goroutine, holds back those scheduled in the future,
// routes the rest to registered posters and fans engine notifications
// out to subscribers. Realtime events leaving the engine are drained
// every tick and converted back to regular events.
package dispatcher

import (
	"container/heap"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takt-audio/takt/pkg/event"
	"github.com/takt-audio/takt/pkg/host"
)

const (
	tickInterval = time.Millisecond

	// retryLimit bounds how many ticks an event bounced with a full
	// realtime queue is retried before it is dropped.
	retryLimit = 1000

	workQueueSize = 64
)

// Status reports the outcome of poster and subscriber bookkeeping.
type Status int

const (
	StatusOK Status = iota
	StatusAlreadySubscribed
	StatusUnknownPoster
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAlreadySubscribed:
		return "already_subscribed"
	case StatusUnknownPoster:
		return "unknown_poster"
	}
	return "unknown"
}

type retryEntry struct {
	ev       event.Event
	attempts int
}

// eventHeap orders scheduled events by due time.
type eventHeap []event.Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].Time() < h[j].Time() }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(event.Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// Dispatcher is the event loop. One instance serves the whole process;
// its loop goroutine does all routing, so posters are called from a
// single thread.
type Dispatcher struct {
	log      *slog.Logger
	outbound *event.RtQueue

	posterMu sync.RWMutex
	posters  [event.PosterCount]event.Poster

	subMu      sync.RWMutex
	kbSubs     []event.Poster
	paramSubs  []event.Poster
	engineSubs []event.Poster

	inboxMu sync.Mutex
	inbox   []event.Event

	// scheduled and retries belong to the loop goroutine.
	scheduled eventHeap
	retries   []retryEntry

	work chan *event.AsyncWorkEvent

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a dispatcher draining the given realtime queue, usually
// the engine's outbound queue. A nil queue is allowed for setups
// without an engine.
func New(outbound *event.RtQueue, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:      log,
		outbound: outbound,
		work:     make(chan *event.AsyncWorkEvent, workQueueSize),
		done:     make(chan struct{}),
	}
}

// RegisterPoster makes a poster reachable under its id.
func (d *Dispatcher) RegisterPoster(p event.Poster) Status {
	pid := p.PosterID()
	if pid < 0 || pid >= event.PosterCount {
		return StatusUnknownPoster
	}
	d.posterMu.Lock()
	defer d.posterMu.Unlock()
	if d.posters[pid] != nil {
		return StatusAlreadySubscribed
	}
	d.posters[pid] = p
	return StatusOK
}

// SubscribeToKeyboardEvents adds a subscriber for keyboard events
// leaving the engine.
func (d *Dispatcher) SubscribeToKeyboardEvents(p event.Poster) Status {
	return d.subscribe(&d.kbSubs, p)
}

// UnsubscribeFromKeyboardEvents removes a keyboard subscriber.
func (d *Dispatcher) UnsubscribeFromKeyboardEvents(p event.Poster) Status {
	return d.unsubscribe(&d.kbSubs, p)
}

// SubscribeToParameterChangeNotifications adds a subscriber for
// parameter changes made on the audio thread.
func (d *Dispatcher) SubscribeToParameterChangeNotifications(p event.Poster) Status {
	return d.subscribe(&d.paramSubs, p)
}

// UnsubscribeFromParameterChangeNotifications removes a parameter
// subscriber.
func (d *Dispatcher) UnsubscribeFromParameterChangeNotifications(p event.Poster) Status {
	return d.unsubscribe(&d.paramSubs, p)
}

// SubscribeToEngineNotifications adds a subscriber for engine state
// notifications such as clipping.
func (d *Dispatcher) SubscribeToEngineNotifications(p event.Poster) Status {
	return d.subscribe(&d.engineSubs, p)
}

// UnsubscribeFromEngineNotifications removes an engine notification
// subscriber.
func (d *Dispatcher) UnsubscribeFromEngineNotifications(p event.Poster) Status {
	return d.unsubscribe(&d.engineSubs, p)
}

func (d *Dispatcher) subscribe(list *[]event.Poster, p event.Poster) Status {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, s := range *list {
		if s == p {
			return StatusAlreadySubscribed
		}
	}
	*list = append(*list, p)
	return StatusOK
}

func (d *Dispatcher) unsubscribe(list *[]event.Poster, p event.Poster) Status {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for i, s := range *list {
		if s == p {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return StatusOK
		}
	}
	return StatusUnknownPoster
}

func (d *Dispatcher) subscribers(list *[]event.Poster) []event.Poster {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	out := make([]event.Poster, len(*list))
	copy(out, *list)
	return out
}

// PostEvent queues an event for the next tick. Safe from any goroutine.
func (d *Dispatcher) PostEvent(ev event.Event) {
	d.inboxMu.Lock()
	d.inbox = append(d.inbox, ev)
	d.inboxMu.Unlock()
}

// Run starts the dispatch loop and the background worker.
func (d *Dispatcher) Run() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(2)
	go d.loop()
	go d.workLoop()
	d.log.Info("event dispatcher started")
}

// Stop terminates the loop and waits for it to finish.
func (d *Dispatcher) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.done)
	d.wg.Wait()
	d.log.Info("event dispatcher stopped")
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.runOnce(event.Now())
		}
	}
}

func (d *Dispatcher) workLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case ev := <-d.work:
			status := 0
			if ev.Callback != nil {
				status = ev.Callback(ev.WorkerID)
			}
			d.PostEvent(event.NewAsyncWorkCompletionEvent(ev.Source, ev.WorkerID, status, 0))
		}
	}
}

// runOnce performs one tick: drain the engine's outbound queue, take in
// newly posted events, release due scheduled events and retry bounced
// ones.
func (d *Dispatcher) runOnce(now time.Duration) {
	d.drainOutbound(now)

	d.inboxMu.Lock()
	pending := d.inbox
	d.inbox = nil
	d.inboxMu.Unlock()

	for _, ev := range pending {
		if ev.Time() > now {
			heap.Push(&d.scheduled, ev)
			continue
		}
		d.dispatch(retryEntry{ev: ev})
	}

	for d.scheduled.Len() > 0 && d.scheduled[0].Time() <= now {
		d.dispatch(retryEntry{ev: heap.Pop(&d.scheduled).(event.Event)})
	}

	retries := d.retries
	d.retries = nil
	for _, r := range retries {
		d.dispatch(r)
	}
}

func (d *Dispatcher) dispatch(r retryEntry) {
	st := d.deliver(r.ev)
	if st == event.StatusQueueFull && r.attempts+1 < retryLimit {
		r.attempts++
		d.retries = append(d.retries, r)
		return
	}
	if st == event.StatusQueueFull {
		d.log.Error("event dropped, realtime queue stayed full", "id", r.ev.ID())
	} else if st != event.StatusHandledOK {
		d.log.Warn("event not handled", "id", r.ev.ID(), "status", st.String())
	}
	if cb := r.ev.Completion(); cb != nil {
		cb(r.ev, st)
	}
}

func (d *Dispatcher) deliver(ev event.Event) event.Status {
	switch v := ev.(type) {
	case *event.KeyboardNotificationEvent:
		d.publish(d.subscribers(&d.kbSubs), ev)
		return event.StatusHandledOK
	case *event.ParameterNotificationEvent:
		d.publish(d.subscribers(&d.paramSubs), ev)
		return event.StatusHandledOK
	case *event.ClipNotificationEvent:
		d.publish(d.subscribers(&d.engineSubs), ev)
		return event.StatusHandledOK
	case *event.AsyncWorkEvent:
		select {
		case d.work <- v:
			return event.StatusHandledOK
		default:
			return event.StatusQueueFull
		}
	}

	pid := ev.Receiver()
	if pid < 0 || pid >= event.PosterCount {
		return event.StatusUnrecognizedReceiver
	}
	d.posterMu.RLock()
	p := d.posters[pid]
	d.posterMu.RUnlock()
	if p == nil {
		return event.StatusUnrecognizedReceiver
	}
	return p.Process(ev)
}

func (d *Dispatcher) publish(subs []event.Poster, ev event.Event) {
	for _, s := range subs {
		s.Process(ev)
	}
}

func (d *Dispatcher) drainOutbound(now time.Duration) {
	if d.outbound == nil {
		return
	}
	for {
		rt, ok := d.outbound.Pop()
		if !ok {
			return
		}
		if ev := d.convertOutbound(rt, now); ev != nil {
			d.dispatch(retryEntry{ev: ev})
		}
	}
}

// convertOutbound turns a realtime event leaving the audio thread into
// its non-realtime counterpart. Events with no counterpart are dropped.
func (d *Dispatcher) convertOutbound(rt event.RtEvent, now time.Duration) event.Event {
	if sub, ok := keyboardSubtype(rt.Type()); ok {
		n := event.NewKeyboardNotificationEvent(sub, rt.Target(), rt.Channel(), rt.Note(), rt.Value(), now)
		if sub == event.KbWrappedMidi {
			n.Midi = rt.MidiData()
		}
		return n
	}
	switch rt.Type() {
	case event.RtParameterUpdate:
		return event.NewParameterNotificationEvent(rt.Target(), rt.ParameterID(), rt.Value(), now)
	case event.RtClipNotification:
		ch, input := rt.ClipChannel()
		return event.NewClipNotificationEvent(ch, input, now)
	case event.RtAsyncWork:
		return event.NewAsyncWorkEvent(rt.Target(), rt.WorkerID(), rt.WorkCallback(), now)
	case event.RtStringDelete, event.RtDataDelete:
		// Displaced heap values; dropping the event is what frees them.
		return nil
	}
	d.log.Debug("unconvertible realtime event", "type", int(rt.Type()))
	return nil
}

func keyboardSubtype(t event.RtType) (event.KeyboardSubtype, bool) {
	switch t {
	case event.RtNoteOn:
		return event.KbNoteOn, true
	case event.RtNoteOff:
		return event.KbNoteOff, true
	case event.RtNoteAftertouch:
		return event.KbNoteAftertouch, true
	case event.RtPitchBend:
		return event.KbPitchBend, true
	case event.RtAftertouch:
		return event.KbAftertouch, true
	case event.RtModulation:
		return event.KbModulation, true
	case event.RtWrappedMidi:
		return event.KbWrappedMidi, true
	}
	return 0, false
}

var _ host.EventPoster = (*Dispatcher)(nil)
