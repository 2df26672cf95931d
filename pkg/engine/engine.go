// Package engine hosts the realtime audio graph: tracks of processors
// fed from engine inputs, mixed to engine outputs, driven one fixed-size
// chunk at a time by an audio frontend. All graph changes reach the
// audio thread through lock-free queues and are acknowledged back, so
// ProcessChunk never blocks on the rest of the system.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/takt-audio/takt/pkg/audio"
	"github.com/takt-audio/takt/pkg/event"
	"github.com/takt-audio/takt/pkg/host"
	"github.com/takt-audio/takt/pkg/id"
	"github.com/takt-audio/takt/pkg/param"
	"github.com/takt-audio/takt/pkg/processor"
	"github.com/takt-audio/takt/pkg/transport"
)

// MaxRtProcessors bounds the realtime processor table. Object ids at or
// above it cannot take part in realtime processing.
const MaxRtProcessors = 1000

const (
	// DefaultSampleRate is used when Options leaves the rate unset.
	DefaultSampleRate = 48000.0

	ackTimeout      = time.Second
	ackPollInterval = 100 * time.Microsecond

	ackOK     = 0
	ackFailed = 1
)

// RealtimeState tracks whether the audio thread is driving the graph.
type RealtimeState int32

const (
	Stopped RealtimeState = iota
	Starting
	Running
	Stopping
)

func (s RealtimeState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Connection routes one engine channel to or from one track channel.
type Connection struct {
	EngineChannel int
	TrackChannel  int
	Track         id.ObjectID

	track *Track
}

type cvInConnection struct {
	port   int
	target id.ObjectID
	param  id.ObjectID
}

type cvOutConnection struct {
	port  int
	param *param.Parameter
}

type gateConnection struct {
	port    int
	target  id.ObjectID
	channel int
	note    int
}

// GateSyncRoute reserves a gate port for transport sync pulses at a
// fixed tick rate per quarter note.
type GateSyncRoute struct {
	Port     int
	PpqTicks int
}

// PluginFactory builds a plugin by uid. The plugins package provides
// one covering the built-in set.
type PluginFactory func(uid string, hostCtl *host.Control) (processor.Processor, error)

// Options configures a new engine.
type Options struct {
	// SampleRate defaults to DefaultSampleRate.
	SampleRate float64
	// Log defaults to slog.Default.
	Log *slog.Logger
	// Workers enables multicore track rendering when greater than zero.
	Workers int
	// InputClipDetection and OutputClipDetection arm the clip detectors.
	InputClipDetection  bool
	OutputClipDetection bool
	// Plugins resolves plugin uids for CreateProcessor.
	Plugins PluginFactory
}

// Engine is the audio engine. One goroutine (the audio thread) calls
// ProcessChunk; everything else runs on non-RT threads.
type Engine struct {
	log        *slog.Logger
	sessionID  uuid.UUID
	sampleRate float64
	transport  *transport.Transport
	container  *Container
	plugins    PluginFactory
	hostCtl    *host.Control

	state atomic.Int32

	inCh  int
	outCh int

	inputConnections   atomic.Pointer[[]Connection]
	outputConnections  atomic.Pointer[[]Connection]
	cvInConnections    atomic.Pointer[[]cvInConnection]
	cvOutConnections   atomic.Pointer[[]cvOutConnection]
	gateInConnections  atomic.Pointer[[]gateConnection]
	gateOutConnections atomic.Pointer[[]gateConnection]
	syncInRoute        atomic.Pointer[GateSyncRoute]
	syncOutRoute       atomic.Pointer[GateSyncRoute]
	prevGateIn         uint32

	// audioGraph and rtTable belong to the audio thread; non-RT code
	// touches them only through the control queue, or directly while the
	// realtime state is stopped.
	audioGraph []*Track
	rtTable    []processor.RtProcessor

	controlIn  *event.RtQueue
	controlOut *event.RtQueue
	mainIn     *event.RtQueue
	mainOut    *event.RtQueue

	// graphMu serialises every non-RT graph mutation so at most one
	// acknowledgement is in flight.
	graphMu sync.Mutex

	clipIn     *clipDetector
	clipOut    *clipDetector
	inputClip  atomic.Bool
	outputClip atomic.Bool

	workers *workerPool

	dropped atomic.Uint64
}

// New creates an engine. The zero Options value gives a single-threaded
// stereo engine at the default rate.
func New(opts Options) *Engine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	e := &Engine{
		log:        opts.Log,
		sessionID:  uuid.New(),
		sampleRate: opts.SampleRate,
		transport:  transport.New(opts.SampleRate),
		container:  NewContainer(),
		plugins:    opts.Plugins,
		inCh:       2,
		outCh:      2,
		audioGraph: make([]*Track, 0, maxTracks),
		rtTable:    make([]processor.RtProcessor, MaxRtProcessors),
		controlIn:  event.NewRtQueue(event.DefaultQueueSize),
		controlOut: event.NewRtQueue(event.DefaultQueueSize),
		mainIn:     event.NewRtQueue(event.DefaultQueueSize),
		mainOut:    event.NewRtQueue(event.DefaultQueueSize),
		clipIn:     newClipDetector(opts.SampleRate, true),
		clipOut:    newClipDetector(opts.SampleRate, false),
	}
	e.hostCtl = host.NewControl(e.transport, nil)
	e.inputClip.Store(opts.InputClipDetection)
	e.outputClip.Store(opts.OutputClipDetection)
	if opts.Workers > 0 {
		e.workers = newWorkerPool(opts.Workers)
	}
	e.log.Info("engine created",
		"session", e.sessionID.String(),
		"sample_rate", e.sampleRate,
		"workers", opts.Workers)
	return e
}

// SetEventPoster wires the dispatcher in so processors created from now
// on can post events. Call once during startup.
func (e *Engine) SetEventPoster(p host.EventPoster) {
	e.hostCtl = host.NewControl(e.transport, p)
}

// SessionID identifies this engine instance in logs and notifications.
func (e *Engine) SessionID() uuid.UUID { return e.sessionID }

// Transport returns the shared transport.
func (e *Engine) Transport() *transport.Transport { return e.transport }

// Container returns the processor container for lookups.
func (e *Engine) Container() *Container { return e.container }

// SampleRate returns the current sample rate.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// OutboundEvents returns the queue of realtime events leaving the audio
// thread. The dispatcher drains it.
func (e *Engine) OutboundEvents() *event.RtQueue { return e.mainOut }

// DroppedEvents counts realtime events that could not be routed or
// queued.
func (e *Engine) DroppedEvents() uint64 { return e.dropped.Load() }

// State returns the realtime state.
func (e *Engine) State() RealtimeState { return RealtimeState(e.state.Load()) }

func (e *Engine) realtime() bool { return e.State() != Stopped }

// EnableRealtime arms or disarms the realtime path. Arming moves the
// state to starting; the first processed chunk completes the
// transition. Disarming while running asks the audio thread to wind
// down at the end of its current chunk.
func (e *Engine) EnableRealtime(enabled bool) {
	if enabled {
		e.state.CompareAndSwap(int32(Stopped), int32(Starting))
		return
	}
	if e.realtime() {
		if !e.controlIn.Push(event.StopEngine()) {
			e.state.Store(int32(Stopped))
		}
	} else {
		e.state.Store(int32(Stopped))
	}
}

// SetAudioInputChannels configures the engine input width.
func (e *Engine) SetAudioInputChannels(n int) error {
	if n < 0 || n > audio.MaxChannels {
		return ErrInvalidChannel
	}
	e.inCh = n
	return nil
}

// SetAudioOutputChannels configures the engine output width.
func (e *Engine) SetAudioOutputChannels(n int) error {
	if n < 0 || n > audio.MaxChannels {
		return ErrInvalidChannel
	}
	e.outCh = n
	return nil
}

// AudioInputChannels returns the engine input width.
func (e *Engine) AudioInputChannels() int { return e.inCh }

// AudioOutputChannels returns the engine output width.
func (e *Engine) AudioOutputChannels() int { return e.outCh }

// SetSampleRate reconfigures the engine and every processor for a new
// rate. Call only while the realtime state is stopped.
func (e *Engine) SetSampleRate(rate float64) {
	e.sampleRate = rate
	e.transport.SetSampleRate(rate)
	e.clipIn.setSampleRate(rate)
	e.clipOut.setSampleRate(rate)
	for _, p := range e.container.AllProcessors() {
		p.Configure(rate)
	}
}

// SetOutputLatency forwards the frontend's output latency to the
// transport so timestamps line up with what listeners hear.
func (e *Engine) SetOutputLatency(latency time.Duration) {
	e.transport.SetOutputLatency(latency)
}

// SetTempo requests a tempo change; it takes effect on a chunk
// boundary.
func (e *Engine) SetTempo(bpm float32) { e.transport.SetTempo(float64(bpm)) }

// SetTimeSignature requests a time signature change.
func (e *Engine) SetTimeSignature(sig transport.TimeSignature) {
	e.transport.SetTimeSignature(sig)
}

// SetPlayingMode requests a play state change; while playing it takes
// effect at the next bar.
func (e *Engine) SetPlayingMode(mode transport.PlayingMode) {
	e.transport.SetPlayingMode(mode)
}

// SetSyncMode requests a sync source change.
func (e *Engine) SetSyncMode(mode transport.SyncMode) {
	e.transport.SetSyncMode(mode)
}

// PosterID registers the engine as the audio engine poster.
func (e *Engine) PosterID() int { return event.PosterAudioEngine }

// Process accepts posted events: engine commands run in place, and
// events that map to realtime events are queued for the audio thread.
func (e *Engine) Process(ev event.Event) event.Status {
	switch v := ev.(type) {
	case *event.EngineCommandEvent:
		if err := v.Execute(e); err != nil {
			e.log.Error("engine command failed", "error", err)
			return event.StatusError
		}
		return event.StatusHandledOK
	default:
		if m, ok := ev.(event.RtMapper); ok {
			rt, ok := m.ToRtEvent(0)
			if !ok {
				return event.StatusUnrecognizedEvent
			}
			if !e.mainIn.Push(rt.WithTime(ev.Time())) {
				return event.StatusQueueFull
			}
			return event.StatusHandledOK
		}
	}
	return event.StatusNotHandled
}

// CreateTrack builds a track, registers it and hands it to the audio
// thread.
func (e *Engine) CreateTrack(name string, channels int) (id.ObjectID, error) {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	t, err := NewTrack(e.hostCtl, name, channels)
	if err != nil {
		return id.InvalidID, err
	}
	return e.registerTrack(t)
}

// CreateMultibusTrack builds a track with the given number of stereo
// buses.
func (e *Engine) CreateMultibusTrack(name string, buses int) (id.ObjectID, error) {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	t, err := NewMultibusTrack(e.hostCtl, name, buses)
	if err != nil {
		return id.InvalidID, err
	}
	return e.registerTrack(t)
}

func (e *Engine) registerTrack(t *Track) (id.ObjectID, error) {
	if int(t.ID()) >= MaxRtProcessors {
		return id.InvalidID, ErrTooManyProcessors
	}
	if err := t.Init(e.sampleRate); err != nil {
		return id.InvalidID, err
	}
	t.SetEnabled(true)
	if err := e.container.AddTrack(t); err != nil {
		return id.InvalidID, err
	}
	if err := e.sendOrApply(event.AddTrack(event.NextEventID(), t), func() bool {
		return e.addTrackRt(t)
	}, ErrTooManyProcessors); err != nil {
		e.container.RemoveTrack(t.ID())
		return id.InvalidID, err
	}
	e.log.Info("track created", "name", t.Name(), "id", t.ID(), "channels", t.Channels())
	return t.ID(), nil
}

// DeleteTrack removes an empty track from the graph and the container.
func (e *Engine) DeleteTrack(trackID id.ObjectID) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	t, ok := e.container.Track(trackID)
	if !ok {
		return ErrInvalidTrack
	}
	if len(e.container.ProcessorsOnTrack(trackID)) > 0 {
		return ErrProcessorOnTrack
	}
	if err := e.sendOrApply(event.RemoveTrack(event.NextEventID(), trackID), func() bool {
		return e.removeTrackRt(trackID)
	}, ErrInvalidTrack); err != nil {
		return err
	}
	if err := e.container.RemoveTrack(trackID); err != nil {
		return err
	}
	e.log.Info("track deleted", "name", t.Name(), "id", trackID)
	return nil
}

// CreateProcessor builds a plugin by uid, registers it under the given
// unique name and inserts it into the realtime table. The processor is
// not audible until added to a track.
func (e *Engine) CreateProcessor(uid, name string) (id.ObjectID, error) {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	if e.plugins == nil {
		return id.InvalidID, ErrInvalidPlugin
	}
	p, err := e.plugins(uid, e.hostCtl)
	if err != nil {
		return id.InvalidID, fmt.Errorf("%w: %q", ErrInvalidPlugin, uid)
	}
	if name != "" {
		p.SetName(name)
	}
	if int(p.ID()) >= MaxRtProcessors {
		return id.InvalidID, ErrTooManyProcessors
	}
	if err := p.Init(e.sampleRate); err != nil {
		return id.InvalidID, fmt.Errorf("init %q: %w", p.Name(), err)
	}
	p.SetEnabled(true)
	if err := e.container.AddProcessor(p); err != nil {
		return id.InvalidID, err
	}
	if err := e.sendOrApply(event.InsertProcessor(event.NextEventID(), p), func() bool {
		return e.insertProcessorRt(p)
	}, ErrTooManyProcessors); err != nil {
		e.container.RemoveProcessor(p.ID())
		return id.InvalidID, err
	}
	e.log.Info("processor created", "uid", uid, "name", p.Name(), "id", p.ID())
	return p.ID(), nil
}

// DeleteProcessor removes a processor that is not on any track.
func (e *Engine) DeleteProcessor(procID id.ObjectID) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	p, ok := e.container.Processor(procID)
	if !ok {
		return ErrInvalidProcessor
	}
	if _, onTrack := e.container.TrackOf(procID); onTrack {
		return ErrProcessorOnTrack
	}
	if _, isTrack := p.(*Track); isTrack {
		return ErrInvalidProcessor
	}
	if err := e.sendOrApply(event.RemoveProcessor(event.NextEventID(), procID), func() bool {
		return e.removeProcessorRt(procID)
	}, ErrInvalidProcessor); err != nil {
		return err
	}
	if err := e.container.RemoveProcessor(procID); err != nil {
		return err
	}
	e.closeProcessor(p)
	e.log.Info("processor deleted", "name", p.Name(), "id", procID)
	return nil
}

// closeProcessor releases resources of processors that hold any, such as
// open files or goroutines.
func (e *Engine) closeProcessor(p processor.Processor) {
	c, ok := p.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		e.log.Warn("processor close failed", "name", p.Name(), "error", err)
	}
}

// AddProcessorToTrack appends a processor to the back of a track chain.
func (e *Engine) AddProcessorToTrack(procID, trackID id.ObjectID) error {
	return e.addToTrack(procID, trackID, id.InvalidID, false)
}

// InsertProcessorBefore splices a processor into a track chain in front
// of another chain member.
func (e *Engine) InsertProcessorBefore(procID, trackID, beforeID id.ObjectID) error {
	return e.addToTrack(procID, trackID, beforeID, true)
}

func (e *Engine) addToTrack(procID, trackID, before id.ObjectID, hasBefore bool) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	p, ok := e.container.Processor(procID)
	if !ok {
		return ErrInvalidProcessor
	}
	t, ok := e.container.Track(trackID)
	if !ok {
		return ErrInvalidTrack
	}
	if err := e.container.BindToTrack(procID, trackID, before, hasBefore); err != nil {
		return err
	}
	p.SetInputChannels(min(t.Channels(), p.MaxInputChannels()))
	p.SetOutputChannels(min(t.Channels(), p.MaxOutputChannels()))
	p.SetEventOutput(t.OutputQueue())

	if err := e.sendOrApply(event.AddProcessorToTrack(event.NextEventID(), p, trackID, before, hasBefore), func() bool {
		return t.addRt(p, before, hasBefore)
	}, ErrChainFull); err != nil {
		e.container.UnbindFromTrack(procID, trackID)
		p.SetEventOutput(nil)
		return err
	}
	e.log.Info("processor added to track", "processor", p.Name(), "track", t.Name())
	return nil
}

// RemoveProcessorFromTrack takes a processor out of a track chain. The
// processor stays registered and can be reused.
func (e *Engine) RemoveProcessorFromTrack(procID, trackID id.ObjectID) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	p, ok := e.container.Processor(procID)
	if !ok {
		return ErrInvalidProcessor
	}
	t, ok := e.container.Track(trackID)
	if !ok {
		return ErrInvalidTrack
	}
	if bound, ok := e.container.TrackOf(procID); !ok || bound != trackID {
		return ErrNotOnTrack
	}
	if err := e.sendOrApply(event.RemoveProcessorFromTrack(event.NextEventID(), procID, trackID), func() bool {
		return t.removeRt(procID)
	}, ErrNotOnTrack); err != nil {
		return err
	}
	if err := e.container.UnbindFromTrack(procID, trackID); err != nil {
		return err
	}
	p.SetEventOutput(nil)
	e.log.Info("processor removed from track", "processor", p.Name(), "track", t.Name())
	return nil
}

// sendOrApply routes a graph mutation through the control queue when the
// audio thread is live, or applies it directly when it is not. failErr
// is returned when the audio thread rejects the change.
func (e *Engine) sendOrApply(ev event.RtEvent, apply func() bool, failErr error) error {
	if !e.realtime() {
		if !apply() {
			return failErr
		}
		return nil
	}
	if !e.controlIn.Push(ev) {
		return ErrQueueFull
	}
	return e.waitAck(ev.WorkerID(), failErr)
}

// waitAck polls the acknowledgement queue for the given id. The caller
// holds graphMu, so every acknowledgement seen belongs either to this
// request or to an abandoned one, which is discarded.
func (e *Engine) waitAck(ack uint32, failErr error) error {
	deadline := time.Now().Add(ackTimeout)
	for {
		for {
			ev, ok := e.controlOut.Pop()
			if !ok {
				break
			}
			if ev.WorkerID() != ack {
				continue
			}
			if ev.Status() != ackOK {
				return failErr
			}
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(ackPollInterval)
	}
}

// ConnectAudioInputChannel routes an engine input channel into a track
// channel.
func (e *Engine) ConnectAudioInputChannel(engineCh, trackCh int, trackID id.ObjectID) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	conn, err := e.makeConnection(engineCh, trackCh, trackID, e.inCh)
	if err != nil {
		return err
	}
	appendConnection(&e.inputConnections, conn)
	return nil
}

// ConnectAudioOutputChannel routes a track channel into an engine output
// channel. Output connections mix additively in the order they were
// made.
func (e *Engine) ConnectAudioOutputChannel(engineCh, trackCh int, trackID id.ObjectID) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	conn, err := e.makeConnection(engineCh, trackCh, trackID, e.outCh)
	if err != nil {
		return err
	}
	appendConnection(&e.outputConnections, conn)
	return nil
}

// ConnectAudioInputBus routes a stereo pair of engine inputs into a
// track bus.
func (e *Engine) ConnectAudioInputBus(engineBus, trackBus int, trackID id.ObjectID) error {
	if err := e.ConnectAudioInputChannel(2*engineBus, 2*trackBus, trackID); err != nil {
		return err
	}
	return e.ConnectAudioInputChannel(2*engineBus+1, 2*trackBus+1, trackID)
}

// ConnectAudioOutputBus routes a track bus into a stereo pair of engine
// outputs.
func (e *Engine) ConnectAudioOutputBus(engineBus, trackBus int, trackID id.ObjectID) error {
	if err := e.ConnectAudioOutputChannel(2*engineBus, 2*trackBus, trackID); err != nil {
		return err
	}
	return e.ConnectAudioOutputChannel(2*engineBus+1, 2*trackBus+1, trackID)
}

func (e *Engine) makeConnection(engineCh, trackCh int, trackID id.ObjectID, engineWidth int) (Connection, error) {
	if engineCh < 0 || engineCh >= engineWidth {
		return Connection{}, ErrInvalidChannel
	}
	t, ok := e.container.Track(trackID)
	if !ok {
		return Connection{}, ErrInvalidTrack
	}
	if trackCh < 0 || trackCh >= t.Channels() {
		return Connection{}, ErrInvalidChannel
	}
	return Connection{EngineChannel: engineCh, TrackChannel: trackCh, Track: trackID, track: t}, nil
}

func appendConnection(slot *atomic.Pointer[[]Connection], conn Connection) {
	var conns []Connection
	if old := slot.Load(); old != nil {
		conns = append(conns, *old...)
	}
	conns = append(conns, conn)
	slot.Store(&conns)
}

// InputConnections returns a copy of the input routing.
func (e *Engine) InputConnections() []Connection {
	return copyConnections(e.inputConnections.Load())
}

// OutputConnections returns a copy of the output routing.
func (e *Engine) OutputConnections() []Connection {
	return copyConnections(e.outputConnections.Load())
}

func copyConnections(conns *[]Connection) []Connection {
	if conns == nil {
		return nil
	}
	out := make([]Connection, len(*conns))
	copy(out, *conns)
	return out
}

// ConnectCvInputToParameter drives a parameter from a CV input port
// every chunk.
func (e *Engine) ConnectCvInputToParameter(port int, procID id.ObjectID, paramName string) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	if port < 0 || port >= audio.MaxCvPorts {
		return ErrInvalidPort
	}
	p, ok := e.container.Processor(procID)
	if !ok {
		return ErrInvalidProcessor
	}
	par, err := p.ParameterByName(paramName)
	if err != nil {
		return err
	}
	conns := appendCvIn(e.cvInConnections.Load(), cvInConnection{port: port, target: procID, param: par.ID})
	e.cvInConnections.Store(&conns)
	return nil
}

func appendCvIn(old *[]cvInConnection, conn cvInConnection) []cvInConnection {
	var conns []cvInConnection
	if old != nil {
		conns = append(conns, *old...)
	}
	return append(conns, conn)
}

// ConnectCvOutputFromParameter mirrors a parameter to a CV output port
// every chunk.
func (e *Engine) ConnectCvOutputFromParameter(port int, procID id.ObjectID, paramName string) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	if port < 0 || port >= audio.MaxCvPorts {
		return ErrInvalidPort
	}
	p, ok := e.container.Processor(procID)
	if !ok {
		return ErrInvalidProcessor
	}
	par, err := p.ParameterByName(paramName)
	if err != nil {
		return err
	}
	var conns []cvOutConnection
	if old := e.cvOutConnections.Load(); old != nil {
		conns = append(conns, *old...)
	}
	conns = append(conns, cvOutConnection{port: port, param: par})
	e.cvOutConnections.Store(&conns)
	return nil
}

// ConnectGateInputToProcessor turns transitions on a gate input port
// into note on and off events for a processor.
func (e *Engine) ConnectGateInputToProcessor(port int, procID id.ObjectID, channel, note int) error {
	return e.connectGate(&e.gateInConnections, port, procID, channel, note)
}

// ConnectGateOutputFromProcessor mirrors matching note on and off events
// from a processor to a gate output port.
func (e *Engine) ConnectGateOutputFromProcessor(port int, procID id.ObjectID, channel, note int) error {
	return e.connectGate(&e.gateOutConnections, port, procID, channel, note)
}

func (e *Engine) connectGate(slot *atomic.Pointer[[]gateConnection], port int, procID id.ObjectID, channel, note int) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	if port < 0 || port >= audio.MaxGatePorts {
		return ErrInvalidPort
	}
	if _, ok := e.container.Processor(procID); !ok {
		return ErrInvalidProcessor
	}
	var conns []gateConnection
	if old := slot.Load(); old != nil {
		conns = append(conns, *old...)
	}
	conns = append(conns, gateConnection{port: port, target: procID, channel: channel, note: note})
	slot.Store(&conns)
	return nil
}

// ConnectGateInputToSync selects a gate input port as the transport
// sync source, expecting ppqTicks pulses per quarter note. The route
// takes effect when the sync mode is GateInput.
func (e *Engine) ConnectGateInputToSync(port, ppqTicks int) error {
	return e.connectGateSync(&e.syncInRoute, port, ppqTicks)
}

// ConnectGateOutputFromSync reserves a gate output port for transport
// sync pulses, ppqTicks per quarter note.
func (e *Engine) ConnectGateOutputFromSync(port, ppqTicks int) error {
	return e.connectGateSync(&e.syncOutRoute, port, ppqTicks)
}

func (e *Engine) connectGateSync(slot *atomic.Pointer[GateSyncRoute], port, ppqTicks int) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	if port < 0 || port >= audio.MaxGatePorts {
		return ErrInvalidPort
	}
	if ppqTicks <= 0 {
		return ErrInvalidPpq
	}
	slot.Store(&GateSyncRoute{Port: port, PpqTicks: ppqTicks})
	return nil
}

// SyncInputRoute reports the gate input reserved for sync, if any.
func (e *Engine) SyncInputRoute() (GateSyncRoute, bool) {
	return loadSyncRoute(&e.syncInRoute)
}

// SyncOutputRoute reports the gate output reserved for sync, if any.
func (e *Engine) SyncOutputRoute() (GateSyncRoute, bool) {
	return loadSyncRoute(&e.syncOutRoute)
}

func loadSyncRoute(slot *atomic.Pointer[GateSyncRoute]) (GateSyncRoute, bool) {
	r := slot.Load()
	if r == nil {
		return GateSyncRoute{}, false
	}
	return *r, true
}

// ProcessChunk renders one chunk. The frontend supplies buffers with the
// engine's channel widths, the timestamp of the chunk and the running
// sample count. Audio thread only.
func (e *Engine) ProcessChunk(in, out *audio.Buffer, ctrlIn, ctrlOut *audio.ControlBuffer, timestamp time.Duration, sampleCount int64) {
	if RealtimeState(e.state.Load()) == Starting {
		e.state.Store(int32(Running))
	}

	e.transport.SetTime(timestamp, sampleCount)

	e.processControlInput(ctrlIn)
	e.drainControlQueue()
	e.drainMainIn()

	if e.inputClip.Load() {
		e.clipIn.detect(in, sampleCount, e.mainOut)
	}

	for _, tr := range e.audioGraph {
		tr.input.Clear()
	}
	if conns := e.inputConnections.Load(); conns != nil {
		for i := range *conns {
			c := &(*conns)[i]
			copy(c.track.input.Channel(c.TrackChannel), in.Channel(c.EngineChannel))
		}
	}

	if e.workers != nil {
		e.workers.process(e.audioGraph)
	} else {
		for _, tr := range e.audioGraph {
			tr.ProcessAudio(&tr.input, &tr.output)
		}
	}

	out.Clear()
	if conns := e.outputConnections.Load(); conns != nil {
		for i := range *conns {
			c := &(*conns)[i]
			dst := out.Channel(c.EngineChannel)
			src := c.track.output.Channel(c.TrackChannel)
			for s := range dst {
				dst[s] += src[s]
			}
		}
	}

	for _, tr := range e.audioGraph {
		e.collectTrackEvents(tr, ctrlOut)
	}
	if ctrlOut != nil {
		if conns := e.cvOutConnections.Load(); conns != nil {
			for _, c := range *conns {
				ctrlOut.CvOut[c.port] = float32(c.param.NormalizedValue())
			}
		}
		if r := e.syncOutRoute.Load(); r != nil && e.transport.Playing() {
			// Square pulse train at ppq ticks per quarter note, high
			// for the first half of each tick, chunk resolution.
			ticks := e.transport.BeatPosition() * float64(r.PpqTicks)
			ctrlOut.SetGateOut(r.Port, ticks-math.Floor(ticks) < 0.5)
		}
	}

	if e.outputClip.Load() {
		e.clipOut.detect(out, sampleCount, e.mainOut)
	}

	if RealtimeState(e.state.Load()) == Stopping {
		e.state.Store(int32(Stopped))
	}
}

func (e *Engine) processControlInput(ctrlIn *audio.ControlBuffer) {
	if ctrlIn == nil {
		return
	}
	if conns := e.cvInConnections.Load(); conns != nil {
		for _, c := range *conns {
			if p := e.rtProcessor(c.target); p != nil {
				p.ProcessEvent(event.FloatParameterChange(c.target, 0, c.param, ctrlIn.CvIn[c.port]))
			}
		}
	}
	changed := ctrlIn.GateIn ^ e.prevGateIn
	if changed != 0 {
		if conns := e.gateInConnections.Load(); conns != nil {
			for _, c := range *conns {
				bit := uint32(1) << uint(c.port)
				if changed&bit == 0 {
					continue
				}
				p := e.rtProcessor(c.target)
				if p == nil {
					continue
				}
				if ctrlIn.GateIn&bit != 0 {
					p.ProcessEvent(event.NoteOn(c.target, 0, c.channel, c.note, 1.0))
				} else {
					p.ProcessEvent(event.NoteOff(c.target, 0, c.channel, c.note, 0.0))
				}
			}
		}
	}
	e.prevGateIn = ctrlIn.GateIn
}

func (e *Engine) drainControlQueue() {
	for {
		ev, ok := e.controlIn.Pop()
		if !ok {
			return
		}
		status := e.handleControlEvent(ev)
		if ev.WorkerID() != 0 {
			e.controlOut.Push(event.AsyncWorkCompletion(0, ev.WorkerID(), status))
		}
	}
}

func (e *Engine) handleControlEvent(ev event.RtEvent) int {
	switch ev.Type() {
	case event.RtInsertProcessor:
		if p, ok := ev.Object().(processor.Processor); ok && e.insertProcessorRt(p) {
			return ackOK
		}
	case event.RtRemoveProcessor:
		if e.removeProcessorRt(ev.Target()) {
			return ackOK
		}
	case event.RtAddTrack:
		if t, ok := ev.Object().(*Track); ok && e.addTrackRt(t) {
			return ackOK
		}
	case event.RtRemoveTrack:
		if e.removeTrackRt(ev.Target()) {
			return ackOK
		}
	case event.RtAddProcessorToTrack:
		t, tok := e.rtProcessor(ev.Target()).(*Track)
		p, pok := ev.Object().(processor.Processor)
		if tok && pok {
			before, has := ev.BeforeID()
			if t.addRt(p, before, has) {
				return ackOK
			}
		}
	case event.RtRemoveProcessorFromTrack:
		if t, ok := e.rtProcessor(ev.Target()).(*Track); ok && t.removeRt(ev.ParameterID()) {
			return ackOK
		}
	case event.RtStopEngine:
		e.state.Store(int32(Stopping))
		return ackOK
	}
	return ackFailed
}

func (e *Engine) drainMainIn() {
	for {
		ev, ok := e.mainIn.Pop()
		if !ok {
			return
		}
		switch ev.Type() {
		case event.RtTempo:
			e.transport.SetTempo(float64(ev.Tempo()))
		case event.RtTimeSignature:
			e.transport.SetTimeSignature(ev.TimeSig())
		case event.RtPlayingMode:
			e.transport.SetPlayingMode(ev.PlayMode())
		case event.RtSyncMode:
			e.transport.SetSyncMode(ev.SyncModeValue())
		case event.RtStopEngine:
			e.state.Store(int32(Stopping))
		default:
			if p := e.rtProcessor(ev.Target()); p != nil {
				p.ProcessEvent(ev)
			} else {
				e.dropped.Add(1)
			}
		}
	}
}

func (e *Engine) collectTrackEvents(tr *Track, ctrlOut *audio.ControlBuffer) {
	q := tr.OutputQueue()
	for {
		ev, ok := q.Pop()
		if !ok {
			return
		}
		switch ev.Type() {
		case event.RtCvOut:
			if ctrlOut != nil && ev.IntValue() >= 0 && ev.IntValue() < audio.MaxCvPorts {
				ctrlOut.CvOut[ev.IntValue()] = ev.Value()
			}
		case event.RtGateOut:
			if ctrlOut != nil && ev.IntValue() >= 0 && ev.IntValue() < audio.MaxGatePorts {
				ctrlOut.SetGateOut(ev.IntValue(), ev.BoolValue())
			}
		case event.RtNoteOn, event.RtNoteOff:
			e.matchGateOut(ev, ctrlOut)
			if !e.mainOut.Push(ev) {
				e.dropped.Add(1)
			}
		default:
			if !e.mainOut.Push(ev) {
				e.dropped.Add(1)
			}
		}
	}
}

func (e *Engine) matchGateOut(ev event.RtEvent, ctrlOut *audio.ControlBuffer) {
	if ctrlOut == nil {
		return
	}
	conns := e.gateOutConnections.Load()
	if conns == nil {
		return
	}
	for _, c := range *conns {
		if c.target == ev.Target() && c.channel == ev.Channel() && c.note == ev.Note() {
			ctrlOut.SetGateOut(c.port, ev.Type() == event.RtNoteOn)
		}
	}
}

func (e *Engine) rtProcessor(pid id.ObjectID) processor.RtProcessor {
	if int(pid) < 0 || int(pid) >= len(e.rtTable) {
		return nil
	}
	return e.rtTable[pid]
}

func (e *Engine) insertProcessorRt(p processor.RtProcessor) bool {
	pid := int(p.ID())
	if pid < 0 || pid >= len(e.rtTable) || e.rtTable[pid] != nil {
		return false
	}
	e.rtTable[pid] = p
	return true
}

func (e *Engine) removeProcessorRt(pid id.ObjectID) bool {
	if int(pid) < 0 || int(pid) >= len(e.rtTable) || e.rtTable[pid] == nil {
		return false
	}
	e.rtTable[pid] = nil
	return true
}

func (e *Engine) addTrackRt(t *Track) bool {
	if len(e.audioGraph) == cap(e.audioGraph) {
		return false
	}
	if !e.insertProcessorRt(t) {
		return false
	}
	e.audioGraph = append(e.audioGraph, t)
	return true
}

func (e *Engine) removeTrackRt(trackID id.ObjectID) bool {
	for i, t := range e.audioGraph {
		if t.ID() == trackID {
			copy(e.audioGraph[i:], e.audioGraph[i+1:])
			e.audioGraph[len(e.audioGraph)-1] = nil
			e.audioGraph = e.audioGraph[:len(e.audioGraph)-1]
			e.removeProcessorRt(trackID)
			return true
		}
	}
	return false
}

// Close shuts the worker pool down and releases every processor still
// registered. Call after the frontend has stopped.
func (e *Engine) Close() {
	if e.workers != nil {
		e.workers.close()
		e.workers = nil
	}
	for _, p := range e.container.AllProcessors() {
		e.closeProcessor(p)
	}
}

var _ event.Engine = (*Engine)(nil)
var _ event.Poster = (*Engine)(nil)
