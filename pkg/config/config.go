// Package config loads JSON session descriptions and applies them to an
// engine and MIDI dispatcher before realtime starts. A session names the
// host settings, the tracks with their plugin chains and initial
// parameter values, and the MIDI, CV and gate routing.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/takt-audio/takt/pkg/engine"
	"github.com/takt-audio/takt/pkg/id"
	"github.com/takt-audio/takt/pkg/midi"
	"github.com/takt-audio/takt/pkg/transport"
)

var (
	ErrDuplicateName = errors.New("config: duplicate name")
	ErrUnknownTrack  = errors.New("config: unknown track")
	ErrUnknownPlugin = errors.New("config: unknown plugin")
	ErrInvalidMode   = errors.New("config: invalid mode")
)

// Session is the root of a session file.
type Session struct {
	Host         Host    `json:"host"`
	Tracks       []Track `json:"tracks"`
	Midi         Midi    `json:"midi"`
	CvGate       CvGate  `json:"cv_gate"`
	InitialState *State  `json:"initial_state,omitempty"`
}

// Host holds the settings the engine is constructed with.
type Host struct {
	SampleRate     float64 `json:"samplerate"`
	RtCores        int     `json:"rt_cores"`
	InputChannels  int     `json:"input_channels,omitempty"`
	OutputChannels int     `json:"output_channels,omitempty"`
	InputClip      bool    `json:"input_clip_detection,omitempty"`
	OutputClip     bool    `json:"output_clip_detection,omitempty"`
}

// Track describes one track and its plugin chain. When Outputs is
// omitted the first channels are connected one to one to the engine
// outputs; inputs are connected only when listed.
type Track struct {
	Name     string   `json:"name"`
	Channels int      `json:"channels"`
	Inputs   []Route  `json:"inputs,omitempty"`
	Outputs  []Route  `json:"outputs,omitempty"`
	Plugins  []Plugin `json:"plugins,omitempty"`
}

// Route connects one engine channel to one track channel.
type Route struct {
	EngineChannel int `json:"engine_channel"`
	TrackChannel  int `json:"track_channel"`
}

// Plugin names a factory uid, the instance name and initial parameter
// values in domain units.
type Plugin struct {
	Kind   string             `json:"kind"`
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params,omitempty"`
}

// Midi holds the port counts and routing tables. A nil Channel in a
// route means omni.
type Midi struct {
	InputPorts    int        `json:"input_ports,omitempty"`
	OutputPorts   int        `json:"output_ports,omitempty"`
	KbdToTrack    []KbdRoute `json:"kbd_to_track,omitempty"`
	CCToParameter []CCRoute  `json:"cc_to_parameter,omitempty"`
	TrackToOutput []OutRoute `json:"track_to_output,omitempty"`
}

// KbdRoute routes keyboard messages from an input port to a track. Raw
// forwards the undecoded bytes instead.
type KbdRoute struct {
	Port    int    `json:"port"`
	Track   string `json:"track"`
	Channel *int   `json:"channel,omitempty"`
	Raw     bool   `json:"raw,omitempty"`
}

// CCRoute maps a controller to a plugin parameter. Min and Max span the
// normalized parameter range the controller covers; both zero means the
// full range.
type CCRoute struct {
	Port      int     `json:"port"`
	Plugin    string  `json:"plugin"`
	Parameter string  `json:"parameter"`
	CC        int     `json:"cc"`
	Channel   *int    `json:"channel,omitempty"`
	Min       float32 `json:"min,omitempty"`
	Max       float32 `json:"max,omitempty"`
}

// OutRoute encodes a track's keyboard events to MIDI on an output port.
type OutRoute struct {
	Port    int    `json:"port"`
	Track   string `json:"track"`
	Channel int    `json:"channel"`
}

// CvGate holds the control voltage and gate routing.
type CvGate struct {
	CvIn    []CvRoute   `json:"cv_in,omitempty"`
	CvOut   []CvRoute   `json:"cv_out,omitempty"`
	GateIn  []GateRoute `json:"gate_in,omitempty"`
	GateOut []GateRoute `json:"gate_out,omitempty"`
	SyncIn  *SyncRoute  `json:"sync_in,omitempty"`
	SyncOut *SyncRoute  `json:"sync_out,omitempty"`
}

// CvRoute binds a CV port to a plugin parameter.
type CvRoute struct {
	Port      int    `json:"port"`
	Plugin    string `json:"plugin"`
	Parameter string `json:"parameter"`
}

// GateRoute binds a gate port to note on/off events on a plugin.
type GateRoute struct {
	Port    int    `json:"port"`
	Plugin  string `json:"plugin"`
	Channel int    `json:"channel"`
	Note    int    `json:"note"`
}

// SyncRoute reserves a gate port for transport sync pulses.
type SyncRoute struct {
	Port     int `json:"port"`
	PpqTicks int `json:"ppq_ticks"`
}

// State sets the transport before the first chunk. Playing is one of
// stopped, playing, recording; Sync is one of internal, midi, gate,
// link. Empty strings keep the defaults.
type State struct {
	Tempo         float32        `json:"tempo,omitempty"`
	TimeSignature *TimeSignature `json:"time_signature,omitempty"`
	Playing       string         `json:"playing_mode,omitempty"`
	Sync          string         `json:"sync_mode,omitempty"`
}

// TimeSignature mirrors transport.TimeSignature in the file format.
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Load reads and validates a session file.
func Load(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a session. Unknown fields are rejected so
// typos in session files fail loudly.
func Parse(r io.Reader) (*Session, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var s Session
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the parts of the session that do not need an engine:
// name uniqueness, mode strings and route targets within the file.
func (s *Session) Validate() error {
	tracks := make(map[string]bool, len(s.Tracks))
	plugins := make(map[string]bool)
	for _, t := range s.Tracks {
		if t.Name == "" {
			return fmt.Errorf("config: track with empty name")
		}
		if tracks[t.Name] {
			return fmt.Errorf("%w: track %q", ErrDuplicateName, t.Name)
		}
		tracks[t.Name] = true
		for _, p := range t.Plugins {
			if p.Name == "" {
				return fmt.Errorf("config: track %q: plugin with empty name", t.Name)
			}
			if plugins[p.Name] {
				return fmt.Errorf("%w: plugin %q", ErrDuplicateName, p.Name)
			}
			plugins[p.Name] = true
		}
	}
	for _, r := range s.Midi.KbdToTrack {
		if !tracks[r.Track] {
			return fmt.Errorf("%w: %q in kbd_to_track", ErrUnknownTrack, r.Track)
		}
	}
	for _, r := range s.Midi.TrackToOutput {
		if !tracks[r.Track] {
			return fmt.Errorf("%w: %q in track_to_output", ErrUnknownTrack, r.Track)
		}
	}
	for _, r := range s.Midi.CCToParameter {
		if !plugins[r.Plugin] {
			return fmt.Errorf("%w: %q in cc_to_parameter", ErrUnknownPlugin, r.Plugin)
		}
	}
	for _, routes := range [][]CvRoute{s.CvGate.CvIn, s.CvGate.CvOut} {
		for _, r := range routes {
			if !plugins[r.Plugin] {
				return fmt.Errorf("%w: %q in cv route", ErrUnknownPlugin, r.Plugin)
			}
		}
	}
	for _, routes := range [][]GateRoute{s.CvGate.GateIn, s.CvGate.GateOut} {
		for _, r := range routes {
			if !plugins[r.Plugin] {
				return fmt.Errorf("%w: %q in gate route", ErrUnknownPlugin, r.Plugin)
			}
		}
	}
	if s.InitialState != nil {
		if _, err := playingMode(s.InitialState.Playing); err != nil {
			return err
		}
		if _, err := syncMode(s.InitialState.Sync); err != nil {
			return err
		}
	}
	return nil
}

// EngineOptions derives the engine construction options from the host
// section.
func (s *Session) EngineOptions(log *slog.Logger, plugins engine.PluginFactory) engine.Options {
	return engine.Options{
		SampleRate:          s.Host.SampleRate,
		Log:                 log,
		Workers:             s.Host.RtCores,
		InputClipDetection:  s.Host.InputClip,
		OutputClipDetection: s.Host.OutputClip,
		Plugins:             plugins,
	}
}

// Apply builds the session on a stopped engine: channel widths, tracks,
// plugin chains, initial parameter values, then the MIDI, CV and gate
// routing, then the transport state. Errors name the element that
// failed.
func Apply(s *Session, e *engine.Engine, md *midi.Dispatcher) error {
	if s.Host.InputChannels > 0 {
		if err := e.SetAudioInputChannels(s.Host.InputChannels); err != nil {
			return fmt.Errorf("config: input channels %d: %w", s.Host.InputChannels, err)
		}
	}
	if s.Host.OutputChannels > 0 {
		if err := e.SetAudioOutputChannels(s.Host.OutputChannels); err != nil {
			return fmt.Errorf("config: output channels %d: %w", s.Host.OutputChannels, err)
		}
	}

	for _, t := range s.Tracks {
		if err := applyTrack(t, e); err != nil {
			return err
		}
	}
	if err := applyMidi(s.Midi, e, md); err != nil {
		return err
	}
	if err := applyCvGate(s.CvGate, e); err != nil {
		return err
	}
	if s.InitialState != nil {
		if err := applyState(s.InitialState, e); err != nil {
			return err
		}
	}
	return nil
}

func applyTrack(t Track, e *engine.Engine) error {
	trackID, err := e.CreateTrack(t.Name, t.Channels)
	if err != nil {
		return fmt.Errorf("config: track %q: %w", t.Name, err)
	}

	for _, p := range t.Plugins {
		procID, err := e.CreateProcessor(p.Kind, p.Name)
		if err != nil {
			return fmt.Errorf("config: plugin %q (%s): %w", p.Name, p.Kind, err)
		}
		if err := e.AddProcessorToTrack(procID, trackID); err != nil {
			return fmt.Errorf("config: plugin %q on track %q: %w", p.Name, t.Name, err)
		}
		proc, ok := e.Container().Processor(procID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlugin, p.Name)
		}
		for name, value := range p.Params {
			par, err := proc.ParameterByName(name)
			if err != nil {
				return fmt.Errorf("config: plugin %q parameter %q: %w", p.Name, name, err)
			}
			par.SetDomainValue(value)
		}
	}

	for _, r := range t.Inputs {
		if err := e.ConnectAudioInputChannel(r.EngineChannel, r.TrackChannel, trackID); err != nil {
			return fmt.Errorf("config: track %q input %d->%d: %w",
				t.Name, r.EngineChannel, r.TrackChannel, err)
		}
	}
	outputs := t.Outputs
	if outputs == nil {
		n := t.Channels
		if out := e.AudioOutputChannels(); out < n {
			n = out
		}
		for ch := 0; ch < n; ch++ {
			outputs = append(outputs, Route{EngineChannel: ch, TrackChannel: ch})
		}
	}
	for _, r := range outputs {
		if err := e.ConnectAudioOutputChannel(r.EngineChannel, r.TrackChannel, trackID); err != nil {
			return fmt.Errorf("config: track %q output %d->%d: %w",
				t.Name, r.TrackChannel, r.EngineChannel, err)
		}
	}
	return nil
}

func applyMidi(m Midi, e *engine.Engine, md *midi.Dispatcher) error {
	if md == nil {
		if len(m.KbdToTrack) > 0 || len(m.CCToParameter) > 0 || len(m.TrackToOutput) > 0 {
			return fmt.Errorf("config: midi routes without a midi dispatcher")
		}
		return nil
	}
	if m.InputPorts > 0 {
		md.SetInputPorts(m.InputPorts)
	}
	if m.OutputPorts > 0 {
		md.SetOutputPorts(m.OutputPorts)
	}

	for _, r := range m.KbdToTrack {
		track, ok := e.Container().TrackByName(r.Track)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTrack, r.Track)
		}
		connect := md.ConnectKbToTrack
		if r.Raw {
			connect = md.ConnectRawMidiToTrack
		}
		if err := connect(r.Port, track.ID(), channelOrOmni(r.Channel)); err != nil {
			return fmt.Errorf("config: kbd route port %d to track %q: %w", r.Port, r.Track, err)
		}
	}
	for _, r := range m.CCToParameter {
		proc, par, err := resolveParameter(e, r.Plugin, r.Parameter)
		if err != nil {
			return err
		}
		min, max := r.Min, r.Max
		if min == 0 && max == 0 {
			max = 1
		}
		if err := md.ConnectCCToParameter(r.Port, proc, par,
			r.CC, channelOrOmni(r.Channel), min, max); err != nil {
			return fmt.Errorf("config: cc %d to %s.%s: %w", r.CC, r.Plugin, r.Parameter, err)
		}
	}
	for _, r := range m.TrackToOutput {
		track, ok := e.Container().TrackByName(r.Track)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTrack, r.Track)
		}
		if err := md.ConnectTrackToOutput(r.Port, track.ID(), r.Channel); err != nil {
			return fmt.Errorf("config: track %q to output port %d: %w", r.Track, r.Port, err)
		}
	}
	return nil
}

func applyCvGate(cg CvGate, e *engine.Engine) error {
	for _, r := range cg.CvIn {
		proc, ok := e.Container().ProcessorByName(r.Plugin)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlugin, r.Plugin)
		}
		if err := e.ConnectCvInputToParameter(r.Port, proc.ID(), r.Parameter); err != nil {
			return fmt.Errorf("config: cv in %d to %s.%s: %w", r.Port, r.Plugin, r.Parameter, err)
		}
	}
	for _, r := range cg.CvOut {
		proc, ok := e.Container().ProcessorByName(r.Plugin)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlugin, r.Plugin)
		}
		if err := e.ConnectCvOutputFromParameter(r.Port, proc.ID(), r.Parameter); err != nil {
			return fmt.Errorf("config: cv out %d from %s.%s: %w", r.Port, r.Plugin, r.Parameter, err)
		}
	}
	for _, r := range cg.GateIn {
		proc, ok := e.Container().ProcessorByName(r.Plugin)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlugin, r.Plugin)
		}
		if err := e.ConnectGateInputToProcessor(r.Port, proc.ID(), r.Channel, r.Note); err != nil {
			return fmt.Errorf("config: gate in %d to %q: %w", r.Port, r.Plugin, err)
		}
	}
	for _, r := range cg.GateOut {
		proc, ok := e.Container().ProcessorByName(r.Plugin)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlugin, r.Plugin)
		}
		if err := e.ConnectGateOutputFromProcessor(r.Port, proc.ID(), r.Channel, r.Note); err != nil {
			return fmt.Errorf("config: gate out %d from %q: %w", r.Port, r.Plugin, err)
		}
	}
	if r := cg.SyncIn; r != nil {
		if err := e.ConnectGateInputToSync(r.Port, r.PpqTicks); err != nil {
			return fmt.Errorf("config: sync in on gate %d: %w", r.Port, err)
		}
	}
	if r := cg.SyncOut; r != nil {
		if err := e.ConnectGateOutputFromSync(r.Port, r.PpqTicks); err != nil {
			return fmt.Errorf("config: sync out on gate %d: %w", r.Port, err)
		}
	}
	return nil
}

func applyState(st *State, e *engine.Engine) error {
	if st.Tempo > 0 {
		e.SetTempo(st.Tempo)
	}
	if ts := st.TimeSignature; ts != nil {
		e.SetTimeSignature(transport.TimeSignature{
			Numerator:   ts.Numerator,
			Denominator: ts.Denominator,
		})
	}
	play, err := playingMode(st.Playing)
	if err != nil {
		return err
	}
	e.SetPlayingMode(play)
	sm, err := syncMode(st.Sync)
	if err != nil {
		return err
	}
	e.SetSyncMode(sm)
	return nil
}

func resolveParameter(e *engine.Engine, plugin, parameter string) (procID, paramID id.ObjectID, err error) {
	proc, ok := e.Container().ProcessorByName(plugin)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownPlugin, plugin)
	}
	par, err := proc.ParameterByName(parameter)
	if err != nil {
		return 0, 0, fmt.Errorf("config: plugin %q parameter %q: %w", plugin, parameter, err)
	}
	return proc.ID(), par.ID, nil
}

func channelOrOmni(ch *int) int {
	if ch == nil {
		return midi.OmniChannel
	}
	return *ch
}

func playingMode(s string) (transport.PlayingMode, error) {
	switch s {
	case "", "stopped":
		return transport.Stopped, nil
	case "playing":
		return transport.Playing, nil
	case "recording":
		return transport.Recording, nil
	}
	return 0, fmt.Errorf("%w: playing mode %q", ErrInvalidMode, s)
}

func syncMode(s string) (transport.SyncMode, error) {
	switch s {
	case "", "internal":
		return transport.Internal, nil
	case "midi":
		return transport.MidiSync, nil
	case "gate":
		return transport.GateInput, nil
	case "link":
		return transport.AbletonLink, nil
	}
	return 0, fmt.Errorf("%w: sync mode %q", ErrInvalidMode, s)
}
