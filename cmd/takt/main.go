// Command takt runs a headless audio session. It builds the engine
// from a JSON session file, wires the event and MIDI dispatchers and
// drives the graph through the selected frontend until the input ends
// or the process is interrupted.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/takt-audio/takt/pkg/config"
	"github.com/takt-audio/takt/pkg/dispatcher"
	"github.com/takt-audio/takt/pkg/engine"
	"github.com/takt-audio/takt/pkg/frontend"
	"github.com/takt-audio/takt/pkg/frontend/oto"
	"github.com/takt-audio/takt/pkg/frontend/portaudio"
	"github.com/takt-audio/takt/pkg/midi"
	"github.com/takt-audio/takt/pkg/plugins"
	"github.com/takt-audio/takt/pkg/plugins/passthrough"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("takt failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("takt", flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "JSON session file; empty runs a passthrough session")
		feName     = fs.String("frontend", "portaudio", "audio frontend: offline, portaudio, oto or dummy")
		input      = fs.String("input", "", "input audio file for the offline frontend")
		output     = fs.String("output", "", "output WAV file for the offline frontend")
		logLevel   = fs.String("log-level", "info", "log level: debug, info, warn or error")
		seconds    = fs.Float64("seconds", 0, "run duration for the realtime frontends, 0 runs until interrupted")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	sess := defaultSession()
	if *configPath != "" {
		sess, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	eng := engine.New(sess.EngineOptions(log, plugins.Factory))
	defer eng.Close()

	disp := dispatcher.New(eng.OutboundEvents(), log)
	eng.SetEventPoster(disp)
	md := midi.New(disp, log)
	if st := disp.RegisterPoster(eng); st != dispatcher.StatusOK {
		return fmt.Errorf("register engine poster: %s", st)
	}
	if st := disp.RegisterPoster(md); st != dispatcher.StatusOK {
		return fmt.Errorf("register midi poster: %s", st)
	}
	disp.SubscribeToKeyboardEvents(md)

	if err := config.Apply(sess, eng, md); err != nil {
		return err
	}

	dur := time.Duration(*seconds * float64(time.Second))
	fe, err := buildFrontend(*feName, eng, log, *input, *output, dur)
	if err != nil {
		return err
	}
	if err := fe.Connect(); err != nil {
		return fmt.Errorf("connect %s frontend: %w", *feName, err)
	}
	defer fe.Stop()

	disp.Run()
	defer disp.Stop()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigc
		log.Info("shutting down", "signal", s.String())
		fe.Stop()
	}()

	if dur > 0 && (*feName == "portaudio" || *feName == "oto") {
		timer := time.AfterFunc(dur, fe.Stop)
		defer timer.Stop()
	}

	log.Info("session running",
		"frontend", *feName,
		"session", eng.SessionID().String(),
		"samplerate", eng.SampleRate())
	if err := fe.Run(); err != nil {
		return fmt.Errorf("%s frontend: %w", *feName, err)
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h), nil
}

func buildFrontend(name string, eng *engine.Engine, log *slog.Logger, input, output string, dur time.Duration) (frontend.Frontend, error) {
	switch name {
	case "offline":
		return frontend.NewOffline(eng, frontend.OfflineOptions{
			InputPath:  input,
			OutputPath: output,
		}, log), nil
	case "dummy":
		return frontend.NewDummy(eng, dur, log), nil
	case "portaudio":
		return portaudio.New(eng, log), nil
	case "oto":
		return oto.New(eng, log), nil
	}
	return nil, fmt.Errorf("unknown frontend %q", name)
}

// defaultSession is what runs without a config file: a stereo
// passthrough track wired one to one between engine input and output.
func defaultSession() *config.Session {
	return &config.Session{
		Host: config.Host{SampleRate: engine.DefaultSampleRate},
		Tracks: []config.Track{{
			Name:     "main",
			Channels: 2,
			Inputs: []config.Route{
				{EngineChannel: 0, TrackChannel: 0},
				{EngineChannel: 1, TrackChannel: 1},
			},
			Plugins: []config.Plugin{{Kind: passthrough.Name, Name: "monitor"}},
		}},
	}
}
