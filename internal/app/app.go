// Package app wires all subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the audio
// devices, signal chain, and pipeline, Run starts everything and blocks until
// the context is cancelled or a fatal device error occurs, and Shutdown tears
// it all down in order.
//
// For testing, inject mock devices and providers via functional options.
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/soniclarity/voicepipe/internal/config"
	"github.com/soniclarity/voicepipe/internal/dsp/beamform"
	"github.com/soniclarity/voicepipe/internal/feedback"
	"github.com/soniclarity/voicepipe/internal/health"
	"github.com/soniclarity/voicepipe/internal/pipeline"
	"github.com/soniclarity/voicepipe/internal/recorder"
	"github.com/soniclarity/voicepipe/internal/wake"
	"github.com/soniclarity/voicepipe/pkg/audio"
	"github.com/soniclarity/voicepipe/pkg/audio/portaudio"
	"github.com/soniclarity/voicepipe/pkg/provider/respond"
	"github.com/soniclarity/voicepipe/pkg/provider/stt"
	"github.com/soniclarity/voicepipe/pkg/provider/tts"
)

const (
	defaultSampleRate  = 16000
	defaultFrameMillis = 20
	shutdownTimeout    = 5 * time.Second
)

// Providers holds one interface value per external service slot.
// Populated by main via the config registry.
type Providers struct {
	STT     stt.Provider
	Respond respond.Provider
	TTS     tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger

	input  audio.InputDevice
	output audio.OutputDevice
	orch   *pipeline.Orchestrator

	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithInputDevice injects a capture device instead of opening real hardware.
func WithInputDevice(d audio.InputDevice) Option {
	return func(a *App) { a.input = d }
}

// WithOutputDevice injects a playback device instead of opening real hardware.
func WithOutputDevice(d audio.OutputDevice) Option {
	return func(a *App) { a.output = d }
}

// New creates an App by wiring the audio devices, signal chain, keyword
// spotter, utterance recorder, and orchestrator together. The providers
// struct comes from main (populated via the config registry). Use Option
// functions to inject test doubles.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.Respond == nil || providers.TTS == nil {
		return nil, errors.New("app: all three providers (stt, respond, tts) are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	sampleRate := cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	frameMillis := cfg.Audio.FrameMillis
	if frameMillis <= 0 {
		frameMillis = defaultFrameMillis
	}

	if err := a.initDevices(sampleRate, frameMillis); err != nil {
		return nil, fmt.Errorf("app: init devices: %w", err)
	}
	if err := a.initPipeline(sampleRate); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initSubscribers()
	a.initHTTP()

	return a, nil
}

// initDevices sets up capture and playback, wrapping the capture side with a
// beamformer when a microphone array is configured.
func (a *App) initDevices(sampleRate, frameMillis int) error {
	channels := 1
	if bf := a.cfg.Audio.Beamformer; bf != nil {
		channels = len(bf.Mics)
	}

	if a.input == nil {
		a.input = portaudio.NewInput(sampleRate, channels, frameMillis,
			portaudio.WithInputDevice(a.cfg.Audio.InputDevice))
	}
	if a.output == nil {
		out := portaudio.NewOutput(portaudio.WithOutputDevice(a.cfg.Audio.OutputDevice))
		a.output = out
		a.closers = append(a.closers, out.Close)
	}

	if bf := a.cfg.Audio.Beamformer; bf != nil {
		former, err := beamform.New(beamform.Geometry(bf.Mics), sampleRate, bf.Direction)
		if err != nil {
			return fmt.Errorf("beamformer: %w", err)
		}
		a.input = beamform.WrapDevice(a.input, former)
		a.logger.Info("beamformer enabled", "mics", len(bf.Mics))
	}
	return nil
}

// initPipeline builds the spotter, recorder, and orchestrator over the
// configured devices and providers.
func (a *App) initPipeline(sampleRate int) error {
	spotter, err := wake.NewSpotter(a.input, a.providers.STT, wake.Config{
		Phrase:          a.cfg.Wake.Phrase,
		Threshold:       a.cfg.Wake.Threshold,
		SampleRate:      sampleRate,
		ChunkMillis:     a.cfg.Wake.ChunkMillis,
		MaxWindowMillis: a.cfg.Wake.MaxWindowMillis,
		Aggressiveness:  a.cfg.Audio.Aggressiveness,
		Language:        a.cfg.Wake.Language,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("keyword spotter: %w", err)
	}

	rec, err := recorder.New(a.input, recorder.Config{
		SampleRate:     sampleRate,
		Aggressiveness: a.cfg.Audio.Aggressiveness,
		SilenceTimeout: time.Duration(a.cfg.Recorder.SilenceMillis) * time.Millisecond,
		MaxDuration:    time.Duration(a.cfg.Recorder.MaxMillis) * time.Millisecond,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("utterance recorder: %w", err)
	}

	orch, err := pipeline.New(
		spotter,
		rec,
		a.output,
		a.providers.STT,
		a.providers.Respond,
		a.providers.TTS,
		pipeline.Config{
			SampleRate:    sampleRate,
			Language:      a.cfg.Wake.Language,
			Voice:         tts.Voice{ID: a.cfg.Providers.TTS.Voice, Language: a.cfg.Providers.TTS.Language},
			SystemPrompt:  a.cfg.Pipeline.SystemPrompt,
			Mode:          respond.Mode(a.cfg.Pipeline.Mode),
			ErrorRecovery: time.Duration(a.cfg.Pipeline.ErrorRecoveryMillis) * time.Millisecond,
			HistoryTurns:  a.cfg.Pipeline.HistoryTurns,
		},
		pipeline.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	a.orch = orch
	a.closers = append(a.closers, func() error {
		orch.Close()
		return nil
	})
	return nil
}

// initSubscribers attaches the built-in presentation sinks.
func (a *App) initSubscribers() {
	a.orch.Subscribe(feedback.NewConsole(os.Stdout))
	if path := a.cfg.Server.InteractionLog; path != "" {
		a.orch.Subscribe(feedback.NewInteractionLog(path, a.logger))
	}
}

// initHTTP prepares the metrics/health server when an address is configured.
func (a *App) initHTTP() {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			if s := a.orch.State(); s == pipeline.StateIdle {
				return fmt.Errorf("pipeline is %s", s)
			}
			return nil
		},
	}).Register(mux)

	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Pipeline exposes the orchestrator for text input and mode control.
func (a *App) Pipeline() *pipeline.Orchestrator {
	return a.orch
}

// Subscribe attaches an additional pipeline subscriber. Must be called
// before Run.
func (a *App) Subscribe(sub pipeline.Subscriber) {
	a.orch.Subscribe(sub)
}

// ApplyConfigChange applies a hot-reloadable config diff to the running app.
func (a *App) ApplyConfigChange(d config.ConfigDiff) {
	if d.ModeChanged {
		a.orch.SetMode(respond.Mode(d.NewMode))
		a.logger.Info("response mode changed", "mode", string(d.NewMode))
	}
	if d.SystemPromptChanged {
		a.logger.Info("system prompt change staged; applies on restart")
	}
}

// Run starts the pipeline and the metrics endpoint and blocks until ctx is
// cancelled or the pipeline dies of a device fault. The returned error is
// nil on clean shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.orch.Start(ctx); err != nil {
		return fmt.Errorf("app: start pipeline: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		g.Go(func() error {
			a.logger.Info("metrics endpoint listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.httpSrv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-a.orch.Done():
			if err := a.orch.Err(); err != nil {
				return fmt.Errorf("app: pipeline terminated: %w", err)
			}
			return nil
		}
	})

	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := a.orch.Stop(stopCtx); stopErr != nil {
		a.logger.Warn("pipeline stop", "error", stopErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown tears down remaining subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, the rest are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
