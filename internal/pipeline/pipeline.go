// Package pipeline implements the voice interaction orchestrator.
//
// The Orchestrator owns the pipeline state machine and the lifecycle of one
// interaction cycle: it arms the keyword spotter, reacts to an activation by
// pausing the spotter and recording an utterance, runs the recognized text
// through the response and synthesis services in sequence, plays the result,
// and returns to listening. State transitions are published to subscribers in
// order, before the blocking work of the new state begins.
//
// Exactly one of {keyword spotter, utterance recorder} holds the audio input
// device at any time. The orchestrator enforces this by confirming the
// spotter is paused before recording starts and resuming it only after the
// full cycle, playback included, has finished or errored out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/soniclarity/voicepipe/internal/observe"
	"github.com/soniclarity/voicepipe/internal/recorder"
	"github.com/soniclarity/voicepipe/internal/resilience"
	"github.com/soniclarity/voicepipe/internal/wake"
	"github.com/soniclarity/voicepipe/pkg/audio"
	"github.com/soniclarity/voicepipe/pkg/provider/respond"
	"github.com/soniclarity/voicepipe/pkg/provider/stt"
	"github.com/soniclarity/voicepipe/pkg/provider/tts"
)

// State is one position of the pipeline state machine. Exactly one State is
// current at a time; it is owned by the Orchestrator and observable only
// through notifications and the read-only State accessor.
type State string

const (
	StateIdle             State = "idle"
	StateListeningForWake State = "listening_for_wake"
	StateRecording        State = "recording"
	StateProcessing       State = "processing"
	StateSpeaking         State = "speaking"
	StateError            State = "error"
)

// Notification is an immutable snapshot of one state transition. It carries
// enough information to reconstruct the current state without reference to
// any previous notification.
type Notification struct {
	// State is the state just entered.
	State State
	// At is the transition timestamp.
	At time.Time
	// Activation is set on the transition into StateRecording.
	Activation *wake.Activation
	// Err is set on the transition into StateError.
	Err error
}

// Interaction is the record of one full cycle: activation through playback.
// It is built incrementally and handed to subscribers at the end of the
// cycle; the pipeline itself retains nothing.
type Interaction struct {
	// ActivatedAt is when the cycle began (wake detection or text input).
	ActivatedAt time.Time
	// Utterance is the recorded audio. Nil for text input.
	Utterance *recorder.Utterance
	// Transcript is the recognized (or typed) user text.
	Transcript string
	// Response is the generated reply text.
	Response string
	// Audio is the synthesized reply as WAV bytes.
	Audio []byte
	// Err is set when the cycle failed at some stage.
	Err error
}

// WakeSpotter is the orchestrator's view of the keyword spotter.
// *wake.Spotter satisfies it.
type WakeSpotter interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Activations() <-chan wake.Activation
	Fatal() <-chan error
}

// UtteranceRecorder is the orchestrator's view of the utterance recorder.
// *recorder.Recorder satisfies it.
type UtteranceRecorder interface {
	Record(ctx context.Context) (*recorder.Utterance, error)
}

// ErrAlreadyRunning is returned by Start when the pipeline is running.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// Defaults for the orchestrator tunables.
const (
	DefaultErrorRecovery = 2 * time.Second
	DefaultStopTimeout   = 3 * time.Second
	defaultHistoryTurns  = 10
	defaultSampleRate    = 16000
)

// deviceError marks a failure of the local audio hardware. Unlike service
// failures these are fatal: no further progress is possible.
type deviceError struct {
	err error
}

func (e deviceError) Error() string { return e.err.Error() }
func (e deviceError) Unwrap() error { return e.err }

// Config holds the orchestrator's tunables. Zero values select defaults.
type Config struct {
	// SampleRate of recorded utterances in Hz. Default 16000.
	SampleRate int
	// Language hint passed to the recognition service.
	Language string
	// Voice used for synthesis.
	Voice tts.Voice
	// SystemPrompt passed to the response service.
	SystemPrompt string
	// Mode is the initial response mode. Default respond.ModeConversation.
	Mode respond.Mode
	// ErrorRecovery is how long the pipeline stays in StateError before
	// resuming listening. Default 2 s.
	ErrorRecovery time.Duration
	// StopTimeout bounds teardown in Stop. Default 3 s.
	StopTimeout time.Duration
	// HistoryTurns caps how many past exchanges are kept for conversation
	// context. Default 10.
	HistoryTurns int
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.Mode == "" {
		c.Mode = respond.ModeConversation
	}
	if c.ErrorRecovery <= 0 {
		c.ErrorRecovery = DefaultErrorRecovery
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = defaultHistoryTurns
	}
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator drives the pipeline. Construct with New, attach subscribers
// with Subscribe, then Start. All exported methods are safe for concurrent
// use.
type Orchestrator struct {
	cfg      Config
	spotter  WakeSpotter
	rec      UtteranceRecorder
	output   audio.OutputDevice
	sttP     stt.Provider
	respondP respond.Provider
	ttsP     tts.Provider
	logger   *slog.Logger
	metrics  *observe.Metrics

	sttCB     *resilience.CircuitBreaker
	respondCB *resilience.CircuitBreaker
	ttsCB     *resilience.CircuitBreaker

	// cycleMu serializes interaction cycles (voice and text input).
	cycleMu sync.Mutex

	mu      sync.Mutex
	state   State
	mode    respond.Mode
	history []respond.Message
	sinks   []*sink
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// New constructs an Orchestrator over the given collaborators. All of them
// are required.
func New(
	spotter WakeSpotter,
	rec UtteranceRecorder,
	output audio.OutputDevice,
	sttP stt.Provider,
	respondP respond.Provider,
	ttsP tts.Provider,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case spotter == nil:
		return nil, errors.New("pipeline: spotter must not be nil")
	case rec == nil:
		return nil, errors.New("pipeline: recorder must not be nil")
	case output == nil:
		return nil, errors.New("pipeline: output device must not be nil")
	case sttP == nil:
		return nil, errors.New("pipeline: recognition provider must not be nil")
	case respondP == nil:
		return nil, errors.New("pipeline: response provider must not be nil")
	case ttsP == nil:
		return nil, errors.New("pipeline: synthesis provider must not be nil")
	}
	cfg.applyDefaults()

	o := &Orchestrator{
		cfg:      cfg,
		spotter:  spotter,
		rec:      rec,
		output:   output,
		sttP:     sttP,
		respondP: respondP,
		ttsP:     ttsP,
		state:    StateIdle,
		mode:     cfg.Mode,

		sttCB:     resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "stt"}),
		respondCB: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "respond"}),
		ttsCB:     resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts"}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "pipeline")
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Subscribe attaches a subscriber. Each subscriber receives events on its own
// goroutine in emission order, starting with the next transition.
func (o *Orchestrator) Subscribe(sub Subscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, newSink(sub))
}

// State returns a snapshot of the current pipeline state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetMode changes the response mode used for subsequent interactions. The
// mode is passed through to the response service, not interpreted here.
func (o *Orchestrator) SetMode(m respond.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mode = m
}

// Done returns a channel closed when the run loop exits, whether through
// Stop or a fatal device error. Valid after Start.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Err reports the fatal error that terminated the run loop, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runErr
}

// Start arms the keyword spotter and begins listening. A device failure on
// startup is returned directly. Start after Stop begins a fresh run.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.running = true
	o.cancel = cancel
	o.done = done
	o.runErr = nil
	o.mu.Unlock()

	if err := o.spotter.Start(runCtx); err != nil {
		cancel()
		close(done)
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return fmt.Errorf("pipeline: start spotter: %w", err)
	}

	o.setState(StateListeningForWake, nil, nil)
	go o.run(runCtx, done)
	o.logger.Info("pipeline started")
	return nil
}

// Stop tears the pipeline down from any state: it cancels any in-flight
// cycle, stops the spotter, and returns to StateIdle. Teardown is bounded by
// Config.StopTimeout. Stop on a stopped pipeline is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(o.cfg.StopTimeout):
		o.logger.Warn("run loop did not exit within stop timeout")
	case <-ctx.Done():
		return ctx.Err()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), o.cfg.StopTimeout)
	defer stopCancel()
	if err := o.spotter.Stop(stopCtx); err != nil {
		// The spotter loop usually exits with the run context; this is
		// expected, not a teardown failure.
		o.logger.Debug("spotter stop", "error", err)
	}

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	o.setState(StateIdle, nil, nil)
	o.logger.Info("pipeline stopped")
	return nil
}

// Close releases subscriber delivery goroutines after draining their queues.
// Call after Stop when the orchestrator is no longer needed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	sinks := o.sinks
	o.sinks = nil
	o.mu.Unlock()
	for _, s := range sinks {
		s.close()
	}
}

// ProcessTextInput bypasses recording and recognition: text enters the
// Processing stage directly and the reply is synthesized and played as
// usual. The audio input device is never opened. Works whether or not the
// pipeline is running; when running, the spotter is paused for the duration
// so playback cannot self-trigger.
func (o *Orchestrator) ProcessTextInput(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("pipeline: empty text input")
	}

	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	if running {
		if err := o.spotter.Pause(ctx); err != nil {
			return "", fmt.Errorf("pipeline: pause spotter: %w", err)
		}
	}

	ia := Interaction{ActivatedAt: time.Now()}
	err := o.processAndSpeak(ctx, &ia, text)
	o.emit(event{kind: evInteraction, interaction: ia})
	if err != nil && ctx.Err() == nil {
		o.recoverFromError(ctx, err)
	}

	if running {
		o.setState(StateListeningForWake, nil, nil)
		if rerr := o.spotter.Resume(ctx); rerr != nil && err == nil {
			err = fmt.Errorf("pipeline: resume spotter: %w", rerr)
		}
	} else {
		o.setState(StateIdle, nil, nil)
	}
	return ia.Response, err
}

// run is the orchestrator's main loop: it waits for activations and drives
// one cycle per activation. It exits on Stop or on a fatal device error.
func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-o.spotter.Fatal():
			o.failFatal(err)
			return
		case act := <-o.spotter.Activations():
			if err := o.voiceCycle(ctx, act); err != nil {
				o.failFatal(err)
				return
			}
		}
	}
}

func (o *Orchestrator) failFatal(err error) {
	o.mu.Lock()
	o.runErr = err
	o.mu.Unlock()
	o.setState(StateError, nil, err)
	o.logger.Error("pipeline terminated", "error", err)
}

// voiceCycle handles one activation: record, process, speak, and return to
// listening. The returned error is non-nil only for fatal device failures.
func (o *Orchestrator) voiceCycle(ctx context.Context, act wake.Activation) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	ctx, span := observe.StartSpan(ctx, "pipeline.interaction")
	defer span.End()
	o.metrics.RecordActivation(ctx, act.Confidence)

	// Notify first, then take the device from the spotter. Pause is
	// synchronous: when it returns, the device is released.
	o.setState(StateRecording, &act, nil)
	if err := o.spotter.Pause(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pipeline: pause spotter: %w", err)
	}

	recStart := time.Now()
	utt, err := o.rec.Record(ctx)
	o.metrics.RecordStage(ctx, observe.StageRecording, time.Since(recStart))
	if err != nil {
		switch {
		case errors.Is(err, recorder.ErrNoSpeech):
			// Nothing was said: skip Processing and go straight back.
			o.metrics.RecordInteraction(ctx, "no_speech", time.Since(act.At))
			o.logger.Debug("no speech detected, resuming listening")
			return o.backToListening(ctx)
		case ctx.Err() != nil:
			return nil
		default:
			o.metrics.RecordStageError(ctx, observe.StageRecording)
			return fmt.Errorf("pipeline: record: %w", err)
		}
	}

	ia := Interaction{ActivatedAt: act.At, Utterance: utt}
	err = o.processAndSpeak(ctx, &ia, "")
	o.emit(event{kind: evInteraction, interaction: ia})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		var devErr deviceError
		if errors.As(err, &devErr) {
			return err
		}
		o.metrics.RecordInteraction(ctx, "error", time.Since(act.At))
		o.recoverFromError(ctx, err)
	} else {
		o.metrics.RecordInteraction(ctx, "ok", time.Since(act.At))
	}
	return o.backToListening(ctx)
}

// processAndSpeak runs the Processing and Speaking stages. When textInput is
// non-empty it is used directly instead of transcribing ia.Utterance. The
// interaction record is filled in as stages complete, including on failure.
func (o *Orchestrator) processAndSpeak(ctx context.Context, ia *Interaction, textInput string) error {
	o.setState(StateProcessing, nil, nil)

	text := textInput
	if text == "" {
		start := time.Now()
		tr, err := o.transcribe(ctx, ia.Utterance.PCM)
		o.metrics.RecordStage(ctx, observe.StageSTT, time.Since(start))
		if err != nil {
			o.metrics.RecordStageError(ctx, observe.StageSTT)
			ia.Err = err
			return err
		}
		text = tr.Text
	}
	ia.Transcript = text
	o.emit(event{kind: evTranscript, text: text})

	start := time.Now()
	reply, err := o.generate(ctx, text)
	o.metrics.RecordStage(ctx, observe.StageRespond, time.Since(start))
	if err != nil {
		o.metrics.RecordStageError(ctx, observe.StageRespond)
		ia.Err = err
		return err
	}
	ia.Response = reply
	o.emit(event{kind: evResponse, text: reply})

	start = time.Now()
	wav, err := o.synthesize(ctx, reply)
	o.metrics.RecordStage(ctx, observe.StageTTS, time.Since(start))
	if err != nil {
		o.metrics.RecordStageError(ctx, observe.StageTTS)
		ia.Err = err
		return err
	}
	ia.Audio = wav

	o.appendHistory(text, reply)

	o.setState(StateSpeaking, nil, nil)
	start = time.Now()
	err = o.output.Play(ctx, wav)
	o.metrics.RecordStage(ctx, observe.StagePlayback, time.Since(start))
	if err != nil {
		o.metrics.RecordStageError(ctx, observe.StagePlayback)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = deviceError{err: fmt.Errorf("pipeline: playback: %w", err)}
		ia.Err = err
		return err
	}
	return nil
}

// recoverFromError enters StateError and waits out the recovery delay. The
// triggering error rides on the notification for observability.
func (o *Orchestrator) recoverFromError(ctx context.Context, err error) {
	o.setState(StateError, nil, err)
	o.logger.Warn("interaction failed, recovering", "error", err)
	select {
	case <-time.After(o.cfg.ErrorRecovery):
	case <-ctx.Done():
	}
}

// backToListening re-arms the spotter. The returned error is non-nil only
// when the device cannot be reacquired, which is fatal.
func (o *Orchestrator) backToListening(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	o.setState(StateListeningForWake, nil, nil)
	if err := o.spotter.Resume(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pipeline: resume spotter: %w", err)
	}
	return nil
}

// ─── external service stages ─────────────────────────────────────────────────

func (o *Orchestrator) transcribe(ctx context.Context, pcm []byte) (stt.Transcript, error) {
	var tr stt.Transcript
	err := o.sttCB.Execute(func() error {
		var err error
		tr, err = o.sttP.Transcribe(ctx, pcm, stt.Config{
			SampleRate: o.cfg.SampleRate,
			Language:   o.cfg.Language,
		})
		return err
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("pipeline: transcribe: %w", err)
	}
	return tr, nil
}

func (o *Orchestrator) generate(ctx context.Context, text string) (string, error) {
	o.mu.Lock()
	session := respond.Session{
		Mode:         o.mode,
		SystemPrompt: o.cfg.SystemPrompt,
		History:      append([]respond.Message(nil), o.history...),
	}
	o.mu.Unlock()

	var reply string
	err := o.respondCB.Execute(func() error {
		var err error
		reply, err = o.respondP.Respond(ctx, text, session)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: respond: %w", err)
	}
	return reply, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) ([]byte, error) {
	var wav []byte
	err := o.ttsCB.Execute(func() error {
		var err error
		wav, err = o.ttsP.Synthesize(ctx, text, o.cfg.Voice)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	return wav, nil
}

func (o *Orchestrator) appendHistory(user, assistant string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history,
		respond.Message{Role: respond.RoleUser, Content: user},
		respond.Message{Role: respond.RoleAssistant, Content: assistant},
	)
	if max := o.cfg.HistoryTurns * 2; len(o.history) > max {
		o.history = o.history[len(o.history)-max:]
	}
}

// ─── state + event emission ──────────────────────────────────────────────────

// setState records the new state and notifies subscribers. Called only from
// the goroutine currently driving the state machine, so transitions are
// emitted in order.
func (o *Orchestrator) setState(s State, act *wake.Activation, err error) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("state transition", "state", string(s))
	o.emit(event{kind: evState, note: Notification{
		State:      s,
		At:         time.Now(),
		Activation: act,
		Err:        err,
	}})
}

func (o *Orchestrator) emit(e event) {
	o.mu.Lock()
	sinks := append([]*sink(nil), o.sinks...)
	o.mu.Unlock()
	for _, s := range sinks {
		s.push(e)
	}
}
