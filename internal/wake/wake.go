// Package wake implements the always-on keyword spotter.
//
// A Spotter owns the audio input device on a dedicated goroutine, conditions
// each ~80 ms chunk, gathers speech-gated windows, transcribes them, and
// matches the transcript against the activation phrase. Detections above the
// confidence threshold are published on a single-slot activation channel, so
// a detection that arrives while a previous one is still unconsumed is
// dropped rather than queued.
//
// Pause and Resume are synchronous control messages: when Pause returns, the
// device is closed and no further activations will fire until Resume reopens
// it. This lets the orchestrator hand exclusive device ownership to the
// utterance recorder.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soniclarity/voicepipe/internal/dsp"
	"github.com/soniclarity/voicepipe/pkg/audio"
	"github.com/soniclarity/voicepipe/pkg/provider/stt"
)

const (
	defaultThreshold       = 0.75
	defaultSampleRate      = 16000
	defaultChunkMillis     = 80
	defaultMaxWindowMillis = 1600

	// endSilenceChunks is how many consecutive non-speech chunks end a
	// speech window (~240 ms at the default chunk size).
	endSilenceChunks = 3

	// minSpeechChunks is the minimum number of speech chunks a window must
	// contain before it is worth transcribing.
	minSpeechChunks = 2
)

// ErrAlreadyStarted is returned by Start when the spotter is running.
var ErrAlreadyStarted = errors.New("wake: spotter already started")

// Activation reports one detection of the activation phrase.
type Activation struct {
	// Phrase is the configured activation phrase.
	Phrase string
	// Confidence is the match score in [0, 1].
	Confidence float64
	// At is when the detection fired.
	At time.Time
}

// Config holds the spotter's tunables. Zero values select defaults.
type Config struct {
	// Phrase is the activation phrase to listen for. Required.
	Phrase string
	// Threshold is the minimum match confidence. Default 0.75.
	Threshold float64
	// SampleRate of the input device in Hz. Default 16000.
	SampleRate int
	// ChunkMillis is the analysis chunk duration. Device frames are
	// reassembled into chunks of this size before conditioning, so the
	// device's own frame period does not affect endpointing. Default 80.
	ChunkMillis int
	// MaxWindowMillis bounds a speech window before it is force-flushed to
	// the recognizer. Default 1600.
	MaxWindowMillis int
	// Aggressiveness is the VAD strictness, 0 (permissive) to 3 (strict).
	Aggressiveness int
	// Language hint passed to the transcriber.
	Language string
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.ChunkMillis <= 0 {
		c.ChunkMillis = defaultChunkMillis
	}
	if c.MaxWindowMillis <= 0 {
		c.MaxWindowMillis = defaultMaxWindowMillis
	}
}

type controlOp int

const (
	opPause controlOp = iota
	opResume
	opStop
)

type controlRequest struct {
	op  controlOp
	err chan error
}

// Spotter is the keyword spotting worker. Construct with NewSpotter, then
// Start exactly once. All control methods are safe for concurrent use.
type Spotter struct {
	cfg    Config
	device audio.InputDevice
	trans  stt.Provider
	cond   *dsp.Conditioner
	logger *slog.Logger

	activations chan Activation
	control     chan controlRequest
	fatal       chan error

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewSpotter creates a Spotter reading from device and transcribing speech
// windows with trans. cfg.Phrase must be non-empty.
func NewSpotter(device audio.InputDevice, trans stt.Provider, cfg Config, logger *slog.Logger) (*Spotter, error) {
	if cfg.Phrase == "" {
		return nil, errors.New("wake: activation phrase must not be empty")
	}
	if device == nil {
		return nil, errors.New("wake: device must not be nil")
	}
	if trans == nil {
		return nil, errors.New("wake: transcriber must not be nil")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Spotter{
		cfg:    cfg,
		device: device,
		trans:  trans,
		cond: dsp.NewConditioner(dsp.Config{
			SampleRate:     cfg.SampleRate,
			Aggressiveness: cfg.Aggressiveness,
		}),
		logger:      logger.With("component", "wake"),
		activations: make(chan Activation, 1),
		control:     make(chan controlRequest),
		fatal:       make(chan error, 1),
	}, nil
}

// Activations returns the single-slot detection channel.
func (s *Spotter) Activations() <-chan Activation { return s.activations }

// Fatal returns a channel that receives at most one unrecoverable device
// error, after which the spotter's loop has exited.
func (s *Spotter) Fatal() <-chan error { return s.fatal }

// Start opens the input device and launches the spotting loop. The loop runs
// until Stop is called or ctx is cancelled. A stopped spotter may be started
// again.
func (s *Spotter) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.running = true
	s.mu.Unlock()

	if err := s.device.Open(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("wake: open device: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()
	go s.run(ctx, done)
	return nil
}

// Pause closes the input device and suspends spotting. When Pause returns
// nil, the device is released and no activation can fire until Resume.
func (s *Spotter) Pause(ctx context.Context) error {
	return s.send(ctx, opPause)
}

// Resume reopens the input device and continues spotting. A device error on
// reopen is returned here and also terminates the loop as fatal.
func (s *Spotter) Resume(ctx context.Context) error {
	return s.send(ctx, opResume)
}

// Stop terminates the spotting loop and releases the device. It blocks until
// the loop has exited or ctx is done.
func (s *Spotter) Stop(ctx context.Context) error {
	done := s.doneCh()
	if done == nil {
		return errors.New("wake: spotter not running")
	}
	if err := s.send(ctx, opStop); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Spotter) doneCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Spotter) send(ctx context.Context, op controlOp) error {
	done := s.doneCh()
	if done == nil {
		return errors.New("wake: spotter not running")
	}
	req := controlRequest{op: op, err: make(chan error, 1)}
	select {
	case s.control <- req:
	case <-done:
		return errors.New("wake: spotter not running")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.err:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the spotting loop. It owns the device from Start until pause or
// exit.
func (s *Spotter) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()
	defer s.device.Close()

	win := newSpeechWindow(s.cfg.SampleRate, s.cfg.MaxWindowMillis)
	chunks := newChunkAssembler(s.cfg.SampleRate, s.cfg.ChunkMillis)
	paused := false

	for {
		if paused {
			select {
			case <-ctx.Done():
				return
			case req := <-s.control:
				switch req.op {
				case opResume:
					err := s.device.Open(ctx)
					req.err <- err
					if err != nil {
						s.reportFatal(fmt.Errorf("wake: reopen device: %w", err))
						return
					}
					s.cond.Reset()
					win.reset()
					chunks.reset()
					paused = false
				case opPause:
					req.err <- nil
				case opStop:
					req.err <- nil
					return
				}
			}
			continue
		}

		// Control checks run between frame reads, so a pause waits at most
		// one chunk duration.
		select {
		case <-ctx.Done():
			return
		case req := <-s.control:
			switch req.op {
			case opPause:
				err := s.device.Close()
				s.cond.Reset()
				win.reset()
				chunks.reset()
				paused = true
				req.err <- err
			case opResume:
				req.err <- nil
			case opStop:
				req.err <- nil
				return
			}
			continue
		default:
		}

		frame, err := s.device.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.reportFatal(fmt.Errorf("wake: read frame: %w", err))
			return
		}

		chunks.add(frame.Data)
		for data := chunks.next(); data != nil; data = chunks.next() {
			isSpeech, cleaned := s.cond.Process(audio.Frame{
				Data:       data,
				SampleRate: s.cfg.SampleRate,
				Channels:   1,
				Timestamp:  frame.Timestamp,
			})
			if win.push(cleaned.Data, isSpeech) {
				s.flush(ctx, win)
			}
		}
	}
}

// flush transcribes the completed speech window and emits an activation if
// the transcript matches the phrase. Recognition errors are transient: they
// are logged and the loop continues.
func (s *Spotter) flush(ctx context.Context, win *speechWindow) {
	pcm := win.take()
	if len(pcm) == 0 {
		return
	}

	tr, err := s.trans.Transcribe(ctx, pcm, stt.Config{
		SampleRate: s.cfg.SampleRate,
		Language:   s.cfg.Language,
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("chunk recognition failed, skipping", "error", err)
		}
		return
	}

	conf := Confidence(tr.Text, s.cfg.Phrase)
	s.logger.Debug("speech window scored", "text", tr.Text, "confidence", conf)
	if conf < s.cfg.Threshold {
		return
	}

	act := Activation{Phrase: s.cfg.Phrase, Confidence: conf, At: time.Now()}
	select {
	case s.activations <- act:
		s.logger.Info("activation phrase detected", "confidence", conf)
	default:
		// Slot occupied: the previous activation has not been consumed yet.
	}
}

func (s *Spotter) reportFatal(err error) {
	s.logger.Error("spotter terminated", "error", err)
	select {
	case s.fatal <- err:
	default:
	}
}

// chunkAssembler reassembles arbitrarily sized device frames into fixed
// analysis chunks. A 20 ms capture device and an 80 ms one then drive the
// same endpointing behavior.
type chunkAssembler struct {
	buf  []byte
	size int
}

func newChunkAssembler(sampleRate, chunkMillis int) *chunkAssembler {
	return &chunkAssembler{size: sampleRate * chunkMillis / 1000 * 2}
}

// add buffers the raw PCM of one device frame.
func (a *chunkAssembler) add(p []byte) {
	a.buf = append(a.buf, p...)
}

// next pops one complete chunk, or nil when not enough data is buffered.
func (a *chunkAssembler) next() []byte {
	if len(a.buf) < a.size {
		return nil
	}
	chunk := make([]byte, a.size)
	copy(chunk, a.buf)
	a.buf = a.buf[:copy(a.buf, a.buf[a.size:])]
	return chunk
}

func (a *chunkAssembler) reset() {
	a.buf = a.buf[:0]
}

// speechWindow accumulates conditioned PCM while speech is present. A window
// opens on the first speech chunk and completes after a short run of
// trailing silence or when the size bound is hit.
type speechWindow struct {
	pcm             []byte
	maxBytes        int
	speechChunks    int
	trailingSilence int
}

func newSpeechWindow(sampleRate, maxMillis int) *speechWindow {
	return &speechWindow{maxBytes: sampleRate * maxMillis / 1000 * 2}
}

// push adds one chunk and reports whether the window is complete.
func (w *speechWindow) push(chunk []byte, isSpeech bool) bool {
	if len(w.pcm) == 0 && !isSpeech {
		return false
	}
	w.pcm = append(w.pcm, chunk...)
	if isSpeech {
		w.speechChunks++
		w.trailingSilence = 0
	} else {
		w.trailingSilence++
	}
	return w.trailingSilence >= endSilenceChunks || len(w.pcm) >= w.maxBytes
}

// take returns the window's PCM if it held enough speech, then resets. Too
// little speech yields nil: a lone blip is not worth a recognition call.
func (w *speechWindow) take() []byte {
	pcm := w.pcm
	enough := w.speechChunks >= minSpeechChunks
	w.reset()
	if !enough {
		return nil
	}
	return pcm
}

func (w *speechWindow) reset() {
	w.pcm = nil
	w.speechChunks = 0
	w.trailingSilence = 0
}
