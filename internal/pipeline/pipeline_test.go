package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/soniclarity/voicepipe/internal/recorder"
	"github.com/soniclarity/voicepipe/internal/wake"
	audiomock "github.com/soniclarity/voicepipe/pkg/audio/mock"
	respondmock "github.com/soniclarity/voicepipe/pkg/provider/respond/mock"
	"github.com/soniclarity/voicepipe/pkg/provider/stt"
	sttmock "github.com/soniclarity/voicepipe/pkg/provider/stt/mock"
	ttsmock "github.com/soniclarity/voicepipe/pkg/provider/tts/mock"
)

// ─── test doubles ────────────────────────────────────────────────────────────

// fakeSpotter satisfies WakeSpotter with manually triggered activations.
type fakeSpotter struct {
	activations chan wake.Activation
	fatal       chan error

	pauseErr  error
	resumeErr error

	mu       sync.Mutex
	started  bool
	paused   bool
	pauses   int
	resumes  int
	stops    int
}

func newFakeSpotter() *fakeSpotter {
	return &fakeSpotter{
		activations: make(chan wake.Activation, 1),
		fatal:       make(chan error, 1),
	}
}

func (s *fakeSpotter) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return wake.ErrAlreadyStarted
	}
	s.started = true
	s.paused = false
	return nil
}

func (s *fakeSpotter) Pause(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseErr != nil {
		return s.pauseErr
	}
	if !s.started {
		return errors.New("not running")
	}
	s.paused = true
	s.pauses++
	return nil
}

func (s *fakeSpotter) Resume(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumeErr != nil {
		return s.resumeErr
	}
	if !s.started {
		return errors.New("not running")
	}
	s.paused = false
	s.resumes++
	return nil
}

func (s *fakeSpotter) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not running")
	}
	s.started = false
	s.stops++
	return nil
}

func (s *fakeSpotter) Activations() <-chan wake.Activation { return s.activations }

func (s *fakeSpotter) Fatal() <-chan error { return s.fatal }

func (s *fakeSpotter) trigger() {
	s.activations <- wake.Activation{Phrase: "hey sonic", Confidence: 0.95, At: time.Now()}
}

func (s *fakeSpotter) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *fakeSpotter) counts() (pauses, resumes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauses, s.resumes
}

// recordResult is one scripted outcome of fakeRecorder.Record.
type recordResult struct {
	utt *recorder.Utterance
	err error
}

// fakeRecorder satisfies UtteranceRecorder with scripted results. The last
// script entry repeats. A nil script blocks until the context is cancelled.
type fakeRecorder struct {
	script []recordResult

	// onRecord, when set, runs at the start of each Record call.
	onRecord func()

	mu    sync.Mutex
	calls int
}

func (r *fakeRecorder) Record(ctx context.Context) (*recorder.Utterance, error) {
	r.mu.Lock()
	idx := r.calls
	r.calls++
	r.mu.Unlock()

	if r.onRecord != nil {
		r.onRecord()
	}
	if len(r.script) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if idx >= len(r.script) {
		idx = len(r.script) - 1
	}
	res := r.script[idx]
	return res.utt, res.err
}

func (r *fakeRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// recordingSub captures everything a subscriber sees, in order.
type recordingSub struct {
	mu           sync.Mutex
	states       []State
	transcripts  []string
	responses    []string
	interactions []Interaction
}

func (s *recordingSub) OnStateChange(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, n.State)
}

func (s *recordingSub) OnTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, text)
}

func (s *recordingSub) OnResponseText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, text)
}

func (s *recordingSub) OnInteraction(ia Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, ia)
}

func (s *recordingSub) snapshotStates() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func (s *recordingSub) snapshotInteractions() []Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Interaction(nil), s.interactions...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testUtterance() *recorder.Utterance {
	return &recorder.Utterance{
		Start:      time.Now(),
		PCM:        make([]byte, 3200),
		SampleRate: 16000,
		EndReason:  recorder.EndSilence,
	}
}

// fixture wires an orchestrator over all-mock collaborators.
type fixture struct {
	orch    *Orchestrator
	spotter *fakeSpotter
	rec     *fakeRecorder
	output  *audiomock.OutputDevice
	sttP    *sttmock.Provider
	resP    *respondmock.Provider
	ttsP    *ttsmock.Provider
	sub     *recordingSub
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		spotter: newFakeSpotter(),
		rec:     &fakeRecorder{script: []recordResult{{utt: testUtterance()}}},
		output:  &audiomock.OutputDevice{},
		sttP: &sttmock.Provider{Script: []sttmock.Result{
			{Transcript: stt.Transcript{Text: "turn on the lights", Confidence: 0.9}},
		}},
		resP: &respondmock.Provider{Reply: "the lights are on"},
		ttsP: &ttsmock.Provider{WAV: []byte("RIFFfake-wav-bytes")},
		sub:  &recordingSub{},
	}
	if cfg.ErrorRecovery == 0 {
		cfg.ErrorRecovery = 20 * time.Millisecond
	}
	orch, err := New(f.spotter, f.rec, f.output, f.sttP, f.resP, f.ttsP, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	orch.Subscribe(f.sub)
	f.orch = orch
	t.Cleanup(orch.Close)
	return f
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestFullVoiceCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.orch.Stop(ctx)

	f.spotter.trigger()
	waitFor(t, "cycle completion", func() bool {
		return len(f.sub.snapshotInteractions()) == 1 && f.orch.State() == StateListeningForWake
	})

	want := []State{
		StateListeningForWake,
		StateRecording,
		StateProcessing,
		StateSpeaking,
		StateListeningForWake,
	}
	got := f.sub.snapshotStates()
	if len(got) != len(want) {
		t.Fatalf("state transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	pauses, resumes := f.spotter.counts()
	if pauses != 1 || resumes != 1 {
		t.Errorf("spotter pauses/resumes = %d/%d, want 1/1", pauses, resumes)
	}
	if played := f.output.Played(); len(played) != 1 || string(played[0]) != "RIFFfake-wav-bytes" {
		t.Errorf("played = %d buffers, want the synthesized audio", len(played))
	}

	ia := f.sub.snapshotInteractions()[0]
	if ia.Transcript != "turn on the lights" {
		t.Errorf("Transcript = %q", ia.Transcript)
	}
	if ia.Response != "the lights are on" {
		t.Errorf("Response = %q", ia.Response)
	}
	if ia.Utterance == nil || ia.Err != nil {
		t.Errorf("interaction = %+v, want utterance set and no error", ia)
	}
}

func TestRecorderStartsOnlyAfterSpotterPaused(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	var sawPaused bool
	var mu sync.Mutex
	f.rec.onRecord = func() {
		mu.Lock()
		sawPaused = f.spotter.isPaused()
		mu.Unlock()
	}

	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.orch.Stop(ctx)

	f.spotter.trigger()
	waitFor(t, "cycle completion", func() bool {
		return len(f.sub.snapshotInteractions()) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if !sawPaused {
		t.Error("recording started while the spotter still held the input device")
	}
}

func TestNoSpeechSkipsProcessing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.rec.script = []recordResult{{err: recorder.ErrNoSpeech}}

	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.orch.Stop(ctx)

	f.spotter.trigger()
	waitFor(t, "return to listening", func() bool {
		states := f.sub.snapshotStates()
		return len(states) >= 3 && states[len(states)-1] == StateListeningForWake
	})

	got := f.sub.snapshotStates()
	want := []State{StateListeningForWake, StateRecording, StateListeningForWake}
	if len(got) != len(want) {
		t.Fatalf("state transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
	if calls := f.sttP.Calls(); len(calls) != 0 {
		t.Errorf("recognition called %d times on an empty utterance", len(calls))
	}
	if ias := f.sub.snapshotInteractions(); len(ias) != 0 {
		t.Errorf("got %d interactions, want none", len(ias))
	}
}

func TestServiceFailureRecovers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{ErrorRecovery: 10 * time.Millisecond})
	f.resP.Err = errors.New("model overloaded")

	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.orch.Stop(ctx)

	f.spotter.trigger()
	waitFor(t, "recovery to listening", func() bool {
		states := f.sub.snapshotStates()
		return len(states) >= 2 && states[len(states)-1] == StateListeningForWake &&
			containsState(states, StateError)
	})

	got := f.sub.snapshotStates()
	want := []State{
		StateListeningForWake,
		StateRecording,
		StateProcessing,
		StateError,
		StateListeningForWake,
	}
	if len(got) != len(want) {
		t.Fatalf("state transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}

	ias := f.sub.snapshotInteractions()
	if len(ias) != 1 || ias[0].Err == nil {
		t.Fatalf("interactions = %+v, want one failed interaction", ias)
	}
	if ias[0].Transcript != "turn on the lights" {
		t.Errorf("failed interaction still carries transcript %q", ias[0].Transcript)
	}
	if len(f.output.Played()) != 0 {
		t.Error("audio was played despite the response failure")
	}

	// The pipeline must still accept the next activation.
	f.spotter.trigger()
	waitFor(t, "second cycle", func() bool {
		return len(f.sub.snapshotInteractions()) == 2
	})
}

func TestProcessTextInputWhileRunning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.orch.Stop(ctx)

	reply, err := f.orch.ProcessTextInput(ctx, "what time is it")
	if err != nil {
		t.Fatalf("ProcessTextInput: %v", err)
	}
	if reply != "the lights are on" {
		t.Errorf("reply = %q", reply)
	}

	if f.rec.callCount() != 0 {
		t.Error("text input must not open the audio input device")
	}
	if calls := f.sttP.Calls(); len(calls) != 0 {
		t.Error("text input must bypass recognition")
	}
	pauses, resumes := f.spotter.counts()
	if pauses != 1 || resumes != 1 {
		t.Errorf("spotter pauses/resumes = %d/%d, want 1/1", pauses, resumes)
	}
	waitFor(t, "played audio", func() bool { return len(f.output.Played()) == 1 })

	// A second exchange sees the first in its history.
	if _, err := f.orch.ProcessTextInput(ctx, "thanks"); err != nil {
		t.Fatalf("second ProcessTextInput: %v", err)
	}
	calls := f.resP.Calls()
	if len(calls) != 2 {
		t.Fatalf("response provider called %d times, want 2", len(calls))
	}
	hist := calls[1].Session.History
	if len(hist) != 2 || hist[0].Content != "what time is it" || hist[1].Content != "the lights are on" {
		t.Errorf("second call history = %+v, want the first exchange", hist)
	}
}

func TestProcessTextInputWhileStopped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	reply, err := f.orch.ProcessTextInput(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ProcessTextInput: %v", err)
	}
	if reply != "the lights are on" {
		t.Errorf("reply = %q", reply)
	}
	if f.orch.State() != StateIdle {
		t.Errorf("state = %q, want idle after a stopped-pipeline exchange", f.orch.State())
	}
	pauses, _ := f.spotter.counts()
	if pauses != 0 {
		t.Error("spotter touched while not running")
	}
}

func TestStopDuringRecording(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{StopTimeout: time.Second})
	f.rec.script = nil // Record blocks until cancelled.

	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.spotter.trigger()
	waitFor(t, "recording started", func() bool { return f.rec.callCount() == 1 })

	start := time.Now()
	if err := f.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v, want bounded teardown", elapsed)
	}
	if f.orch.State() != StateIdle {
		t.Errorf("state = %q, want idle", f.orch.State())
	}
	if err := f.orch.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSpotterFatalTerminatesPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	devErr := fmt.Errorf("microphone: %w", errors.New("device unplugged"))
	f.spotter.fatal <- devErr

	select {
	case <-f.orch.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("run loop did not exit after fatal device error")
	}
	if got := f.orch.Err(); !errors.Is(got, devErr) {
		t.Errorf("Err() = %v, want %v", got, devErr)
	}
	waitFor(t, "error notification", func() bool {
		return containsState(f.sub.snapshotStates(), StateError)
	})
}

func TestPlaybackFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.output.PlayErr = errors.New("alsa: broken pipe")

	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.spotter.trigger()
	select {
	case <-f.orch.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("run loop did not exit after playback failure")
	}
	if f.orch.Err() == nil {
		t.Error("Err() = nil, want the playback failure")
	}
}

func TestStartValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.orch.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if err := f.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Restartable after Stop.
	if err := f.orch.Start(ctx); err != nil {
		t.Errorf("restart: %v", err)
	}
	f.orch.Stop(ctx)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	if _, err := New(nil, f.rec, f.output, f.sttP, f.resP, f.ttsP, Config{}); err == nil {
		t.Error("New accepted a nil spotter")
	}
	if _, err := New(f.spotter, f.rec, f.output, f.sttP, f.resP, nil, Config{}); err == nil {
		t.Error("New accepted a nil synthesis provider")
	}
}

func containsState(states []State, want State) bool {
	for _, s := range states {
		if s == want {
			return true
		}
	}
	return false
}
