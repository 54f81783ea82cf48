package pipeline

import "sync"

// Subscriber receives pipeline events. Each subscriber gets its own delivery
// goroutine: events arrive in emission order, never coalesced, and a slow or
// blocking callback delays only that subscriber, never the pipeline.
type Subscriber interface {
	// OnStateChange is called for every state transition. The notification
	// is a self-contained snapshot.
	OnStateChange(n Notification)
	// OnTranscript is called with the recognized text of each utterance.
	OnTranscript(text string)
	// OnResponseText is called with the generated reply text.
	OnResponseText(text string)
	// OnInteraction is called with the complete record of one interaction
	// cycle, successful or not.
	OnInteraction(ia Interaction)
}

// SubscriberFuncs adapts a set of optional callbacks to the Subscriber
// interface. Nil fields are skipped.
type SubscriberFuncs struct {
	StateChange  func(Notification)
	Transcript   func(string)
	ResponseText func(string)
	Interaction  func(Interaction)
}

// OnStateChange implements Subscriber.
func (s *SubscriberFuncs) OnStateChange(n Notification) {
	if s.StateChange != nil {
		s.StateChange(n)
	}
}

// OnTranscript implements Subscriber.
func (s *SubscriberFuncs) OnTranscript(text string) {
	if s.Transcript != nil {
		s.Transcript(text)
	}
}

// OnResponseText implements Subscriber.
func (s *SubscriberFuncs) OnResponseText(text string) {
	if s.ResponseText != nil {
		s.ResponseText(text)
	}
}

// OnInteraction implements Subscriber.
func (s *SubscriberFuncs) OnInteraction(ia Interaction) {
	if s.Interaction != nil {
		s.Interaction(ia)
	}
}

type eventKind int

const (
	evState eventKind = iota
	evTranscript
	evResponse
	evInteraction
)

// event is the union of everything a subscriber can receive. All kinds flow
// through one queue per subscriber so relative ordering is preserved.
type event struct {
	kind        eventKind
	note        Notification
	text        string
	interaction Interaction
}

// sink owns delivery to one subscriber. The queue is unbounded so push never
// blocks the emitting goroutine.
type sink struct {
	sub Subscriber

	mu    sync.Mutex
	queue []event

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newSink(sub Subscriber) *sink {
	s := &sink{
		sub:  sub,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *sink) push(e event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *sink) loop() {
	defer close(s.done)
	for {
		s.deliverPending()
		select {
		case <-s.wake:
		case <-s.quit:
			s.deliverPending()
			return
		}
	}
}

func (s *sink) deliverPending() {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, e := range pending {
		switch e.kind {
		case evState:
			s.sub.OnStateChange(e.note)
		case evTranscript:
			s.sub.OnTranscript(e.text)
		case evResponse:
			s.sub.OnResponseText(e.text)
		case evInteraction:
			s.sub.OnInteraction(e.interaction)
		}
	}
}

// close drains remaining events and stops the delivery goroutine.
func (s *sink) close() {
	close(s.quit)
	<-s.done
}
