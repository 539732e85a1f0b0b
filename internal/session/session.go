// Package session owns the per-connection streaming state machine.
//
// DESIGN: A session holds at most one in-flight generation. Each generation
// runs the invoker's blocking stream on its own producer goroutine and hands
// fragments to the connection's writer through a single FIFO event channel.
// All event emission is serialized under one mutex, which is what enforces
// the per-request grammar: exactly one Start, any number of Chunks, exactly
// one terminal event (Done, Cancelled or Error), and nothing afterwards.
//
// Cancellation is cooperative: the producer checks its context between
// fragments and cannot be preempted mid-call into the provider. Supersede
// (Start while streaming) cancels the active generation, emits Cancelled for
// it, waits a bounded time for the producer to notice, then starts the new
// one. A producer fault always ends in a terminal event; the consumer never
// waits on a channel that will not receive one.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/windowchat/stream-gateway/internal/invoker"
	"github.com/windowchat/stream-gateway/internal/prompt"
)

// EventType tags an outbound stream event.
type EventType string

const (
	EventStart     EventType = "start"
	EventChunk     EventType = "chunk"
	EventDone      EventType = "done"
	EventCancelled EventType = "cancelled"
	EventError     EventType = "error"
)

// Event is one outbound protocol event. The zero-valued fields are omitted
// on the wire.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId,omitempty"`
	Text      string    `json:"text,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// isTerminal reports whether t closes a request's event group.
func isTerminal(t EventType) bool {
	return t == EventDone || t == EventCancelled || t == EventError
}

// DefaultEventBuffer is the handoff queue depth between producer and writer.
const DefaultEventBuffer = 64

// DefaultDrainWait bounds how long a supersede or close waits for the
// outgoing producer to observe cancellation.
const DefaultDrainWait = 2 * time.Second

// generation is one in-flight streaming request.
type generation struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	terminated bool // terminal event emitted; guarded by Session.mu
}

// Session bridges blocking generations onto a non-blocking event channel.
// One session per connection; methods are safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	baseCtx   context.Context
	baseStop  context.CancelFunc
	active    *generation
	drainWait time.Duration
}

// Option configures a session.
type Option func(*Session)

// WithDrainWait overrides the bounded producer drain wait.
func WithDrainWait(d time.Duration) Option {
	return func(s *Session) { s.drainWait = d }
}

// WithEventBuffer overrides the event channel depth.
func WithEventBuffer(n int) Option {
	return func(s *Session) { s.events = make(chan Event, n) }
}

// New creates an idle session. Close must be called when the owning
// connection goes away.
func New(opts ...Option) *Session {
	ctx, stop := context.WithCancel(context.Background())
	s := &Session{
		events:    make(chan Event, DefaultEventBuffer),
		closed:    make(chan struct{}),
		baseCtx:   ctx,
		baseStop:  stop,
		drainWait: DefaultDrainWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events is the ordered outbound event stream. The connection's writer loop
// is the single consumer.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// ActiveRequestID returns the id of the in-flight generation, if any.
func (s *Session) ActiveRequestID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.id, true
}

// Start begins streaming requestID, superseding any active generation:
// the old request observes Cancelled before the new one's Start.
func (s *Session) Start(requestID string, inv invoker.Invoker, turns []prompt.Turn) {
	s.mu.Lock()
	prev := s.active
	s.mu.Unlock()
	if prev != nil {
		s.cancelGeneration(prev)
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	gen := &generation{
		id:     requestID,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		cancel()
		close(gen.done)
		return
	}
	s.active = gen
	s.send(Event{Type: EventStart, RequestID: requestID})
	s.mu.Unlock()

	go s.produce(gen, inv, turns)
}

// Cancel cancels the active generation when requestID matches (an empty id
// matches whatever is active). Cancelling anything else is a logged no-op.
func (s *Session) Cancel(requestID string) bool {
	s.mu.Lock()
	gen := s.active
	s.mu.Unlock()

	if gen == nil || (requestID != "" && gen.id != requestID) {
		log.Debug().Str("request_id", requestID).Msg("cancel for unknown request ignored")
		return false
	}
	s.cancelGeneration(gen)
	return true
}

// Close cancels any active generation and releases the session. No events
// are emitted after Close returns; buffered events may be discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.baseStop()

		s.mu.Lock()
		gen := s.active
		s.active = nil
		if gen != nil {
			gen.terminated = true
			gen.cancel()
		}
		s.mu.Unlock()

		if gen != nil {
			s.awaitProducer(gen)
		}
	})
}

// cancelGeneration marks gen terminal, emits Cancelled, and waits (bounded)
// for the producer to observe the signal.
func (s *Session) cancelGeneration(gen *generation) {
	s.mu.Lock()
	if gen.terminated {
		s.mu.Unlock()
		s.awaitProducer(gen)
		return
	}
	gen.terminated = true
	if s.active == gen {
		s.active = nil
	}
	gen.cancel()
	s.send(Event{Type: EventCancelled, RequestID: gen.id})
	s.mu.Unlock()

	s.awaitProducer(gen)
}

// awaitProducer waits for gen's producer to exit, giving up after drainWait
// rather than blocking the connection behind a stuck provider call.
func (s *Session) awaitProducer(gen *generation) {
	t := time.NewTimer(s.drainWait)
	defer t.Stop()
	select {
	case <-gen.done:
	case <-t.C:
		log.Warn().Str("request_id", gen.id).Msg("superseded producer still draining, not waiting")
	}
}

// produce runs the blocking stream for gen, forwarding fragments as Chunk
// events and always finishing with a terminal event unless one was already
// emitted by cancellation.
func (s *Session) produce(gen *generation, inv invoker.Invoker, turns []prompt.Turn) {
	defer close(gen.done)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("request_id", gen.id).Msg("generation producer panicked")
			s.emit(gen, Event{
				Type: EventError, RequestID: gen.id,
				Code: "internal_error", Message: "generation failed unexpectedly",
			})
		}
	}()

	stream, err := inv.StreamGenerate(gen.ctx, turns)
	if err != nil {
		if gen.ctx.Err() == nil {
			s.emit(gen, errorEvent(gen.id, err))
		}
		return
	}
	defer func() { _ = stream.Close() }()

	for {
		// Cooperative cancellation point between fragments.
		if gen.ctx.Err() != nil {
			return
		}
		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			s.emit(gen, Event{Type: EventDone, RequestID: gen.id})
			return
		}
		if err != nil {
			if gen.ctx.Err() == nil {
				s.emit(gen, errorEvent(gen.id, err))
			}
			return
		}
		s.emit(gen, Event{Type: EventChunk, RequestID: gen.id, Text: frag})
	}
}

// emit delivers ev for gen unless gen already reached its terminal event.
func (s *Session) emit(gen *generation, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen.terminated {
		return
	}
	if isTerminal(ev.Type) {
		gen.terminated = true
		if s.active == gen {
			s.active = nil
		}
	}
	s.send(ev)
}

// send puts ev on the event channel. Caller holds s.mu, which is what keeps
// emission totally ordered. Blocks until the writer drains room or the
// session closes.
func (s *Session) send(ev Event) {
	if s.isClosed() {
		return
	}
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// errorEvent maps an invoker failure to the uniform wire shape.
func errorEvent(requestID string, err error) Event {
	var ie *invoker.Error
	if errors.As(err, &ie) {
		return Event{Type: EventError, RequestID: requestID, Code: ie.Code, Message: ie.Message}
	}
	return Event{Type: EventError, RequestID: requestID, Code: "provider_error", Message: err.Error()}
}
