package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowchat/stream-gateway/internal/invoker"
	"github.com/windowchat/stream-gateway/internal/prompt"
)

type scriptItem struct {
	text string
	err  error
}

// scriptStream feeds Next from a channel so tests control pacing. Closing
// the channel ends the stream with io.EOF.
type scriptStream struct {
	items chan scriptItem
}

func newScriptStream() *scriptStream {
	return &scriptStream{items: make(chan scriptItem, 16)}
}

func (s *scriptStream) push(text string) { s.items <- scriptItem{text: text} }
func (s *scriptStream) fail(err error)   { s.items <- scriptItem{err: err} }
func (s *scriptStream) finish()          { close(s.items) }

func (s *scriptStream) Next() (string, error) {
	it, ok := <-s.items
	if !ok {
		return "", io.EOF
	}
	return it.text, it.err
}

func (s *scriptStream) Close() error { return nil }

type fakeInvoker struct {
	stream   invoker.Stream
	startErr error
	panics   bool
}

func (f *fakeInvoker) Name() string { return "fake" }

func (f *fakeInvoker) Generate(ctx context.Context, turns []prompt.Turn) (string, error) {
	return "", &invoker.Error{Code: invoker.CodeProviderError, Message: "not implemented"}
}

func (f *fakeInvoker) StreamGenerate(ctx context.Context, turns []prompt.Turn) (invoker.Stream, error) {
	if f.panics {
		panic("provider client exploded")
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.stream, nil
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, s *Session, within time.Duration) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(within):
	}
}

func TestStreamToCompletion(t *testing.T) {
	s := New()
	defer s.Close()

	stream := newScriptStream()
	stream.push("Hel")
	stream.push("lo")
	stream.finish()

	s.Start("req-1", &fakeInvoker{stream: stream}, nil)

	assert.Equal(t, Event{Type: EventStart, RequestID: "req-1"}, nextEvent(t, s))
	assert.Equal(t, Event{Type: EventChunk, RequestID: "req-1", Text: "Hel"}, nextEvent(t, s))
	assert.Equal(t, Event{Type: EventChunk, RequestID: "req-1", Text: "lo"}, nextEvent(t, s))
	assert.Equal(t, Event{Type: EventDone, RequestID: "req-1"}, nextEvent(t, s))

	_, active := s.ActiveRequestID()
	assert.False(t, active)
}

func TestStreamStartFailure(t *testing.T) {
	s := New()
	defer s.Close()

	inv := &fakeInvoker{startErr: &invoker.Error{Code: invoker.CodeRateLimited, Message: "slow down"}}
	s.Start("req-1", inv, nil)

	assert.Equal(t, EventStart, nextEvent(t, s).Type)
	ev := nextEvent(t, s)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, invoker.CodeRateLimited, ev.Code)
	assert.Equal(t, "slow down", ev.Message)
}

func TestErrorMidStream(t *testing.T) {
	s := New()
	defer s.Close()

	stream := newScriptStream()
	stream.push("partial")
	stream.fail(&invoker.Error{Code: invoker.CodeProviderError, Message: "upstream hung up"})

	s.Start("req-1", &fakeInvoker{stream: stream}, nil)

	assert.Equal(t, EventStart, nextEvent(t, s).Type)
	assert.Equal(t, EventChunk, nextEvent(t, s).Type)
	ev := nextEvent(t, s)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, invoker.CodeProviderError, ev.Code)
}

func TestCancelStopsStream(t *testing.T) {
	s := New(WithDrainWait(20 * time.Millisecond))
	defer s.Close()

	stream := newScriptStream()
	s.Start("req-1", &fakeInvoker{stream: stream}, nil)
	require.Equal(t, EventStart, nextEvent(t, s).Type)

	ok := s.Cancel("req-1")
	assert.True(t, ok)
	assert.Equal(t, Event{Type: EventCancelled, RequestID: "req-1"}, nextEvent(t, s))

	// A fragment arriving after cancellation must not surface.
	stream.push("late")
	stream.finish()
	assertNoEvent(t, s, 100*time.Millisecond)

	_, active := s.ActiveRequestID()
	assert.False(t, active)
}

func TestCancelUnknownRequestIsNoOp(t *testing.T) {
	s := New()
	defer s.Close()

	stream := newScriptStream()
	s.Start("req-1", &fakeInvoker{stream: stream}, nil)
	require.Equal(t, EventStart, nextEvent(t, s).Type)

	assert.False(t, s.Cancel("someone-else"))

	stream.push("still going")
	stream.finish()
	assert.Equal(t, EventChunk, nextEvent(t, s).Type)
	assert.Equal(t, EventDone, nextEvent(t, s).Type)
}

func TestCancelEmptyIDMatchesActive(t *testing.T) {
	s := New(WithDrainWait(20 * time.Millisecond))
	defer s.Close()

	stream := newScriptStream()
	s.Start("req-1", &fakeInvoker{stream: stream}, nil)
	require.Equal(t, EventStart, nextEvent(t, s).Type)

	assert.True(t, s.Cancel(""))
	assert.Equal(t, EventCancelled, nextEvent(t, s).Type)
	stream.finish()
}

func TestCancelWhenIdleIsNoOp(t *testing.T) {
	s := New()
	defer s.Close()
	assert.False(t, s.Cancel("req-1"))
	assertNoEvent(t, s, 50*time.Millisecond)
}

func TestStartSupersedesActiveGeneration(t *testing.T) {
	s := New(WithDrainWait(20 * time.Millisecond))
	defer s.Close()

	first := newScriptStream()
	s.Start("req-1", &fakeInvoker{stream: first}, nil)
	require.Equal(t, Event{Type: EventStart, RequestID: "req-1"}, nextEvent(t, s))

	second := newScriptStream()
	second.push("fresh")
	second.finish()
	s.Start("req-2", &fakeInvoker{stream: second}, nil)

	// Old request is closed out before the new one begins.
	assert.Equal(t, Event{Type: EventCancelled, RequestID: "req-1"}, nextEvent(t, s))
	assert.Equal(t, Event{Type: EventStart, RequestID: "req-2"}, nextEvent(t, s))
	assert.Equal(t, Event{Type: EventChunk, RequestID: "req-2", Text: "fresh"}, nextEvent(t, s))
	assert.Equal(t, Event{Type: EventDone, RequestID: "req-2"}, nextEvent(t, s))

	// Anything the superseded stream produces afterwards is dropped.
	first.push("stale")
	first.finish()
	assertNoEvent(t, s, 100*time.Millisecond)
}

func TestProducerPanicYieldsTerminalError(t *testing.T) {
	s := New()
	defer s.Close()

	s.Start("req-1", &fakeInvoker{panics: true}, nil)

	assert.Equal(t, EventStart, nextEvent(t, s).Type)
	ev := nextEvent(t, s)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "internal_error", ev.Code)
}

func TestCloseCancelsAndSilencesSession(t *testing.T) {
	s := New(WithDrainWait(20 * time.Millisecond))

	stream := newScriptStream()
	s.Start("req-1", &fakeInvoker{stream: stream}, nil)
	require.Equal(t, EventStart, nextEvent(t, s).Type)

	s.Close()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	// Starting on a closed session does nothing.
	late := newScriptStream()
	late.push("nope")
	late.finish()
	s.Start("req-2", &fakeInvoker{stream: late}, nil)
	assertNoEvent(t, s, 100*time.Millisecond)

	stream.finish()
	assert.NotPanics(t, s.Close)
}
