package query

import "context"

// Stream delivers one answer as it is generated: tokens arrive on Tokens()
// in order, the channel closes when the turn is over, and Text() then
// returns the full answer. A Stream is record-and-forward: nothing is cached
// beyond the final text.
type Stream struct {
	tokens chan string
	done   chan struct{}

	// Written once by the producer goroutine before done is closed.
	final string
}

func newStream() *Stream {
	return &Stream{
		tokens: make(chan string, 32),
		done:   make(chan struct{}),
	}
}

// Tokens returns the channel of streamed tokens. It is closed when the
// answer is complete, the turn failed, or the caller's context was canceled.
func (s *Stream) Tokens() <-chan string {
	return s.tokens
}

// Text blocks until the stream is finished and returns the full answer. For
// a failed turn this is the fixed failure message; for a canceled turn it is
// empty.
func (s *Stream) Text() string {
	<-s.done
	return s.final
}

// Message wraps a fixed text in an already-finished stream, so callers that
// consume streams can deliver canned replies through the same path.
func Message(text string) *Stream {
	s := newStream()
	s.tokens <- text
	s.finish(text)
	return s
}

// send forwards one token, giving up when the caller disconnects.
func (s *Stream) send(ctx context.Context, token string) error {
	select {
	case s.tokens <- token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish records the final text and releases both channels. Must be called
// exactly once, by the producer.
func (s *Stream) finish(final string) {
	s.final = final
	close(s.tokens)
	close(s.done)
}
