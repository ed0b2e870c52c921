package editor

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"novel-ai-proxy/internal/prompts"
)

// Command is a text transformation the server understands.
type Command = prompts.Command

// Request describes one command invocation.
type Request struct {
	Command Command
	// Text is the selection, or the previous completion when refining.
	Text string
	// Context is the text preceding the selection, used by continue.
	Context string
	// Instruction is the free-text command for zap and add_*.
	Instruction string
}

// Generator produces a completion stream for a request. Client is the
// HTTP implementation.
type Generator interface {
	Generate(ctx context.Context, req Request) (iter.Seq2[string, error], error)
}

// State is a session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateErrored
}

// ErrCancelled is the session error after Cancel.
var ErrCancelled = errors.New("session cancelled")

// Session tracks one streamed completion. Chunks are appended in the
// order they arrive; after Cancel no further chunk is appended.
type Session struct {
	req Request

	mu      sync.Mutex
	state   State
	text    strings.Builder
	err     error
	cancel  context.CancelFunc
	onChunk func(string)

	done chan struct{}
}

// NewSession creates an idle session for req.
func NewSession(req Request) *Session {
	return &Session{req: req, done: make(chan struct{})}
}

// OnChunk registers fn to run after each appended chunk. It runs on the
// session's goroutine, so it should return quickly.
func (s *Session) OnChunk(fn func(chunk string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChunk = fn
}

// Start begins generation in the background. A session starts at most
// once; later calls are ignored.
func (s *Session) Start(ctx context.Context, gen Generator) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRequesting
	s.mu.Unlock()

	go s.run(ctx, gen)
}

func (s *Session) run(ctx context.Context, gen Generator) {
	defer close(s.done)
	defer s.cancel()

	chunks, err := gen.Generate(ctx, s.req)
	if err != nil {
		s.finish(err)
		return
	}

	for chunk, err := range chunks {
		if err != nil {
			s.finish(err)
			return
		}
		if !s.appendChunk(chunk) {
			return
		}
	}
	s.finish(nil)
}

// appendChunk records chunk unless the session was cancelled.
func (s *Session) appendChunk(chunk string) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = StateStreaming
	s.text.WriteString(chunk)
	fn := s.onChunk
	s.mu.Unlock()

	if fn != nil {
		fn(chunk)
	}
	return true
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	if err != nil {
		s.state = StateErrored
		s.err = err
		return
	}
	s.state = StateCompleted
}

// Cancel stops a requesting or streaming session. Text keeps exactly the
// chunks received so far. Cancelling a finished session does nothing.
func (s *Session) Cancel() {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateCancelled
		s.err = ErrCancelled
		close(s.done)
	case StateRequesting, StateStreaming:
		s.state = StateCancelled
		s.err = ErrCancelled
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Done is closed once the session reaches a terminal state and its
// stream has been released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request returns the request the session was created for.
func (s *Session) Request() Request {
	return s.req
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// IsLoading reports whether the session is requesting or streaming.
func (s *Session) IsLoading() bool {
	st := s.State()
	return st == StateRequesting || st == StateStreaming
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
