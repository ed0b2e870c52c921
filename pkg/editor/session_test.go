package editor

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator replays fixed chunks. With a gate, each chunk waits
// for one token so tests control exactly how far the stream gets.
type scriptedGenerator struct {
	chunks    []string
	err       error
	streamErr error
	gate      chan struct{}

	mu       sync.Mutex
	requests []Request
	stopped  int
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}
	return func(yield func(string, error) bool) {
		defer func() {
			g.mu.Lock()
			g.stopped++
			g.mu.Unlock()
		}()
		for _, c := range g.chunks {
			if g.gate != nil {
				select {
				case <-g.gate:
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			if !yield(c, nil) {
				return
			}
		}
		if g.streamErr != nil {
			yield("", g.streamErr)
		}
	}, nil
}

func (g *scriptedGenerator) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.requests...)
}

func (g *scriptedGenerator) Stopped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session stuck in state %s", s.State())
	}
}

func TestSessionAccumulatesChunksInOrder(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"Once ", "upon ", "a time."}}
	s := NewSession(Request{Command: "improve", Text: "x"})
	assert.Equal(t, StateIdle, s.State())

	var seen []string
	s.OnChunk(func(chunk string) { seen = append(seen, chunk) })
	s.Start(context.Background(), gen)
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, "Once upon a time.", s.Text())
	assert.Equal(t, []string{"Once ", "upon ", "a time."}, seen)
	assert.Equal(t, StateCompleted, s.State())
	assert.False(t, s.IsLoading())
	assert.NoError(t, s.Err())
}

func TestSessionCancelFreezesText(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []string{"Once ", "upon ", "a time."},
		gate:   make(chan struct{}),
	}
	s := NewSession(Request{Command: "longer", Text: "x"})
	s.Start(context.Background(), gen)
	assert.Equal(t, StateRequesting, s.State())
	assert.True(t, s.IsLoading())

	gen.gate <- struct{}{}
	gen.gate <- struct{}{}
	require.Eventually(t, func() bool { return s.Text() == "Once upon " }, time.Second, time.Millisecond)
	assert.Equal(t, StateStreaming, s.State())

	s.Cancel()
	waitDone(t, s)

	assert.Equal(t, "Once upon ", s.Text())
	assert.Equal(t, StateCancelled, s.State())
	assert.ErrorIs(t, s.Err(), ErrCancelled)
	assert.Equal(t, 1, gen.Stopped(), "stream must be released")

	// Cancelling again changes nothing.
	s.Cancel()
	assert.Equal(t, StateCancelled, s.State())
}

func TestSessionErrorKeepsPartialText(t *testing.T) {
	broken := errors.New("connection reset")
	gen := &scriptedGenerator{chunks: []string{"Once ", "upon "}, streamErr: broken}
	s := NewSession(Request{Command: "longer", Text: "x"})
	s.Start(context.Background(), gen)

	err := s.Wait(context.Background())
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, StateErrored, s.State())
	assert.Equal(t, "Once upon ", s.Text())
}

func TestSessionGenerateFailure(t *testing.T) {
	limited := &RateLimitError{Limit: 50, Message: "You have reached your request limit for the day."}
	gen := &scriptedGenerator{err: limited}
	s := NewSession(Request{Command: "fix", Text: "x"})
	s.Start(context.Background(), gen)

	err := s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, StateErrored, s.State())
	assert.Empty(t, s.Text())
}

func TestSessionCancelBeforeStart(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"never"}}
	s := NewSession(Request{Command: "fix", Text: "x"})
	s.Cancel()
	waitDone(t, s)

	s.Start(context.Background(), gen)
	assert.Equal(t, StateCancelled, s.State())
	assert.Empty(t, gen.Requests())
}

func TestSessionWaitHonoursContext(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"a"}, gate: make(chan struct{})}
	s := NewSession(Request{Command: "fix", Text: "x"})
	s.Start(context.Background(), gen)
	defer s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateRequesting.Terminal())
}
