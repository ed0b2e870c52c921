package editor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedSession(t *testing.T, chunks ...string) *Session {
	t.Helper()
	s := NewSession(Request{Command: "improve", Text: "x"})
	s.Start(context.Background(), &scriptedGenerator{chunks: chunks})
	require.NoError(t, s.Wait(context.Background()))
	return s
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		sel    Selection
		chunks []string
		mode   Mode
		want   string
	}{
		{
			name:   "replace selection",
			doc:    "Hello brave world",
			sel:    Selection{From: 6, To: 11},
			chunks: []string{"bo", "ld"},
			mode:   ModeReplace,
			want:   "Hello bold world",
		},
		{
			name:   "insert after selection",
			doc:    "Hello brave world",
			sel:    Selection{From: 6, To: 11},
			chunks: []string{" and bold"},
			mode:   ModeInsert,
			want:   "Hello brave and bold world",
		},
		{
			name:   "discard leaves document",
			doc:    "Hello brave world",
			sel:    Selection{From: 6, To: 11},
			chunks: []string{"bold"},
			mode:   ModeDiscard,
			want:   "Hello brave world",
		},
		{
			name:   "rune offsets",
			doc:    "Grüße an die wörld",
			sel:    Selection{From: 13, To: 18},
			chunks: []string{"Welt"},
			mode:   ModeReplace,
			want:   "Grüße an die Welt",
		},
		{
			name:   "insert at end of document",
			doc:    "The end",
			sel:    Selection{From: 4, To: 7},
			chunks: []string{"."},
			mode:   ModeInsert,
			want:   "The end.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument(tt.doc)
			require.NoError(t, doc.Highlight(tt.sel))
			s := completedSession(t, tt.chunks...)

			require.NoError(t, Apply(doc, tt.sel, s, tt.mode))
			assert.Equal(t, tt.want, doc.Text())
			_, highlighted := doc.Highlighted()
			assert.False(t, highlighted)
		})
	}
}

func TestApplyRequiresCompletedSession(t *testing.T) {
	doc := NewDocument("The door creaked open.")
	sel := Selection{From: 0, To: 22}

	gen := &scriptedGenerator{chunks: []string{"The door ", "creaked."}, gate: make(chan struct{})}
	s := NewSession(Request{Command: "shorter", Text: "The door creaked open."})
	s.Start(context.Background(), gen)
	gen.gate <- struct{}{}
	require.Eventually(t, func() bool { return s.Text() == "The door " }, time.Second, time.Millisecond)

	assert.ErrorIs(t, Apply(doc, sel, s, ModeReplace), ErrSessionNotCompleted)
	assert.ErrorIs(t, Apply(doc, sel, s, ModeInsert), ErrSessionNotCompleted)
	assert.Equal(t, "The door creaked open.", doc.Text())
	assert.False(t, CanApply(s))

	preview, err := Preview(doc, sel, s, ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, "The door ", preview)
	assert.Equal(t, "The door creaked open.", doc.Text(), "preview must not modify the document")

	gen.gate <- struct{}{}
	waitDone(t, s)
	assert.True(t, CanApply(s))
	require.NoError(t, Apply(doc, sel, s, ModeReplace))
	assert.Equal(t, "The door creaked.", doc.Text())
}

func TestApplyRejectsBlankCompletion(t *testing.T) {
	doc := NewDocument("text")
	s := completedSession(t, "  ", "\n")

	assert.ErrorIs(t, Apply(doc, Selection{From: 0, To: 4}, s, ModeReplace), ErrEmptyCompletion)
	assert.False(t, CanApply(s))
	assert.Equal(t, "text", doc.Text())
}

func TestApplyRejectsErroredSession(t *testing.T) {
	doc := NewDocument("text")
	s := NewSession(Request{Command: "fix", Text: "text"})
	s.Start(context.Background(), &scriptedGenerator{chunks: []string{"partial"}, streamErr: ErrStreamBroken})
	waitDone(t, s)

	assert.ErrorIs(t, Apply(doc, Selection{From: 0, To: 4}, s, ModeInsert), ErrSessionNotCompleted)
	assert.ErrorIs(t, Apply(doc, Selection{From: 0, To: 4}, nil, ModeReplace), ErrSessionNotCompleted)
}

func TestApplyDiscardCancelsActiveSession(t *testing.T) {
	doc := NewDocument("Hello")
	sel := Selection{From: 0, To: 5}
	require.NoError(t, doc.Highlight(sel))

	gen := &scriptedGenerator{chunks: []string{"a", "b"}, gate: make(chan struct{})}
	s := NewSession(Request{Command: "fix", Text: "Hello"})
	s.Start(context.Background(), gen)

	require.NoError(t, Apply(doc, sel, s, ModeDiscard))
	waitDone(t, s)
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, "Hello", doc.Text())
	_, highlighted := doc.Highlighted()
	assert.False(t, highlighted)
}

func TestApplyInvalidSelection(t *testing.T) {
	doc := NewDocument("short")
	s := completedSession(t, "x")

	assert.ErrorIs(t, Apply(doc, Selection{From: 2, To: 10}, s, ModeReplace), ErrInvalidSelection)
	assert.ErrorIs(t, Apply(doc, Selection{From: 3, To: 1}, s, ModeInsert), ErrInvalidSelection)
	_, err := Preview(doc, Selection{From: -1, To: 1}, s, ModeReplace)
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestPreviewInsert(t *testing.T) {
	doc := NewDocument("A B")
	s := completedSession(t, "!")
	got, err := Preview(doc, Selection{From: 0, To: 1}, s, ModeInsert)
	require.NoError(t, err)
	assert.Equal(t, "A! B", got)

	got, err = Preview(doc, Selection{From: 0, To: 1}, s, ModeDiscard)
	require.NoError(t, err)
	assert.Equal(t, "A B", got)
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeReplace, ModeInsert, ModeDiscard} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("append")
	assert.Error(t, err)
}
