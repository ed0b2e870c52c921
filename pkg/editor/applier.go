package editor

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects what happens to a completion.
type Mode int

const (
	// ModeReplace substitutes the selection with the completion.
	ModeReplace Mode = iota
	// ModeInsert adds the completion right after the selection.
	ModeInsert
	// ModeDiscard leaves the document unchanged.
	ModeDiscard
)

func (m Mode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeInsert:
		return "insert"
	case ModeDiscard:
		return "discard"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "replace", "insert" or "discard" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replace":
		return ModeReplace, nil
	case "insert":
		return ModeInsert, nil
	case "discard":
		return ModeDiscard, nil
	}
	return 0, fmt.Errorf("unknown apply mode %q", s)
}

var (
	// ErrSessionNotCompleted is returned when committing a session that has
	// not finished streaming.
	ErrSessionNotCompleted = errors.New("session has not completed")
	// ErrEmptyCompletion is returned when committing a blank completion.
	ErrEmptyCompletion = errors.New("completion is empty")
)

// Apply commits or discards a session's completion on doc. Replace and
// Insert require a completed session with non-blank text. Discard cancels
// the session if it is still running. Every successful call clears the
// highlight.
func Apply(doc *Document, sel Selection, s *Session, mode Mode) error {
	if mode == ModeDiscard {
		if s != nil {
			s.Cancel()
		}
		doc.Unhighlight()
		return nil
	}

	if err := doc.check(sel); err != nil {
		return err
	}
	if s == nil || s.State() != StateCompleted {
		return ErrSessionNotCompleted
	}
	text := s.Text()
	if strings.TrimSpace(text) == "" {
		return ErrEmptyCompletion
	}

	var err error
	switch mode {
	case ModeReplace:
		err = doc.Replace(sel, text)
	case ModeInsert:
		err = doc.InsertAt(sel.To, text)
	default:
		return fmt.Errorf("unknown apply mode %s", mode)
	}
	if err != nil {
		return err
	}
	doc.Unhighlight()
	return nil
}

// CanApply reports whether Replace and Insert would be accepted for s.
func CanApply(s *Session) bool {
	return s != nil && s.State() == StateCompleted && strings.TrimSpace(s.Text()) != ""
}

// Preview renders the document as it would look with the session's current
// text applied in mode. It accepts streaming sessions and never modifies
// doc.
func Preview(doc *Document, sel Selection, s *Session, mode Mode) (string, error) {
	if err := doc.check(sel); err != nil {
		return "", err
	}
	if mode == ModeDiscard || s == nil {
		return doc.Text(), nil
	}

	text := []rune(s.Text())
	switch mode {
	case ModeReplace:
		return string(splice(doc.text, sel, text)), nil
	case ModeInsert:
		return string(splice(doc.text, Selection{From: sel.To, To: sel.To}, text)), nil
	default:
		return "", fmt.Errorf("unknown apply mode %s", mode)
	}
}
