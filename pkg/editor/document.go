// Package editor is the client side of the generate endpoint: it tracks
// streamed completions per editor and applies them to a document.
package editor

import (
	"errors"
	"fmt"
)

// ErrInvalidSelection is returned for ranges outside the document.
var ErrInvalidSelection = errors.New("invalid selection")

// Selection is a half-open rune range [From, To).
type Selection struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Empty reports whether the selection covers no text.
func (s Selection) Empty() bool {
	return s.From >= s.To
}

func (s Selection) String() string {
	return fmt.Sprintf("[%d,%d)", s.From, s.To)
}

// Document is plain text addressed by rune offsets. It is owned by a single
// editor and is not safe for concurrent use.
type Document struct {
	text      []rune
	highlight *Selection
}

// NewDocument creates a document holding text.
func NewDocument(text string) *Document {
	return &Document{text: []rune(text)}
}

// Text returns the full document.
func (d *Document) Text() string {
	return string(d.text)
}

// Len returns the document length in runes.
func (d *Document) Len() int {
	return len(d.text)
}

func (d *Document) check(sel Selection) error {
	if sel.From < 0 || sel.To < sel.From || sel.To > len(d.text) {
		return fmt.Errorf("%w: %s in document of length %d", ErrInvalidSelection, sel, len(d.text))
	}
	return nil
}

// Slice returns the text covered by sel.
func (d *Document) Slice(sel Selection) (string, error) {
	if err := d.check(sel); err != nil {
		return "", err
	}
	return string(d.text[sel.From:sel.To]), nil
}

// PrecedingText returns up to n runes ending at pos.
func (d *Document) PrecedingText(pos, n int) string {
	if pos > len(d.text) {
		pos = len(d.text)
	}
	if pos <= 0 || n <= 0 {
		return ""
	}
	start := pos - n
	if start < 0 {
		start = 0
	}
	return string(d.text[start:pos])
}

// Replace substitutes the text in sel.
func (d *Document) Replace(sel Selection, text string) error {
	if err := d.check(sel); err != nil {
		return err
	}
	d.text = splice(d.text, sel, []rune(text))
	return nil
}

// InsertAt inserts text at pos, leaving everything else in place.
func (d *Document) InsertAt(pos int, text string) error {
	return d.Replace(Selection{From: pos, To: pos}, text)
}

// Highlight marks sel as the range an AI command works on.
func (d *Document) Highlight(sel Selection) error {
	if err := d.check(sel); err != nil {
		return err
	}
	d.highlight = &sel
	return nil
}

// Unhighlight clears the transient highlight.
func (d *Document) Unhighlight() {
	d.highlight = nil
}

// Highlighted returns the current highlight, if any.
func (d *Document) Highlighted() (Selection, bool) {
	if d.highlight == nil {
		return Selection{}, false
	}
	return *d.highlight, true
}

func splice(text []rune, sel Selection, with []rune) []rune {
	out := make([]rune, 0, len(text)-(sel.To-sel.From)+len(with))
	out = append(out, text[:sel.From]...)
	out = append(out, with...)
	return append(out, text[sel.To:]...)
}
