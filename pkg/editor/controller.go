package editor

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"novel-ai-proxy/internal/prompts"
)

// ContextWindow is how many runes before the selection continue sends.
const ContextWindow = 1000

// ErrNoCompletion is returned by Refine and Commit when there is no
// completion to work on.
var ErrNoCompletion = errors.New("no completion to work on")

// Controller runs AI commands for one editor. At most one session is
// loading at a time: starting a command first cancels the active session
// and waits for it to release its stream.
type Controller struct {
	doc *Document
	gen Generator
	log *logrus.Entry

	mu      sync.Mutex
	session *Session
	sel     Selection
	onChunk func(*Session, string)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(log *logrus.Entry) ControllerOption {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithChunkObserver registers fn to run for every chunk of every session,
// for live preview rendering.
func WithChunkObserver(fn func(s *Session, chunk string)) ControllerOption {
	return func(c *Controller) {
		c.onChunk = fn
	}
}

// NewController creates a controller editing doc with completions from gen.
func NewController(doc *Document, gen Generator, opts ...ControllerOption) *Controller {
	c := &Controller{
		doc: doc,
		gen: gen,
		log: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "editor")
	return c
}

// Document returns the edited document.
func (c *Controller) Document() *Document {
	return c.doc
}

// Session returns the most recent session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Selection returns the range the current session works on.
func (c *Controller) Selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel
}

// Focus highlights sel while the user types an instruction.
func (c *Controller) Focus(sel Selection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.doc.Highlight(sel); err != nil {
		return err
	}
	c.sel = sel
	return nil
}

// Start runs cmd on sel. instruction is the free text for zap and add_*.
// Any active session is cancelled first; a finished session is replaced,
// never appended to.
func (c *Controller) Start(ctx context.Context, cmd Command, sel Selection, instruction string) (*Session, error) {
	c.mu.Lock()
	text, err := c.doc.Slice(sel)
	req := Request{Command: cmd, Text: text, Instruction: instruction}
	if err == nil && cmd == prompts.CommandContinue {
		req.Context = c.doc.PrecedingText(sel.From, ContextWindow)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.start(ctx, req, sel)
}

// Refine applies a free-text instruction to the current completed
// completion instead of the original selection. The refined result still
// targets the original selection.
func (c *Controller) Refine(ctx context.Context, instruction string) (*Session, error) {
	c.mu.Lock()
	prev, sel := c.session, c.sel
	c.mu.Unlock()

	if !CanApply(prev) {
		return nil, ErrNoCompletion
	}
	return c.start(ctx, Request{Command: prompts.CommandZap, Text: prev.Text(), Instruction: instruction}, sel)
}

func (c *Controller) start(ctx context.Context, req Request, sel Selection) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Wait outside the lock: chunk observers may call back into the
	// controller. A concurrent start may install a session meanwhile, so
	// re-check until the current one has released its stream.
	for c.session != nil && !released(c.session) {
		prev := c.session
		c.mu.Unlock()
		c.log.WithField("command", prev.Request().Command).Debug("cancelling active session")
		prev.Cancel()
		<-prev.Done()
		c.mu.Lock()
	}

	if err := c.doc.Highlight(sel); err != nil {
		return nil, err
	}

	s := NewSession(req)
	if c.onChunk != nil {
		observer := c.onChunk
		s.OnChunk(func(chunk string) { observer(s, chunk) })
	}
	c.session = s
	c.sel = sel

	c.log.WithFields(logrus.Fields{"command": req.Command, "selection": sel.String()}).Debug("starting session")
	s.Start(ctx, c.gen)
	return s, nil
}

// Commit applies the current completion in mode. Replace and Insert need a
// completed session; afterwards the controller is reset.
func (c *Controller) Commit(mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		if mode == ModeDiscard {
			c.doc.Unhighlight()
			return nil
		}
		return ErrNoCompletion
	}
	if err := Apply(c.doc, c.sel, c.session, mode); err != nil {
		return err
	}
	c.session = nil
	c.sel = Selection{}
	return nil
}

// Discard drops the current completion without touching the document.
func (c *Controller) Discard() {
	c.Commit(ModeDiscard)
}

// Close is called when the command selector closes: any active session is
// cancelled and the highlight removed. A completed session stays available.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.IsLoading() {
		c.session.Cancel()
	}
	c.doc.Unhighlight()
}

func released(s *Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
