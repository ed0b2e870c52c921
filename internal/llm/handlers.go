package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"novel-ai-proxy/internal/prompts"
	"novel-ai-proxy/internal/ratelimit"
)

// AnonymousIdentity is the shared throttling bucket for requests without a
// forwarded address.
const AnonymousIdentity = "anonymous"

// maxBodySize caps the generate request body.
const maxBodySize = 1 << 20

// ServerState holds the state for the generate endpoint
type ServerState struct {
	Service *Service
	Limiter *ratelimit.Limiter
	log     *logrus.Entry
}

// NewServerState wires the completion service and limiter into handlers.
// limiter may be nil, which disables throttling.
func NewServerState(service *Service, limiter *ratelimit.Limiter, log *logrus.Entry) *ServerState {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ServerState{
		Service: service,
		Limiter: limiter,
		log:     log.WithField("component", "generate"),
	}
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	// Prompt holds the primary text. For continue it is a JSON string
	// {"context": ..., "selected": ...}.
	Prompt string `json:"prompt"`
	// Option is the command identifier.
	Option string `json:"option"`
	// Command carries the free-text instruction for zap and add_* commands.
	Command string `json:"command,omitempty"`
}

// ContinuePrompt is the nested payload of a continue request. Context must
// be present but may be empty.
type ContinuePrompt struct {
	Context  *string `json:"context"`
	Selected string  `json:"selected"`
}

// PromptRequest converts the wire body into a registry request.
func (g GenerateRequest) PromptRequest() (prompts.Request, error) {
	cmd, err := prompts.ParseCommand(g.Option)
	if err != nil {
		return prompts.Request{}, err
	}

	req := prompts.Request{Command: cmd, AuxiliaryText: g.Command}
	if cmd != prompts.CommandContinue {
		req.PrimaryText = g.Prompt
		return req, nil
	}

	var cp ContinuePrompt
	if err := json.Unmarshal([]byte(g.Prompt), &cp); err != nil {
		return prompts.Request{}, fmt.Errorf("%w: continue prompt must be a JSON object with context and selected: %v", ErrInvalidRequest, err)
	}
	req.Context = cp.Context
	req.PrimaryText = cp.Selected
	return req, nil
}

// clientIdentity derives the throttling identity from X-Forwarded-For.
func clientIdentity(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	first, _, _ := strings.Cut(forwarded, ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	return AnonymousIdentity
}

// writeError reports a pre-stream failure as plain text.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, messageFor(err), statusFor(err))
}

// HandleGenerate validates, throttles, resolves and streams one command.
func (s *ServerState) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.log.WithField("request_id", RequestIDFromContext(ctx))

	if !s.Service.Configured() {
		log.Warn("rejecting request: no model credential configured")
		writeError(w, ErrAPIKeyMissing)
		return
	}

	identity := clientIdentity(r)
	limit := s.Limiter.Allow(ctx, identity)
	SetRateLimitHeaders(w, limit)
	if !limit.Permitted {
		log.WithField("identity", identity).Info("rate limit exceeded")
		writeError(w, ErrRateLimitExceeded)
		return
	}

	var body GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	req, err := body.PromptRequest()
	if err != nil {
		log.WithError(err).Warn("rejecting request")
		writeError(w, err)
		return
	}
	prompt, err := prompts.Resolve(req)
	if err != nil {
		log.WithError(err).Warn("rejecting request")
		writeError(w, err)
		return
	}

	stream, err := s.Service.Open(ctx, prompt)
	if err != nil {
		log.WithError(err).Error("failed to open completion stream")
		writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	var sent int
	for chunk, err := range stream.Chunks() {
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("client disconnected during stream")
				return
			}
			log.WithError(err).WithField("bytes_sent", sent).Error("completion stream broke off")
			// Abort so the client sees a truncated body rather than a clean end.
			panic(http.ErrAbortHandler)
		}
		n, err := io.WriteString(w, chunk)
		sent += n
		if err != nil {
			log.WithError(err).Debug("client write failed, stopping stream")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	log.WithFields(logrus.Fields{"command": req.Command, "bytes_sent": sent}).Info("completion streamed")
}

// CommandInfo describes one command for GET /commands.
type CommandInfo struct {
	Name     string          `json:"name"`
	Requires []prompts.Param `json:"requires"`
}

// HandleCommands lists the commands the registry accepts.
func (s *ServerState) HandleCommands(w http.ResponseWriter, r *http.Request) {
	cmds := prompts.Commands()
	out := make([]CommandInfo, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, CommandInfo{Name: c.String(), Requires: c.Required()})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.WithError(err).Debug("failed to write command list")
	}
}

// RegisterHandlers registers the generate handlers with a router
func (s *ServerState) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/generate", s.HandleGenerate)
	mux.HandleFunc("GET /commands", s.HandleCommands)
}
