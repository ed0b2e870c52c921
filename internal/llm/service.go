package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"novel-ai-proxy/internal/prompts"
)

// Fixed generation parameters sent with every completion request.
const (
	Temperature      = 0.7
	TopP             = 1.0
	FrequencyPenalty = 0.0
	PresencePenalty  = 0.0
	Candidates       = 1
)

// maxEventSize bounds a single SSE line.
const maxEventSize = 1 << 20

type requestIDKey struct{}

// ContextWithRequestID attaches a request ID that is forwarded upstream.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID attached to ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Service streams chat completions from an OpenAI-compatible backend.
type Service struct {
	config     *Config
	httpClient *http.Client
	log        *logrus.Entry
}

// NewService creates a new LLM service
func NewService(cfg *Config, log *logrus.Entry) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		config: cfg,
		// No overall timeout: completions stream for as long as the model writes.
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		log: log.WithField("component", "llm"),
	}
}

// WithHTTPClient replaces the client used for backend calls.
func (s *Service) WithHTTPClient(c *http.Client) *Service {
	s.httpClient = c
	return s
}

// GetConfig returns the service's configuration
func (s *Service) GetConfig() *Config {
	return s.config
}

// Configured reports whether a backend credential is present.
func (s *Service) Configured() bool {
	return s.config.Model.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	N                int           `json:"n"`
	Stream           bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Open starts a streaming completion for p. The returned Stream must be
// consumed or closed; cancelling ctx closes it as well.
func (s *Service) Open(ctx context.Context, p prompts.Prompt) (*Stream, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("%w: %w", ErrConfig, ErrAPIKeyMissing)
	}

	body, err := json.Marshal(chatRequest{
		Model: s.config.Model.Name,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Temperature:      Temperature,
		TopP:             TopP,
		FrequencyPenalty: FrequencyPenalty,
		PresencePenalty:  PresencePenalty,
		N:                Candidates,
		Stream:           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Model.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+s.config.Model.APIKey)
	req.Header.Set("X-Request-ID", requestID)

	log := s.log.WithFields(logrus.Fields{"request_id": requestID, "model": s.config.Model.Name})
	log.Debug("opening completion stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		msg := readAPIError(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("%w: backend rejected credentials: %s", ErrConfig, msg)
		default:
			return nil, fmt.Errorf("%w: %s: %s", ErrUpstream, resp.Status, msg)
		}
	}

	return &Stream{body: resp.Body, cancel: cancel, log: log}, nil
}

// readAPIError extracts the error message from a non-200 backend reply.
func readAPIError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// Stream is one in-flight completion. Its chunks can be consumed once.
type Stream struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	log       *logrus.Entry
	consumed  atomic.Bool
	closeOnce sync.Once
}

// Close aborts the backend call. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// Chunks returns the completion as a lazy sequence of text fragments in
// arrival order. Stopping the range early closes the stream. A failure
// after some fragments were produced is yielded as a final error wrapping
// ErrStream.
func (s *Stream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}
		defer s.Close()

		scanner := bufio.NewScanner(s.body)
		scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

		for scanner.Scan() {
			line := scanner.Text()

			// SSE data lines carry "data:" with an optional space
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimPrefix(data, " ")

			if data == "[DONE]" {
				return
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				s.log.WithError(err).Debug("skipping malformed event")
				continue
			}
			if chunk.Error != nil {
				yield("", fmt.Errorf("%w: %s", ErrStream, chunk.Error.Message))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if !yield(content, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("%w: %w", ErrStream, err))
			return
		}
		yield("", fmt.Errorf("%w: backend closed the stream before [DONE]", ErrStream))
	}
}

// Collect drains the stream into a string. On error the partial text is
// returned alongside it.
func (s *Stream) Collect() (string, error) {
	var sb strings.Builder
	for chunk, err := range s.Chunks() {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}
