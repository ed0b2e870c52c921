package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"novel-ai-proxy/internal/prompts"
)

var (
	// ErrRateLimited matches RateLimitError with errors.Is.
	ErrRateLimited = errors.New("rate limited")
	// ErrBadRequest is returned for 400 responses.
	ErrBadRequest = errors.New("bad request")
	// ErrServer is returned for other non-200 responses.
	ErrServer = errors.New("server error")
	// ErrStreamBroken is returned when the response body ends abnormally.
	ErrStreamBroken = errors.New("completion stream broken")
)

// RateLimitError carries the limiter metadata of a 429 response.
type RateLimitError struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Message   string
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limit exceeded"
	}
	if e.Reset.IsZero() {
		return msg
	}
	return fmt.Sprintf("%s (limit %d, resets %s)", msg, e.Limit, e.Reset.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrRateLimited) succeed.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Client calls the generate endpoint of a running server.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	forwardedFor string
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithForwardedFor sends X-Forwarded-For, which the server uses as the
// throttling identity.
func (c *Client) WithForwardedFor(addr string) *Client {
	c.forwardedFor = addr
	return c
}

type generateBody struct {
	Prompt  string `json:"prompt"`
	Option  string `json:"option"`
	Command string `json:"command,omitempty"`
}

type continueBody struct {
	Context  string `json:"context"`
	Selected string `json:"selected"`
}

func encodeRequest(req Request) ([]byte, error) {
	body := generateBody{
		Prompt:  req.Text,
		Option:  req.Command.String(),
		Command: req.Instruction,
	}
	if req.Command == prompts.CommandContinue {
		nested, err := json.Marshal(continueBody{Context: req.Context, Selected: req.Text})
		if err != nil {
			return nil, err
		}
		body.Prompt = string(nested)
	}
	return json.Marshal(body)
}

// Generate posts req and returns the streamed completion. Errors before
// the first byte (throttling, bad requests, server failures) are returned
// directly; a body that ends abnormally yields ErrStreamBroken.
func (c *Client) Generate(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	payload, err := encodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.forwardedFor != "" {
		httpReq.Header.Set("X-Forwarded-For", c.forwardedFor)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return streamBody(resp.Body), nil
}

// statusError classifies a non-200 response.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		e := &RateLimitError{Message: msg}
		e.Limit, _ = strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
		e.Remaining, _ = strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
		if ms, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			e.Reset = time.UnixMilli(ms)
		}
		return e
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, msg)
	default:
		return fmt.Errorf("%w: %s: %s", ErrServer, resp.Status, msg)
	}
}

// streamBody yields the body as text, never splitting a UTF-8 sequence
// across chunks.
func streamBody(body io.ReadCloser) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer body.Close()

		buf := make([]byte, 4096)
		var pending []byte
		for {
			n, err := body.Read(buf)
			if n > 0 {
				pending = append(pending, buf[:n]...)
				if cut := completeRunes(pending); cut > 0 {
					chunk := string(pending[:cut])
					pending = append(pending[:0], pending[cut:]...)
					if !yield(chunk, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				if len(pending) > 0 {
					yield(string(pending), nil)
				}
				return
			}
			if err != nil {
				yield("", fmt.Errorf("%w: %w", ErrStreamBroken, err))
				return
			}
		}
	}
}

// completeRunes returns the length of the longest prefix of b that does
// not end inside a multi-byte sequence.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

// CommandInfo describes one command the server accepts.
type CommandInfo struct {
	Name     string   `json:"name"`
	Requires []string `json:"requires"`
}

// Commands fetches the server's command list.
func (c *Client) Commands(ctx context.Context) ([]CommandInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/commands", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("commands request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out []CommandInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode command list: %w", err)
	}
	return out, nil
}
