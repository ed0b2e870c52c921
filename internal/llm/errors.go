package llm

import (
	"errors"
	"net/http"
	"strconv"

	"novel-ai-proxy/internal/prompts"
	"novel-ai-proxy/internal/ratelimit"
)

// Wire diagnostics for the pre-stream errors the browser client shows verbatim.
const (
	APIKeyMissingMessage = "Missing OPENAI_API_KEY - make sure to add it to your .env file."
	RateLimitMessage     = "You have reached your request limit for the day."
)

// Request errors
var (
	// ErrConfig is returned when the model backend credential is missing or rejected.
	ErrConfig = errors.New("model backend is not configured")
	// ErrAPIKeyMissing is returned when no model credential is configured.
	ErrAPIKeyMissing = errors.New("missing OPENAI_API_KEY")
	// ErrRateLimitExceeded is returned once an identity used up its window.
	ErrRateLimitExceeded = errors.New("request limit reached")
	// ErrInvalidRequest is returned for bodies that cannot be decoded.
	ErrInvalidRequest = errors.New("invalid request body")
	// ErrUpstream is returned when the backend fails before streaming starts.
	ErrUpstream = errors.New("model backend request failed")
)

// Stream errors
var (
	// ErrStream is returned when a completion stream breaks off mid-flight.
	ErrStream = errors.New("completion stream failed")
	// ErrStreamConsumed is returned when Chunks is ranged over a second time.
	ErrStreamConsumed = errors.New("completion stream already consumed")
)

// SetRateLimitHeaders writes the limiter outcome as X-RateLimit-* headers.
// Reset is reported in Unix milliseconds.
func SetRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit == 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.UnixMilli(), 10))
}

// messageFor returns the response body text for a pre-stream error.
func messageFor(err error) string {
	switch {
	case errors.Is(err, ErrAPIKeyMissing):
		return APIKeyMissingMessage
	case errors.Is(err, ErrRateLimitExceeded):
		return RateLimitMessage
	default:
		return err.Error()
	}
}

// statusFor maps a pre-stream error to its response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrConfig),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrAPIKeyMissing),
		errors.Is(err, prompts.ErrUnknownCommand),
		errors.Is(err, prompts.ErrMissingParameter):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
