package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// takeScript is the two-bucket sliding window check. It admits one request
// when the weighted previous count plus the current count is below the
// ceiling, and starts the current key's expiry on first use. Redis runs
// scripts atomically.
const takeScript = `
local limit = tonumber(ARGV[1])
local previous = math.floor(tonumber(ARGV[2]) * tonumber(redis.call("GET", KEYS[2]) or "0"))
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if previous + current >= limit then
  return {previous + current, 0}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return {previous + current, 1}
`

// ErrStoreResponse is returned when the REST endpoint answers with an error.
var ErrStoreResponse = errors.New("rate limit store error")

// UpstashStore talks to a Redis-compatible REST endpoint (Upstash / Vercel KV).
type UpstashStore struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewUpstashStore creates a store for the REST endpoint at url.
func NewUpstashStore(url, token string) *UpstashStore {
	return &UpstashStore{
		url:        strings.TrimRight(url, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// WithHTTPClient replaces the HTTP client, mostly for tests.
func (u *UpstashStore) WithHTTPClient(c *http.Client) *UpstashStore {
	u.httpClient = c
	return u
}

type restResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Take implements Store.
func (u *UpstashStore) Take(ctx context.Context, w Window, limit int) (int, bool, error) {
	ttlMillis := w.TTL.Milliseconds()
	if ttlMillis <= 0 {
		ttlMillis = 1
	}

	command := []string{
		"EVAL", takeScript, "2", w.Current, w.Previous,
		strconv.Itoa(limit),
		strconv.FormatFloat(w.Weight, 'f', -1, 64),
		strconv.FormatInt(ttlMillis, 10),
	}
	body, err := json.Marshal(command)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, false, err
	}

	var out restResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, false, fmt.Errorf("%w: %s - %s", ErrStoreResponse, resp.Status, string(data))
	}
	if out.Error != "" {
		return 0, false, fmt.Errorf("%w: %s", ErrStoreResponse, out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("%w: %s", ErrStoreResponse, resp.Status)
	}

	var result []int64
	if err := json.Unmarshal(out.Result, &result); err != nil || len(result) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected result %s", ErrStoreResponse, string(out.Result))
	}

	return int(result[0]), result[1] == 1, nil
}
