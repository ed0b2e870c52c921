package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-ai-proxy/internal/app"
	"novel-ai-proxy/internal/llm"
	"novel-ai-proxy/internal/prompts"
)

func collect(t *testing.T, chunks func(func(string, error) bool)) (string, error) {
	t.Helper()
	var sb strings.Builder
	for c, err := range chunks {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(c)
	}
	return sb.String(), nil
}

func TestClientGenerateStreams(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "203.0.113.7", r.Header.Get("X-Forwarded-For"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, c := range []string{"The door ", "creaked."} {
			io.WriteString(w, c)
			w.(http.Flusher).Flush()
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL + "/").WithForwardedFor("203.0.113.7")
	chunks, err := c.Generate(context.Background(), Request{
		Command:     prompts.CommandZap,
		Text:        "The door opened.",
		Instruction: "make it eerie",
	})
	require.NoError(t, err)

	text, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, "The door creaked.", text)
	assert.Equal(t, map[string]string{
		"prompt":  "The door opened.",
		"option":  "zap",
		"command": "make it eerie",
	}, got)
}

func TestEncodeContinueRequest(t *testing.T) {
	payload, err := encodeRequest(Request{
		Command: prompts.CommandContinue,
		Text:    "She turned.",
		Context: "The hall was silent. ",
	})
	require.NoError(t, err)

	var body generateBody
	require.NoError(t, json.Unmarshal(payload, &body))
	assert.Equal(t, "continue", body.Option)
	assert.Empty(t, body.Command)
	assert.NotContains(t, string(payload), `"command"`)

	var nested continueBody
	require.NoError(t, json.Unmarshal([]byte(body.Prompt), &nested))
	assert.Equal(t, "The hall was silent. ", nested.Context)
	assert.Equal(t, "She turned.", nested.Selected)
}

func TestEncodeContinueKeepsEmptyContext(t *testing.T) {
	payload, err := encodeRequest(Request{Command: prompts.CommandContinue, Text: "Chapter One"})
	require.NoError(t, err)

	var body generateBody
	require.NoError(t, json.Unmarshal(payload, &body))
	assert.JSONEq(t, `{"context":"","selected":"Chapter One"}`, body.Prompt)
}

func TestClientGenerateStatusErrors(t *testing.T) {
	reset := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Limit", "50")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", fmt.Sprint(reset.UnixMilli()))
				http.Error(w, "You have reached your request limit for the day.", http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrRateLimited)
				var rl *RateLimitError
				require.True(t, errors.As(err, &rl))
				assert.Equal(t, 50, rl.Limit)
				assert.Equal(t, 0, rl.Remaining)
				assert.True(t, reset.Equal(rl.Reset))
				assert.Equal(t, "You have reached your request limit for the day.", rl.Message)
			},
		},
		{
			name: "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Missing OPENAI_API_KEY - make sure to add it to your .env file.", http.StatusBadRequest)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrBadRequest)
				assert.Contains(t, err.Error(), "OPENAI_API_KEY")
				assert.NotErrorIs(t, err, ErrRateLimited)
			},
		},
		{
			name: "upstream failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream error", http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrServer)
				assert.Contains(t, err.Error(), "502")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			chunks, err := NewClient(ts.URL).Generate(context.Background(), Request{Command: prompts.CommandFix, Text: "x"})
			require.Error(t, err)
			assert.Nil(t, chunks)
			tt.check(t, err)
		})
	}
}

func TestClientGenerateBrokenStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Once upon ")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer ts.Close()

	chunks, err := NewClient(ts.URL).Generate(context.Background(), Request{Command: prompts.CommandLonger, Text: "x"})
	require.NoError(t, err)

	text, err := collect(t, chunks)
	assert.ErrorIs(t, err, ErrStreamBroken)
	assert.Equal(t, "Once upon ", text)
}

func TestStreamBodyKeepsRunesWhole(t *testing.T) {
	const text = "Grüße, 世界! 🙂"
	body := io.NopCloser(iotest.OneByteReader(strings.NewReader(text)))

	var parts []string
	for c, err := range streamBody(body) {
		require.NoError(t, err)
		assert.True(t, utf8.ValidString(c), "chunk %q splits a rune", c)
		parts = append(parts, c)
	}
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestStreamBodyFlushesTrailingBytes(t *testing.T) {
	// A truncated sequence at EOF is passed through rather than dropped.
	raw := []byte("ok\xe4\xb8")
	var out bytes.Buffer
	for c, err := range streamBody(io.NopCloser(bytes.NewReader(raw))) {
		require.NoError(t, err)
		out.WriteString(c)
	}
	assert.Equal(t, raw, out.Bytes())
}

func TestCompleteRunes(t *testing.T) {
	assert.Equal(t, 3, completeRunes([]byte("abc")))
	assert.Equal(t, 1, completeRunes([]byte("a\xe4\xb8")))
	assert.Equal(t, 4, completeRunes([]byte("a\xe4\xb8\x96")))
	assert.Equal(t, 0, completeRunes([]byte("\xf0\x9f")))
	assert.Equal(t, 0, completeRunes(nil))
}

// newTestServer runs the real application against a stub completion backend.
func newTestServer(t *testing.T, max int, chunks ...string) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			b, _ := json.Marshal(c)
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\n\n", b)
			w.(http.Flusher).Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(backend.Close)

	cfg := llm.DefaultConfig()
	cfg.Model.APIKey = "sk-test"
	cfg.Model.BaseURL = backend.URL
	cfg.RateLimit.Store = llm.StoreMemory
	cfg.RateLimit.Max = max

	logger, _ := test.NewNullLogger()
	a, err := app.NewApp(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientAgainstServer(t *testing.T) {
	ts := newTestServer(t, 2, "A quieter ", "hall.")
	client := NewClient(ts.URL).WithForwardedFor("198.51.100.4")

	c := newTestController("The hall was loud. More text.", client)
	sel := Selection{From: 0, To: 18}

	s, err := c.Start(context.Background(), prompts.CommandImprove, sel, "")
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, "A quieter hall.", s.Text())

	require.NoError(t, c.Commit(ModeReplace))
	assert.Equal(t, "A quieter hall. More text.", c.Document().Text())

	s, err = c.Start(context.Background(), prompts.CommandContinue, Selection{From: 16, To: 26}, "")
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background()))

	s, err = c.Start(context.Background(), prompts.CommandFix, sel, "")
	require.NoError(t, err)
	err = s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, StateErrored, s.State())

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 2, rl.Limit)
	assert.True(t, rl.Reset.After(time.Now()))
}

func TestClientCommands(t *testing.T) {
	ts := newTestServer(t, 0)

	cmds, err := NewClient(ts.URL).Commands(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, len(prompts.Commands()))

	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "continue")
	assert.Contains(t, names, "add_experience")
}
