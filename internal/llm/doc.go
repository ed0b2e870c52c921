/*
Package llm turns editing commands into streamed model completions.

# Architecture Overview

1. HTTP Handlers (handlers.go)
  - POST /api/generate runs one request through a linear pipeline
  - GET /commands lists the commands the registry accepts

2. Service Layer (service.go)
  - Calls an OpenAI-compatible /chat/completions endpoint with stream=true
  - Decodes Server-Sent Events into a lazy, single-use chunk sequence

3. Errors (errors.go)
  - Sentinel errors for configuration, throttling and stream failures
  - Header and status mapping for the HTTP boundary

4. Configuration (config.go)
  - Defaults, then a TOML file, then environment variables

# Request Flow

 1. Validate: without OPENAI_API_KEY the request fails with 400.
 2. Throttle: the limiter is consulted before any other work; a rejected
    request gets 429 with X-RateLimit-Limit, X-RateLimit-Remaining and
    X-RateLimit-Reset (Unix milliseconds).
 3. Resolve: the body {prompt, option, command} is mapped to a prompt.
    Unknown commands and missing parameters are 400.
 4. Stream: chunks are written and flushed as they arrive. The upstream
    call is bound to the request context, so a client that disconnects
    stops the model call.
 5. Complete: the body ends when the backend sends [DONE].

A backend failure after the status line was written cannot change the
status. The handler aborts the connection instead, so the client sees a
truncated body and never mistakes partial output for a finished one.
*/
package llm
