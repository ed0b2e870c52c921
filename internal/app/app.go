// Package app assembles the HTTP server: routes, rate limiter store and
// request logging.
package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"novel-ai-proxy/internal/llm"
	"novel-ai-proxy/internal/ratelimit"
)

// App represents the main application with its router and generate handlers.
type App struct {
	Router  *http.ServeMux
	LLM     *llm.ServerState
	Config  *llm.Config
	memory  *ratelimit.MemoryStore
	log     *logrus.Entry
	started time.Time
}

// NewApp creates and initializes a new instance of the App struct.
func NewApp(cfg *llm.Config, logger *logrus.Logger) (*App, error) {
	if cfg == nil {
		cfg = llm.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logrus.NewEntry(logger)

	app := &App{
		Router:  http.NewServeMux(),
		Config:  cfg,
		log:     log.WithField("component", "app"),
		started: time.Now(),
	}

	limiter, err := app.newLimiter(log)
	if err != nil {
		return nil, err
	}
	app.LLM = llm.NewServerState(llm.NewService(cfg, log), limiter, log)

	app.initializeRoutes()
	return app, nil
}

// newLimiter picks the limiter store from the configuration.
func (a *App) newLimiter(log *logrus.Entry) (*ratelimit.Limiter, error) {
	var store ratelimit.Store
	switch mode := a.Config.RateLimitMode(); mode {
	case llm.StoreUpstash:
		store = ratelimit.NewUpstashStore(a.Config.RateLimit.URL, a.Config.RateLimit.Token)
	case llm.StoreMemory:
		a.memory = ratelimit.NewMemoryStore()
		store = a.memory
	case llm.StoreDisabled:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit store %q", mode)
	}

	a.log.WithFields(logrus.Fields{
		"store":  a.Config.RateLimitMode(),
		"limit":  a.Config.RateLimit.Max,
		"window": a.Config.RateLimit.Window.String(),
	}).Info("rate limiting enabled")

	return ratelimit.New(store,
		ratelimit.WithLimit(a.Config.RateLimit.Max),
		ratelimit.WithWindow(a.Config.RateLimit.Window),
		ratelimit.WithLogger(log),
	), nil
}

func (a *App) initializeRoutes() {
	a.Router.HandleFunc("GET /status", a.handleStatus)
	a.LLM.RegisterHandlers(a.Router)
}

// Handler returns the router wrapped in request logging.
func (a *App) Handler() http.Handler {
	return requestLogger(a.log, a.Router)
}

// Close releases the in-process limiter store, if any.
func (a *App) Close() {
	if a.memory != nil {
		a.memory.Close()
	}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status     string          `json:"status"`
	Model      string          `json:"model"`
	Configured bool            `json:"configured"`
	RateLimit  RateLimitStatus `json:"rate_limit"`
	Uptime     string          `json:"uptime"`
}

// RateLimitStatus reports the active throttling policy.
type RateLimitStatus struct {
	Store  string `json:"store"`
	Limit  int    `json:"limit,omitempty"`
	Window string `json:"window,omitempty"`
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:     "ok",
		Model:      a.Config.Model.Name,
		Configured: a.LLM.Service.Configured(),
		RateLimit:  RateLimitStatus{Store: a.Config.RateLimitMode()},
		Uptime:     time.Since(a.started).Round(time.Second).String(),
	}
	if a.LLM.Limiter.Enabled() {
		resp.RateLimit.Limit = a.LLM.Limiter.Limit()
		resp.RateLimit.Window = a.LLM.Limiter.Window().String()
	}
	if !resp.Configured {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.log.WithError(err).Debug("failed to write status")
	}
}
