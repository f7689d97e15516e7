// Package app wires the InterVue-X subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the interview engine and
// the HTTP API around it, Run serves until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations through [Providers] and the
// functional options (WithHistoryStore, WithMetrics, ...). When an option is
// not provided, New falls back to an in-memory implementation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Sangini-spec/InterVue-X/internal/analysis"
	"github.com/Sangini-spec/InterVue-X/internal/config"
	"github.com/Sangini-spec/InterVue-X/internal/health"
	"github.com/Sangini-spec/InterVue-X/internal/history"
	"github.com/Sangini-spec/InterVue-X/internal/interview"
	"github.com/Sangini-spec/InterVue-X/internal/observe"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/s2s"
)

const (
	// startTimeout bounds how long POST /api/sessions waits for the
	// handshake before answering 202 with the connecting snapshot.
	startTimeout = 30 * time.Second

	shutdownTimeout = 10 * time.Second
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	// S2S is required.
	S2S     s2s.Provider
	S2SName string

	// LLM backs post-session analysis. Nil disables analysis; history
	// records are then saved without a report.
	LLM llm.Provider

	// Audio opens the local devices for each session. Required.
	Audio *config.AudioDevices
}

// sessionDefaults is the hot-reloadable part of the config applied to new
// sessions. A running session never sees a change.
type sessionDefaults struct {
	personas       []interview.Persona
	defaultPersona string
	duration       time.Duration
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	engine         *interview.Engine
	store          history.Store
	metrics        *observe.Metrics
	watcher        *config.Watcher
	checkers       []health.Checker
	metricsHandler http.Handler
	engineOpts     []interview.Option
	startTimeout   time.Duration

	defaults atomic.Pointer[sessionDefaults]
	router   http.Handler

	// closing is closed when the server starts shutting down so that
	// long-lived websocket streams end.
	closing     chan struct{}
	closingOnce sync.Once

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithHistoryStore overrides the default in-memory history store.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithWatcher runs w alongside the HTTP server and applies every reloaded
// config to future sessions.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithCheckers adds readiness checks to /readyz.
func WithCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// WithMetricsHandler overrides the /metrics handler. Defaults to promhttp.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithEngineOptions passes extra options to the interview engine.
func WithEngineOptions(opts ...interview.Option) Option {
	return func(a *App) { a.engineOpts = append(a.engineOpts, opts...) }
}

// WithStartTimeout overrides how long session start waits for the handshake.
func WithStartTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.startTimeout = d
		}
	}
}

// WithCloser registers fn to run during Shutdown after the engine is closed.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New builds the interview engine and HTTP API from cfg and providers.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.S2S == nil {
		return nil, errors.New("app: an s2s provider is required")
	}
	if providers.Audio == nil || providers.Audio.NewInput == nil || providers.Audio.NewOutput == nil {
		return nil, errors.New("app: audio devices are required")
	}

	a := &App{
		cfg:          cfg,
		providers:    providers,
		startTimeout: startTimeout,
		closing:      make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.store == nil {
		a.store = history.NewMemoryStore()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	a.applyDefaults(cfg)

	engineOpts := []interview.Option{
		interview.WithDevices(providers.Audio.NewInput, providers.Audio.NewOutput),
		interview.WithHistory(a.store),
		interview.WithMetrics(a.metrics),
		interview.WithProviderName(providers.S2SName),
		interview.WithFrameDuration(cfg.Audio.FrameDuration),
	}
	if providers.LLM != nil {
		engineOpts = append(engineOpts, interview.WithAnalyzer(analysis.NewLLMAnalyzer(providers.LLM,
			analysis.WithTimeout(cfg.Interview.AnalysisTimeout),
			analysis.WithMetrics(a.metrics),
		)))
	}
	a.engine = interview.New(providers.S2S, append(engineOpts, a.engineOpts...)...)
	a.checkers = append([]health.Checker{health.FromPinger("session", a.engine)}, a.checkers...)
	if providers.Audio.Close != nil {
		a.closers = append(a.closers, providers.Audio.Close)
	}

	a.router = a.routes()

	slog.Info("app initialised",
		"s2s", providers.S2SName,
		"analysis", providers.LLM != nil,
		"interviewers", len(a.defaults.Load().personas),
	)
	return a, nil
}

// Engine returns the interview engine.
func (a *App) Engine() *interview.Engine { return a.engine }

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.router }

// UpdateConfig applies a reloaded config to future sessions. It has the
// signature of a [config.Watcher] callback. Only interviewers and interview
// defaults are hot-reloadable; other changes need a restart.
func (a *App) UpdateConfig(old, cfg *config.Config) {
	a.applyDefaults(cfg)
	if old != nil && (old.Server.ListenAddr != cfg.Server.ListenAddr || old.Providers.S2S.Name != cfg.Providers.S2S.Name) {
		slog.Warn("app: server or provider settings changed; restart to apply them")
	}
	slog.Info("app: session defaults reloaded",
		"interviewers", len(cfg.Personas()),
		"default_persona", cfg.Interview.DefaultPersona,
		"default_duration", cfg.Interview.DefaultDuration,
	)
}

func (a *App) applyDefaults(cfg *config.Config) {
	d := &sessionDefaults{
		personas:       cfg.Personas(),
		defaultPersona: cfg.Interview.DefaultPersona,
		duration:       cfg.Interview.DefaultDuration,
	}
	if d.duration <= 0 {
		d.duration = interview.DefaultDuration
	}
	a.defaults.Store(d)
}

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(a.metrics))

	health.New(a.checkers...).Register(r)
	r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	r.Get("/ws", a.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/interviewers", a.handleInterviewers)

		r.Post("/sessions", a.handleStart)
		r.Route("/sessions/current", func(r chi.Router) {
			r.Get("/", a.handleCurrent)
			r.Post("/stop", a.handleStop)
			r.Post("/mute", a.handleMute)
			r.Post("/reset", a.handleReset)
			r.Get("/report", a.handleReport)
		})

		r.Get("/history", a.handleHistoryList)
		r.Get("/history/{id}", a.handleHistoryGet)
	})
	return r
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API, and the config watcher when one is set, until ctx
// is cancelled or a component fails. A clean cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.beginClosing()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends any running session and tears down all subsystems. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.beginClosing()

		done := make(chan struct{})
		go func() {
			_ = a.engine.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while closing the interview engine")
			shutdownErr = ctx.Err()
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) beginClosing() {
	a.closingOnce.Do(func() { close(a.closing) })
}
