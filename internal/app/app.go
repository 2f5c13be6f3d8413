// Package app wires all voxloop subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the turn loop beside the status server, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSessionLogger,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/conversation"
	"github.com/MrWong99/voxloop/internal/dispatch"
	"github.com/MrWong99/voxloop/internal/endpoint"
	"github.com/MrWong99/voxloop/internal/health"
	"github.com/MrWong99/voxloop/internal/listen"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/internal/sessionlog"
	"github.com/MrWong99/voxloop/internal/speech"
	"github.com/MrWong99/voxloop/internal/turn"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// shutdownTimeout bounds the status server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes and runs one conversation.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	logger  sessionlog.Logger
	session *conversation.Session
	speech  *speech.Dispatcher
	driver  *turn.Driver
	handler http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionLogger injects a session logger instead of creating the file
// (and optional PostgreSQL) loggers from config.
func WithSessionLogger(l sessionlog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics injects the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry) and are owned by the App
// from here on: Shutdown closes them.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.Audio == nil {
		return nil, errors.New("app: stt, llm and audio providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.closers = append(a.closers, providers.Close)

	// ── 1. Capture ───────────────────────────────────────────────────────
	listener, err := a.newListener()
	if err != nil {
		return nil, fmt.Errorf("app: init listener: %w", err)
	}

	// ── 2. Dispatchers ───────────────────────────────────────────────────
	transcriber, err := dispatch.NewTranscriber(providers.STT,
		dispatch.WithProviderName(cfg.Providers.STT.Name),
		dispatch.WithLanguage(cfg.Listen.Language),
		dispatch.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init transcriber: %w", err)
	}
	respOpts := []dispatch.Option{
		dispatch.WithProviderName(cfg.Providers.LLM.Name),
		dispatch.WithMaxTokens(cfg.Session.MaxTokens),
		dispatch.WithMetrics(a.metrics),
	}
	if t := cfg.Session.Temperature; t != nil {
		respOpts = append(respOpts, dispatch.WithTemperature(*t))
	}
	responder, err := dispatch.NewResponder(providers.LLM, respOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: init responder: %w", err)
	}

	// ── 3. Speech ────────────────────────────────────────────────────────
	if err := a.initSpeech(ctx); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 4. Session log ───────────────────────────────────────────────────
	if err := a.initSessionLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init session log: %w", err)
	}

	// ── 5. Turn driver ───────────────────────────────────────────────────
	a.session = conversation.New(cfg.Session.SystemPrompt,
		conversation.WithTerminationPhrases(cfg.Session.TerminationPhrases...),
	)
	a.driver, err = turn.New(turn.Deps{
		Capturer:    listener,
		Transcriber: transcriber,
		Responder:   responder,
		Speaker:     a.speech,
		Session:     a.session,
		Logger:      a.logger,
	},
		turn.WithBackend(cfg.Speech.Backend),
		turn.WithOutputFile(cfg.Speech.OutputFile),
		turn.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init turn driver: %w", err)
	}

	// ── 6. Status endpoints ──────────────────────────────────────────────
	a.handler = a.newHandler()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// newListener builds the endpoint-detected capture from the listen section.
func (a *App) newListener() (*listen.Listener, error) {
	l := a.cfg.Listen
	if l.NoSpeechTimeout == 0 {
		slog.Warn("listen.no_speech_timeout is 0; each turn waits for speech indefinitely")
	}
	ecfg := endpoint.Config{
		EnergyThreshold: l.EnergyThreshold,
		PauseDuration:   l.PauseDuration,
		FrameDuration:   l.FrameDuration,
		NoSpeechTimeout: l.NoSpeechTimeout,
		MaxUtterance:    l.MaxUtterance,
	}
	return listen.New(a.providers.Audio, ecfg, listen.WithSampleRate(l.SampleRate))
}

// initSpeech creates the speech dispatcher and resolves the configured voice.
// A voice that cannot be resolved falls back to the backend default.
func (a *App) initSpeech(ctx context.Context) error {
	sp := a.cfg.Speech
	voice := tts.VoiceProfile{Rate: sp.Rate}
	if sp.Volume != nil {
		voice.Volume = *sp.Volume
	}

	d, err := speech.NewDispatcher(a.providers.TTS, a.providers.Audio, sp.Backend,
		speech.WithVoice(voice),
		speech.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.speech = d

	if sp.Voice == "" {
		return nil
	}
	resolved, err := d.ResolveVoice(ctx, sp.Backend, sp.Voice)
	if err != nil {
		slog.Warn("voice not available, using backend default", "voice", sp.Voice, "backend", sp.Backend, "err", err)
		return nil
	}
	resolved.Rate = voice.Rate
	resolved.Volume = voice.Volume
	d.SetVoice(resolved)
	slog.Info("voice selected", "backend", sp.Backend, "id", resolved.ID, "name", resolved.Name)
	return nil
}

// initSessionLog sets up the file logger and, when configured, the
// PostgreSQL mirror.
func (a *App) initSessionLog(ctx context.Context) error {
	if a.logger != nil {
		return nil
	}
	loggers := sessionlog.Multi{sessionlog.NewFileLogger(a.cfg.Log.Dir)}
	if dsn := a.cfg.Log.PostgresDSN; dsn != "" {
		pg, err := sessionlog.NewPostgresLogger(ctx, dsn)
		if err != nil {
			return err
		}
		loggers = append(loggers, pg)
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
	}
	a.logger = loggers
	slog.Info("session log ready", "dir", a.cfg.Log.Dir, "postgres", a.cfg.Log.PostgresDSN != "")
	return nil
}

// newHandler builds the status server's routes.
func (a *App) newHandler() http.Handler {
	opts := []health.Option{
		health.WithState(func() string { return a.driver.State().String() }),
	}
	if c, ok := a.providers.Audio.(checker); ok {
		opts = append(opts, health.WithChecker("audio", c.Check))
	}
	for name, p := range a.providers.TTS {
		if c, ok := p.(checker); ok {
			opts = append(opts, health.WithChecker("tts."+name, c.Check))
		}
	}
	if multi, ok := a.logger.(sessionlog.Multi); ok {
		for _, l := range multi {
			if c, ok := l.(checker); ok {
				opts = append(opts, health.WithChecker("sessionlog", c.Check))
			}
		}
	}

	mux := http.NewServeMux()
	health.New(opts...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// checker is implemented by dependencies that can report their readiness.
type checker interface {
	Check(ctx context.Context) error
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the status server's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// State returns the turn loop's current stage.
func (a *App) State() turn.State { return a.driver.State() }

// Session returns the conversation history.
func (a *App) Session() *conversation.Session { return a.session }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run holds the conversation and blocks until it ends. Cancelling ctx ends
// the conversation after the current stage; the session is logged either way.
// When server.listen_addr is set, the status server runs alongside and is
// shut down once the conversation is over.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.ListenAddr == "" {
		return a.driver.Run(ctx)
	}
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run with a caller-provided listener for the status server.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	loopDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(loopDone)
		return a.driver.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("status server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-loopDone:
		case <-gctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all resources. Safe to call more than once; only the
// first call has effect.
func (a *App) Shutdown(_ context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
