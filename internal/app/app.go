// Package app wires all MissSmart subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown drains
// the classrooms and tears everything down in order.
//
// For testing, inject in-memory implementations via functional options
// (WithTranscripts, WithScriptStore, etc.). When an option is not provided,
// New creates real implementations from the config.
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

	"github.com/MrWong99/misssmart/internal/config"
	"github.com/MrWong99/misssmart/internal/gateway"
	"github.com/MrWong99/misssmart/internal/health"
	"github.com/MrWong99/misssmart/internal/lesson"
	"github.com/MrWong99/misssmart/internal/observe"
	"github.com/MrWong99/misssmart/internal/resilience"
	"github.com/MrWong99/misssmart/internal/tutor"
	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/audio/capture"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
	"github.com/MrWong99/misssmart/pkg/memory"
	"github.com/MrWong99/misssmart/pkg/memory/postgres"
	"github.com/MrWong99/misssmart/pkg/provider/llm"
	"github.com/MrWong99/misssmart/pkg/provider/s2s"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	TTS tts.Synthesizer
	S2S s2s.Provider

	// TTSFallbacks are tried in order after TTS, named as in the config.
	TTSFallbacks []NamedSynthesizer
}

// NamedSynthesizer is a fallback speech service.
type NamedSynthesizer struct {
	Name        string
	Synthesizer tts.Synthesizer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems: initialised in New, torn down in Shutdown.
	metrics        *observe.Metrics
	metricsHandler http.Handler
	curriculum     *lesson.Curriculum
	scripts        lesson.Store
	transcripts    memory.SessionStore
	generator      lesson.Generator
	narration      *resilience.SynthesizerChain
	checkers       []health.Checker
	health         *health.Handler
	gateway        *gateway.Server
	server         *http.Server

	mu      sync.Mutex
	teacher config.TeacherConfig
	addr    net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscripts injects a transcript store instead of creating one from
// config.
func WithTranscripts(s memory.SessionStore) Option {
	return func(a *App) { a.transcripts = s }
}

// WithScriptStore injects the lesson script cache.
func WithScriptStore(s lesson.Store) Option {
	return func(a *App) { a.scripts = s }
}

// WithCurriculum injects a curriculum instead of loading one from config.
func WithCurriculum(c *lesson.Curriculum) Option {
	return func(a *App) { a.curriculum = c }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		teacher:   cfg.Teacher,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.checkProviders(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if cfg.Audio.OutputRate != audio.OutputRate {
		slog.Warn("audio.output_rate differs from the realtime rate; clients must resample",
			"configured", cfg.Audio.OutputRate, "native", audio.OutputRate)
	}

	// ── 1. Curriculum ────────────────────────────────────────────────────
	if err := a.initCurriculum(); err != nil {
		return nil, fmt.Errorf("app: init curriculum: %w", err)
	}

	// ── 2. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 3. Script generation ─────────────────────────────────────────────
	a.generator = lesson.NewCachedGenerator(
		lesson.NewLLMGenerator(providers.LLM,
			lesson.WithPersona(lesson.Persona{Name: cfg.Teacher.Name}),
			lesson.WithTimeout(cfg.Lessons.GenerationTimeout),
		),
		a.scripts,
	)

	// ── 4. Narration failover ────────────────────────────────────────────
	a.initNarration()

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.checkers = append(a.checkers, health.Checker{
		Name: "narration",
		Check: func(context.Context) error {
			if !a.narration.Available() {
				return errors.New("every speech service is cooling down")
			}
			return nil
		},
	})
	a.health = health.New(a.checkers...)

	gw, err := gateway.New(gateway.Config{
		NewClassroom:   a.newClassroom,
		Curriculum:     a.curriculum,
		Generator:      a.generator,
		Transcripts:    a.transcripts,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		InputRate:      cfg.Audio.InputRate,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}
	a.gateway = gw
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) checkProviders() error {
	var errs []error
	if a.providers.LLM == nil {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if a.providers.TTS == nil {
		errs = append(errs, errors.New("providers.tts is required"))
	}
	if a.providers.S2S == nil {
		errs = append(errs, errors.New("providers.s2s is required"))
	}
	return errors.Join(errs...)
}

// initCurriculum loads the curriculum file or keeps the built-in one.
func (a *App) initCurriculum() error {
	if a.curriculum != nil {
		return nil
	}
	path := a.cfg.Lessons.CurriculumFile
	if path == "" {
		a.curriculum = lesson.DefaultCurriculum()
		return nil
	}
	c, err := lesson.LoadCurriculum(path)
	if err != nil {
		return err
	}
	slog.Info("loaded curriculum", "path", path)
	a.curriculum = c
	return nil
}

// initStorage sets up the PostgreSQL store or in-memory fallbacks for the
// script cache and the transcript journal.
func (a *App) initStorage(ctx context.Context) error {
	if a.scripts != nil && a.transcripts != nil {
		return nil // both injected
	}

	dsn := a.cfg.Lessons.PostgresDSN
	if dsn == "" {
		if a.scripts == nil {
			a.scripts = &lesson.MemoryStore{}
		}
		if a.transcripts == nil {
			a.transcripts = &memory.LocalStore{}
		}
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	if a.scripts == nil {
		a.scripts = lesson.NewDocStore(store)
	}
	if a.transcripts == nil {
		a.transcripts = store.L1()
	}
	a.checkers = append(a.checkers, health.Checker{Name: "lesson_store", Check: store.Ping})
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initNarration fronts the speech services with circuit breakers.
func (a *App) initNarration() {
	breaker := resilience.BreakerConfig{
		MaxFailures: a.cfg.Resilience.MaxFailures,
		Cooldown:    a.cfg.Resilience.ResetTimeout,
		OnStateChange: func(name string, _, to resilience.State) {
			a.metrics.RecordCircuitTransition(context.Background(), name, to.String())
		},
	}
	a.narration = resilience.NewSynthesizerChain(ttsName(a.cfg.Providers.TTS.Name), a.providers.TTS, breaker)
	for _, fb := range a.providers.TTSFallbacks {
		a.narration.AddFallback(fb.Name, fb.Synthesizer)
	}
	slog.Info("narration services", "order", a.narration.Names())
}

func ttsName(name string) string {
	if name == "" {
		return "tts"
	}
	return name
}

// newClassroom is the gateway's factory for one connection.
func (a *App) newClassroom(id string, out *playback.Output, mic capture.Microphone) (*tutor.Classroom, error) {
	t := a.Teacher()
	mode, err := lesson.ParseMode(t.Mode)
	if err != nil {
		mode = lesson.ModeBilingual
	}
	return tutor.New(id, tutor.Config{
		Output:      out,
		Microphone:  mic,
		Synthesizer: a.narration,
		Realtime:    a.providers.S2S,
		Generator:   a.generator,
		Curriculum:  a.curriculum,
		Persona:     lesson.Persona{Name: t.Name},
		Voice: tts.VoiceProfile{
			ID:          t.Voice,
			SpeedFactor: t.SpeedFactor,
		},
		LiveVoice:     t.LiveVoice,
		Mode:          mode,
		Transcripts:   a.transcripts,
		Metrics:       a.metrics,
		TTSName:       ttsName(a.cfg.Providers.TTS.Name),
		S2SName:       a.cfg.Providers.S2S.Name,
		CaptureWindow: a.cfg.Audio.CaptureWindow,
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.gateway }

// Teacher returns the teacher settings new classrooms are created with.
func (a *App) Teacher() config.TeacherConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.teacher
}

// UpdateTeacher replaces the teacher settings. Connected classrooms keep
// the settings they started with.
func (a *App) UpdateTeacher(t config.TeacherConfig) {
	a.mu.Lock()
	a.teacher = t
	a.mu.Unlock()
	slog.Info("teacher settings updated", "name", t.Name, "voice", t.Voice, "mode", t.Mode)
}

// Addr returns the address Run is listening on, or nil before Run.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// When ctx is done, Run returns ctx's error; connections stay open until
// Shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		serveErr <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown fails readiness, disconnects every classroom, stops the HTTP
// server and runs the closers. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "classrooms", a.gateway.Active(), "closers", len(a.closers))

		a.health.Drain()

		if err := a.gateway.Close(ctx); err != nil {
			slog.Warn("classroom drain incomplete", "err", err)
			shutdownErr = err
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}

		// Run closers in order.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
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
