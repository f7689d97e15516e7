// Command intervue runs the InterVue-X mock interview server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/Sangini-spec/InterVue-X/internal/app"
	"github.com/Sangini-spec/InterVue-X/internal/config"
	"github.com/Sangini-spec/InterVue-X/internal/health"
	"github.com/Sangini-spec/InterVue-X/internal/history"
	"github.com/Sangini-spec/InterVue-X/internal/history/postgres"
	"github.com/Sangini-spec/InterVue-X/internal/observe"
	"github.com/Sangini-spec/InterVue-X/internal/resilience"
	"github.com/Sangini-spec/InterVue-X/pkg/audio"
	malgodev "github.com/Sangini-spec/InterVue-X/pkg/audio/malgo"
	audiomock "github.com/Sangini-spec/InterVue-X/pkg/audio/mock"
	otodev "github.com/Sangini-spec/InterVue-X/pkg/audio/oto"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm/anyllm"
	oallm "github.com/Sangini-spec/InterVue-X/pkg/provider/llm/openai"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/s2s"
	geminilive "github.com/Sangini-spec/InterVue-X/pkg/provider/s2s/gemini"
	oais2s "github.com/Sangini-spec/InterVue-X/pkg/provider/s2s/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	watch := flag.Bool("watch", true, "reload interviewers and interview defaults when the config file changes")
	flag.Parse()

	// A missing .env is normal in production.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "intervue: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "intervue: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "intervue: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("intervue starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "intervue",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Audio)
	slog.Debug("providers registered", "providers", reg.Names())

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// Until app.New succeeds, run owns the audio backend and the database.
	var (
		opts    []app.Option
		cleanup []func()
		owned   bool
	)
	defer func() {
		if owned {
			return
		}
		for _, fn := range cleanup {
			fn()
		}
	}()
	if providers.Audio.Close != nil {
		cleanup = append(cleanup, func() { _ = providers.Audio.Close() })
	}

	// ── History ───────────────────────────────────────────────────────────────
	if dsn := cfg.History.PostgresDSN; dsn != "" {
		store, closeDB, err := postgres.Open(ctx, dsn)
		if err != nil {
			slog.Error("failed to open history database", "err", err)
			return 1
		}
		cleanup = append(cleanup, closeDB)
		opts = append(opts,
			app.WithHistoryStore(store),
			app.WithCheckers(health.FromPinger("history", store)),
			app.WithCloser(func() error { closeDB(); return nil }),
		)
		slog.Info("history stored in postgres")
	} else if path := cfg.History.File; path != "" {
		store, err := history.OpenFileStore(path)
		if err != nil {
			slog.Error("failed to open history file", "err", err)
			return 1
		}
		opts = append(opts, app.WithHistoryStore(store))
		slog.Info("history stored in file", "path", path)
	} else {
		slog.Info("history kept in memory; set history.postgres_dsn or history.file to persist it")
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	var current atomic.Pointer[app.App]
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
			if a := current.Load(); a != nil {
				a.UpdateConfig(old, next)
			}
		})
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	owned = true
	current.Store(application)

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every built-in provider factory into reg.
func registerBuiltinProviders(reg *config.Registry, audioCfg config.AudioConfig) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if raw := entry.Option("keepalive"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("gemini-live: keepalive: %w", err)
			}
			opts = append(opts, geminilive.WithKeepalive(d))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	for _, providerName := range []string{"gemini", "anthropic", "mistral", "ollama"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		p, err := oallm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	captureRate := audioCfg.CaptureRate
	if captureRate == 0 {
		captureRate = audio.CaptureSampleRate
	}
	playbackRate := audioCfg.PlaybackRate
	if playbackRate == 0 {
		playbackRate = audio.PlaybackSampleRate
	}

	localDevices := func(entry config.ProviderEntry, outputBackend string) (*config.AudioDevices, error) {
		var devOpts []malgodev.Option
		if raw := entry.Option("period_ms"); raw != "" {
			ms, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("audio: period_ms: %w", err)
			}
			devOpts = append(devOpts, malgodev.WithPeriod(ms))
		}
		mctx, err := malgodev.NewContext()
		if err != nil {
			return nil, err
		}
		devices := &config.AudioDevices{
			NewInput: func() (audio.InputDevice, error) {
				return malgodev.NewInput(mctx, captureRate, devOpts...), nil
			},
			NewOutput: func() (audio.OutputDevice, error) {
				return malgodev.NewOutput(mctx, playbackRate, devOpts...), nil
			},
			Close: mctx.Close,
		}
		if outputBackend == "oto" {
			var otoOpts []otodev.Option
			if raw := entry.Option("buffer"); raw != "" {
				d, err := time.ParseDuration(raw)
				if err != nil {
					_ = mctx.Close()
					return nil, fmt.Errorf("audio: buffer: %w", err)
				}
				otoOpts = append(otoOpts, otodev.WithBufferSize(d))
			}
			devices.NewOutput = func() (audio.OutputDevice, error) {
				return otodev.New(playbackRate, otoOpts...), nil
			}
		}
		return devices, nil
	}

	reg.RegisterAudio("malgo", func(entry config.ProviderEntry) (*config.AudioDevices, error) {
		return localDevices(entry, audioCfg.OutputBackend)
	})
	reg.RegisterAudio("oto", func(entry config.ProviderEntry) (*config.AudioDevices, error) {
		return localDevices(entry, "oto")
	})

	// Silent devices for headless runs without sound hardware.
	reg.RegisterAudio("mock", func(config.ProviderEntry) (*config.AudioDevices, error) {
		return &config.AudioDevices{
			NewInput:  func() (audio.InputDevice, error) { return &audiomock.InputDevice{Rate: captureRate}, nil },
			NewOutput: func() (audio.OutputDevice, error) { return &audiomock.OutputDevice{Rate: playbackRate}, nil },
		}, nil
	})
}

// buildProviders instantiates the providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{S2SName: cfg.Providers.S2S.Name}

	s2sProvider, err := reg.CreateS2S(cfg.Providers.S2S)
	if err != nil {
		return nil, fmt.Errorf("create s2s provider %q: %w", cfg.Providers.S2S.Name, err)
	}
	ps.S2S = s2sProvider
	slog.Info("provider created", "kind", "s2s", "name", cfg.Providers.S2S.Name)

	if name := cfg.Providers.LLM.Name; name != "" {
		primary, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", name)

		if len(cfg.Providers.LLMFallback) == 0 {
			ps.LLM = primary
		} else {
			group := resilience.NewLLMFallback(primary, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.LLMFallback {
				p, err := reg.CreateLLM(entry)
				if errors.Is(err, config.ErrProviderNotRegistered) {
					slog.Warn("fallback provider not registered, skipping", "kind", "llm", "name", entry.Name)
					continue
				} else if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, p)
				slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name)
			}
			ps.LLM = group
		}
	} else {
		slog.Warn("no llm provider configured, sessions will not be analysed")
	}

	devices, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = devices
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      InterVue-X, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("S2S", cfg.Providers.S2S.Name, cfg.Providers.S2S.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, cfg.Audio.OutputBackend)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Providers.LLMFallback))
	fmt.Printf("║  Interviewers    : %-19d ║\n", len(cfg.Personas()))
	store := "memory"
	if cfg.History.PostgresDSN != "" {
		store = "postgres"
	} else if cfg.History.File != "" {
		store = "file"
	}
	fmt.Printf("║  History         : %-19s ║\n", store)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
