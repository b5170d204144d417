package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/pagebot/internal/catalog"
	"github.com/memohai/pagebot/internal/chat"
	"github.com/memohai/pagebot/internal/config"
	"github.com/memohai/pagebot/internal/deadletter"
	"github.com/memohai/pagebot/internal/handlers"
	"github.com/memohai/pagebot/internal/healthcheck"
	dependencychecker "github.com/memohai/pagebot/internal/healthcheck/checkers/dependency"
	"github.com/memohai/pagebot/internal/logger"
	"github.com/memohai/pagebot/internal/messenger"
	"github.com/memohai/pagebot/internal/ratelimit"
	"github.com/memohai/pagebot/internal/reply"
	"github.com/memohai/pagebot/internal/server"
	"github.com/memohai/pagebot/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Secrets are checked before fx starts so a misconfigured process never listens.
		if _, err := loadConfig(); err != nil {
			return err
		}
		runServe()
		return nil
	},
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDependencyChecker,
			provideLimiter,
			provideMessengerClient,
			provideResponder,
			provideCatalog,
			provideSearcher,
			provideDeadLetterSink,
			provideDispatcher,
			provideReadiness,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideMetricsHandler),
			provideServerHandler(provideWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	return loadConfig()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDependencyChecker(log *slog.Logger) *dependencychecker.Checker {
	return dependencychecker.NewChecker(log, 0)
}

func provideReadiness(deps *dependencychecker.Checker) *healthcheck.Aggregator {
	return healthcheck.NewAggregator(deps)
}

func provideLimiter(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, deps *dependencychecker.Checker) (ratelimit.Limiter, error) {
	rl := cfg.RateLimit
	switch rl.Backend {
	case config.RateLimitBackendNone:
		log.Warn("rate limiting disabled")
		return ratelimit.NoOpLimiter{}, nil
	case config.RateLimitBackendRedis:
		limiter, err := ratelimit.DialRedisLimiter(context.Background(), rl.RedisURL, rl.MaxEvents, rl.Window)
		if err != nil {
			return nil, fmt.Errorf("redis rate limiter: %w", err)
		}
		deps.Add("redis", limiter.Ping)
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return limiter.Close() }})
		return limiter, nil
	default:
		limiter, err := ratelimit.NewFixedWindow(rl.MaxEvents, rl.Window, rl.MaxSenders)
		if err != nil {
			return nil, fmt.Errorf("memory rate limiter: %w", err)
		}
		sweeper, err := ratelimit.NewSweeper(log, limiter, rl.SweepInterval)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { sweeper.Start(); return nil },
			OnStop:  sweeper.Stop,
		})
		return limiter, nil
	}
}

func provideMessengerClient(log *slog.Logger, cfg config.Config) *messenger.Client {
	m := cfg.Messenger
	return messenger.NewClient(log, messenger.ClientConfig{
		GraphURL:        m.GraphAPIURL(),
		PageAccessToken: m.PageAccessToken,
		AppSecret:       m.AppSecret,
		Timeout:         m.SendTimeout,
		RetryMax:        m.RetryMax,
		RetryBackoff:    m.RetryBackoff,
	})
}

// provideResponder returns nil when no API key is configured; text events are
// then dead-lettered instead of answered.
func provideResponder(log *slog.Logger, cfg config.Config) (*chat.Responder, error) {
	o := cfg.OpenAI
	if strings.TrimSpace(o.APIKey) == "" {
		log.Warn("openai api key not set, text replies disabled")
		return nil, nil
	}
	provider, err := chat.NewOpenAIProvider(log, o.APIKey, o.BaseURL, o.Timeout)
	if err != nil {
		return nil, err
	}
	return chat.NewResponder(provider, chat.ResponderConfig{
		Model:       o.Model,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
		MaxChars:    cfg.Dispatch.MaxTextChars,
		Timeout:     o.Timeout,
	}), nil
}

func provideCatalog(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, deps *dependencychecker.Checker) (catalogBackend, error) {
	store, closeStore, err := openCatalog(context.Background(), log, cfg)
	if err != nil {
		return nil, err
	}
	if store == nil {
		log.Warn("catalog disabled, image messages get an apology")
		return nil, nil
	}
	deps.Add(cfg.Catalog.Backend, store.Ping)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { closeStore(); return nil }})
	return store, nil
}

func provideSearcher(log *slog.Logger, cfg config.Config, store catalogBackend) (*catalog.Searcher, error) {
	if store == nil {
		return nil, nil
	}
	embedder, err := openEmbedder(context.Background(), log, cfg)
	if err != nil {
		return nil, err
	}
	return catalog.NewSearcher(log, embedder, store), nil
}

func provideDeadLetterSink(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*deadletter.Sink, error) {
	dl := cfg.DeadLetter
	var publisher deadletter.Publisher
	switch dl.Backend {
	case config.DeadLetterBackendNATS:
		p, err := deadletter.DialNATS(log, dl.NATSURL, dl.Subject)
		if err != nil {
			return nil, err
		}
		publisher = p
	case config.DeadLetterBackendKafka:
		publisher = deadletter.NewKafkaPublisher(dl.KafkaBrokers, dl.KafkaTopic)
	default:
		publisher = deadletter.NopPublisher{}
	}
	sink := deadletter.NewSink(log, publisher, dl.Timeout)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return sink.Close() }})
	return sink, nil
}

type (
	textGenerator interface {
		Generate(ctx context.Context, prompt string) (string, error)
	}
	imageSearcher interface {
		SearchByImage(ctx context.Context, imageURL string, limit int, threshold float64) ([]catalog.Match, error)
	}
)

func provideDispatcher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, responder *chat.Responder, searcher *catalog.Searcher, client *messenger.Client, sink *deadletter.Sink) *reply.Dispatcher {
	// Keep absent collaborators as untyped nil so the dispatcher can see them.
	var generator textGenerator
	if responder != nil {
		generator = responder
	}
	var images imageSearcher
	if searcher != nil {
		images = searcher
	}
	d := reply.NewDispatcher(log, generator, images, client, sink, reply.Config{
		MaxTextChars:    cfg.Dispatch.MaxTextChars,
		MaxInFlight:     cfg.Dispatch.MaxInFlight,
		SearchLimit:     cfg.Dispatch.SearchLimit,
		SearchThreshold: cfg.Dispatch.SearchThreshold,
	})
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		if err := d.Wait(ctx); err != nil {
			log.Warn("dispatch drain incomplete", slog.Any("error", err))
		}
		return nil
	}})
	return d
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, limiter ratelimit.Limiter, dispatcher *reply.Dispatcher) *messenger.WebhookHandler {
	return messenger.NewWebhookHandler(log, messenger.WebhookConfig{
		Path:            cfg.Server.WebhookPath,
		PageAccessToken: cfg.Messenger.PageAccessToken,
		VerifyToken:     cfg.Messenger.VerifyToken,
		AppSecret:       cfg.Messenger.AppSecret,
	}, limiter, dispatcher)
}

func provideHealthHandler(log *slog.Logger, readiness *healthcheck.Aggregator) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, readiness)
}

func provideMetricsHandler() *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(nil)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Options{
		Addr:         params.Config.Server.Addr,
		ReadTimeout:  params.Config.Server.ReadTimeout,
		WriteTimeout: params.Config.Server.WriteTimeout,
	}, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	fmt.Printf("Starting pagebot %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("webhook ready",
				slog.String("addr", srv.Addr()),
				slog.String("path", cfg.Server.WebhookPath),
				slog.String("ratelimit", cfg.RateLimit.Backend),
				slog.String("catalog", cfg.Catalog.Backend),
			)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
