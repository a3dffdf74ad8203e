// Quire for Microsoft Teams - bot service
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quire-api/microsoft-teams/internal/api"
	"github.com/quire-api/microsoft-teams/internal/auth"
	"github.com/quire-api/microsoft-teams/internal/bot"
	"github.com/quire-api/microsoft-teams/internal/config"
	"github.com/quire-api/microsoft-teams/internal/metrics"
	"github.com/quire-api/microsoft-teams/internal/quire"
	"github.com/quire-api/microsoft-teams/internal/storage"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

const botFrameworkScope = "https://api.botframework.com/.default"

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "teamsbot.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Quire Teams bot %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootstrap.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load configuration")
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("Starting Quire Teams bot")

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal().Err(err).Str("data_dir", cfg.Storage.DataDir).Msg("Failed to create data directory")
	}

	clk := clock.New()

	store, err := storage.NewStore(cfg.Storage.DataDir, storage.Options{
		TokenRetention: cfg.Storage.TokenRetention.Duration(),
		SweepInterval:  cfg.Storage.SweepInterval.Duration(),
		Clock:          clk,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer store.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Quire side: user OAuth plus an application credential for
	// notification lookups.
	quireOAuth := auth.NewOAuthClient(auth.OAuthConfig{
		ClientID:     cfg.Quire.ClientID,
		ClientSecret: cfg.Quire.ClientSecret,
		AuthURL:      cfg.Quire.WebURL + "/oauth",
		TokenURL:     cfg.Quire.WebURL + "/oauth/token",
		RedirectURI:  cfg.Auth.Domain + "/bot-auth-end",
	}, clk)
	quireTokens := auth.NewClientTokenSource(quireOAuth.ClientCredentials, clk)

	// Teams side: the bot's own credential for the connector service.
	botOAuth := auth.NewOAuthClient(auth.OAuthConfig{
		ClientID:     cfg.Bot.AppID,
		ClientSecret: cfg.Bot.AppPassword,
		TokenURL:     cfg.Bot.TokenURL,
		Scope:        botFrameworkScope,
	}, clk)
	botTokens := auth.NewClientTokenSource(botOAuth.ClientCredentials, clk)

	broker := auth.NewCodeBroker(cfg.Auth.CodeTTL.Duration(), clk)
	sessions := auth.NewManager(store, quireOAuth, clk, m, logger)

	quireClient := quire.NewClient(quire.Config{
		APIURL:      cfg.QuireAPIURL(),
		Timeout:     cfg.Quire.Timeout.Duration(),
		ListTimeout: cfg.Quire.ListTimeout.Duration(),
	})

	authStartURL := cfg.Auth.Domain + "/bot-auth-start"
	connector := bot.NewConnector(botTokens)

	teamsBot := bot.New(bot.Config{
		Quire:        quireClient,
		Sessions:     sessions,
		Broker:       broker,
		Store:        store,
		Connector:    connector,
		AuthStartURL: authStartURL,
		Metrics:      m,
		Logger:       logger,
	})

	notifier := bot.NewNotifier(quireClient, quireTokens, connector, bot.NewCards(authStartURL), m, logger)

	var limiter *api.RateLimiter
	if cfg.Server.RateLimit.Enabled {
		rlCfg := api.DefaultRateLimitConfig()
		rlCfg.RequestsPerSecond = cfg.Server.RateLimit.RequestsPerSecond
		rlCfg.BurstSize = cfg.Server.RateLimit.BurstSize
		limiter = api.NewRateLimiter(rlCfg, clk)
		defer limiter.Stop()
	}

	router := api.NewRouter(api.RouterConfig{
		Bot:         teamsBot,
		Notifier:    notifier,
		Auth:        auth.NewWebHandler(quireOAuth, broker, logger),
		Metrics:     m,
		RateLimiter: limiter,
	}, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
	}

	go func() {
		logger.Info().Str("address", cfg.Server.Address).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("Quire Teams bot stopped")
}

// setupLogger builds the process logger from the logging section of
// the configuration. QUIREBOT_LOG_FORMAT and QUIREBOT_LOG_LEVEL, when
// set, override the configured values.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	format := cfg.Format
	if env := os.Getenv("QUIREBOT_LOG_FORMAT"); env != "" {
		format = env
	}
	var logger zerolog.Logger
	if format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}

	level := cfg.Level
	if env := os.Getenv("QUIREBOT_LOG_LEVEL"); env != "" {
		level = env
	}
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return logger
}
