package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	echoapi "go.pilab.hu/idfed/api/echo"
	"go.pilab.hu/idfed/cache"
	cacheredis "go.pilab.hu/idfed/cache/redis"
	"go.pilab.hu/idfed/config"
	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/connection"
	"go.pilab.hu/idfed/internal/correlation"
	"go.pilab.hu/idfed/internal/metrics"
	"go.pilab.hu/idfed/internal/upstream"
	"go.pilab.hu/idfed/mongodb"
	"go.pilab.hu/idfed/services"
	"go.pilab.hu/idfed/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if parseErr != nil {
		log.Warn().Str("configured_log_level", cfg.LogLevel).Msg("Invalid LOG_LEVEL, defaulting to info")
	}
	log.Info().Str("http_port", cfg.HTTPPort).Str("public_url", cfg.PublicURL).Msg("Starting federation broker")

	tp, err := tracing.InitTracerProvider("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer provider")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Tracer provider shutdown failed")
		}
	}()
	metrics.InitCustomMetrics(prometheus.DefaultRegisterer)

	ctx := context.Background()
	if err := mongodb.Init(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MongoDB connection")
	}
	defer mongodb.Close(ctx)
	db := mongodb.DB()

	accountRepo, err := mongodb.NewAccountRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize account repository")
	}
	groupRepo := mongodb.NewAuthGroupRepository(db)
	orgRepo := mongodb.NewOrganizationRepository(db)

	correlationTTL := time.Duration(cfg.CorrelationTTLMin) * time.Minute
	var pkceStore domain.PKCESessionStore
	switch cfg.PKCEStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to reach redis")
		}
		pkceStore = cacheredis.NewPKCEStore(rdb)
	case "memory":
		memStore := cache.NewMemoryPKCEStore(correlationTTL)
		defer memStore.Stop()
		pkceStore = memStore
	default:
		pkceStore, err = mongodb.NewPKCESessionRepository(ctx, db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize PKCE session repository")
		}
	}

	corr := correlation.NewManager(pkceStore, correlationTTL, cfg.SecureCookies)
	resolver := connection.NewResolver(orgRepo)

	oidcAdapter := upstream.NewOIDCAdapter(time.Duration(cfg.DiscoveryTTLMin) * time.Minute)
	defer oidcAdapter.Stop()
	samlAdapter := upstream.NewSAMLAdapter(cfg.PublicURL)
	adapters := map[domain.ConnectionSpec]upstream.Adapter{
		domain.SpecOIDC:   oidcAdapter,
		domain.SpecOAuth2: upstream.NewOAuth2Adapter(),
		domain.SpecSAML:   samlAdapter,
	}

	engine := services.NewEngineClient(cfg.EngineURL)
	linker := services.NewAccountLinker(accountRepo)
	broker := services.NewBroker(engine, groupRepo, resolver, corr, adapters, linker, cfg.PublicURL, nil)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	echoapi.NewFederationAPI(broker, groupRepo, resolver, samlAdapter, cfg.PublicURL).RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
}
