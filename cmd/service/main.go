package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/air-quality-service/internal/client"
	"github.com/kjstillabower/air-quality-service/internal/config"
	httphandler "github.com/kjstillabower/air-quality-service/internal/http"
	"github.com/kjstillabower/air-quality-service/internal/lifecycle"
	"github.com/kjstillabower/air-quality-service/internal/observability"
	"github.com/kjstillabower/air-quality-service/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	openaqClient, err := client.NewOpenAQClientWithRetry(
		cfg.OpenAQAPIKey,
		cfg.OpenAQAPIURL,
		client.Area{
			Latitude:     cfg.CenterLatitude,
			Longitude:    cfg.CenterLongitude,
			RadiusMeters: cfg.RadiusMeters,
		},
		cfg.OpenAQAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("openaq client", zap.Error(err))
	}
	airQualityService := service.NewAirQualityService(openaqClient, cfg.CutoffLocation, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The server never starts without a complete snapshot.
	startupCtx, startupCancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	snapshot, err := airQualityService.Connect(startupCtx)
	startupCancel()
	if err != nil {
		logger.Fatal("initial snapshot", zap.Error(err))
	}
	store := service.NewStore(snapshot)
	lifecycle.SetPhase(lifecycle.PhaseServing)

	if cfg.RefreshInterval > 0 {
		refresher := service.NewRefresher(airQualityService, store, logger)
		go func() {
			if err := refresher.RunPeriodic(ctx, cfg.RefreshInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic snapshot refresh stopped", zap.Error(err))
			}
		}()
		logger.Info("periodic snapshot refresh enabled", zap.Duration("interval", cfg.RefreshInterval))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(store, &httphandler.HealthConfig{
		RefreshInterval: cfg.RefreshInterval,
		StartTime:       time.Now(),
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(handler, logger, limiter, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.PhaseDraining)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// newRouter mounts the data routes behind rate limiting and a request timeout. Health and
// metrics stay outside the limiter so probes are never throttled.
func newRouter(handler *httphandler.Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	// mux skips router middleware for its fallback handlers, so wrap them explicitly.
	withMiddleware := func(h http.HandlerFunc) http.Handler {
		return httphandler.CorrelationIDMiddleware(logger)(httphandler.MetricsMiddleware(h))
	}
	router.NotFoundHandler = withMiddleware(handler.NotFound)
	router.MethodNotAllowedHandler = withMiddleware(handler.MethodNotAllowed)

	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	data := router.NewRoute().Subrouter()
	data.Use(httphandler.RateLimitMiddleware(limiter))
	data.Use(httphandler.TimeoutMiddleware(requestTimeout))
	data.HandleFunc("/", handler.Root).Methods("GET")
	data.HandleFunc("/locations", handler.GetLocations).Methods("GET")
	data.HandleFunc("/parameters", handler.GetParameters).Methods("GET")
	data.HandleFunc("/latestMeasurements", handler.GetLatestMeasurements).Methods("GET")
	return router
}
