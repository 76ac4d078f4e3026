package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EllectronChik/server7x/config"
	"github.com/EllectronChik/server7x/db"
	"github.com/EllectronChik/server7x/handlers"
	"github.com/EllectronChik/server7x/middleware"
	"github.com/EllectronChik/server7x/realtime"
	"github.com/EllectronChik/server7x/repositories"
	api "github.com/EllectronChik/server7x/routes"
	"github.com/EllectronChik/server7x/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.String("store", cfg.StoreDriver),
		slog.Duration("auth_timeout", cfg.AuthTimeout))

	// Подключение к хранилищу
	store, dbConn, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	if dbConn != nil {
		defer func() {
			if err := dbConn.Close(); err != nil {
				logger.Error("failed to close database connection", slog.Any("error", err))
			} else {
				logger.Info("database connection closed")
			}
		}()
	}

	// Метрики
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := realtime.NewMetrics(registry)

	// Инициализация WebSocket Hub и шины изменений
	hub := realtime.NewHub(metrics, logger)
	notifier := realtime.NewNotifier(hub, logger)
	if err := notifier.Start(context.Background()); err != nil {
		logger.Error("failed to start change notifier", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("WebSocket hub started")

	// Инициализация сервисов
	resolver := services.NewCredentialResolver(store.Repos().Tokens, cfg.JWTSecretKey)
	bracketService := services.NewBracketService(time.Now, logger)
	snapshotService := services.NewSnapshotService(store, time.Now, logger)
	matchService := services.NewMatchService(store, notifier, logger)
	tournamentService := services.NewTournamentService(store, bracketService, notifier, time.Now, logger)
	logger.Info("services initialized")

	topics := []realtime.Topic{
		realtime.MatchTopic(snapshotService, matchService),
		realtime.ManagerTopic(snapshotService, tournamentService),
		realtime.AdminTopic(snapshotService, tournamentService),
		realtime.GroupsTopic(snapshotService),
		realtime.InfoTopic(snapshotService),
	}

	// Инициализация обработчиков HTTP
	webSocketHandler := handlers.NewWebSocketHandler(realtime.ConnectionDeps{
		Hub:         hub,
		Resolver:    resolver,
		AuthTimeout: cfg.AuthTimeout,
		Metrics:     metrics,
		Logger:      logger,
	}, cfg.CORSAllowedOrigins, logger)

	var pinger handlers.Pinger
	if dbConn != nil {
		pinger = dbConn
	}
	healthHandler := handlers.NewHealthHandler(pinger, hub.Connections, logger)

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(router, webSocketHandler, healthHandler, topics, api.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:          middleware.RateLimit(middleware.NewIPRateLimiter(cfg.WSRateLimit, cfg.WSRateBurst), logger),
		Metrics:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})
	logger.Info("routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			exitCode = 1
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		// Hijacked websocket connections are not tracked by Shutdown.
		hub.Shutdown(realtime.ReasonShutdown)

		logger.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			exitCode = 1
		} else {
			logger.Info("server shutdown complete")
		}
	}

	if err := notifier.Close(); err != nil {
		logger.Error("failed to close change notifier", slog.Any("error", err))
	}
	logger.Info("application exited")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// openStore returns the entity store and, for Postgres, the underlying pool.
func openStore(cfg *config.Config, logger *slog.Logger) (repositories.Store, *sql.DB, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		store := repositories.NewMemoryStore()
		if cfg.StoreFixture != "" {
			f, err := os.Open(cfg.StoreFixture)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open store fixture: %w", err)
			}
			defer f.Close()
			if err = store.LoadFixture(f); err != nil {
				return nil, nil, fmt.Errorf("failed to load store fixture %s: %w", cfg.StoreFixture, err)
			}
		}
		logger.Info("using in-memory store", slog.String("fixture", cfg.StoreFixture))
		return store, nil, nil
	}

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("database connection established")

	if cfg.RunMigrations {
		if err = db.Migrate(dbConn, logger); err != nil {
			_ = dbConn.Close()
			return nil, nil, err
		}
	}
	return repositories.NewPostgresStore(dbConn, logger), dbConn, nil
}
