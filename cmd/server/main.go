package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sensor-relay/backend/api/handlers"
	"github.com/sensor-relay/backend/internal/buffer"
	"github.com/sensor-relay/backend/internal/config"
	"github.com/sensor-relay/backend/internal/db"
	"github.com/sensor-relay/backend/internal/journal"
	"github.com/sensor-relay/backend/internal/logger"
	"github.com/sensor-relay/backend/internal/monitor"
	"github.com/sensor-relay/backend/internal/mqtt"
	"github.com/sensor-relay/backend/internal/registry"
	"github.com/sensor-relay/backend/internal/relay"
	"github.com/sensor-relay/backend/internal/repository"
	"github.com/sensor-relay/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", getEnv("RELAY_CONFIG", ""), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("failed to build logger")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	hub := ws.NewHub(logger.WithComponent(log, "ws"))
	recent := buffer.NewEventBuffer(cfg.Journal.RecentEvents)
	relayHandler := relay.NewHandler(reg, hub, logger.WithComponent(log, "relay"), recent)

	var workers sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// Optional event journal
	var j *journal.Journal
	if cfg.Journal.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0755); err != nil {
			return err
		}
		database, err := db.InitDB(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer db.CloseDB()

		j = journal.New(repository.NewEventRepository(database), journal.Config{
			QueueSize: cfg.Journal.QueueSize,
			Retention: cfg.Journal.RetentionPeriod(),
		}, logger.WithComponent(log, "journal"))
		relayHandler.AddSink(j)

		workers.Add(1)
		go func() {
			defer workers.Done()
			j.Run(workerCtx)
		}()
		log.Info().Str("path", cfg.Journal.Path).Msg("event journal enabled")
	}

	// Optional MQTT bridge
	if cfg.MQTT.Enabled {
		bridge, err := mqtt.Connect(cfg.MQTT, logger.WithComponent(log, "mqtt"))
		if err != nil {
			return err
		}
		defer bridge.Close()
		relayHandler.AddSink(bridge)
		log.Info().Str("broker", cfg.MQTT.Broker).Str("prefix", cfg.MQTT.TopicPrefix).Msg("mqtt bridge enabled")
	}

	wsService := ws.NewService(hub, relayHandler, ws.Config{
		PingInterval:   time.Duration(cfg.WebSocket.PingInterval) * time.Second,
		PongTimeout:    time.Duration(cfg.WebSocket.PongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WebSocket.MaxMessageSize),
		SendBuffer:     cfg.WebSocket.SendBuffer,
	}, logger.WithComponent(log, "ws"))

	mon, err := monitor.New(reg, relayHandler, monitor.Config{
		Interval: cfg.Liveness.Interval(),
		Timeout:  cfg.Liveness.Timeout(),
	}, logger.WithComponent(log, "monitor"))
	if err != nil {
		return err
	}
	mon.Start(ctx)

	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Devices:     handlers.NewDeviceHandler(reg, hub.ConnectionCount, recent, j),
		WebSocket:   handlers.NewWebSocketHandler(wsService),
		WSPath:      cfg.WebSocket.Path,
		StaticDir:   cfg.Server.StaticDir,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger.WithComponent(log, "http"),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case err := <-serveErr:
		mon.Stop()
		wsService.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	mon.Stop()
	wsService.Close()

	// Drain the journal after the last disconnect events are recorded
	cancelWorkers()
	workers.Wait()

	log.Info().Msg("server stopped")
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
