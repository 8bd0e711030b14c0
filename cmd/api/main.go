// Package main is the entry point for the API server.
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

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/config"
	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/handler"
	natsclient "github.com/capitalize-ai/chat-platform/internal/nats"
	redisbus "github.com/capitalize-ai/chat-platform/internal/redis"
	"github.com/capitalize-ai/chat-platform/internal/service"
	"github.com/capitalize-ai/chat-platform/internal/store/memory"
	mongostore "github.com/capitalize-ai/chat-platform/internal/store/mongo"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
	"github.com/capitalize-ai/chat-platform/pkg/tracing"
)

// documentStore is what the services and readiness check need from a backend.
type documentStore interface {
	service.ConversationStore
	service.MessageStore
	service.UserDirectory
	handler.Pinger
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server",
		zap.String("store", cfg.Store),
		zap.String("event_bus", cfg.EventBus))

	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, busCheck, err := openBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	checks := map[string]handler.Pinger{"store": st}
	if busCheck != nil {
		checks["event_bus"] = busCheck
	}

	// Initialize services
	svcCfg := service.Config{
		DefaultLimit:        cfg.DefaultLimit,
		DefaultOffset:       cfg.DefaultOffset,
		DefaultChannelName:  cfg.DefaultChannelName,
		MemberUpdateRetries: cfg.MemberUpdateRetries,
	}
	conversationSvc := service.NewConversationService(st, st, st, bus, svcCfg, log)
	messageSvc := service.NewMessageService(st, conversationSvc, st, bus, svcCfg, log)
	defer conversationSvc.Wait()

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		CORSOrigins:       cfg.CORSOrigins,
	}, handler.Dependencies{
		Conversations: conversationSvc,
		Messages:      messageSvc,
		Events:        bus,
		Checks:        checks,
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (documentStore, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil

	default:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		st, err := mongostore.Connect(connectCtx, mongostore.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		return st, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.Close(closeCtx); err != nil {
				log.Warn("failed to disconnect from MongoDB", zap.Error(err))
			}
		}, nil
	}
}

func openBus(ctx context.Context, cfg *config.Config, log *logger.Logger) (events.Bus, handler.Pinger, error) {
	switch cfg.EventBus {
	case config.BusMemory:
		return events.NewMemoryBus(log), nil, nil

	case config.BusRedis:
		client, err := redisbus.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		bus := redisbus.NewBus(client, log)
		log.Info("connected to Redis")
		return bus, bus, nil

	default:
		// Connect to NATS
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     "chat-api",
		}, log)
		if err != nil {
			return nil, nil, err
		}

		// Ensure JetStream stream exists
		stream := natsclient.NewEventStream(natsClient, log)
		if err := stream.EnsureStream(ctx); err != nil {
			natsClient.Close()
			return nil, nil, err
		}
		return stream, natsClient, nil
	}
}
