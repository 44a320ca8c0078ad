// Auryn - offline chat assistant server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/auryn-chat/internal/api"
	"github.com/ashureev/auryn-chat/internal/chat"
	"github.com/ashureev/auryn-chat/internal/config"
	"github.com/ashureev/auryn-chat/internal/logging"
	"github.com/ashureev/auryn-chat/internal/middleware"
	"github.com/ashureev/auryn-chat/internal/rpc"
	"github.com/ashureev/auryn-chat/internal/store"
	"github.com/ashureev/auryn-chat/internal/stream"
	"github.com/ashureev/auryn-chat/internal/transcript"
	"github.com/ashureev/auryn-chat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(os.Stdout, logging.Options{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
	})
	if err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	os.Exit(finish(run(cfg, logger), closeLog))
}

// finish logs the outcome of run and only then releases the log sinks.
func finish(err error, closeLog func() error) int {
	code := 0
	if err != nil {
		slog.Error("Server terminated", "error", err)
		code = 1
	}
	if closeErr := closeLog(); closeErr != nil {
		fmt.Fprintln(os.Stderr, "close log file:", closeErr)
	}
	return code
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "store", cfg.StoreDriver, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.Open(cfg.StoreDriver, cfg.StorePath())
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "driver", cfg.StoreDriver, "path", cfg.StorePath())

	var opts []chat.Option
	if cfg.TranscriptEnabled {
		recorder, err := transcript.New(transcript.Config{
			Enabled:   true,
			Dir:       cfg.TranscriptDir,
			QueueSize: cfg.TranscriptQueueSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize transcript recorder: %w", err)
		}
		defer func() {
			if closeErr := recorder.Close(); closeErr != nil {
				slog.Warn("Failed to flush transcripts", "error", closeErr)
			}
		}()
		opts = append(opts, chat.WithRecorder(recorder))
		slog.Info("Transcript recording enabled", "dir", cfg.TranscriptDir)
	}

	svc := chat.NewService(repo, repo, opts...)

	conversationID, err := svc.Bootstrap(context.Background(), cfg.DefaultConversationTitle)
	if err != nil {
		return fmt.Errorf("bootstrap conversation: %w", err)
	}

	// Initialize handlers.
	registry := stream.NewRegistry()
	chatHandler := api.NewChatHandler(svc, conversationID, registry)
	healthHandler := api.NewHealthHandler(repo, cfg.HealthCheckTimeout)
	wsHandler := stream.NewHandler(svc, registry, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.CORSOrigins(cfg.FrontendURL, cfg.IsDevelopment())))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/conversations/{id}", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Websocket views are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	var (
		grpcServer *grpc.Server
		chatServer *rpc.Server
	)
	if cfg.GRPCEnabled() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcServer = grpc.NewServer()
		chatServer = rpc.NewServer(svc)
		rpc.Register(grpcServer, chatServer)

		go func() {
			slog.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr, "conversation_id", conversationID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for shutdown signal or a listener failure.
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		// Watch streams only end when the client leaves; end them first.
		chatServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	// Hijacked websocket connections outlive Shutdown.
	if n := registry.CloseAll(); n > 0 {
		slog.Info("Closed live views", "count", n)
	}

	if runErr != nil {
		return runErr
	}
	slog.Info("Server stopped successfully")
	return nil
}
