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

	"github.com/gin-gonic/gin"
	"github.com/iamasit07/broadside/internal/config"
	"github.com/iamasit07/broadside/internal/repository/redis"
	"github.com/iamasit07/broadside/internal/service/chat"
	"github.com/iamasit07/broadside/internal/service/cleanup"
	"github.com/iamasit07/broadside/internal/service/game"
	"github.com/iamasit07/broadside/internal/service/lobby"
	"github.com/iamasit07/broadside/internal/service/presence"
	transportHttp "github.com/iamasit07/broadside/internal/transport/http"
	"github.com/iamasit07/broadside/internal/transport/http/middleware"
	"github.com/iamasit07/broadside/internal/transport/websocket"
	"github.com/iamasit07/broadside/pkg/auth"
	"github.com/iamasit07/broadside/pkg/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	envErr := godotenv.Load()
	if envErr != nil {
		envErr = godotenv.Load("../.env")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	if envErr != nil {
		log.Info("no .env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ephemeral store
	client, err := redis.Connect(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer client.Close()
	store := redis.NewStore(client)

	// 2. Services
	registry := websocket.NewRegistry(store, log)
	reaper := presence.NewReaper(store, cfg.PresenceTTL, cfg.ReconnectGrace, log)
	router := chat.NewRouter(store, registry, cfg.ChatMaxMessages, cfg.ChatRetention, log)
	sessions := game.NewSessionManager(store, registry, router, game.Settings{
		SnapshotTTL:    cfg.SessionSnapshotTTL,
		DepartureGrace: cfg.DepartureGrace,
		RematchWindow:  cfg.RematchWindow,
	}, log)
	coordinator := lobby.NewCoordinator(store, registry, sessions, router, cfg.InviteTimeout, cfg.DeclineNotice, log)

	// 3. Background workers
	go func() {
		if err := registry.RunRelay(ctx); err != nil {
			log.Error("fanout relay stopped", zap.Error(err))
		}
	}()
	go cleanup.NewWorker(router, sessions, cfg.ChatSweepInterval, log).Start(ctx)

	// 4. Handlers
	verifier := auth.NewVerifier(cfg.JWTSecret)
	dispatcher := websocket.NewDispatcher(coordinator, router, sessions, registry, log)
	wsHandler := websocket.NewHandler(registry, reaper, dispatcher, verifier, websocket.Options{
		PresenceTTL:       cfg.PresenceTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendBufferSize:    cfg.SendBufferSize,
		AllowedOrigins:    cfg.AllowedOrigins,
	}, log)
	lobbyHandler := transportHttp.NewLobbyHandler(coordinator, log)

	// 5. Router
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	engine.Use(middleware.RequestLogger(log.Named("http")), gin.Recovery())
	engine.Use(middleware.SecurityHeadersMiddleware())

	engine.GET("/healthz", transportHttp.Health(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))

	api := engine.Group("/api")
	api.Use(middleware.CORSMiddleware(cfg.AllowedOrigins, log))
	api.Use(middleware.AuthMiddleware(verifier))
	{
		api.GET("/lobby", lobbyHandler.GetLobby)
	}

	// WebSocket routes authenticate inside the handler so the client sees
	// the close code.
	engine.GET("/ws/lobby", func(c *gin.Context) {
		wsHandler.ServeLobby(c.Writer, c.Request)
	})
	engine.GET("/ws/game/:id", func(c *gin.Context) {
		wsHandler.ServeGame(c.Writer, c.Request, c.Param("id"))
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if derr := wsHandler.Drain(shutdownCtx); derr != nil {
		log.Warn("websocket handlers still running", zap.Error(derr))
	}
	reaper.Stop()
	coordinator.Stop()
	sessions.Shutdown()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}
