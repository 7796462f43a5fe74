package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Rperry2174/agent-runtime-observability/internal/config"
	"github.com/Rperry2174/agent-runtime-observability/internal/hub"
	"github.com/Rperry2174/agent-runtime-observability/internal/index"
	"github.com/Rperry2174/agent-runtime-observability/internal/policy"
	"github.com/Rperry2174/agent-runtime-observability/internal/trace"
	transporthttp "github.com/Rperry2174/agent-runtime-observability/internal/transport/http"
	"github.com/Rperry2174/agent-runtime-observability/internal/transport/ws"
	"github.com/Rperry2174/agent-runtime-observability/internal/wal"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting agent trace service...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Data Dir: %s", cfg.DataDir)

	// Initialize persistence log
	walLog, err := wal.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to initialize persistence log: %v", err)
	}
	defer walLog.Close()

	// Initialize session catalog
	catalog, err := index.Open(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		log.Fatalf("Failed to initialize session catalog: %v", err)
	}
	defer catalog.Close()

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize broadcaster hub
	broadcastHub := hub.New()
	go broadcastHub.Run()

	// Initialize trace store (replays recent session logs)
	store := trace.New(walLog, catalog, broadcastHub, trace.Options{
		SessionTTL:    cfg.SessionTTL,
		SweepInterval: cfg.SweepInterval,
		ReplayLimit:   cfg.ReplayLimit,
	})

	// Initialize handlers
	h := transporthttp.NewHandler(store, catalog, policyEngine, cfg)
	wsServer := ws.NewServer(cfg, broadcastHub)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)
	e.GET("/ws", wsServer.HandleWebSocket)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}
	store.Close()
	broadcastHub.Stop()

	log.Println("Stopped")
}
