package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/fenggwsx/SlashBoard/internal/board"
	"github.com/fenggwsx/SlashBoard/internal/config"
	"github.com/fenggwsx/SlashBoard/internal/metrics"
	"github.com/fenggwsx/SlashBoard/internal/server"
	"github.com/fenggwsx/SlashBoard/internal/storage/sqlite"
)

func main() {
	cfg := config.LoadServerConfig()

	store, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	defer store.Close()

	messages := board.NewStore()
	app := server.NewApp(cfg, store, messages, server.WithMetrics(metrics.New(messages.Len)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("server shutdown: %v", err)
	}
}
