package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/flagstore/internal/config"
	"github.com/jwebster45206/flagstore/internal/logger"
	"github.com/jwebster45206/flagstore/internal/storage"
	"github.com/jwebster45206/flagstore/pkg/flags"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <player-uuid>\n", os.Args[0])
		os.Exit(1)
	}

	playerID, err := uuid.Parse(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid player UUID %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	cfg := config.Load()
	log := logger.Setup(cfg)

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	store := storage.NewRedisStore(client, playerID, log)
	defer func() {
		_ = store.Close()
		_ = client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not connect to Redis at %s: %v\n", cfg.RedisURL, err)
		os.Exit(1)
	}

	reg := flags.NewRegistry(flags.Config{Prefix: cfg.FlagPrefix}, log)

	ui := NewConsoleUI(reg, store, playerID)
	p := tea.NewProgram(ui, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Console error: %v\n", err)
		os.Exit(1)
	}
}
