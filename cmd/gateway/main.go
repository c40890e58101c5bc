// Kindred API gateway — the HTTP state-store surface backed by PostgreSQL.
// Generates the shared internal key on first boot.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/kindred-labs/kindred/pkg/config"
	"github.com/kindred-labs/kindred/pkg/gateway"
	"github.com/kindred-labs/kindred/pkg/internalkey"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}
	config.SetupLogging()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	keyPath := getEnv("INTERNAL_KEY_PATH", "/shared/internal_key")
	addr := ":" + getEnv("HTTP_PORT", "8080")

	key, err := internalkey.Generate(keyPath)
	if err != nil {
		slog.Error("Failed to provision internal key", "error", err)
		os.Exit(1)
	}
	slog.Info("Internal key ready", "path", keyPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := gateway.NewStore(ctx, databaseURL)
	cancel()
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	server := gateway.NewServer(store, key)
	slog.Info("Gateway listening", "addr", addr)
	if err := server.Router().Run(addr); err != nil {
		slog.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
}
