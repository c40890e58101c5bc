// Kindred agent runtime — one process per agent. Drains the agent's
// notification queue, runs the perceive/think/act loop, and persists state
// through the API gateway.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kindred-labs/kindred/pkg/agent"
	"github.com/kindred-labs/kindred/pkg/broker"
	"github.com/kindred-labs/kindred/pkg/config"
	"github.com/kindred-labs/kindred/pkg/internalkey"
	"github.com/kindred-labs/kindred/pkg/llm"
	"github.com/kindred-labs/kindred/pkg/memory"
	"github.com/kindred-labs/kindred/pkg/prompt"
	"github.com/kindred-labs/kindred/pkg/statestore"
	"github.com/kindred-labs/kindred/pkg/tools"
	"github.com/kindred-labs/kindred/pkg/version"
)

func main() {
	agentName := flag.String("agent",
		os.Getenv("AGENT_NAME"),
		"Agent identifier (also AGENT_NAME env)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}
	config.SetupLogging()

	if *agentName == "" {
		slog.Error("Agent name is required (pass --agent or set AGENT_NAME)")
		os.Exit(1)
	}

	cfg, err := config.Load(*agentName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := slog.With("agent", cfg.AgentName)
	log.Info("Starting agent runtime", "version", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Shared secret. The gateway writes it on first boot; wait for it.
	keys := internalkey.NewSource(cfg.InternalKeyPath)
	if _, err := keys.Wait(); err != nil {
		log.Error("Internal key unavailable", "error", err)
		os.Exit(1)
	}

	// 2. Notification fabric.
	fabric := broker.New(cfg.AgentName, cfg.Queue.URL())
	if err := fabric.Connect(ctx); err != nil {
		log.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := fabric.Close(); err != nil {
			log.Error("Error closing broker connection", "error", err)
		}
	}()
	log.Info("Connected to notification fabric", "queue", fabric.QueueName())

	// 3. State store client.
	store := statestore.NewClient(cfg.APIGatewayURL, keys)

	// 4. LLM client and embeddings.
	gemini, err := llm.NewGemini(ctx, cfg.LLM.APIKey)
	if err != nil {
		log.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	embedder := llm.NewEmbeddingService(gemini, cfg.LLM.EmbeddingModel)

	// 5. Tool registry.
	sleeps := tools.NewSleepRegistry()
	registry := tools.NewRegistry()
	registry.Register(tools.NewSendUserMessageTool(cfg.AgentName, fabric))
	registry.Register(tools.NewSpeakTool(cfg.AgentName, fabric))
	registry.Register(tools.NewHangUpTool(cfg.AgentName, fabric))
	registry.Register(tools.NewSleepTool(cfg.AgentName, sleeps, fabric, store))
	registry.Register(tools.NewShutdownTool(cfg.AgentName, fabric, store))
	registry.Register(tools.NewEditSystemPromptTool(cfg.AgentName, cfg.SystemPromptPath, fabric))
	registry.Register(tools.NewViewImageTool(cfg.AgentName, fabric, fileAttachmentFetcher(cfg.AttachmentsDir)))

	// 6. System prompt resolution. Changes are mirrored into the transcript's
	// leading system row so the stored history always reflects the live prompt.
	resolver := prompt.NewResolver(cfg.AgentName, store, cfg.SystemPromptPath, registry,
		func(ctx context.Context, content string) {
			if err := store.UpdateSystemPrompt(ctx, cfg.AgentName, content); err != nil {
				log.Warn("Mirroring system prompt failed", "error", err)
			}
		})
	builder := prompt.NewBuilder(resolver, cfg.MaxConversationMessages)

	// 7. Memory modules, both optional.
	var (
		retriever agent.Retriever
		creator   agent.Creator
	)
	if cfg.Memory.CreatorEnabled || cfg.Memory.RetrieverEnabled {
		vectors, err := memory.NewWeaviateStore(cfg.WeaviateURL)
		if err != nil {
			log.Error("Failed to initialize vector store", "error", err)
			os.Exit(1)
		}
		if err := vectors.EnsureSchema(ctx); err != nil {
			log.Error("Failed to ensure vector schema", "error", err)
			os.Exit(1)
		}
		if cfg.Memory.RetrieverEnabled {
			retriever = memory.NewRetriever(cfg.AgentName, gemini, embedder, vectors, memory.RetrieverConfig{
				Enabled:        true,
				RunEveryNTurns: cfg.Memory.RetrieverRunEveryN,
				MaxIterations:  cfg.Memory.RetrieverMaxIter,
				RecentWindow:   cfg.Memory.RecentMessageWindow,
				Model:          cfg.LLM.FastModel,
			})
		}
		if cfg.Memory.CreatorEnabled {
			creator = memory.NewCreator(cfg.AgentName, gemini, embedder, vectors, store, memory.CreatorConfig{
				Enabled:        true,
				RunEveryNTurns: cfg.Memory.CreatorRunEveryNTurns,
				RecentWindow:   cfg.Memory.RecentMessageWindow,
				Model:          cfg.LLM.FastModel,
			})
		}
		log.Info("Memory modules configured",
			"creator", cfg.Memory.CreatorEnabled, "retriever", cfg.Memory.RetrieverEnabled)
	}

	// 8. Run the loop until signalled.
	loop := agent.New(agent.Config{
		AgentName:     cfg.AgentName,
		CheckInterval: cfg.CheckInterval,
		HistoryLimit:  cfg.HistoryRetrievalLimit,
		Model:         cfg.LLM.Model,
		FastModel:     cfg.LLM.FastModel,
	}, fabric, store, gemini, builder, registry, sleeps, retriever, creator)

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		log.Error("Agent loop exited", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

// fileAttachmentFetcher reads attachments from the shared volume the gateway
// writes uploads to.
func fileAttachmentFetcher(dir string) tools.AttachmentFetcher {
	return func(_ context.Context, attachmentID string) ([]byte, string, error) {
		// Attachment ids are opaque tokens; reject anything path-like.
		if attachmentID != filepath.Base(attachmentID) {
			return nil, "", os.ErrNotExist
		}
		data, err := os.ReadFile(filepath.Join(dir, attachmentID))
		if err != nil {
			return nil, "", err
		}
		return data, http.DetectContentType(data), nil
	}
}
