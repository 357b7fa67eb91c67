package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"multichat/catalog"
	"multichat/chat"
	"multichat/chatapi"
	"multichat/config"
	"multichat/dispatch"
	"multichat/llmclient"
	"multichat/web"
	"multichat/web/handlers"
	"multichat/web/services"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// Initialize logger with default level to load config
	tempLogger, err := config.InitLogger("info", config.LogFormatConsole)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Load config (which includes log level setting)
	cfg := config.Load(tempLogger)

	// Re-initialize logger with configured level
	logger, err := config.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Printf("Failed to re-initialize logger with configured level: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()

	cat := catalog.New(modelDescriptors(cfg.Models))
	logger.Info("Model catalog loaded",
		zap.Int("models", len(cat.Models())),
		zap.String("default", cat.Default().ID))

	// Backend endpoint served by this process
	var completer handlers.Completer
	if cfg.BackendMode == config.BackendModeUpstream {
		if cfg.UpstreamLLMHost == "" {
			logger.Fatal("BACKEND_MODE=upstream requires UPSTREAM_LLM_HOST")
		}
		completer = llmclient.New(cfg, logger)
	}
	backend := handlers.NewBackendHandler(cfg.BackendMode, completer, logger)
	logger.Info("Chat backend configured", zap.String("mode", backend.Mode()))

	// Client side: one controller per workspace, all talking to CHAT_ENDPOINT
	chatClient := chatapi.New(cfg.ChatEndpoint, logger)
	factory := func(store *chat.Store) *dispatch.Controller {
		return dispatch.NewController(store, cat, chatClient, logger, cfg.RequestTimeout)
	}
	workspaces, err := services.NewWorkspaceService(cfg.MaxWorkspaces, factory, logger)
	if err != nil {
		logger.Fatal("Failed to create workspace registry", zap.Error(err))
	}

	// Create context that listens for interrupt signals
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cleanupService := web.NewCleanupService(workspaces, logger)
	go web.StartWorkspaceCleanup(ctx, cfg, cleanupService, logger)

	webServer, err := web.NewServer(cfg, cat, workspaces, backend, logger)
	if err != nil {
		logger.Fatal("Failed to initialize web server", zap.Error(err))
	}

	port := fmt.Sprintf(":%d", cfg.WebPort)
	logger.Info("Starting multichat web server",
		zap.String("port", port),
		zap.String("chat_endpoint", cfg.ChatEndpoint))
	if err := webServer.Start(ctx, port); err != nil {
		logger.Error("Web server error", zap.Error(err))
		os.Exit(1)
	}
}

func modelDescriptors(models []config.ModelConfig) []catalog.ModelDescriptor {
	out := make([]catalog.ModelDescriptor, 0, len(models))
	for _, m := range models {
		out = append(out, catalog.ModelDescriptor{ID: m.ID, Label: m.Label, SupportsImage: m.SupportsImage})
	}
	return out
}
