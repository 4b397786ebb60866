// Command federator runs the polyglot query federation service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polyfed/federator/ai/gemini"
	"github.com/polyfed/federator/catalog"
	"github.com/polyfed/federator/core"
	"github.com/polyfed/federator/orchestration"
	"github.com/polyfed/federator/server"
	"github.com/polyfed/federator/telemetry"
)

func main() {
	logger := core.NewProductionLogger("federator")

	cfg, err := core.NewConfig()
	if err != nil {
		logger.Error("Configuration invalid", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
		os.Exit(1)
	}

	ctx := context.Background()

	var registry core.SourceRegistry
	if cfg.RedisURL != "" {
		redisRegistry, err := core.NewRedisRegistry(cfg.RedisURL)
		if err != nil {
			logger.Error("Redis registry unavailable, falling back to in-memory", map[string]interface{}{
				"operation": "startup",
				"error":     err.Error(),
			})
			registry = core.NewMemoryRegistry()
		} else {
			defer func() {
				_ = redisRegistry.Close()
			}()
			registry = redisRegistry
		}
	} else {
		registry = core.NewMemoryRegistry()
	}

	for _, manifest := range cfg.Manifests() {
		if _, ok := registry.Get(ctx, manifest.ID); ok {
			continue
		}
		if err := registry.Register(ctx, manifest); err != nil {
			logger.Error("Source registration failed", map[string]interface{}{
				"operation": "startup",
				"source_id": manifest.ID,
				"error":     err.Error(),
			})
			os.Exit(1)
		}
	}

	dispatcher := core.NewToolDispatcher(registry)
	dispatcher.SetLogger(logger)

	cat := catalog.NewSchemaCatalog(registry, dispatcher)
	cat.SetLogger(logger)

	var aiClient core.AIClient
	if cfg.LLM.APIKey != "" {
		client := gemini.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
		client.SetLogger(logger)
		aiClient = client
	} else {
		logger.Warn("No LLM API key configured, planner will use heuristic fallback only", map[string]interface{}{
			"operation": "startup",
		})
	}

	planner := orchestration.NewPlanner(registry, cat, aiClient)
	executor := orchestration.NewExecutor(dispatcher, cat)
	fuser := orchestration.NewFuser()

	orchestrator := orchestration.NewOrchestrator(planner, executor, fuser)
	orchestrator.SetLogger(logger)

	if cfg.TelemetryEnabled {
		provider, err := telemetry.NewOTelProvider(cfg.ServiceName)
		if err != nil {
			logger.Warn("Telemetry initialization failed, continuing without traces", map[string]interface{}{
				"operation": "startup",
				"error":     err.Error(),
			})
		} else {
			orchestrator.SetTelemetry(provider)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = provider.Shutdown(shutdownCtx)
			}()
		}
	}

	srv := server.New(cfg.Port, orchestrator, cat)
	srv.SetLogger(logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("Server stopped", map[string]interface{}{
			"operation": "shutdown",
			"error":     err.Error(),
		})
		os.Exit(1)
	case sig := <-sigCh:
		logger.Info("Shutting down", map[string]interface{}{
			"operation": "shutdown",
			"signal":    sig.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", map[string]interface{}{
				"operation": "shutdown",
				"error":     err.Error(),
			})
		}
	}
}
