// Argus analysis server — provides the HTTP API, runs the analysis task
// manager, and orchestrates market data providers and MCP tool servers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/api"
	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/database"
	"github.com/quantflow/argus/pkg/events"
	"github.com/quantflow/argus/pkg/graph"
	"github.com/quantflow/argus/pkg/market"
	"github.com/quantflow/argus/pkg/masking"
	"github.com/quantflow/argus/pkg/mcp"
	"github.com/quantflow/argus/pkg/notify"
	"github.com/quantflow/argus/pkg/store"
	"github.com/quantflow/argus/pkg/tasks"
	"github.com/quantflow/argus/pkg/tools"
	"github.com/quantflow/argus/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildAdapters instantiates the enabled provider adapters. Tokens come
// from the environment via the configured variable name.
func buildAdapters(cfg *config.MarketConfig) []market.Adapter {
	var adapters []market.Adapter
	timeout := cfg.RequestTimeout

	if cfg.Tushare.Enabled {
		token := ""
		if cfg.Tushare.TokenEnv != "" {
			token = os.Getenv(cfg.Tushare.TokenEnv)
		}
		if token == "" {
			slog.Warn("Tushare token not set, adapter will report unavailable",
				"token_env", cfg.Tushare.TokenEnv)
		}
		adapters = append(adapters,
			market.NewTushareAdapter(token, cfg.Tushare.BaseURL, cfg.Tushare.RatePerMinute, timeout))
	}
	if cfg.AKShare.Enabled {
		adapters = append(adapters,
			market.NewAKShareAdapter(cfg.AKShare.BaseURL, cfg.AKShare.RatePerMinute, timeout))
	}
	if cfg.Baostock.Enabled {
		adapters = append(adapters,
			market.NewBaostockAdapter(cfg.Baostock.BaseURL, cfg.Baostock.RatePerMinute, timeout))
	}
	return adapters
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting Argus",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"llm_providers", stats.LLMProviders,
		"mcp_servers", stats.MCPServers)

	// 2. Initialize database (migrations run inside NewClient)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	taskStore := store.NewTaskStore(dbClient.DB())
	reportStore := store.NewReportStore(dbClient.DB())
	groupingStore := store.NewGroupingStore(dbClient.DB())
	quoteStore := store.NewQuoteStore(dbClient.DB())

	// 3. Provider orchestrator and name resolution
	adapters := buildAdapters(cfg.Market)
	if len(adapters) == 0 {
		slog.Warn("No market data adapters enabled, tool calls will fail over to MCP only")
	}
	orch := market.NewOrchestrator(ctx, cfg.Market, adapters, groupingStore, quoteStore)
	nameResolver := market.NewNameResolver(orch, 24*time.Hour)

	// 4. Masking service and MCP bridge
	maskingService := masking.NewService(cfg.MCPServerRegistry)

	var bridge *mcp.Bridge
	var healthMonitor *mcp.HealthMonitor
	if len(cfg.AllMCPServerIDs()) > 0 {
		bridge = mcp.NewBridge(cfg.MCPServerRegistry, cfg.MCP.ConfigFile)
		// A server that fails to dial is marked unreachable and left for
		// an operator restart; startup continues on the local toolset.
		if err := bridge.InitializeConnections(ctx); err != nil {
			slog.Warn("Some MCP servers failed to connect", "error", err)
		}
		defer func() {
			if err := bridge.Close(); err != nil {
				slog.Error("Error closing MCP bridge", "error", err)
			}
		}()

		healthMonitor = mcp.NewHealthMonitor(bridge,
			time.Duration(cfg.MCP.HealthCheckInterval)*time.Second)
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()
	} else {
		slog.Info("No MCP servers configured, external tools disabled")
	}

	// 5. Tool registry and LLM client
	var registry *tools.Registry
	if bridge != nil {
		registry = tools.NewRegistry(orch, maskingService, bridge)
	} else {
		registry = tools.NewRegistry(orch, maskingService, nil)
	}

	llmClient := agent.NewOpenAIClient()
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	// 6. Streaming infrastructure
	publisher := events.NewPublisher(dbClient.DB())
	connManager := events.NewConnectionManager(10 * time.Second)

	notifyListener := events.NewNotifyListener(dbClient.DSN(), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("Failed to start NotifyListener", "error", err)
		os.Exit(1)
	}
	defer notifyListener.Stop(ctx)
	connManager.SetListener(notifyListener)
	slog.Info("Streaming infrastructure initialized")

	// 7. Analysis engine and task manager
	agentStore := agents.NewStore(cfg.Data.AgentConfigDir)
	engine := graph.NewEngine(agentStore, llmClient, nameResolver, cfg.Data.ReportsDir)

	toolScopers := func(taskID string, preferred []string) graph.ToolScoper {
		scope := registry.ScopeToTask(taskID, preferred)
		return func(ctx context.Context, allowList []string) agent.ToolExecutor {
			return scope.Executor(ctx, allowList)
		}
	}

	notifier := notify.NewService(cfg.Slack)
	manager := tasks.NewManager(cfg, agentStore, taskStore, reportStore, engine,
		toolScopers, publisher, notifier)
	manager.Start(ctx)

	// 8. HTTP server
	httpServer := api.NewServer(cfg, dbClient, manager, agentStore, connManager)
	httpServer.SetOrchestrator(orch)
	httpServer.SetToolRegistry(registry)
	if bridge != nil {
		httpServer.SetBridge(bridge)
	}

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	addr := cfg.Server.Host + ":" + strconv.Itoa(port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Argus started successfully",
		"adapters", len(adapters),
		"max_concurrent_tasks", cfg.Tasks.MaxConcurrentTasks)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting work, drain running analyses,
	// then close the HTTP listener.
	manager.Stop()
	slog.Info("Task manager stopped")

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
