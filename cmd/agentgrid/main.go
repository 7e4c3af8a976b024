// Package main is the unified entry point for Agentgrid. A single binary
// runs the REST API, the SSE bridge, the task runner, the training consumer,
// the workflow orchestrators, and the embedded MCP gateway server over
// shared infrastructure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/api"
	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/cache"
	"github.com/agentgrid/agentgrid/internal/cleanup"
	"github.com/agentgrid/agentgrid/internal/common/config"
	"github.com/agentgrid/agentgrid/internal/common/httpmw"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/events"
	"github.com/agentgrid/agentgrid/internal/llm"
	"github.com/agentgrid/agentgrid/internal/mcpserver"
	"github.com/agentgrid/agentgrid/internal/orchestrator/docgen"
	"github.com/agentgrid/agentgrid/internal/orchestrator/evaluation"
	"github.com/agentgrid/agentgrid/internal/orchestrator/toolmeta"
	"github.com/agentgrid/agentgrid/internal/provider"
	"github.com/agentgrid/agentgrid/internal/runner"
	"github.com/agentgrid/agentgrid/internal/sse"
	"github.com/agentgrid/agentgrid/internal/store"
	"github.com/agentgrid/agentgrid/internal/training"
	"github.com/agentgrid/agentgrid/internal/upload"
	"github.com/agentgrid/agentgrid/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting Agentgrid (unified mode)...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: NATS when configured, in-memory otherwise.
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer func() { _ = busCleanup() }()
	eventBus := provided.Bus
	if provided.NATS != nil {
		log.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
		defer provided.Memory.Close()
	}

	// Document store: Postgres when configured, in-memory otherwise.
	var st store.Store
	if cfg.Database.Host != "" {
		log.Info("Connecting to Postgres...",
			zap.String("host", cfg.Database.Host),
			zap.String("db", cfg.Database.DBName))
		pg, err := store.NewPostgresStore(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer func() { _ = pg.Close() }()
		st = pg
	} else {
		log.Info("Using in-memory document store")
		st = store.NewMemoryStore()
	}

	// Session cache: Redis when configured, in-memory otherwise.
	var sessionCache cache.SessionCache
	if cfg.Redis.Addr != "" {
		log.Info("Connecting to Redis...", zap.String("addr", cfg.Redis.Addr))
		rc, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() { _ = rc.Close() }()
		sessionCache = rc
	} else {
		log.Info("Using in-memory session cache")
		sessionCache = cache.NewMemoryCache()
	}

	// Artifact store: MinIO/S3 when configured, in-memory otherwise.
	var artifacts artifact.Store
	if cfg.Artifact.Endpoint != "" {
		log.Info("Connecting to artifact store...",
			zap.String("endpoint", cfg.Artifact.Endpoint),
			zap.String("bucket", cfg.Artifact.Bucket))
		ms, err := artifact.NewMinioStore(ctx, cfg.Artifact)
		if err != nil {
			log.Fatal("Failed to connect to artifact store", zap.Error(err))
		}
		artifacts = ms
	} else {
		log.Info("Using in-memory artifact store")
		artifacts = artifact.NewMemoryStore(cfg.Artifact.Bucket)
	}

	disp := dispatcher.NewService(st, eventBus, log)

	// LLM client. Without an API key runs fail fast with an explicit reason
	// instead of refusing to start; every other surface stays usable.
	var llmClient llm.Client
	if cfg.LLM.APIKey != "" {
		llmClient, err = llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.DefaultModel, cfg.LLM.MaxTurns, log)
		if err != nil {
			log.Fatal("Failed to initialize LLM client", zap.Error(err))
		}
	} else {
		log.Warn("ANTHROPIC_API_KEY is not set - task execution is disabled")
		llmClient = llm.NewFakeClient(llm.Script{Error: "llm is not configured: set ANTHROPIC_API_KEY"})
	}

	workspaces := workspace.NewManager(cfg.Workspace)
	runnerSvc := runner.NewService(st, sessionCache, artifacts, llmClient, workspaces,
		cfg.LLM, cfg.Redis.SessionTTLDuration(), log)

	// Data-source providers are advertised to runs as a query tool.
	providers, err := provider.NewRegistry(provider.StoreCredentialFetcher(st), 0, log)
	if err != nil {
		log.Fatal("Failed to initialize provider registry", zap.Error(err))
	}
	defer providers.Cleanup()
	runnerSvc.SetToolBinder(func(projectID string) llm.ToolExecutor {
		return runner.NewDataSourceTools(providers, projectID)
	})

	runnerConsumer := runner.NewConsumer(runnerSvc, eventBus)
	if err := runnerConsumer.Start(); err != nil {
		log.Fatal("Failed to start runner consumer", zap.Error(err))
	}
	defer func() { _ = runnerConsumer.Stop() }()

	evalOrch := evaluation.New(st, disp, log)
	docOrch := docgen.New(st, disp, artifacts, cfg.Docs.ProjectID, log)
	toolOrch := toolmeta.New(st, disp, cfg.MCP, log)

	trainingConsumer := training.NewConsumer(st, eventBus, nil, docOrch, log)
	if err := trainingConsumer.Start(); err != nil {
		log.Fatal("Failed to start training consumer", zap.Error(err))
	}
	defer func() { _ = trainingConsumer.Stop() }()

	// Janitor: republish assistant tasks whose dispatch was lost.
	go sweepQueuedTasks(ctx, st, disp, log)

	cleanupSvc := cleanup.NewService(st, artifacts, log)
	uploadSvc := upload.NewService(st, artifacts, cfg.Upload, log)
	bridge := sse.NewBridge(st, runnerSvc, log)

	// Embedded MCP gateway server.
	var mcpSrv *mcpserver.Server
	var gatewayInv api.ToolCacheInvalidator
	if cfg.MCP.ServerEnabled {
		mcpSrv = mcpserver.New(mcpserver.Config{
			Port:        cfg.MCP.ServerPort,
			CallTimeout: cfg.MCP.Timeout(),
		}, st, disp, log)
		if err := mcpSrv.Start(ctx); err != nil {
			log.Fatal("Failed to start MCP gateway server", zap.Error(err))
		}
		gatewayInv = mcpSrv
		base := cfg.MCP.BaseURL
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", cfg.MCP.ServerPort)
		}
		runnerSvc.SetGatewayBaseURL(base)
		log.Info("MCP gateway server listening", zap.Int("port", cfg.MCP.ServerPort))
	}

	// HTTP server (REST + SSE).
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "agentgrid"))
	router.Use(corsMiddleware())

	handlers := api.New(st, disp, artifacts, cleanupSvc, uploadSvc, evalOrch, docOrch, toolOrch, gatewayInv, log)
	handlers.RegisterRoutes(router)
	bridge.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "agentgrid",
		})
	})

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeoutDuration(),
		// No write timeout: SSE streams stay open past any fixed deadline.
	}
	go func() {
		log.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Agentgrid...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			log.Error("MCP gateway server shutdown error", zap.Error(err))
		}
	}

	log.Info("Agentgrid stopped")
}

// sweepQueuedTasks periodically republishes assistant tasks that stayed
// queued past the redelivery window.
func sweepQueuedTasks(ctx context.Context, st store.Store, disp *dispatcher.Service, log *logger.Logger) {
	const (
		sweepInterval = time.Minute
		sweepMinAge   = 2 * time.Minute
	)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		projects, err := st.ListProjects(ctx, "")
		if err != nil {
			log.Warn("Queued-task sweep failed to list projects", zap.Error(err))
			continue
		}
		for _, p := range projects {
			n, err := disp.SweepQueued(ctx, p.ID, sweepMinAge)
			if err != nil {
				log.Warn("Queued-task sweep failed",
					zap.String("project_id", p.ID), zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("Republished stale queued tasks",
					zap.String("project_id", p.ID), zap.Int("count", n))
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Accept, Cache-Control, Last-Event-ID")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
