package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/solvenia/kbcore/db"
	"github.com/solvenia/kbcore/internal/api/handlers"
	"github.com/solvenia/kbcore/internal/config"
	"github.com/solvenia/kbcore/internal/database"
	"github.com/solvenia/kbcore/internal/jobs"
	"github.com/solvenia/kbcore/internal/openai"
	"github.com/solvenia/kbcore/internal/repository"
	"github.com/solvenia/kbcore/internal/server"
	"github.com/solvenia/kbcore/internal/service"
	"github.com/solvenia/kbcore/internal/telemetry"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the knowledge store API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	chunkRepo := repository.NewChunkRepository(pool)
	knowledgeSvc := service.NewKnowledgeService(chunkRepo, cfg.EmbeddingDimensions)
	authValidator := service.NewStaticKeyValidator(cfg.APIKeys)

	var embedder service.EmbeddingClient
	var sweepWorker *jobs.Worker
	if cfg.HasOpenAI() {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
		cache := service.NewQueryEmbeddingCache(client, service.CacheConfig{
			TTL:        cfg.CacheTTL,
			MaxEntries: cfg.CacheMaxEntries,
		})
		embedder = cache

		sweepWorker = jobs.NewWorker("cache-sweep", jobs.TaskFunc(cache.SweepExpired), cfg.CacheSweepInterval)
		go sweepWorker.Start(ctx)
		log.Println("cache sweep worker started")
	}

	var askHandler *handlers.AskHandler
	if embedder != nil {
		retrievalSvc := service.NewRetrievalService(chunkRepo, embedder, service.RetrievalConfig{
			Alpha:   cfg.HybridAlpha,
			TopK:    cfg.TopK,
			Timeout: cfg.QueryTimeout,
		})
		askHandler = handlers.NewAskHandler(retrievalSvc)
	} else {
		askHandler = handlers.NewAskHandler(&NoOpRetrievalService{})
	}

	routerCfg := server.RouterConfig{
		AuthValidator: authValidator,
		ChunkHandler:  handlers.NewChunkHandler(knowledgeSvc),
		AskHandler:    askHandler,
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if sweepWorker != nil {
		sweepWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// NoOpRetrievalService answers every query with an empty result set. It keeps
// the /ask route alive when no embedding provider is configured.
type NoOpRetrievalService struct{}

func (s *NoOpRetrievalService) Retrieve(ctx context.Context, query string, limit int) []*service.ChunkMatch {
	log.Println("retrieval not configured: OPENAI_API_KEY required")
	return []*service.ChunkMatch{}
}
