package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"caseanalysis-backend/config"
	"caseanalysis-backend/events"
	"caseanalysis-backend/handlers"
	"caseanalysis-backend/logger"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"
	"caseanalysis-backend/service"
	"caseanalysis-backend/storage"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/option"
)

func main() {
	cfg := config.Load()

	appLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer appLogger.Sync()

	// Initialize the store
	var (
		store      repository.Store
		references service.ReferenceSource
	)
	if cfg.Database.Backend == "memory" {
		store = repository.NewMemoryStore()
		log.Println("Using in-memory store; data is lost on restart")
	} else {
		db, err := initPostgres(cfg.Database.URL)
		if err != nil {
			log.Fatal("Failed to initialize Postgres:", err)
		}
		defer db.Close()
		store = repository.NewPostgresStore(db)
		references = repository.NewLegalReferenceRepository(db)
	}

	// Initialize storage
	fileStorage, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Println("Storage initialized")

	// Initialize the event bus and optional NATS forwarding
	bus := events.NewBus(watermill.NewStdLogger(false, false))
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Events.NatsURL != "" {
		forwarder, err := events.NewNATSForwarder(cfg.Events.NatsURL)
		if err != nil {
			log.Printf("Warning: NATS forwarding disabled: %v", err)
		} else {
			defer forwarder.Close()
			if err := forwarder.Forward(ctx, bus); err != nil {
				log.Printf("Warning: NATS forwarding disabled: %v", err)
			}
		}
	}

	// Initialize Gemini client
	geminiClient, err := initGemini(cfg.Gemini.APIKey)
	if err != nil {
		log.Fatal("Failed to initialize Gemini:", err)
	}
	defer geminiClient.Close()

	invoker := service.NewGeminiInvoker(geminiClient,
		service.GeminiWithModel(cfg.Gemini.Model),
		service.GeminiWithTemperature(cfg.Gemini.Temperature),
		service.GeminiWithRetries(cfg.Analysis.MaxRetries, cfg.Analysis.InitialBackoff),
		service.GeminiWithLogger(appLogger),
	)

	// Initialize services
	caseService := service.NewCaseService(
		service.WithCaseStore(store),
		service.WithFileStore(store),
		service.WithStorage(fileStorage),
		service.WithLogger(appLogger),
	)

	orchestratorOpts := []service.OrchestratorOption{
		service.OrchestratorWithEvents(bus),
		service.OrchestratorWithLogger(appLogger),
	}
	if references != nil {
		orchestratorOpts = append(orchestratorOpts, service.OrchestratorWithReferences(references))
	}
	if cfg.Analysis.ArchiveReports {
		orchestratorOpts = append(orchestratorOpts, service.OrchestratorWithArchive(fileStorage))
	}
	orchestrator := service.NewOrchestrator(models.DefaultCatalog(), store, invoker, service.OrchestratorConfig{
		RunTimeout:     cfg.Analysis.RunTimeout,
		Quorum:         cfg.Analysis.Quorum,
		ReferenceLimit: cfg.Analysis.ReferenceLimit,
	}, orchestratorOpts...)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterRoutes(r,
		handlers.NewCaseHandler(caseService),
		handlers.NewFileHandler(caseService),
		handlers.NewAnalysisHandler(orchestrator, caseService),
	)

	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: r,
	}

	go func() {
		appLogger.Info("server", "server starting", map[string]interface{}{"port": cfg.App.Port})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("server", "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server", "graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

func initPostgres(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	log.Println("Postgres connection established")
	return pool, nil
}

func initGemini(apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	log.Println("Gemini client initialized")
	return client, nil
}
