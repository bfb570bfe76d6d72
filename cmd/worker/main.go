package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"redactly/internal/config"
	"redactly/internal/language"
	"redactly/internal/pii"
	"redactly/internal/queue"
	"redactly/internal/storage"
	"redactly/internal/worker"
	"redactly/pkg/cache"
	"redactly/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Initialize logger
	debug := true
	if err := logger.Init(debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting redactly worker service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
		return
	}

	// Connect to database
	databaseURL := cfg.Postgres.DSN
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("Postgres DSN is required (config postgres.dsn or DATABASE_URL)")
		return
	}

	db, err := storage.NewPostgresStorage(databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
		return
	}
	defer db.Close()

	// Initialize S3 storage for redacted-transcript exports
	s3Storage, err := storage.NewS3Storage(
		cfg.S3.Endpoint,
		cfg.S3.AccessKey,
		cfg.S3.SecretKey,
		cfg.S3.Bucket,
		cfg.S3.Region,
	)
	if err != nil {
		logger.Fatal("Failed to initialize S3 storage", zap.Error(err))
		return
	}

	// Initialize the conversation analysis client and redaction provider
	languageClient := language.NewClient(cfg.Language.Endpoint, cfg.Language.APIKey, cfg.Language.APIVersion)

	provider := pii.NewProvider(languageClient, pii.Config{
		DefaultLocale:         cfg.PII.DefaultLocale,
		Categories:            cfg.PII.Categories,
		Source:                pii.ParseSource(cfg.PII.RedactionSource),
		MaxChunkSize:          cfg.PII.MaxChunkSize,
		IncludeAudioRedaction: cfg.PII.IncludeAudioRedaction,
		RequestTimeout:        cfg.Worker.RequestTimeout,
	})

	logger.Info("Redaction provider initialized",
		zap.String("endpoint", cfg.Language.Endpoint),
		zap.Int("max_chunk_size", cfg.PII.MaxChunkSize))

	// Initialize Redis cache
	redisCache, err := cache.NewRedisCache(
		cfg.Redis.Addr,
		cfg.Redis.Password,
		cfg.Redis.DB,
		24*time.Hour, // Default TTL 24 hours
	)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
		return
	}
	defer redisCache.Close()

	logger.Info("Redis cache connection established")

	// Connect to RabbitMQ
	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		return
	}
	defer rabbitMQ.Close()

	// Create processor
	processor := worker.NewProcessor(
		db,
		s3Storage,
		provider,
		redisCache,
		cfg.Worker.PollInterval,
		cfg.Worker.MaxWait,
	)

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start consumers; each transcript blocks its consumer while its jobs
	// run, so concurrency bounds the number of in-flight transcripts
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go func(n int) {
			logger.Info("Starting consumer", zap.Int("consumer", n))
			if err := rabbitMQ.Consume(queue.QueueNameRedaction, processor.ProcessTask); err != nil {
				logger.Error("Failed to consume messages", zap.Error(err))
				cancel()
			}
		}(i)
	}

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Worker service shutdown complete")
}
