package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"redactly/internal/config"
	"redactly/internal/queue"
	"redactly/internal/storage"
	"redactly/pkg/logger"
	"redactly/pkg/model"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// transcriptFile is the on-disk submission format accepted by the ingest
// command
type transcriptFile struct {
	ExternalID string            `json:"external_id"`
	Language   string            `json:"language"`
	Utterances []model.Utterance `json:"utterances"`
	Meta       model.JSONB       `json:"meta,omitempty"`
}

func main() {
	// Load .env file first
	_ = godotenv.Load()

	// Parse command line flags
	filePath := flag.String("file", "", "Path to a transcript JSON file to submit for redaction")
	flag.Parse()

	// Initialize the logger first
	debug := true
	if err := logger.Init(debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting redactly ingest")

	if *filePath == "" {
		logger.Fatal("The -file flag is required")
		return
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
		return
	}

	// Read and validate the transcript file
	data, err := os.ReadFile(*filePath)
	if err != nil {
		logger.Fatal("Failed to read transcript file", zap.Error(err))
		return
	}

	var input transcriptFile
	if err := json.Unmarshal(data, &input); err != nil {
		logger.Fatal("Failed to parse transcript file", zap.Error(err))
		return
	}

	if len(input.Utterances) == 0 {
		logger.Fatal("Transcript file contains no utterances")
		return
	}
	if input.Language == "" {
		input.Language = cfg.PII.DefaultLocale
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

	// Connect to RabbitMQ
	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		return
	}
	defer rabbitMQ.Close()

	ctx := context.Background()
	now := time.Now()

	transcript := &model.Transcript{
		ID:         uuid.New().String(),
		ExternalID: input.ExternalID,
		Language:   input.Language,
		Utterances: input.Utterances,
		Status:     model.TranscriptStatusQueued,
		Meta:       input.Meta,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := db.CreateTranscript(ctx, transcript); err != nil {
		logger.Fatal("Failed to save transcript", zap.Error(err))
		return
	}

	task := &queue.RedactionTask{
		TranscriptID: transcript.ID,
		Language:     transcript.Language,
		Utterances:   len(transcript.Utterances),
		EnqueuedAt:   now,
	}

	if err := rabbitMQ.PublishTask(task); err != nil {
		logger.Fatal("Failed to enqueue redaction task", zap.Error(err))
		return
	}

	logger.Info("Transcript queued for redaction",
		zap.String("transcript_id", transcript.ID),
		zap.String("external_id", transcript.ExternalID),
		zap.Int("utterances", len(transcript.Utterances)))
}
