package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"

	"redactly/pkg/logger"
	"redactly/pkg/model"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

type PostgresStorage struct {
	pool *pgxpool.Pool
}

// New PostgreSQL storage instance
func NewPostgresStorage(databaseURL string) (*PostgresStorage, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")

	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database migrations completed successfully")

	return &PostgresStorage{pool: pool}, nil
}

// Executing database migrations
func runMigrations(databaseURL string) error {
	migrationsPath, err := filepath.Abs("migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Create file URL from path (works on both Windows and Unix)
	var migrationsURL string
	if runtime.GOOS == "windows" {
		u := &url.URL{
			Scheme: "file",
			Path:   filepath.ToSlash(migrationsPath),
		}
		migrationsURL = u.String()
	} else {
		migrationsURL = fmt.Sprintf("file://%s", migrationsPath)
	}

	logger.Info("Running migrations", zap.String("path", migrationsURL))

	db := stdlib.OpenDB(*parseConfig(databaseURL))
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		migrationsURL,
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err == migrate.ErrNoChange {
		logger.Info("No new migrations to apply")
	} else {
		logger.Info("Migrations applied successfully")
	}

	return nil
}

// Parses database URL into pgx config
func parseConfig(databaseURL string) *pgx.ConnConfig {
	config, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		logger.Fatal("Failed to parse database URL", zap.Error(err))
	}
	return config
}

// Closes the database connection pool
func (s *PostgresStorage) Close() {
	s.pool.Close()
}

// CreateTranscript inserts a new transcript into the database
func (s *PostgresStorage) CreateTranscript(ctx context.Context, t *model.Transcript) error {
	utterances, err := json.Marshal(t.Utterances)
	if err != nil {
		return fmt.Errorf("failed to marshal utterances: %w", err)
	}

	query := `
		INSERT INTO transcripts (
			id, external_id, language, utterances, status,
			job_ids, attempts, error_text, meta, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err = s.pool.Exec(ctx, query,
		t.ID,
		t.ExternalID,
		t.Language,
		utterances,
		t.Status,
		t.JobIDs,
		t.Attempts,
		t.ErrorText,
		t.Meta,
		t.CreatedAt,
		t.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}

	return nil
}

// GetTranscriptByID retrieves a transcript by its ID
func (s *PostgresStorage) GetTranscriptByID(ctx context.Context, id string) (*model.Transcript, error) {
	query := `
		SELECT id, external_id, language, utterances, status,
		       job_ids, attempts, error_text, meta, created_at, updated_at
		FROM transcripts
		WHERE id = $1`

	var t model.Transcript
	var utterances []byte
	row := s.pool.QueryRow(ctx, query, id)

	err := row.Scan(
		&t.ID,
		&t.ExternalID,
		&t.Language,
		&utterances,
		&t.Status,
		&t.JobIDs,
		&t.Attempts,
		&t.ErrorText,
		&t.Meta,
		&t.CreatedAt,
		&t.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("transcript not found")
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	if err := json.Unmarshal(utterances, &t.Utterances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal utterances: %w", err)
	}

	return &t, nil
}

// UpdateTranscript updates a transcript's mutable fields
func (s *PostgresStorage) UpdateTranscript(ctx context.Context, t *model.Transcript) error {
	query := `
		UPDATE transcripts
		SET status = $2, job_ids = $3, attempts = $4, error_text = $5,
		    meta = $6, updated_at = $7
		WHERE id = $1`

	result, err := s.pool.Exec(ctx, query,
		t.ID,
		t.Status,
		t.JobIDs,
		t.Attempts,
		t.ErrorText,
		t.Meta,
		t.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update transcript: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("transcript not found")
	}

	return nil
}

// GetQueuedTranscripts retrieves transcripts waiting for processing
func (s *PostgresStorage) GetQueuedTranscripts(ctx context.Context, limit int) ([]*model.Transcript, error) {
	query := `
		SELECT id, external_id, language, utterances, status,
		       job_ids, attempts, error_text, meta, created_at, updated_at
		FROM transcripts
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, model.TranscriptStatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []*model.Transcript
	for rows.Next() {
		var t model.Transcript
		var utterances []byte
		err := rows.Scan(
			&t.ID,
			&t.ExternalID,
			&t.Language,
			&utterances,
			&t.Status,
			&t.JobIDs,
			&t.Attempts,
			&t.ErrorText,
			&t.Meta,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		if err := json.Unmarshal(utterances, &t.Utterances); err != nil {
			return nil, fmt.Errorf("failed to unmarshal utterances: %w", err)
		}
		transcripts = append(transcripts, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcripts: %w", err)
	}

	return transcripts, nil
}

// CreateRedaction inserts a redaction result for one channel
func (s *PostgresStorage) CreateRedaction(ctx context.Context, r *model.Redaction) error {
	query := `
		INSERT INTO redactions (id, transcript_id, channel, display_text, lexical_text, itn_text, raw_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.TranscriptID,
		r.Channel,
		r.Display,
		r.Lexical,
		r.ITN,
		r.RawResponse,
		r.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create redaction: %w", err)
	}

	return nil
}

// GetRedactionsByTranscriptID retrieves all channel redactions for a transcript
func (s *PostgresStorage) GetRedactionsByTranscriptID(ctx context.Context, transcriptID string) ([]*model.Redaction, error) {
	query := `
		SELECT id, transcript_id, channel, display_text, lexical_text, itn_text, raw_response, created_at
		FROM redactions
		WHERE transcript_id = $1
		ORDER BY channel ASC`

	rows, err := s.pool.Query(ctx, query, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get redactions: %w", err)
	}
	defer rows.Close()

	var redactions []*model.Redaction
	for rows.Next() {
		var r model.Redaction
		err := rows.Scan(
			&r.ID,
			&r.TranscriptID,
			&r.Channel,
			&r.Display,
			&r.Lexical,
			&r.ITN,
			&r.RawResponse,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan redaction: %w", err)
		}
		redactions = append(redactions, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate redactions: %w", err)
	}

	return redactions, nil
}
