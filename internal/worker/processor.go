package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"redactly/internal/pii"
	"redactly/internal/queue"
	"redactly/pkg/cache"
	"redactly/pkg/logger"
	"redactly/pkg/model"
	"redactly/pkg/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Storage is the slice of transcript persistence the processor needs
type Storage interface {
	GetTranscriptByID(ctx context.Context, id string) (*model.Transcript, error)
	UpdateTranscript(ctx context.Context, t *model.Transcript) error
	CreateRedaction(ctx context.Context, r *model.Redaction) error
}

// Exporter uploads redacted-transcript exports to object storage
type Exporter interface {
	UploadExport(ctx context.Context, key string, body io.Reader) (string, error)
	GenerateExportKey(transcriptID string) string
}

// Redactor drives the submit/poll/fetch pipeline for one transcript
type Redactor interface {
	Submit(ctx context.Context, t *model.Transcript) (*pii.Submission, error)
	PollCompleted(ctx context.Context, jobIDs []string) (bool, error)
	FetchResults(ctx context.Context, jobIDs []string) (*pii.Results, error)
}

type Processor struct {
	db       Storage
	s3       Exporter
	redactor Redactor
	cache    cache.Cache

	pollInterval time.Duration
	maxWait      time.Duration
	retry        *resilience.RetryConfig
}

// NewProcessor creates a new worker processor. Only throttling responses are
// retried; every other failure is terminal for the attempt.
func NewProcessor(
	db Storage,
	s3 Exporter,
	redactor Redactor,
	redisCache cache.Cache,
	pollInterval time.Duration,
	maxWait time.Duration,
) *Processor {
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = pii.IsThrottled

	return &Processor{
		db:           db,
		s3:           s3,
		redactor:     redactor,
		cache:        redisCache,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		retry:        retry,
	}
}

// ProcessTask processes one redaction task from the queue
func (p *Processor) ProcessTask(taskData []byte) error {
	var task queue.RedactionTask
	if err := json.Unmarshal(taskData, &task); err != nil {
		return fmt.Errorf("failed to unmarshal task: %w", err)
	}

	logger.Info("Processing redaction task",
		zap.String("transcript_id", task.TranscriptID),
		zap.Int("utterances", task.Utterances))

	ctx := context.Background()

	transcript, err := p.db.GetTranscriptByID(ctx, task.TranscriptID)
	if err != nil {
		return fmt.Errorf("failed to get transcript from db: %w", err)
	}

	transcript.Status = model.TranscriptStatusInProgress
	transcript.UpdatedAt = time.Now()
	if err := p.db.UpdateTranscript(ctx, transcript); err != nil {
		logger.Error("Failed to update transcript status", zap.Error(err))
	}

	// Submit analysis jobs, retrying only while the service throttles us
	var submission *pii.Submission
	err = resilience.Retry(ctx, p.retry, func() error {
		s, err := p.redactor.Submit(ctx, transcript)
		if err != nil {
			return err
		}
		submission = s
		return nil
	})
	if err != nil {
		p.handleTaskError(ctx, transcript, fmt.Sprintf("Failed to submit analysis jobs: %v", err))
		return err
	}

	for _, msg := range submission.Errors {
		logger.Warn("Batch submission error",
			zap.String("transcript_id", transcript.ID),
			zap.String("error", msg))
	}

	if len(submission.JobIDs) == 0 {
		errMsg := "no analysis jobs submitted"
		if len(submission.Errors) > 0 {
			errMsg = strings.Join(submission.Errors, "; ")
		}
		p.handleTaskError(ctx, transcript, errMsg)
		return fmt.Errorf("no analysis jobs submitted")
	}

	transcript.SetInProgress(submission.JobIDs)
	if err := p.db.UpdateTranscript(ctx, transcript); err != nil {
		logger.Error("Failed to record job ids", zap.Error(err))
	}

	// Keep the in-flight job set around so an interrupted worker can resume
	if err := p.cache.SetWithTTL(ctx, cache.JobSetCacheKey(transcript.ID), submission.JobIDs, 24*time.Hour); err != nil {
		logger.Error("Failed to cache job ids", zap.Error(err))
	}

	logger.Info("Analysis jobs submitted",
		zap.String("transcript_id", transcript.ID),
		zap.Strings("job_ids", submission.JobIDs))

	if err := p.waitForCompletion(ctx, transcript, submission.JobIDs); err != nil {
		p.handleTaskError(ctx, transcript, fmt.Sprintf("Polling failed: %v", err))
		return err
	}

	// Fetch results and attach combined transcripts
	var results *pii.Results
	err = resilience.Retry(ctx, p.retry, func() error {
		r, err := p.redactor.FetchResults(ctx, submission.JobIDs)
		if err != nil {
			return err
		}
		results = r
		return nil
	})
	if err != nil {
		p.handleTaskError(ctx, transcript, fmt.Sprintf("Failed to fetch results: %v", err))
		return err
	}
	if len(results.Errors) > 0 {
		errMsg := strings.Join(results.Errors, "; ")
		p.handleTaskError(ctx, transcript, errMsg)
		return fmt.Errorf("aggregation failed: %s", errMsg)
	}

	for _, warning := range results.Warnings {
		logger.Warn("Redaction warning",
			zap.String("transcript_id", transcript.ID),
			zap.String("warning", warning))
	}

	transcript.Combined = results.Combined

	if err := p.persistResults(ctx, transcript); err != nil {
		p.handleTaskError(ctx, transcript, fmt.Sprintf("Failed to persist results: %v", err))
		return err
	}

	transcript.SetCompleted()
	if err := p.db.UpdateTranscript(ctx, transcript); err != nil {
		logger.Error("Failed to update transcript status to done", zap.Error(err))
	}

	// Completed snapshot for read-side status lookups
	if err := p.cache.SetWithTTL(ctx, cache.TranscriptCacheKey(transcript.ID), transcript, 24*time.Hour); err != nil {
		logger.Error("Failed to cache transcript", zap.Error(err))
	}

	if err := p.cache.Delete(ctx, cache.JobSetCacheKey(transcript.ID)); err != nil {
		logger.Error("Failed to clear cached job ids", zap.Error(err))
	}

	logger.Info("Redaction task completed successfully",
		zap.String("transcript_id", transcript.ID),
		zap.Int("channels", len(transcript.Combined)))

	return nil
}

// waitForCompletion polls until every job is terminal or maxWait elapses
func (p *Processor) waitForCompletion(ctx context.Context, transcript *model.Transcript, jobIDs []string) error {
	deadline := time.Now().Add(p.maxWait)

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("analysis jobs did not complete within %s", p.maxWait)
		}

		var done bool
		err := resilience.Retry(ctx, p.retry, func() error {
			d, err := p.redactor.PollCompleted(ctx, jobIDs)
			if err != nil {
				return err
			}
			done = d
			return nil
		})
		if err != nil {
			return err
		}

		if done {
			return nil
		}

		logger.Debug("Analysis jobs in progress",
			zap.String("transcript_id", transcript.ID),
			zap.Int("jobs", len(jobIDs)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// persistResults stores per-channel redactions, uploads the export and
// caches the combined transcripts
func (p *Processor) persistResults(ctx context.Context, transcript *model.Transcript) error {
	raw, err := json.Marshal(transcript.Combined)
	if err != nil {
		return fmt.Errorf("failed to marshal combined transcripts: %w", err)
	}

	for _, combined := range transcript.Combined {
		redaction := &model.Redaction{
			ID:           uuid.New().String(),
			TranscriptID: transcript.ID,
			Channel:      combined.Channel,
			Display:      combined.Display,
			Lexical:      combined.Lexical,
			ITN:          combined.ITN,
			RawResponse:  raw,
			CreatedAt:    time.Now(),
		}
		if err := p.db.CreateRedaction(ctx, redaction); err != nil {
			return fmt.Errorf("failed to save redaction for channel %d: %w", combined.Channel, err)
		}
	}

	key := p.s3.GenerateExportKey(transcript.ID)
	if _, err := p.s3.UploadExport(ctx, key, bytes.NewReader(raw)); err != nil {
		// export is best-effort; the database copy is authoritative
		logger.Error("Failed to upload export", zap.Error(err))
	}

	if err := p.cache.SetWithTTL(ctx, cache.RedactionCacheKey(transcript.ID), transcript.Combined, 24*time.Hour); err != nil {
		logger.Error("Failed to cache redaction", zap.Error(err))
	}

	return nil
}

// handleTaskError handles a failed redaction attempt
func (p *Processor) handleTaskError(ctx context.Context, transcript *model.Transcript, errorMsg string) {
	logger.Error("Redaction task error",
		zap.String("transcript_id", transcript.ID),
		zap.String("error", errorMsg))

	transcript.SetError(errorMsg)
	transcript.IncrementAttempts()

	if err := p.db.UpdateTranscript(ctx, transcript); err != nil {
		logger.Error("Failed to update transcript error", zap.Error(err))
	}
}
