package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// TranscriptStatus represents the processing status of a transcript
type TranscriptStatus string

const (
	TranscriptStatusQueued     TranscriptStatus = "queued"
	TranscriptStatusInProgress TranscriptStatus = "in_progress"
	TranscriptStatusDone       TranscriptStatus = "done"
	TranscriptStatusFailed     TranscriptStatus = "failed"
)

// JSONB represents a JSONB field for PostgreSQL
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Word is a single recognized word with audio timing
type Word struct {
	Text       string `json:"text"`
	OffsetMs   int64  `json:"offset_ms"`
	DurationMs int64  `json:"duration_ms"`
}

// Utterance is one recognized phrase of a transcript. The four text fields
// are the representations produced by upstream transcription; utterances are
// immutable once ingested.
type Utterance struct {
	Turn          int    `json:"turn"`
	Channel       int    `json:"channel"`
	OffsetMs      int64  `json:"offset_ms"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Display       string `json:"display"`
	Lexical       string `json:"lexical"`
	ITN           string `json:"itn"`
	MaskedITN     string `json:"masked_itn"`
	Words         []Word `json:"words,omitempty"`
}

// CombinedTranscript is the per-channel concatenation of redacted utterance
// texts, in original turn order. Derived, never persisted independently of
// its transcript.
type CombinedTranscript struct {
	Channel int    `json:"channel"`
	Display string `json:"display"`
	Lexical string `json:"lexical"`
	ITN     string `json:"itn"`
}

// Transcript is one conversation to be redacted
type Transcript struct {
	ID         string               `json:"id" db:"id"`
	ExternalID string               `json:"external_id,omitempty" db:"external_id"`
	Language   string               `json:"language" db:"language"`
	Utterances []Utterance          `json:"utterances" db:"utterances"`
	Status     TranscriptStatus     `json:"status" db:"status"`
	JobIDs     []string             `json:"job_ids,omitempty" db:"job_ids"`
	Attempts   int                  `json:"attempts" db:"attempts"`
	ErrorText  *string              `json:"error_text,omitempty" db:"error_text"`
	Meta       JSONB                `json:"meta" db:"meta"`
	CreatedAt  time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at" db:"updated_at"`
	Combined   []CombinedTranscript `json:"combined,omitempty" db:"-"`
}

// Redaction is the stored result for one channel of a transcript
type Redaction struct {
	ID           string          `json:"id" db:"id"`
	TranscriptID string          `json:"transcript_id" db:"transcript_id"`
	Channel      int             `json:"channel" db:"channel"`
	Display      string          `json:"display" db:"display_text"`
	Lexical      string          `json:"lexical" db:"lexical_text"`
	ITN          string          `json:"itn" db:"itn_text"`
	RawResponse  json.RawMessage `json:"raw_response,omitempty" db:"raw_response"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// IsCompleted returns true if the transcript is in a final state
func (t *Transcript) IsCompleted() bool {
	return t.Status == TranscriptStatusDone || t.Status == TranscriptStatusFailed
}

// CanRetry returns true if the transcript can be re-processed
func (t *Transcript) CanRetry() bool {
	return t.Status == TranscriptStatusFailed && t.Attempts < 3
}

// IncrementAttempts increases the attempt counter
func (t *Transcript) IncrementAttempts() {
	t.Attempts++
}

// SetError sets the transcript status to failed with error message
func (t *Transcript) SetError(errorText string) {
	t.Status = TranscriptStatusFailed
	t.ErrorText = &errorText
	t.UpdatedAt = time.Now()
}

// SetCompleted sets the transcript status to done
func (t *Transcript) SetCompleted() {
	t.Status = TranscriptStatusDone
	t.UpdatedAt = time.Now()
}

// SetInProgress marks the transcript as being processed, recording the
// analysis job ids once they are known
func (t *Transcript) SetInProgress(jobIDs []string) {
	t.Status = TranscriptStatusInProgress
	t.JobIDs = jobIDs
	t.UpdatedAt = time.Now()
}
