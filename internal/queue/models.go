package queue

import "time"

// RedactionTask asks a worker to run PII redaction for a stored transcript
type RedactionTask struct {
	TranscriptID string    `json:"transcript_id"`
	Language     string    `json:"language"`
	Utterances   int       `json:"utterances"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
