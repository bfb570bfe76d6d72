package language

import "encoding/json"

// AnalyzeRequest represents a request to start an analyze-conversations job
type AnalyzeRequest struct {
	DisplayName   string         `json:"displayName"`
	AnalysisInput AnalysisInput  `json:"analysisInput"`
	Tasks         []AnalysisTask `json:"tasks"`
}

// AnalysisInput wraps the conversations submitted with one job
type AnalysisInput struct {
	Conversations []Conversation `json:"conversations"`
}

// Conversation is one transcript conversation on the wire
type Conversation struct {
	ID                string             `json:"id"`
	Language          string             `json:"language"`
	Modality          string             `json:"modality"`
	ConversationItems []ConversationItem `json:"conversationItems"`
}

// ConversationItem is one utterance on the wire. The item id is the caller's
// synthetic identifier and is echoed back in results.
type ConversationItem struct {
	ID            string        `json:"id"`
	ParticipantID string        `json:"participantId"`
	Text          string        `json:"text"`
	Lexical       string        `json:"lexical"`
	ITN           string        `json:"itn"`
	MaskedITN     string        `json:"maskedItn"`
	AudioTimings  []AudioTiming `json:"audioTimings,omitempty"`
}

// AudioTiming carries per-word timing for audio redaction
type AudioTiming struct {
	Word     string `json:"word"`
	Offset   int64  `json:"offset"`
	Duration int64  `json:"duration"`
}

// AnalysisTask configures one task of a job
type AnalysisTask struct {
	TaskName   string         `json:"taskName"`
	Kind       string         `json:"kind"`
	Parameters TaskParameters `json:"parameters"`
}

// TaskParameters holds conversational PII task parameters
type TaskParameters struct {
	ModelVersion          string   `json:"modelVersion,omitempty"`
	PiiCategories         []string `json:"piiCategories,omitempty"`
	RedactionSource       string   `json:"redactionSource,omitempty"`
	IncludeAudioRedaction bool     `json:"includeAudioRedaction,omitempty"`
}

const (
	ModalityTranscript = "transcript"

	TaskKindConversationalPII = "ConversationalPIITask"

	// ResultKindConversationalPII tags PII task results in the job response.
	// Any other kind is rejected rather than guessed at.
	ResultKindConversationalPII = "conversationalPIIResults"
)

// Job status values reported by the service
const (
	JobStatusNotStarted = "notStarted"
	JobStatusRunning    = "running"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// AnalyzeJob represents the state of a submitted job
type AnalyzeJob struct {
	JobID       string     `json:"jobId"`
	DisplayName string     `json:"displayName,omitempty"`
	Status      string     `json:"status"`
	Errors      []JobError `json:"errors,omitempty"`
	Tasks       JobTasks   `json:"tasks"`
}

// Done reports whether the job reached a terminal state
func (j *AnalyzeJob) Done() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobError is a job-level error
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JobTasks aggregates task progress and results
type JobTasks struct {
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	InProgress int          `json:"inProgress"`
	Total      int          `json:"total"`
	Items      []TaskResult `json:"items,omitempty"`
}

// TaskResult is one entry of the kind-tagged result union. Results stays raw
// until the kind has been checked.
type TaskResult struct {
	TaskName string          `json:"taskName"`
	Kind     string          `json:"kind"`
	Status   string          `json:"status"`
	Results  json.RawMessage `json:"results,omitempty"`
}

// PIIResults is the decoded payload of a conversationalPIIResults entry
type PIIResults struct {
	Conversations []ConversationResult `json:"conversations"`
	Errors        []ItemError          `json:"errors,omitempty"`
}

// ConversationResult holds redacted items for one conversation
type ConversationResult struct {
	ID                string                   `json:"id"`
	ConversationItems []ConversationItemResult `json:"conversationItems"`
	Warnings          []ItemWarning            `json:"warnings,omitempty"`
}

// ConversationItemResult is the redaction result for one utterance
type ConversationItemResult struct {
	ID              string          `json:"id"`
	RedactedContent RedactedContent `json:"redactedContent"`
	Entities        []Entity        `json:"entities,omitempty"`
	Warnings        []ItemWarning   `json:"warnings,omitempty"`
}

// RedactedContent carries the redacted text variants
type RedactedContent struct {
	Text    string `json:"text"`
	Lexical string `json:"lexical"`
	ITN     string `json:"itn"`
}

// Entity is one detected PII entity
type Entity struct {
	Category        string  `json:"category"`
	Text            string  `json:"text"`
	Offset          int     `json:"offset"`
	Length          int     `json:"length"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

// ItemError is a per-item error keyed by the echoed item id
type ItemError struct {
	ID    string   `json:"id"`
	Error JobError `json:"error"`
}

// ItemWarning is a non-fatal per-item notice
type ItemWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
