package pii

import (
	"context"
	"errors"
	"fmt"
	"time"

	"redactly/internal/language"
	"redactly/pkg/logger"
	"redactly/pkg/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRequestTimeout bounds each remote call. An expired call is
// abandoned and reported as a timeout; no retry happens at this layer.
const DefaultRequestTimeout = 3 * time.Minute

const defaultMaxChunkSize = 5000

// API is the slice of the analysis service the provider depends on
type API interface {
	SubmitJob(ctx context.Context, request *language.AnalyzeRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*language.AnalyzeJob, error)
}

// Config is the immutable redaction configuration snapshot held by a
// provider.
type Config struct {
	DefaultLocale         string
	Categories            []string
	Source                Source
	MaxChunkSize          int
	IncludeAudioRedaction bool
	RequestTimeout        time.Duration
}

// Provider partitions a transcript into size-bounded analysis jobs, submits
// them, polls for completion and reassembles per-channel redacted
// transcripts. It holds no mutable state; throttling retry is the caller's
// responsibility.
type Provider struct {
	api API
	cfg Config
}

func NewProvider(api API, cfg Config) *Provider {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = defaultMaxChunkSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "en-US"
	}

	return &Provider{api: api, cfg: cfg}
}

// Submission is the outcome of submitting one transcript's batches
type Submission struct {
	JobIDs []string
	Errors []string
}

// Submit partitions the transcript and starts one analysis job per batch.
// Batches are submitted concurrently; each either yields a job id or a
// recorded error string, so partial success is possible. The returned error
// is non-nil only for failures that abort the whole submission: invalid
// input, an oversized utterance, or throttling (which must propagate for
// caller-side backoff).
func (p *Provider) Submit(ctx context.Context, transcript *model.Transcript) (*Submission, error) {
	if transcript == nil {
		return nil, newError(KindValidation, "transcript is nil")
	}
	if p.api == nil {
		return nil, newError(KindValidation, "analysis API is not configured")
	}

	lang := transcript.Language
	if lang == "" {
		lang = p.cfg.DefaultLocale
	}

	batches, err := Partition(transcript.Utterances, lang, p.cfg.Source, p.cfg.MaxChunkSize)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return &Submission{}, nil
	}

	logger.Info("Submitting redaction batches",
		zap.String("transcript_id", transcript.ID),
		zap.Int("batches", len(batches)))

	type outcome struct {
		jobID  string
		errMsg string
	}

	// One slot per batch; branches never share mutable state.
	outcomes := make([]outcome, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i := range batches {
		i := i
		batch := batches[i]
		g.Go(func() error {
			jobID, err := p.submitBatch(gctx, batch)
			if err != nil {
				if errors.Is(err, language.ErrThrottled) {
					return err
				}
				outcomes[i] = outcome{errMsg: fmt.Sprintf("batch %s: %v", batch.ID, err)}
				return nil
			}
			outcomes[i] = outcome{jobID: jobID}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, wrapError(KindThrottled, err, "submission throttled")
	}

	sub := &Submission{}
	for _, o := range outcomes {
		if o.errMsg != "" {
			sub.Errors = append(sub.Errors, o.errMsg)
			continue
		}
		if o.jobID != "" {
			sub.JobIDs = append(sub.JobIDs, o.jobID)
		}
	}

	return sub, nil
}

func (p *Provider) submitBatch(ctx context.Context, batch Batch) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	jobID, err := p.api.SubmitJob(callCtx, p.buildRequest(batch))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", wrapError(KindTimeout, err,
				"submission did not start within %s", p.cfg.RequestTimeout)
		}
		return "", err
	}

	return jobID, nil
}

// buildRequest serializes one batch to the analyze-conversations request
// shape, with a single conversational PII task.
func (p *Provider) buildRequest(batch Batch) *language.AnalyzeRequest {
	items := make([]language.ConversationItem, 0, len(batch.Items))
	for _, item := range batch.Items {
		u := item.Utterance

		participant := u.ParticipantID
		if participant == "" {
			participant = fmt.Sprintf("speaker-%d", u.Channel)
		}

		var timings []language.AudioTiming
		if p.cfg.IncludeAudioRedaction {
			for _, w := range u.Words {
				timings = append(timings, language.AudioTiming{
					Word:     w.Text,
					Offset:   w.OffsetMs,
					Duration: w.DurationMs,
				})
			}
		}

		items = append(items, language.ConversationItem{
			ID:            item.Key.ID(),
			ParticipantID: participant,
			Text:          u.Display,
			Lexical:       u.Lexical,
			ITN:           u.ITN,
			MaskedITN:     u.MaskedITN,
			AudioTimings:  timings,
		})
	}

	return &language.AnalyzeRequest{
		DisplayName: fmt.Sprintf("redaction %s", batch.ID),
		AnalysisInput: language.AnalysisInput{
			Conversations: []language.Conversation{
				{
					ID:                batch.ID,
					Language:          batch.Language,
					Modality:          language.ModalityTranscript,
					ConversationItems: items,
				},
			},
		},
		Tasks: []language.AnalysisTask{
			{
				TaskName:   fmt.Sprintf("pii-%s", batch.ID),
				Kind:       language.TaskKindConversationalPII,
				Parameters: language.TaskParameters{
					PiiCategories:         p.cfg.Categories,
					RedactionSource:       string(p.cfg.Source),
					IncludeAudioRedaction: p.cfg.IncludeAudioRedaction,
				},
			},
		},
	}
}

// PollCompleted queries each job once and reports whether every job has
// reached a terminal state. A failed status query counts as still in
// progress so a transient check error can never declare completion.
// Throttling propagates for caller-side backoff.
func (p *Provider) PollCompleted(ctx context.Context, jobIDs []string) (bool, error) {
	if len(jobIDs) == 0 {
		return true, nil
	}

	done := make([]bool, len(jobIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i := range jobIDs {
		i := i
		jobID := jobIDs[i]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, p.cfg.RequestTimeout)
			defer cancel()

			job, err := p.api.GetJob(callCtx, jobID)
			if err != nil {
				if errors.Is(err, language.ErrThrottled) {
					return err
				}
				logger.Debug("Job status check failed, treating as in progress",
					zap.String("job_id", jobID),
					zap.Error(err))
				return nil
			}
			done[i] = job.Done()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, wrapError(KindThrottled, err, "status poll throttled")
	}

	for _, d := range done {
		if !d {
			return false, nil
		}
	}
	return true, nil
}

// ItemResult is the redaction outcome for one utterance
type ItemResult struct {
	Key             ItemKey
	RedactedDisplay string
	RedactedLexical string
	RedactedITN     string
	Warnings        []string
}

// Results is the aggregated outcome across all of a transcript's jobs.
// A non-empty Errors with empty Combined means the whole fetch failed;
// partial redactions are never surfaced silently.
type Results struct {
	Combined []model.CombinedTranscript
	Items    []ItemResult
	Warnings []string
	Errors   []string
}

// FetchResults fetches every job's results and merges them into per-channel
// combined transcripts. Jobs are fetched concurrently; the merge runs
// single-threaded over the collected responses. Any per-item error, unknown
// result kind or unparseable payload degrades the whole aggregation to
// (no results, errors) — the returned error is reserved for throttling.
func (p *Provider) FetchResults(ctx context.Context, jobIDs []string) (*Results, error) {
	jobs := make([]*language.AnalyzeJob, len(jobIDs))
	fetchErrs := make([]string, len(jobIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i := range jobIDs {
		i := i
		jobID := jobIDs[i]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, p.cfg.RequestTimeout)
			defer cancel()

			job, err := p.api.GetJob(callCtx, jobID)
			if err != nil {
				if errors.Is(err, language.ErrThrottled) {
					return err
				}
				fetchErrs[i] = fmt.Sprintf("job %s: fetch failed: %v", jobID, err)
				return nil
			}
			jobs[i] = job
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, wrapError(KindThrottled, err, "result fetch throttled")
	}

	results := p.aggregate(jobs)
	for _, msg := range fetchErrs {
		if msg != "" {
			results.Errors = append(results.Errors, msg)
		}
	}

	// All-or-nothing: partial redaction results are untrustworthy as a set.
	if len(results.Errors) > 0 {
		return &Results{Errors: results.Errors}, nil
	}

	return results, nil
}

// Annotate fetches results for the given jobs and attaches the combined
// per-channel transcripts onto the transcript. Returns accumulated error
// strings; nil means the transcript was annotated.
func (p *Provider) Annotate(ctx context.Context, transcript *model.Transcript, jobIDs []string) []string {
	if transcript == nil {
		return []string{newError(KindValidation, "transcript is nil").Error()}
	}

	results, err := p.FetchResults(ctx, jobIDs)
	if err != nil {
		return []string{err.Error()}
	}
	if len(results.Errors) > 0 {
		return results.Errors
	}

	transcript.Combined = results.Combined
	return nil
}
