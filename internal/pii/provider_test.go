package pii

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"redactly/internal/language"
	"redactly/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAPI struct {
	mock.Mock

	// submitDelay simulates a slow submission honoring the call context
	submitDelay time.Duration
}

func (m *MockAPI) SubmitJob(ctx context.Context, request *language.AnalyzeRequest) (string, error) {
	if m.submitDelay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.submitDelay):
		}
	}
	args := m.Called(ctx, request)
	return args.String(0), args.Error(1)
}

func (m *MockAPI) GetJob(ctx context.Context, jobID string) (*language.AnalyzeJob, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*language.AnalyzeJob), args.Error(1)
}

func newTestProvider(api API, maxChunk int) *Provider {
	return NewProvider(api, Config{
		DefaultLocale: "en-US",
		Categories:    []string{"Person", "PhoneNumber"},
		Source:        SourceLexical,
		MaxChunkSize:  maxChunk,
	})
}

func transcriptWith(utterances ...model.Utterance) *model.Transcript {
	return &model.Transcript{
		ID:         "transcript-1",
		Language:   "en-US",
		Utterances: utterances,
	}
}

// succeededJob builds a terminal job whose single PII task redacts the given
// items. Keys map item id -> redacted text (used for all three variants).
func succeededJob(jobID string, redacted map[string]string) *language.AnalyzeJob {
	var items []language.ConversationItemResult
	for id, text := range redacted {
		items = append(items, language.ConversationItemResult{
			ID: id,
			RedactedContent: language.RedactedContent{
				Text:    text,
				Lexical: text,
				ITN:     text,
			},
		})
	}

	payload, _ := json.Marshal(language.PIIResults{
		Conversations: []language.ConversationResult{
			{ID: "conv", ConversationItems: items},
		},
	})

	return &language.AnalyzeJob{
		JobID:  jobID,
		Status: language.JobStatusSucceeded,
		Tasks: language.JobTasks{
			Completed: 1,
			Total:     1,
			Items: []language.TaskResult{
				{
					TaskName: "pii",
					Kind:     language.ResultKindConversationalPII,
					Status:   language.JobStatusSucceeded,
					Results:  payload,
				},
			},
		},
	}
}

func TestSubmit_NilTranscript(t *testing.T) {
	p := newTestProvider(new(MockAPI), 100)

	_, err := p.Submit(context.Background(), nil)
	require.Error(t, err)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindValidation, perr.Kind)
}

func TestSubmit_SingleBatchRequestShape(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 300)

	var captured *language.AnalyzeRequest
	api.On("SubmitJob", mock.Anything, mock.AnythingOfType("*language.AnalyzeRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*language.AnalyzeRequest)
		}).
		Return("job-1", nil).Once()

	sub, err := p.Submit(context.Background(), transcriptWith(
		utt(0, 0, 0, 100),
		utt(1, 0, 5000, 200),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, sub.JobIDs)
	assert.Empty(t, sub.Errors)

	require.NotNil(t, captured)
	require.Len(t, captured.AnalysisInput.Conversations, 1)
	conv := captured.AnalysisInput.Conversations[0]
	assert.Equal(t, language.ModalityTranscript, conv.Modality)
	assert.Equal(t, "en-US", conv.Language)
	require.Len(t, conv.ConversationItems, 2)
	assert.Equal(t, "0__0__0", conv.ConversationItems[0].ID)
	assert.Equal(t, "1__5000__0", conv.ConversationItems[1].ID)
	assert.Equal(t, "speaker-0", conv.ConversationItems[0].ParticipantID)

	require.Len(t, captured.Tasks, 1)
	assert.Equal(t, language.TaskKindConversationalPII, captured.Tasks[0].Kind)
	assert.Equal(t, "lexical", captured.Tasks[0].Parameters.RedactionSource)
	assert.Equal(t, []string{"Person", "PhoneNumber"}, captured.Tasks[0].Parameters.PiiCategories)

	api.AssertExpectations(t)
}

func TestSubmit_OversizedUtteranceAbortsBeforeNetwork(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 5000)

	sub, err := p.Submit(context.Background(), transcriptWith(utt(0, 0, 12000, 6000)))
	assert.Nil(t, sub)
	require.Error(t, err)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindOversized, perr.Kind)
	assert.Contains(t, err.Error(), "12000")
	assert.Contains(t, err.Error(), "channel 0")

	api.AssertNotCalled(t, "SubmitJob", mock.Anything, mock.Anything)
}

func TestSubmit_EmptyTranscriptYieldsNoJobs(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	sub, err := p.Submit(context.Background(), transcriptWith())
	require.NoError(t, err)
	assert.Empty(t, sub.JobIDs)
	assert.Empty(t, sub.Errors)
}

func TestSubmit_PartialFailure(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	matchText := func(substr string) interface{} {
		return mock.MatchedBy(func(req *language.AnalyzeRequest) bool {
			items := req.AnalysisInput.Conversations[0].ConversationItems
			return strings.Contains(items[0].Lexical, substr)
		})
	}

	// two batches: "aaaa..." fits alone, "bbbb..." fits alone
	first := utt(0, 0, 0, 80)
	second := model.Utterance{
		Turn: 1, Channel: 0, OffsetMs: 1000,
		Lexical: strings.Repeat("b", 80),
		Display: strings.Repeat("b", 80),
	}

	api.On("SubmitJob", mock.Anything, matchText("a")).Return("job-a", nil).Once()
	api.On("SubmitJob", mock.Anything, matchText("b")).Return("", errors.New("service unavailable")).Once()

	sub, err := p.Submit(context.Background(), transcriptWith(first, second))
	require.NoError(t, err)
	assert.Equal(t, []string{"job-a"}, sub.JobIDs)
	require.Len(t, sub.Errors, 1)
	assert.Contains(t, sub.Errors[0], "service unavailable")

	api.AssertExpectations(t)
}

func TestSubmit_ThrottlePropagates(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("SubmitJob", mock.Anything, mock.Anything).
		Return("", fmt.Errorf("status=429: %w", language.ErrThrottled))

	sub, err := p.Submit(context.Background(), transcriptWith(utt(0, 0, 0, 50)))
	assert.Nil(t, sub)
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
}

func TestSubmit_TimeoutRecordedPerBatch(t *testing.T) {
	api := new(MockAPI)
	api.submitDelay = 200 * time.Millisecond
	api.Test(t)

	p := NewProvider(api, Config{
		Source:         SourceLexical,
		MaxChunkSize:   100,
		RequestTimeout: 20 * time.Millisecond,
	})

	sub, err := p.Submit(context.Background(), transcriptWith(utt(0, 0, 0, 50)))
	require.NoError(t, err)
	assert.Empty(t, sub.JobIDs)
	require.Len(t, sub.Errors, 1)
	assert.Contains(t, sub.Errors[0], "did not start within")
}

func TestPollCompleted_EmptySetIsComplete(t *testing.T) {
	p := newTestProvider(new(MockAPI), 100)

	done, err := p.PollCompleted(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestPollCompleted_MixedStates(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(&language.AnalyzeJob{JobID: "job-1", Status: language.JobStatusSucceeded}, nil)
	api.On("GetJob", mock.Anything, "job-2").
		Return(&language.AnalyzeJob{JobID: "job-2", Status: language.JobStatusRunning}, nil)

	done, err := p.PollCompleted(context.Background(), []string{"job-1", "job-2"})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestPollCompleted_AllDone(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(&language.AnalyzeJob{JobID: "job-1", Status: language.JobStatusSucceeded}, nil)
	api.On("GetJob", mock.Anything, "job-2").
		Return(&language.AnalyzeJob{JobID: "job-2", Status: language.JobStatusFailed}, nil)

	done, err := p.PollCompleted(context.Background(), []string{"job-1", "job-2"})
	require.NoError(t, err)
	assert.True(t, done)
}

func TestPollCompleted_QueryFailureCountsAsInProgress(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(&language.AnalyzeJob{JobID: "job-1", Status: language.JobStatusSucceeded}, nil)
	api.On("GetJob", mock.Anything, "job-2").
		Return(nil, errors.New("connection reset"))

	done, err := p.PollCompleted(context.Background(), []string{"job-1", "job-2"})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestPollCompleted_Idempotent(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(&language.AnalyzeJob{JobID: "job-1", Status: language.JobStatusRunning}, nil)

	for i := 0; i < 3; i++ {
		done, err := p.PollCompleted(context.Background(), []string{"job-1"})
		require.NoError(t, err)
		assert.False(t, done)
	}
}

func TestPollCompleted_ThrottlePropagates(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(nil, fmt.Errorf("status=429: %w", language.ErrThrottled))

	done, err := p.PollCompleted(context.Background(), []string{"job-1"})
	assert.False(t, done)
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
}

func TestFetchResults_ReordersOutOfOrderOrdinals(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	// results arrive grouped [2], [3], [1]; output must follow ordinals 1,2,3
	api.On("GetJob", mock.Anything, "job-x").
		Return(succeededJob("job-x", map[string]string{"2__2000__0": "two"}), nil)
	api.On("GetJob", mock.Anything, "job-y").
		Return(succeededJob("job-y", map[string]string{"3__3000__0": "three"}), nil)
	api.On("GetJob", mock.Anything, "job-z").
		Return(succeededJob("job-z", map[string]string{"1__1000__0": "one"}), nil)

	results, err := p.FetchResults(context.Background(), []string{"job-x", "job-y", "job-z"})
	require.NoError(t, err)
	assert.Empty(t, results.Errors)
	require.Len(t, results.Combined, 1)
	assert.Equal(t, 0, results.Combined[0].Channel)
	assert.Equal(t, "one two three", results.Combined[0].Display)
	assert.Equal(t, "one two three", results.Combined[0].Lexical)
	assert.Equal(t, "one two three", results.Combined[0].ITN)
	assert.Len(t, results.Items, 3)
}

func TestFetchResults_GroupsByChannel(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(succeededJob("job-1", map[string]string{
			"0__0__0":    "zero-a",
			"1__1000__1": "one-a",
			"2__2000__0": "zero-b",
			"3__3000__1": "one-b",
		}), nil)

	results, err := p.FetchResults(context.Background(), []string{"job-1"})
	require.NoError(t, err)
	require.Len(t, results.Combined, 2)

	assert.Equal(t, 0, results.Combined[0].Channel)
	assert.Equal(t, "zero-a zero-b", results.Combined[0].Display)
	assert.Equal(t, 1, results.Combined[1].Channel)
	assert.Equal(t, "one-a one-b", results.Combined[1].Display)
}

func TestFetchResults_PerItemErrorFailsWholeAggregation(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	good := succeededJob("job-1", map[string]string{"0__0__0": "ok"})

	payload, _ := json.Marshal(language.PIIResults{
		Conversations: []language.ConversationResult{
			{ID: "conv", ConversationItems: []language.ConversationItemResult{
				{ID: "1__1000__0", RedactedContent: language.RedactedContent{Text: "fine"}},
			}},
		},
		Errors: []language.ItemError{
			{ID: "2__2000__0", Error: language.JobError{Code: "InternalServerError", Message: "item failed"}},
		},
	})
	bad := &language.AnalyzeJob{
		JobID:  "job-2",
		Status: language.JobStatusSucceeded,
		Tasks: language.JobTasks{
			Items: []language.TaskResult{
				{Kind: language.ResultKindConversationalPII, Results: payload},
			},
		},
	}

	api.On("GetJob", mock.Anything, "job-1").Return(good, nil)
	api.On("GetJob", mock.Anything, "job-2").Return(bad, nil)

	results, err := p.FetchResults(context.Background(), []string{"job-1", "job-2"})
	require.NoError(t, err)
	assert.Empty(t, results.Combined)
	assert.Empty(t, results.Items)
	require.NotEmpty(t, results.Errors)
	assert.Contains(t, strings.Join(results.Errors, "\n"), "item failed")
}

func TestFetchResults_UnknownResultKindRejected(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	job := &language.AnalyzeJob{
		JobID:  "job-1",
		Status: language.JobStatusSucceeded,
		Tasks: language.JobTasks{
			Items: []language.TaskResult{
				{Kind: "conversationalSummarizationResults", Results: json.RawMessage(`{}`)},
			},
		},
	}
	api.On("GetJob", mock.Anything, "job-1").Return(job, nil)

	results, err := p.FetchResults(context.Background(), []string{"job-1"})
	require.NoError(t, err)
	assert.Empty(t, results.Combined)
	require.Len(t, results.Errors, 1)
	assert.Contains(t, results.Errors[0], "unknown task result kind")
}

func TestFetchResults_MalformedPayloadDegradesToErrors(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	job := &language.AnalyzeJob{
		JobID:  "job-1",
		Status: language.JobStatusSucceeded,
		Tasks: language.JobTasks{
			Items: []language.TaskResult{
				{Kind: language.ResultKindConversationalPII, Results: json.RawMessage(`{not json`)},
			},
		},
	}
	api.On("GetJob", mock.Anything, "job-1").Return(job, nil)

	results, err := p.FetchResults(context.Background(), []string{"job-1"})
	require.NoError(t, err)
	assert.Empty(t, results.Combined)
	require.Len(t, results.Errors, 1)
	assert.Contains(t, results.Errors[0], "failed to parse")
}

func TestFetchResults_FetchErrorRecorded(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(succeededJob("job-1", map[string]string{"0__0__0": "ok"}), nil)
	api.On("GetJob", mock.Anything, "job-2").
		Return(nil, errors.New("connection reset"))

	results, err := p.FetchResults(context.Background(), []string{"job-1", "job-2"})
	require.NoError(t, err)
	assert.Empty(t, results.Combined)
	require.NotEmpty(t, results.Errors)
	assert.Contains(t, results.Errors[0], "connection reset")
}

func TestFetchResults_FailedJobSurfacesErrors(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	job := &language.AnalyzeJob{
		JobID:  "job-1",
		Status: language.JobStatusFailed,
		Errors: []language.JobError{{Code: "InvalidRequest", Message: "bad payload"}},
	}
	api.On("GetJob", mock.Anything, "job-1").Return(job, nil)

	results, err := p.FetchResults(context.Background(), []string{"job-1"})
	require.NoError(t, err)
	assert.Empty(t, results.Combined)
	require.Len(t, results.Errors, 1)
	assert.Contains(t, results.Errors[0], "bad payload")
}

func TestFetchResults_ThrottlePropagates(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(nil, fmt.Errorf("status=429: %w", language.ErrThrottled))

	results, err := p.FetchResults(context.Background(), []string{"job-1"})
	assert.Nil(t, results)
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
}

func TestAnnotate_AttachesCombined(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(succeededJob("job-1", map[string]string{"0__0__0": "redacted text"}), nil)

	transcript := transcriptWith(utt(0, 0, 0, 10))
	errs := p.Annotate(context.Background(), transcript, []string{"job-1"})
	assert.Nil(t, errs)
	require.Len(t, transcript.Combined, 1)
	assert.Equal(t, "redacted text", transcript.Combined[0].Display)
}

func TestAnnotate_SurfacesErrors(t *testing.T) {
	api := new(MockAPI)
	p := newTestProvider(api, 100)

	api.On("GetJob", mock.Anything, "job-1").
		Return(nil, errors.New("boom"))

	transcript := transcriptWith(utt(0, 0, 0, 10))
	errs := p.Annotate(context.Background(), transcript, []string{"job-1"})
	require.NotEmpty(t, errs)
	assert.Empty(t, transcript.Combined)
}
