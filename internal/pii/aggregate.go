package pii

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"redactly/internal/language"
	"redactly/pkg/model"
)

// aggregate merges the fetched jobs into one result set. Runs on a single
// goroutine over already-collected responses; jobs may have completed in
// any order, the output is re-sorted by the ordinal decoded from each item
// key. Faults become error strings, never panics.
func (p *Provider) aggregate(jobs []*language.AnalyzeJob) *Results {
	results := &Results{}

	for _, job := range jobs {
		if job == nil {
			// fetch error already recorded by the caller
			continue
		}

		if job.Status != language.JobStatusSucceeded {
			msg := fmt.Sprintf("job %s finished with status %q", job.JobID, job.Status)
			for _, e := range job.Errors {
				msg += fmt.Sprintf("; %s: %s", e.Code, e.Message)
			}
			results.Errors = append(results.Errors, msg)
			continue
		}

		for _, task := range job.Tasks.Items {
			p.mergeTask(job.JobID, task, results)
		}
	}

	if len(results.Errors) > 0 {
		return results
	}

	results.Combined = combineChannels(results.Items)
	return results
}

// mergeTask decodes one entry of the kind-tagged result union into the
// flat item list. Unknown kinds are rejected, not guessed at.
func (p *Provider) mergeTask(jobID string, task language.TaskResult, results *Results) {
	if task.Kind != language.ResultKindConversationalPII {
		results.Errors = append(results.Errors,
			fmt.Sprintf("job %s: unknown task result kind %q", jobID, task.Kind))
		return
	}

	var payload language.PIIResults
	if err := json.Unmarshal(task.Results, &payload); err != nil {
		results.Errors = append(results.Errors,
			fmt.Sprintf("job %s: failed to parse PII results: %v", jobID, err))
		return
	}

	for _, itemErr := range payload.Errors {
		results.Errors = append(results.Errors,
			fmt.Sprintf("job %s: item %s: %s: %s",
				jobID, itemErr.ID, itemErr.Error.Code, itemErr.Error.Message))
	}

	for _, conv := range payload.Conversations {
		for _, w := range conv.Warnings {
			results.Warnings = append(results.Warnings,
				fmt.Sprintf("job %s: conversation %s: %s: %s", jobID, conv.ID, w.Code, w.Message))
		}

		for _, item := range conv.ConversationItems {
			key, err := ParseItemKey(item.ID)
			if err != nil {
				results.Errors = append(results.Errors,
					fmt.Sprintf("job %s: %v", jobID, err))
				continue
			}

			result := ItemResult{
				Key:             key,
				RedactedDisplay: item.RedactedContent.Text,
				RedactedLexical: item.RedactedContent.Lexical,
				RedactedITN:     item.RedactedContent.ITN,
			}
			for _, w := range item.Warnings {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: %s", w.Code, w.Message))
			}

			results.Items = append(results.Items, result)
			results.Warnings = append(results.Warnings, result.Warnings...)
		}
	}
}

// combineChannels groups items by channel, orders each group by turn
// ordinal and joins the redacted text variants independently.
func combineChannels(items []ItemResult) []model.CombinedTranscript {
	if len(items) == 0 {
		return nil
	}

	byChannel := make(map[int][]ItemResult)
	for _, item := range items {
		byChannel[item.Key.Channel] = append(byChannel[item.Key.Channel], item)
	}

	channels := make([]int, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	combined := make([]model.CombinedTranscript, 0, len(channels))
	for _, ch := range channels {
		group := byChannel[ch]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Key.Turn < group[j].Key.Turn
		})

		var display, lexical, itn []string
		for _, item := range group {
			display = appendText(display, item.RedactedDisplay)
			lexical = appendText(lexical, item.RedactedLexical)
			itn = appendText(itn, item.RedactedITN)
		}

		combined = append(combined, model.CombinedTranscript{
			Channel: ch,
			Display: strings.Join(display, " "),
			Lexical: strings.Join(lexical, " "),
			ITN:     strings.Join(itn, " "),
		})
	}

	return combined
}

func appendText(parts []string, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return parts
	}
	return append(parts, text)
}
