package pii

import (
	"fmt"
	"strconv"
	"strings"

	"redactly/pkg/model"

	"github.com/google/uuid"
)

// ItemKey identifies one utterance across the submit/fetch boundary. The
// remote service echoes item ids back, so the key round-trips through its
// wire form "{turn}__{offset}__{channel}" and is decoded during aggregation.
type ItemKey struct {
	Turn     int
	OffsetMs int64
	Channel  int
}

const itemKeySeparator = "__"

// ID renders the key's wire form
func (k ItemKey) ID() string {
	return fmt.Sprintf("%d%s%d%s%d", k.Turn, itemKeySeparator, k.OffsetMs, itemKeySeparator, k.Channel)
}

// ParseItemKey decodes a wire-form item id
func ParseItemKey(id string) (ItemKey, error) {
	parts := strings.Split(id, itemKeySeparator)
	if len(parts) != 3 {
		return ItemKey{}, fmt.Errorf("malformed item id %q", id)
	}

	turn, err := strconv.Atoi(parts[0])
	if err != nil {
		return ItemKey{}, fmt.Errorf("malformed turn in item id %q: %w", id, err)
	}
	offset, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ItemKey{}, fmt.Errorf("malformed offset in item id %q: %w", id, err)
	}
	channel, err := strconv.Atoi(parts[2])
	if err != nil {
		return ItemKey{}, fmt.Errorf("malformed channel in item id %q: %w", id, err)
	}

	return ItemKey{Turn: turn, OffsetMs: offset, Channel: channel}, nil
}

// BatchItem is one utterance packed into a batch, annotated with its key
type BatchItem struct {
	Key       ItemKey
	Utterance model.Utterance
	Size      int
}

// Batch is a size-bounded group of utterances submitted as one analysis
// job. Sealed once built, never mutated after submission.
type Batch struct {
	ID       string
	Language string
	Items    []BatchItem
	Size     int
}

// Partition greedily packs utterances into batches whose total text-element
// size stays within maxChunk. Order is preserved; utterances whose selected
// text is empty are skipped before sizing. A single utterance over the bound
// rejects the whole input: splitting an utterance across jobs would fragment
// it and degrade inference, so the caller gets one descriptive error and no
// batches.
func Partition(utterances []model.Utterance, lang string, src Source, maxChunk int) ([]Batch, error) {
	if maxChunk <= 0 {
		return nil, newError(KindValidation, "max chunk size must be positive, got %d", maxChunk)
	}

	var batches []Batch
	var open *Batch

	for _, u := range utterances {
		if strings.TrimSpace(src.Text(u)) == "" {
			continue
		}

		size := Size(u, src)
		if size > maxChunk {
			return nil, newError(KindOversized,
				"utterance at offset %dms on channel %d measures %d text elements, exceeding the %d limit",
				u.OffsetMs, u.Channel, size, maxChunk)
		}

		if open == nil || open.Size+size > maxChunk {
			batches = append(batches, Batch{
				ID:       uuid.New().String(),
				Language: lang,
			})
			open = &batches[len(batches)-1]
		}

		open.Items = append(open.Items, BatchItem{
			Key:       ItemKey{Turn: u.Turn, OffsetMs: u.OffsetMs, Channel: u.Channel},
			Utterance: u,
			Size:      size,
		})
		open.Size += size
	}

	return batches, nil
}
