package queue

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultChunkSize is the maximum number of recipients per batch chunk
	DefaultChunkSize = 10
	// DefaultInterChunkDelay staggers consecutive chunks
	DefaultInterChunkDelay = 5 * time.Second
)

// RecipientFailure explains why a recipient was not queued
type RecipientFailure struct {
	Recipient Recipient `json:"recipient"`
	Reason    string    `json:"reason"`
}

// BatchTemplate is the content shared by every chunk of a batch
type BatchTemplate struct {
	Subject  string         `json:"subject,omitempty"`
	Template string         `json:"template"`
	Vars     map[string]any `json:"vars,omitempty"`
}

// BatchJob is the parent record of the chunk jobs of one bulk send
type BatchJob struct {
	ID            uuid.UUID          `json:"id"`
	Template      string             `json:"template"`
	ChunkIDs      []uuid.UUID        `json:"chunk_ids"`
	Total         int                `json:"total"`
	Queued        int                `json:"queued"`
	FailedToQueue int                `json:"failed_to_queue"`
	Skipped       int                `json:"skipped"`
	Failures      []RecipientFailure `json:"failures,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Clone returns a deep copy of the batch
func (b *BatchJob) Clone() *BatchJob {
	if b == nil {
		return nil
	}
	c := *b
	c.ChunkIDs = slices.Clone(b.ChunkIDs)
	c.Failures = slices.Clone(b.Failures)
	return &c
}

// fail records every recipient as not queued
func (b *BatchJob) fail(recipients []Recipient, reason string) {
	for _, r := range recipients {
		b.Failures = append(b.Failures, RecipientFailure{Recipient: r, Reason: reason})
	}
	b.FailedToQueue += len(recipients)
}

// BatchSummary is the partial-success result of a bulk send
type BatchSummary struct {
	BatchID       uuid.UUID          `json:"batch_id"`
	Total         int                `json:"total"`
	Queued        int                `json:"queued"`
	FailedToQueue int                `json:"failed_to_queue"`
	Skipped       int                `json:"skipped"`
	Failures      []RecipientFailure `json:"failures,omitempty"`
	Chunks        []Receipt          `json:"chunks"`
}

// BatchView is a batch with the current state of its chunks
type BatchView struct {
	BatchJob
	Chunks []JobView `json:"chunks"`
}

// BatchSplitter partitions bulk sends into staggered chunk jobs
type BatchSplitter struct {
	builder         *Builder
	chunkSize       int
	interChunkDelay time.Duration
}

// NewBatchSplitter creates a new BatchSplitter. Non-positive values fall back to defaults.
func NewBatchSplitter(builder *Builder, chunkSize int, interChunkDelay time.Duration) *BatchSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if interChunkDelay < 0 {
		interChunkDelay = DefaultInterChunkDelay
	}
	return &BatchSplitter{
		builder:         builder,
		chunkSize:       chunkSize,
		interChunkDelay: interChunkDelay,
	}
}

// Split partitions recipients into consecutive chunks of at most chunkSize.
// Chunk i gets RequestedDelay = i * interChunkDelay. Invalid recipients are
// recorded as failures and dropped from their chunk; recipients who disabled
// bulk mail are counted as skipped. Chunks left empty are not emitted.
func (s *BatchSplitter) Split(ctx context.Context, recipients []Recipient, tmpl BatchTemplate, opts ...EnqueueOption) ([]*Job, *BatchJob, error) {
	if len(recipients) == 0 {
		return nil, nil, NewValidationError(KindBatchChunk, "recipients", "required")
	}
	if tmpl.Template == "" {
		return nil, nil, NewValidationError(KindBatchChunk, "template", "required")
	}

	batch := &BatchJob{
		ID:        uuid.New(),
		Template:  tmpl.Template,
		Total:     len(recipients),
		CreatedAt: s.builder.now(),
	}

	var chunks []*Job
	for i, group := range chunkRecipients(recipients, s.chunkSize) {
		valid := make([]Recipient, 0, len(group))
		for _, r := range group {
			if err := ValidateRecipient(r); err != nil {
				batch.fail([]Recipient{r}, err.Error())
				continue
			}

			enabled, err := s.builder.ChannelEnabled(ctx, r.UserID, KindBatchChunk)
			if err != nil {
				return nil, nil, err
			}
			if !enabled {
				batch.Skipped++
				continue
			}
			valid = append(valid, r)
		}

		if len(valid) == 0 {
			continue
		}

		chunkOpts := append(slices.Clone(opts),
			withExactDelay(time.Duration(i)*s.interChunkDelay),
			withBatch(batch.ID))

		job, err := s.builder.Build(ctx, KindBatchChunk, Payload{
			Recipients: valid,
			Subject:    tmpl.Subject,
			Template:   tmpl.Template,
			Vars:       tmpl.Vars,
		}, chunkOpts...)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, nil, err
			}
			batch.fail(valid, err.Error())
			continue
		}

		chunks = append(chunks, job)
	}

	return chunks, batch, nil
}

func chunkRecipients(recipients []Recipient, size int) [][]Recipient {
	out := make([][]Recipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := min(start+size, len(recipients))
		out = append(out, recipients[start:end])
	}
	return out
}
