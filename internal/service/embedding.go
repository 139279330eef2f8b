package service

import (
	"context"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/telemetry"
)

// EmbeddingChunkRepository is the chunk persistence the embedder needs.
type EmbeddingChunkRepository interface {
	ListBySource(ctx context.Context, sourceID string) ([]*domain.Chunk, error)
	UpdateEmbedding(ctx context.Context, chunkID string, embedding []float32) error
}

// EmbeddingService backfills chunk embeddings after ingestion. Similarity
// search only sees chunks that have been through here.
type EmbeddingService struct {
	repo   EmbeddingChunkRepository
	client EmbeddingClient
}

// NewEmbeddingService creates a new EmbeddingService instance
func NewEmbeddingService(repo EmbeddingChunkRepository, client EmbeddingClient) *EmbeddingService {
	return &EmbeddingService{repo: repo, client: client}
}

// EmbedOutcome reports what one embedding run did.
type EmbedOutcome struct {
	Total    int
	Embedded int
	Skipped  int
	Failed   int
}

// EmbedSource embeds every not-yet-embedded chunk of a source. A chunk that
// fails to embed is counted and left for the next run; the run itself only
// fails when no chunk can be embedded at all.
func (s *EmbeddingService) EmbedSource(ctx context.Context, sourceID string) (*EmbedOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "EmbeddingService.EmbedSource", telemetry.SpanAttributes{
		Operation: "embed",
	})
	defer span.End()

	if sourceID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "source ID is required")
	}

	chunks, err := s.repo.ListBySource(ctx, sourceID)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to load chunks", err)
	}
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyChunkBatch
	}

	outcome := &EmbedOutcome{Total: len(chunks)}
	for _, chunk := range chunks {
		if len(chunk.Embedding) > 0 || chunk.Content == "" {
			outcome.Skipped++
			continue
		}

		embedding, err := s.client.GenerateEmbedding(ctx, chunk.Content)
		if err != nil {
			telemetry.CaptureError(ctx, err)
			outcome.Failed++
			continue
		}

		if err := s.repo.UpdateEmbedding(ctx, chunk.ID, embedding); err != nil {
			telemetry.CaptureError(ctx, err)
			outcome.Failed++
			continue
		}
		outcome.Embedded++
	}

	if outcome.Embedded == 0 && outcome.Failed > 0 {
		return outcome, domain.NewDomainError(domain.ErrCodeJudgeFailure, "no chunk could be embedded")
	}
	return outcome, nil
}
