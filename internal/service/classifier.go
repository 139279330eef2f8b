package service

import (
	"context"
	"time"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/telemetry"
)

const (
	// defaultBatchTokenBudget keeps one classification call under the
	// judge's input budget. Token count is approximated at 4 chars/token.
	defaultBatchTokenBudget = 8000
	charsPerTokenEstimate   = 4
)

// ClassifierChunkRepository defines the repository interface for chunk classification
type ClassifierChunkRepository interface {
	ListBySource(ctx context.Context, sourceID string) ([]*domain.Chunk, error)
	UpdateClassification(ctx context.Context, chunkID string, tag domain.ClassificationTag, confidence float64, updatedAt time.Time) error
}

// ClassifierService tags source chunks with a semantic category.
// Classification is idempotent but not additive: re-running a source
// overwrites tags, last write wins.
type ClassifierService struct {
	repo        ClassifierChunkRepository
	judge       ClassificationJudge
	tokenBudget int
}

// NewClassifierService creates a new ClassifierService instance
func NewClassifierService(repo ClassifierChunkRepository, judge ClassificationJudge) *ClassifierService {
	return &ClassifierService{
		repo:        repo,
		judge:       judge,
		tokenBudget: defaultBatchTokenBudget,
	}
}

// ClassifyOutcome reports what one classification run did.
type ClassifyOutcome struct {
	Total         int
	Classified    int
	Unclassified  int
	FailedBatches int
}

// ClassifySource classifies every chunk of a source in token-budgeted batches.
// A failed batch leaves its chunks unclassified and does not fail the run;
// the caller sees the failure count in the outcome.
func (s *ClassifierService) ClassifySource(ctx context.Context, sourceID string) (*ClassifyOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "ClassifierService.ClassifySource", telemetry.SpanAttributes{
		Operation: "classify",
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

	outcome := &ClassifyOutcome{Total: len(chunks)}

	for _, batch := range s.batchByBudget(chunks) {
		classified, err := s.classifyBatch(ctx, batch)
		if err != nil {
			telemetry.CaptureError(ctx, err)
			outcome.FailedBatches++
			continue
		}
		outcome.Classified += classified
	}

	outcome.Unclassified = outcome.Total - outcome.Classified
	return outcome, nil
}

// batchByBudget splits chunks into batches that fit the judge's token budget.
// A single oversized chunk still forms a batch of one.
func (s *ClassifierService) batchByBudget(chunks []*domain.Chunk) [][]*domain.Chunk {
	budget := s.tokenBudget
	if budget <= 0 {
		budget = defaultBatchTokenBudget
	}

	var batches [][]*domain.Chunk
	var current []*domain.Chunk
	used := 0

	for _, c := range chunks {
		cost := len(c.Content)/charsPerTokenEstimate + 1
		if len(current) > 0 && used+cost > budget {
			batches = append(batches, current)
			current = nil
			used = 0
		}
		current = append(current, c)
		used += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

func (s *ClassifierService) classifyBatch(ctx context.Context, batch []*domain.Chunk) (int, error) {
	contents := make([]string, len(batch))
	for i, c := range batch {
		contents[i] = c.Content
	}

	verdicts, err := s.judge.ClassifyChunks(ctx, contents)
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeJudgeFailure, "classification judge failed", err)
	}

	now := time.Now().UTC()
	classified := 0
	for _, v := range verdicts {
		if v.Index < 0 || v.Index >= len(batch) {
			continue
		}
		if !domain.IsValidClassificationTag(v.Tag) {
			// Outside the closed vocabulary: the chunk stays unclassified.
			continue
		}
		if err := s.repo.UpdateClassification(ctx, batch[v.Index].ID, v.Tag, clamp01(v.Confidence), now); err != nil {
			return classified, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to persist classification", err)
		}
		classified++
	}

	return classified, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
