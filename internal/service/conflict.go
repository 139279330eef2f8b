package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/telemetry"
)

const (
	// defaultSimilarityFloor is the cosine similarity a chunk pair must reach
	// to become a contradiction candidate.
	defaultSimilarityFloor = 0.85
	// defaultCandidateLimit bounds one detection pass.
	defaultCandidateLimit = 200
	// judgeBatchSize is the number of pairs sent to the judge per call.
	judgeBatchSize = 8
	// judgeFanOut caps concurrent judge calls.
	judgeFanOut = 4
)

// ConflictRepository defines the repository interface for evidence conflicts
type ConflictRepository interface {
	Create(ctx context.Context, conflict *domain.EvidenceConflict) error
	ExistsForPair(ctx context.Context, projectID, chunkAID, chunkBID string) (bool, error)
	ListByProject(ctx context.Context, projectID string) ([]*domain.EvidenceConflict, error)
	DeleteByProject(ctx context.Context, projectID string) (int64, error)
}

// ConflictService finds contradicting chunk pairs within a project. Detection
// is append-only: conflicts are never updated, only recorded once per
// canonical pair or purged wholesale before a fresh pass.
type ConflictService struct {
	repo     ConflictRepository
	searcher SimilaritySearcher
	judge    ContradictionJudge
	uuidGen  UUIDGenerator

	similarityFloor float64
	candidateLimit  int
}

// NewConflictService creates a new ConflictService instance
func NewConflictService(repo ConflictRepository, searcher SimilaritySearcher, judge ContradictionJudge) *ConflictService {
	return &ConflictService{
		repo:            repo,
		searcher:        searcher,
		judge:           judge,
		uuidGen:         &DefaultUUIDGenerator{},
		similarityFloor: defaultSimilarityFloor,
		candidateLimit:  defaultCandidateLimit,
	}
}

// DetectOutcome reports what one detection pass did.
type DetectOutcome struct {
	CandidatePairs  int
	AlreadyRecorded int
	Judged          int
	Recorded        int
	FailedBatches   int
}

// DetectProject runs one contradiction detection pass over a project.
// Candidate pairs come from the similarity searcher, already-recorded pairs
// are skipped before any judge call, and the remainder is judged in batches
// with bounded fan-out. Racing passes are safe: the canonical-pair uniqueness
// constraint turns a duplicate insert into a no-op.
func (s *ConflictService) DetectProject(ctx context.Context, projectID, projectContext string) (*DetectOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConflictService.DetectProject", telemetry.SpanAttributes{
		ProjectID: projectID,
		Operation: "detect_conflicts",
	})
	defer span.End()

	if projectID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "project ID is required")
	}

	candidates, err := s.findCandidates(ctx, projectID)
	if err != nil {
		return nil, err
	}

	outcome := &DetectOutcome{CandidatePairs: len(candidates)}

	fresh := make([]*CandidatePair, 0, len(candidates))
	for _, pair := range candidates {
		exists, err := s.repo.ExistsForPair(ctx, projectID, pair.ChunkAID, pair.ChunkBID)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to check existing conflicts", err)
		}
		if exists {
			outcome.AlreadyRecorded++
			continue
		}
		fresh = append(fresh, pair)
	}

	s.judgeBatches(ctx, projectID, projectContext, fresh, outcome)
	return outcome, nil
}

// findCandidates queries the similarity searcher, retrying once before
// giving up. The read is idempotent so the retry is safe.
func (s *ConflictService) findCandidates(ctx context.Context, projectID string) ([]*CandidatePair, error) {
	pairs, err := s.searcher.NearestPairs(ctx, projectID, s.similarityFloor, s.candidateLimit)
	if err != nil {
		pairs, err = s.searcher.NearestPairs(ctx, projectID, s.similarityFloor, s.candidateLimit)
	}
	if err != nil {
		return nil, domain.ErrSimilaritySearchUnavailable
	}
	return canonicalizePairs(pairs), nil
}

// canonicalizePairs orders each pair's IDs canonically and drops duplicates,
// so A-B and B-A collapse to one candidate.
func canonicalizePairs(pairs []*CandidatePair) []*CandidatePair {
	seen := make(map[[2]string]struct{}, len(pairs))
	out := make([]*CandidatePair, 0, len(pairs))
	for _, p := range pairs {
		if p.ChunkAID == p.ChunkBID {
			continue
		}
		a, b := domain.CanonicalPair(p.ChunkAID, p.ChunkBID)
		if a != p.ChunkAID {
			p = &CandidatePair{
				ChunkAID:   a,
				ChunkBID:   b,
				ContentA:   p.ContentB,
				ContentB:   p.ContentA,
				Similarity: p.Similarity,
			}
		}
		key := [2]string{p.ChunkAID, p.ChunkBID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// judgeBatches sends fresh pairs to the contradiction judge in fixed-size
// batches, at most judgeFanOut batches in flight. A failed batch is counted
// and skipped; its pairs will be candidates again next pass.
func (s *ConflictService) judgeBatches(ctx context.Context, projectID, projectContext string, pairs []*CandidatePair, outcome *DetectOutcome) {
	var batches [][]*CandidatePair
	for start := 0; start < len(pairs); start += judgeBatchSize {
		end := start + judgeBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batches = append(batches, pairs[start:end])
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, judgeFanOut)

	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch []*CandidatePair) {
			defer wg.Done()
			defer func() { <-sem }()

			judged, recorded, err := s.judgeBatch(ctx, projectID, projectContext, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				telemetry.CaptureError(ctx, err)
				outcome.FailedBatches++
				return
			}
			outcome.Judged += judged
			outcome.Recorded += recorded
		}(batch)
	}

	wg.Wait()
}

func (s *ConflictService) judgeBatch(ctx context.Context, projectID, projectContext string, batch []*CandidatePair) (judged, recorded int, err error) {
	verdicts, err := s.judge.JudgeContradictions(ctx, projectContext, batch)
	if err != nil {
		return 0, 0, domain.NewDomainErrorWithCause(domain.ErrCodeJudgeFailure, "contradiction judge failed", err)
	}

	judged = len(batch)
	for _, v := range verdicts {
		if v.Index < 0 || v.Index >= len(batch) || !v.Contradicts {
			continue
		}
		pair := batch[v.Index]
		conflict := domain.NewEvidenceConflict(s.uuidGen.NewString(), projectID, pair.ChunkAID, pair.ChunkBID, pair.Similarity, clamp01(v.Confidence), v.Summary, time.Now().UTC())
		if err := s.repo.Create(ctx, conflict); err != nil {
			// Another pass got there first. The constraint did its job.
			if errors.Is(err, domain.ErrDuplicateConflictPair) {
				continue
			}
			return judged, recorded, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to record conflict", err)
		}
		recorded++
	}
	return judged, recorded, nil
}

// ListProject returns the recorded conflicts of a project.
func (s *ConflictService) ListProject(ctx context.Context, projectID string) ([]*domain.EvidenceConflict, error) {
	if projectID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "project ID is required")
	}
	conflicts, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to list conflicts", err)
	}
	return conflicts, nil
}

// PurgeProject removes every recorded conflict of a project, typically before
// a full re-detection after sources changed.
func (s *ConflictService) PurgeProject(ctx context.Context, projectID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConflictService.PurgeProject", telemetry.SpanAttributes{
		ProjectID: projectID,
		Operation: "purge_conflicts",
	})
	defer span.End()

	if projectID == "" {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "project ID is required")
	}
	deleted, err := s.repo.DeleteByProject(ctx, projectID)
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to purge conflicts", err)
	}
	return deleted, nil
}
