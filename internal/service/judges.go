package service

import (
	"context"

	"github.com/evidentops/storypack/internal/domain"
)

// The judge interfaces model the external LLM roles. Every call is a
// retried-at-least-once external operation bounded by a timeout; callers
// never assume success and degrade per their own partial-failure policy.

// ChunkClassification is one classification verdict, addressed by batch index.
// Chunks whose index is absent from the reply stay unclassified.
type ChunkClassification struct {
	Index      int
	Tag        domain.ClassificationTag
	Confidence float64
}

// ClassificationJudge tags chunk contents with the closed tag vocabulary.
type ClassificationJudge interface {
	ClassifyChunks(ctx context.Context, contents []string) ([]ChunkClassification, error)
}

// PairJudgement is the contradiction judge's verdict for one pair, by batch index.
type PairJudgement struct {
	Index       int
	Contradicts bool
	Summary     string
	Confidence  float64
}

// CandidatePair is a topically-close chunk pair from the similarity searcher.
type CandidatePair struct {
	ChunkAID   string
	ChunkBID   string
	ContentA   string
	ContentB   string
	Similarity float64
}

// SimilaritySearcher finds candidate chunk pairs above a similarity floor
// within one project. The index implementation behind it is external.
type SimilaritySearcher interface {
	NearestPairs(ctx context.Context, projectID string, minSimilarity float64, limit int) ([]*CandidatePair, error)
}

// ContradictionJudge arbitrates whether candidate pairs contradict.
type ContradictionJudge interface {
	JudgeContradictions(ctx context.Context, projectContext string, pairs []*CandidatePair) ([]PairJudgement, error)
}

// ReviewStoryInput is one story with its criteria and cited chunk text.
type ReviewStoryInput struct {
	Index      int
	Title      string
	Criteria   []string
	ChunkTexts []string
}

// ReviewIssue is one issue from the self-review judge.
type ReviewIssue struct {
	StoryIndex int    `json:"storyIndex"`
	Kind       string `json:"kind"` // hallucination | weak_evidence | untestable | overloaded
	Severity   string `json:"severity"`
	Detail     string `json:"detail"`
}

// ReviewOutcome is the self-review judge's holistic verdict. ConfidenceScore
// is the judge's own 0-100 estimate, used directly, never recomputed.
type ReviewOutcome struct {
	ConfidenceScore    int
	OverallAssessment  string
	Issues             []ReviewIssue
	MissedRequirements []string
}

// ReviewJudge assesses a version's stories against their evidence.
type ReviewJudge interface {
	SelfReview(ctx context.Context, stories []ReviewStoryInput) (*ReviewOutcome, error)
}

// SourceTopic is a topic label with its evidence depth, shown to the coherence judge.
type SourceTopic struct {
	Label         string
	EvidenceDepth int
}

// CoherenceJudge returns the indexes of stories mapping to no source topic.
type CoherenceJudge interface {
	JudgeCoherence(ctx context.Context, topics []SourceTopic, storyTitles []string) ([]int, error)
}

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}
