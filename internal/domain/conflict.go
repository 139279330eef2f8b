package domain

import (
	"fmt"
	"time"
)

// EvidenceConflict records a judged contradiction between two chunks.
// The pair is unordered; ChunkAID/ChunkBID always hold the canonical
// ordering so A-B and B-A are the same record. At most one conflict
// exists per pair (unique constraint in the store). Records are never
// updated; removal happens only through the explicit cleanup operation.
type EvidenceConflict struct {
	ID         string
	ProjectID  string
	ChunkAID   string
	ChunkBID   string
	Similarity float64
	Summary    string
	Confidence float64
	CreatedAt  time.Time
}

// CanonicalPair returns the two chunk ids in canonical (lexicographic) order.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// NewEvidenceConflict builds a conflict record with the pair canonicalized.
func NewEvidenceConflict(id, projectID, chunkA, chunkB string, similarity, confidence float64, summary string, createdAt time.Time) *EvidenceConflict {
	a, b := CanonicalPair(chunkA, chunkB)
	return &EvidenceConflict{
		ID:         id,
		ProjectID:  projectID,
		ChunkAID:   a,
		ChunkBID:   b,
		Similarity: similarity,
		Summary:    summary,
		Confidence: confidence,
		CreatedAt:  createdAt,
	}
}

// ValidateEvidenceConflict validates an EvidenceConflict instance
func ValidateEvidenceConflict(c *EvidenceConflict) error {
	if c == nil {
		return fmt.Errorf("conflict cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("conflict ID is required")
	}
	if c.ChunkAID == "" || c.ChunkBID == "" {
		return fmt.Errorf("conflict chunk ids are required")
	}
	if c.ChunkAID == c.ChunkBID {
		return fmt.Errorf("conflict cannot pair a chunk with itself")
	}
	if c.ChunkBID < c.ChunkAID {
		return fmt.Errorf("conflict pair is not in canonical order")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("conflict Confidence must be between 0 and 1")
	}
	return nil
}
