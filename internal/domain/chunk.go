package domain

import (
	"fmt"
	"time"
)

// ClassificationTag is the closed vocabulary the classification judge assigns to chunks.
type ClassificationTag string

const (
	ClassificationTagRequirement ClassificationTag = "requirement"
	ClassificationTagConstraint  ClassificationTag = "constraint"
	ClassificationTagContext     ClassificationTag = "context"
	ClassificationTagNoise       ClassificationTag = "noise"
)

// Chunk is a contiguous slice of a source document, the atomic unit of citation.
// Content is immutable once created; the classification fields are the only
// mutable part and are overwritten wholesale on re-classification.
type Chunk struct {
	ID        string
	SourceID  string
	ProjectID string
	Ordinal   int
	Content   string
	Speaker   string
	Timestamp string

	// Tag is nil while the chunk is unclassified. Unclassified is a valid
	// state, not an error.
	Tag           *ClassificationTag
	TagConfidence *float64

	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Classified reports whether the classifier has tagged this chunk.
func (c *Chunk) Classified() bool {
	return c.Tag != nil
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if c.SourceID == "" {
		return fmt.Errorf("chunk SourceID is required")
	}
	if c.Content == "" {
		return fmt.Errorf("chunk Content is required")
	}
	if c.Ordinal < 0 {
		return fmt.Errorf("chunk Ordinal must not be negative")
	}
	if c.Tag != nil && !IsValidClassificationTag(*c.Tag) {
		return fmt.Errorf("%w: %s", ErrInvalidClassification, *c.Tag)
	}
	if c.TagConfidence != nil && (*c.TagConfidence < 0 || *c.TagConfidence > 1) {
		return fmt.Errorf("chunk TagConfidence must be between 0 and 1")
	}
	return nil
}

// IsValidClassificationTag checks membership in the closed tag vocabulary.
func IsValidClassificationTag(t ClassificationTag) bool {
	switch t {
	case ClassificationTagRequirement, ClassificationTagConstraint, ClassificationTagContext, ClassificationTagNoise:
		return true
	}
	return false
}
