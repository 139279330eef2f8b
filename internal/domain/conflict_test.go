package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPair(t *testing.T) {
	t.Run("orders lexicographically", func(t *testing.T) {
		a, b := CanonicalPair("chunk-b", "chunk-a")
		assert.Equal(t, "chunk-a", a)
		assert.Equal(t, "chunk-b", b)
	})

	t.Run("already ordered pair is unchanged", func(t *testing.T) {
		a, b := CanonicalPair("chunk-a", "chunk-b")
		assert.Equal(t, "chunk-a", a)
		assert.Equal(t, "chunk-b", b)
	})

	t.Run("A-B and B-A canonicalize identically", func(t *testing.T) {
		a1, b1 := CanonicalPair("c1", "c2")
		a2, b2 := CanonicalPair("c2", "c1")
		assert.Equal(t, a1, a2)
		assert.Equal(t, b1, b2)
	})
}

func TestNewEvidenceConflict(t *testing.T) {
	now := time.Now().UTC()

	t.Run("canonicalizes the pair regardless of argument order", func(t *testing.T) {
		c := NewEvidenceConflict("conflict-1", "project-1", "c2", "c1", 0.92, 0.9, "Different dates", now)
		assert.Equal(t, "c1", c.ChunkAID)
		assert.Equal(t, "c2", c.ChunkBID)
		assert.Equal(t, 0.92, c.Similarity)
		assert.Equal(t, 0.9, c.Confidence)
		assert.Equal(t, "Different dates", c.Summary)
		require.NoError(t, ValidateEvidenceConflict(c))
	})
}

func TestValidateEvidenceConflict(t *testing.T) {
	now := time.Now().UTC()

	t.Run("self pair fails", func(t *testing.T) {
		c := NewEvidenceConflict("conflict-1", "project-1", "c1", "c1", 0.95, 0.8, "", now)
		assert.Error(t, ValidateEvidenceConflict(c))
	})

	t.Run("non-canonical order fails", func(t *testing.T) {
		c := &EvidenceConflict{ID: "conflict-1", ChunkAID: "c2", ChunkBID: "c1", Confidence: 0.5}
		assert.Error(t, ValidateEvidenceConflict(c))
	})

	t.Run("confidence out of range fails", func(t *testing.T) {
		c := NewEvidenceConflict("conflict-1", "project-1", "c1", "c2", 0.9, 1.5, "", now)
		assert.Error(t, ValidateEvidenceConflict(c))
	})
}
