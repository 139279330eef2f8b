package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierPriority(t *testing.T) {
	t.Run("fixed total order none < assumption < inferred < direct", func(t *testing.T) {
		assert.Equal(t, 0, TierPriority(ConfidenceTierNone))
		assert.Equal(t, 1, TierPriority(ConfidenceTierAssumption))
		assert.Equal(t, 2, TierPriority(ConfidenceTierInferred))
		assert.Equal(t, 3, TierPriority(ConfidenceTierDirect))
	})

	t.Run("unknown tier ranks as none", func(t *testing.T) {
		assert.Equal(t, 0, TierPriority(ConfidenceTier("bogus")))
	})
}

func TestStrongerTier(t *testing.T) {
	tests := []struct {
		name string
		a    ConfidenceTier
		b    ConfidenceTier
		want ConfidenceTier
	}{
		{"direct beats inferred", ConfidenceTierInferred, ConfidenceTierDirect, ConfidenceTierDirect},
		{"inferred beats assumption", ConfidenceTierAssumption, ConfidenceTierInferred, ConfidenceTierInferred},
		{"assumption beats none", ConfidenceTierNone, ConfidenceTierAssumption, ConfidenceTierAssumption},
		{"order independent", ConfidenceTierDirect, ConfidenceTierAssumption, ConfidenceTierDirect},
		{"equal tiers keep first", ConfidenceTierInferred, ConfidenceTierInferred, ConfidenceTierInferred},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StrongerTier(tt.a, tt.b))
		})
	}
}

func TestValidateEvidenceLink(t *testing.T) {
	valid := func() *EvidenceLink {
		return &EvidenceLink{
			ID:              "link-1",
			VersionID:       "version-1",
			EntityID:        "ac-1",
			EntityType:      EntityTypeAcceptanceCriterion,
			ChunkID:         "chunk-1",
			Tier:            ConfidenceTierDirect,
			EvolutionStatus: EvolutionStatusNew,
		}
	}

	t.Run("valid link passes", func(t *testing.T) {
		require.NoError(t, ValidateEvidenceLink(valid()))
	})

	t.Run("nil link fails", func(t *testing.T) {
		assert.Error(t, ValidateEvidenceLink(nil))
	})

	t.Run("missing entity id fails", func(t *testing.T) {
		l := valid()
		l.EntityID = ""
		assert.ErrorIs(t, ValidateEvidenceLink(l), ErrMissingRequiredField)
	})

	t.Run("missing chunk id fails", func(t *testing.T) {
		l := valid()
		l.ChunkID = ""
		assert.ErrorIs(t, ValidateEvidenceLink(l), ErrMissingRequiredField)
	})

	t.Run("none tier is not storable on a link", func(t *testing.T) {
		l := valid()
		l.Tier = ConfidenceTierNone
		assert.ErrorIs(t, ValidateEvidenceLink(l), ErrInvalidConfidenceTier)
	})

	t.Run("invalid entity type fails", func(t *testing.T) {
		l := valid()
		l.EntityType = EntityType("epic")
		assert.Error(t, ValidateEvidenceLink(l))
	})

	t.Run("empty evolution status is allowed", func(t *testing.T) {
		l := valid()
		l.EvolutionStatus = ""
		assert.NoError(t, ValidateEvidenceLink(l))
	})
}
