package domain

import "fmt"

// ConfidenceTier ranks how strongly a chunk supports a generated claim
type ConfidenceTier string

const (
	ConfidenceTierDirect     ConfidenceTier = "direct"
	ConfidenceTierInferred   ConfidenceTier = "inferred"
	ConfidenceTierAssumption ConfidenceTier = "assumption"
	// ConfidenceTierNone is the zero value used when a criterion has no evidence at all.
	// It never appears on a stored EvidenceLink.
	ConfidenceTierNone ConfidenceTier = "none"
)

// tierPriority is the authoritative total order over confidence tiers.
// The ordering is a tested contract, independent of declaration order.
var tierPriority = map[ConfidenceTier]int{
	ConfidenceTierNone:       0,
	ConfidenceTierAssumption: 1,
	ConfidenceTierInferred:   2,
	ConfidenceTierDirect:     3,
}

// TierPriority returns the rank of a tier in the fixed order
// none(0) < assumption(1) < inferred(2) < direct(3).
// Unknown tiers rank as none.
func TierPriority(t ConfidenceTier) int {
	return tierPriority[t]
}

// StrongerTier returns the higher-priority of two tiers.
func StrongerTier(a, b ConfidenceTier) ConfidenceTier {
	if TierPriority(b) > TierPriority(a) {
		return b
	}
	return a
}

// EntityType identifies what kind of generated entity an evidence link binds.
type EntityType string

const (
	EntityTypeStory               EntityType = "story"
	EntityTypeAcceptanceCriterion EntityType = "acceptance_criterion"
)

// EvolutionStatus describes how a link compares to the prior version of the same story.
type EvolutionStatus string

const (
	EvolutionStatusNew          EvolutionStatus = "new"
	EvolutionStatusStrengthened EvolutionStatus = "strengthened"
	EvolutionStatusContradicted EvolutionStatus = "contradicted"
	EvolutionStatusUnchanged    EvolutionStatus = "unchanged"
)

// EvidenceLink binds one generated entity to one source chunk.
// Links are created at generation time and never mutated; a new pack
// version supersedes them with its own links.
type EvidenceLink struct {
	ID              string
	VersionID       string
	EntityID        string
	EntityType      EntityType
	ChunkID         string
	Tier            ConfidenceTier
	EvolutionStatus EvolutionStatus
	Quote           string
}

// ValidateEvidenceLink validates an EvidenceLink instance
func ValidateEvidenceLink(l *EvidenceLink) error {
	if l == nil {
		return fmt.Errorf("evidence link cannot be nil")
	}
	if l.EntityID == "" {
		return fmt.Errorf("%w: evidence link EntityID", ErrMissingRequiredField)
	}
	if l.ChunkID == "" {
		return fmt.Errorf("%w: evidence link ChunkID", ErrMissingRequiredField)
	}
	if !isValidEntityType(l.EntityType) {
		return fmt.Errorf("evidence link EntityType is invalid: %s", l.EntityType)
	}
	if !isValidLinkTier(l.Tier) {
		return fmt.Errorf("%w: %s", ErrInvalidConfidenceTier, l.Tier)
	}
	if l.EvolutionStatus != "" && !isValidEvolutionStatus(l.EvolutionStatus) {
		return fmt.Errorf("evidence link EvolutionStatus is invalid: %s", l.EvolutionStatus)
	}
	return nil
}

func isValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypeStory, EntityTypeAcceptanceCriterion:
		return true
	}
	return false
}

// isValidLinkTier checks tiers allowed on a stored link (none is excluded).
func isValidLinkTier(t ConfidenceTier) bool {
	switch t {
	case ConfidenceTierDirect, ConfidenceTierInferred, ConfidenceTierAssumption:
		return true
	}
	return false
}

func isValidEvolutionStatus(s EvolutionStatus) bool {
	switch s {
	case EvolutionStatusNew, EvolutionStatusStrengthened, EvolutionStatusContradicted, EvolutionStatusUnchanged:
		return true
	}
	return false
}
