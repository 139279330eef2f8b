package domain

import (
	"fmt"
	"time"
)

// Workspace represents a tenant in the system
type Workspace struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// NewWorkspace creates a new Workspace instance
func NewWorkspace(id, name string, createdAt time.Time) *Workspace {
	return &Workspace{
		ID:        id,
		Name:      name,
		CreatedAt: createdAt,
	}
}

// ValidateWorkspace validates a Workspace instance
func ValidateWorkspace(w *Workspace) error {
	if w == nil {
		return fmt.Errorf("workspace cannot be nil")
	}
	if w.ID == "" {
		return fmt.Errorf("workspace ID is required")
	}
	if w.Name == "" {
		return fmt.Errorf("workspace Name is required")
	}
	return nil
}

// HealthStatus is the banded indicator of a pack's staleness/quality.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusStale    HealthStatus = "stale"
	HealthStatusAtRisk   HealthStatus = "at_risk"
	HealthStatusOutdated HealthStatus = "outdated"
)

// HealthStatusForScore maps a 0-100 health score to its status band.
func HealthStatusForScore(score int) HealthStatus {
	switch {
	case score >= 80:
		return HealthStatusHealthy
	case score >= 60:
		return HealthStatusStale
	case score >= 40:
		return HealthStatusAtRisk
	default:
		return HealthStatusOutdated
	}
}

// Pack is a Story Pack: the requirements artifact generated from a project's sources.
type Pack struct {
	ID          string
	WorkspaceID string
	ProjectID   string
	Name        string

	// LastBaselineID points at the most recent baseline snapshot, empty
	// before the first baseline is taken.
	LastBaselineID string
	// DivergedFromBaseline is flipped to true by editing collaborators on
	// any story/criterion edit after a baseline; the baseline engine owns
	// the flag's meaning and resets it on snapshot.
	DivergedFromBaseline bool

	HealthScore       *int
	HealthStatus      HealthStatus
	LastSourceRefresh *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidatePack validates a Pack instance
func ValidatePack(p *Pack) error {
	if p == nil {
		return fmt.Errorf("pack cannot be nil")
	}
	if p.ID == "" {
		return fmt.Errorf("pack ID is required")
	}
	if p.WorkspaceID == "" {
		return fmt.Errorf("pack WorkspaceID is required")
	}
	if p.Name == "" {
		return fmt.Errorf("pack Name is required")
	}
	return nil
}

// PackVersion is one generation of a pack's stories and criteria.
type PackVersion struct {
	ID        string
	PackID    string
	Number    int64
	Approved  bool
	CreatedAt time.Time
}

// Source is an ingested document (transcript, PDF, email) chunks were split from.
type Source struct {
	ID         string
	ProjectID  string
	Title      string
	Kind       string
	IngestedAt time.Time
}

// Story is a generated user story within a pack version.
type Story struct {
	ID        string
	VersionID string
	Title     string
	Want      string
	SortOrder int
	Deleted   bool
	Embedding []float32
	CreatedAt time.Time
}

// AcceptanceCriterion is a testable criterion under a story.
type AcceptanceCriterion struct {
	ID        string
	StoryID   string
	Text      string
	SortOrder int
	Deleted   bool
	CreatedAt time.Time
}
