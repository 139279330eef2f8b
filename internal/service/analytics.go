package service

import (
	"context"
	"math"
	"time"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/telemetry"
)

// WorkspaceCounts are the raw aggregates the analytics rollup is computed
// from, produced by one repository pass over the workspace.
type WorkspaceCounts struct {
	Packs           int
	DivergedPacks   int
	Stories         int
	Criteria        int
	CoveredCriteria int
	EvidenceLinks   int
	AssumptionLinks int
	Conflicts       int
	Baselines       int

	// QA flags persisted by the rule checker, across each pack's latest
	// approved version.
	TotalFlags int
	ErrorFlags int

	HealthBreakdown map[domain.HealthStatus]int
	HealthScoreSum  int
	ScoredPacks     int

	// Packs with a recorded source refresh, and their summed age in days.
	RefreshedPacks    int
	RefreshAgeDaysSum float64
}

// AnalyticsRepository defines the repository interface for workspace aggregates
type AnalyticsRepository interface {
	WorkspaceCounts(ctx context.Context, workspaceID string) (*WorkspaceCounts, error)
}

// WorkspaceAnalytics is the portfolio rollup for one workspace. An empty
// workspace reads as vacuously passing QA (100) with zero coverage.
type WorkspaceAnalytics struct {
	WorkspaceID     string                      `json:"workspaceId"`
	Packs           int                         `json:"packs"`
	DivergedPacks   int                         `json:"divergedPacks"`
	Stories         int                         `json:"stories"`
	Criteria        int                         `json:"criteria"`
	CoveragePercent int                         `json:"coveragePercent"`
	QAPassRate      int                         `json:"qaPassRate"`
	AssumptionRate  int                         `json:"assumptionRate"`
	Conflicts       int                         `json:"conflicts"`
	Baselines       int                         `json:"baselines"`
	HealthBreakdown map[domain.HealthStatus]int `json:"healthBreakdown"`
	AverageHealth   *int                        `json:"averageHealth"`

	// AverageDaysSinceRefresh is nil until at least one pack has recorded a
	// source refresh.
	AverageDaysSinceRefresh *int      `json:"averageDaysSinceRefresh"`
	GeneratedAt             time.Time `json:"generatedAt"`
}

// AnalyticsService rolls workspace-wide quality aggregates into one view.
type AnalyticsService struct {
	repo       AnalyticsRepository
	workspaces WorkspaceRepository
}

// NewAnalyticsService creates a new AnalyticsService instance
func NewAnalyticsService(repo AnalyticsRepository, workspaces WorkspaceRepository) *AnalyticsService {
	return &AnalyticsService{repo: repo, workspaces: workspaces}
}

// Workspace computes the rollup for a workspace.
func (s *AnalyticsService) Workspace(ctx context.Context, workspaceID string) (*WorkspaceAnalytics, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnalyticsService.Workspace", telemetry.SpanAttributes{
		WorkspaceID: workspaceID,
		Operation:   "workspace_analytics",
	})
	defer span.End()

	if workspaceID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "workspace ID is required")
	}
	if _, err := s.workspaces.GetByID(ctx, workspaceID); err != nil {
		return nil, err
	}

	counts, err := s.repo.WorkspaceCounts(ctx, workspaceID)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeCollaboratorUnavailable, "failed to aggregate workspace", err)
	}

	analytics := &WorkspaceAnalytics{
		WorkspaceID:     workspaceID,
		Packs:           counts.Packs,
		DivergedPacks:   counts.DivergedPacks,
		Stories:         counts.Stories,
		Criteria:        counts.Criteria,
		QAPassRate:      100,
		Conflicts:       counts.Conflicts,
		Baselines:       counts.Baselines,
		HealthBreakdown: counts.HealthBreakdown,
		GeneratedAt:     time.Now().UTC(),
	}
	if analytics.HealthBreakdown == nil {
		analytics.HealthBreakdown = map[domain.HealthStatus]int{}
	}

	if counts.Criteria > 0 {
		analytics.CoveragePercent = roundPercent(float64(counts.CoveredCriteria) / float64(counts.Criteria))
	}
	// Same formula as the per-version report: share of flags that are not
	// error severity, vacuously 100 with no flags.
	if counts.TotalFlags > 0 {
		analytics.QAPassRate = roundPercent(float64(counts.TotalFlags-counts.ErrorFlags) / float64(counts.TotalFlags))
	}
	if counts.EvidenceLinks > 0 {
		analytics.AssumptionRate = roundPercent(float64(counts.AssumptionLinks) / float64(counts.EvidenceLinks))
	}
	if counts.ScoredPacks > 0 {
		avg := counts.HealthScoreSum / counts.ScoredPacks
		analytics.AverageHealth = &avg
	}
	if counts.RefreshedPacks > 0 {
		avg := int(math.Round(counts.RefreshAgeDaysSum / float64(counts.RefreshedPacks)))
		analytics.AverageDaysSinceRefresh = &avg
	}
	return analytics, nil
}
