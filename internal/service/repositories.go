package service

import (
	"context"
	"time"

	"github.com/evidentops/storypack/internal/domain"
)

// VersionRepository defines version-scoped reads shared by the quality,
// traceability and baseline services.
type VersionRepository interface {
	GetVersion(ctx context.Context, versionID string) (*domain.PackVersion, error)
	GetApprovedVersion(ctx context.Context, packID string) (*domain.PackVersion, error)
	ListStories(ctx context.Context, versionID string) ([]*domain.Story, error)
	ListCriteria(ctx context.Context, versionID string) ([]*domain.AcceptanceCriterion, error)
	ListEvidenceLinks(ctx context.Context, versionID string) ([]*domain.EvidenceLink, error)
	ListSourceTopics(ctx context.Context, versionID string) ([]SourceTopic, error)
	GetChunkContents(ctx context.Context, chunkIDs []string) (map[string]string, error)
}

// QAFlagRepository defines the repository interface for QA flags
type QAFlagRepository interface {
	ReplaceForVersion(ctx context.Context, versionID string, flags []*domain.QAFlag) error
	ListByVersion(ctx context.Context, versionID string) ([]*domain.QAFlag, error)
}

// PackRepository defines the repository interface for packs
type PackRepository interface {
	GetByID(ctx context.Context, packID string) (*domain.Pack, error)
	SetBaseline(ctx context.Context, packID, baselineID string) error
	MarkDiverged(ctx context.Context, packID string, diverged bool) error
	UpdateHealth(ctx context.Context, packID string, score int, status domain.HealthStatus, evaluatedAt time.Time) error
	TouchSourceRefresh(ctx context.Context, packID string, refreshedAt time.Time) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Pack, error)
}

// BaselineRepository defines the repository interface for baselines
type BaselineRepository interface {
	Create(ctx context.Context, baseline *domain.Baseline) error
	GetByID(ctx context.Context, baselineID string) (*domain.Baseline, error)
	MaxVersionNumber(ctx context.Context, packID string) (int64, error)
	ListByPack(ctx context.Context, packID string, limit int) ([]*domain.Baseline, error)
}
