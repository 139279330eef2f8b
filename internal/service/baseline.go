package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/telemetry"
)

// SnapshotArchiver copies baseline snapshots to object storage. Archival is
// best-effort: the baseline row is the source of truth.
type SnapshotArchiver interface {
	Archive(ctx context.Context, key string, data []byte) error
}

// Health score weights. The four components sum to 100.
const (
	healthWeightCoverage   = 40
	healthWeightQA         = 30
	healthWeightFreshness  = 20
	healthWeightDivergence = 10

	// freshnessWindow is the span over which source staleness decays the
	// freshness component linearly to zero.
	freshnessWindow = 30 * 24 * time.Hour
)

// BaselineService snapshots approved pack versions and evaluates pack health.
// Baselines are immutable, numbered per pack starting at 1, and created
// atomically with the pack's baseline pointer update.
type BaselineService struct {
	tx        TxRunner
	baselines BaselineRepository
	packs     PackRepository
	archiver  SnapshotArchiver
	uuidGen   UUIDGenerator

	labelTemplate string
}

// NewBaselineService creates a new BaselineService instance
func NewBaselineService(tx TxRunner, baselines BaselineRepository, packs PackRepository, archiver SnapshotArchiver, labelTemplate string) *BaselineService {
	return &BaselineService{
		tx:            tx,
		baselines:     baselines,
		packs:         packs,
		archiver:      archiver,
		uuidGen:       &DefaultUUIDGenerator{},
		labelTemplate: labelTemplate,
	}
}

// CreateBaselineInput carries the parameters for creating a baseline.
type CreateBaselineInput struct {
	PackID    string
	CreatedBy string
	Note      string
}

// snapshotStory is the denormalized story shape stored in a baseline snapshot.
type snapshotStory struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Want     string   `json:"want"`
	Criteria []string `json:"criteria"`
}

type snapshotDocument struct {
	VersionID string          `json:"versionId"`
	TakenAt   time.Time       `json:"takenAt"`
	Stories   []snapshotStory `json:"stories"`
}

// Create snapshots the pack's approved version as the next numbered baseline.
// The snapshot row, the version number and the pack's baseline pointer all
// land in one transaction, so two racing calls serialize into distinct
// consecutive numbers and the pointer always names a committed baseline.
func (s *BaselineService) Create(ctx context.Context, input CreateBaselineInput) (*domain.Baseline, error) {
	ctx, span := telemetry.StartSpan(ctx, "BaselineService.Create", telemetry.SpanAttributes{
		PackID:    input.PackID,
		Operation: "create_baseline",
	})
	defer span.End()

	if input.PackID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "pack ID is required")
	}

	var baseline *domain.Baseline
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		pack, err := repos.Packs().GetByID(ctx, input.PackID)
		if err != nil {
			return err
		}
		version, err := repos.Versions().GetApprovedVersion(ctx, pack.ID)
		if err != nil {
			return err
		}

		snapshot, err := s.buildSnapshot(ctx, repos.Versions(), version.ID)
		if err != nil {
			return err
		}

		maxNumber, err := repos.Baselines().MaxVersionNumber(ctx, pack.ID)
		if err != nil {
			return err
		}
		number := maxNumber + 1

		baseline = &domain.Baseline{
			ID:            s.uuidGen.NewString(),
			WorkspaceID:   pack.WorkspaceID,
			PackID:        pack.ID,
			VersionID:     version.ID,
			VersionNumber: number,
			VersionLabel:  domain.FormatBaselineLabel(s.labelTemplate, number),
			CreatedBy:     input.CreatedBy,
			Note:          input.Note,
			Snapshot:      snapshot,
			CreatedAt:     time.Now().UTC(),
		}
		if s.archiver != nil {
			baseline.ArchiveKey = fmt.Sprintf("baselines/%s/%s.json", pack.ID, baseline.ID)
		}
		if err := domain.ValidateBaseline(baseline); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid baseline", err)
		}

		if err := repos.Baselines().Create(ctx, baseline); err != nil {
			return err
		}
		return repos.Packs().SetBaseline(ctx, pack.ID, baseline.ID)
	})
	if err != nil {
		return nil, err
	}

	// The baseline row is committed; the archive copy is best-effort.
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, baseline.ArchiveKey, baseline.Snapshot); err != nil {
			log.Printf("baseline %s: snapshot archive failed: %v", baseline.ID, err)
			telemetry.CaptureError(ctx, err)
		}
	}

	return baseline, nil
}

func (s *BaselineService) buildSnapshot(ctx context.Context, versions VersionRepository, versionID string) ([]byte, error) {
	stories, err := versions.ListStories(ctx, versionID)
	if err != nil {
		return nil, err
	}
	criteria, err := versions.ListCriteria(ctx, versionID)
	if err != nil {
		return nil, err
	}

	criteriaByStory := make(map[string][]string)
	for _, c := range criteria {
		criteriaByStory[c.StoryID] = append(criteriaByStory[c.StoryID], c.Text)
	}

	doc := snapshotDocument{
		VersionID: versionID,
		TakenAt:   time.Now().UTC(),
		Stories:   make([]snapshotStory, len(stories)),
	}
	for i, st := range stories {
		doc.Stories[i] = snapshotStory{
			ID:       st.ID,
			Title:    st.Title,
			Want:     st.Want,
			Criteria: criteriaByStory[st.ID],
		}
	}
	return json.Marshal(doc)
}

// Get returns a baseline by id.
func (s *BaselineService) Get(ctx context.Context, baselineID string) (*domain.Baseline, error) {
	if baselineID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "baseline ID is required")
	}
	return s.baselines.GetByID(ctx, baselineID)
}

// List returns a pack's baselines, most recent first.
func (s *BaselineService) List(ctx context.Context, packID string, limit int) ([]*domain.Baseline, error) {
	if packID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "pack ID is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.baselines.ListByPack(ctx, packID, limit)
}

// MarkDiverged flags the pack as drifted from its last baseline. Editing
// surfaces call this on any story or criterion change after a snapshot.
func (s *BaselineService) MarkDiverged(ctx context.Context, packID string) error {
	if packID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "pack ID is required")
	}
	return s.packs.MarkDiverged(ctx, packID, true)
}

// TouchSourceRefresh records that the pack's source material was re-ingested
// just now. Health's freshness signal decays from this timestamp.
func (s *BaselineService) TouchSourceRefresh(ctx context.Context, packID string) error {
	if packID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "pack ID is required")
	}
	return s.packs.TouchSourceRefresh(ctx, packID, time.Now().UTC())
}

// HealthInput carries the signals the health score is computed from.
type HealthInput struct {
	CoveragePercent   int
	QAPassRate        int
	LastSourceRefresh *time.Time
	Diverged          bool
}

// ComputeHealthScore maps the inputs to a 0-100 score:
// coverage 40%, QA pass rate 30%, source freshness 20% (linear decay over
// 30 days; a pack whose sources were never refreshed scores zero here),
// and divergence 10% (all or nothing).
func ComputeHealthScore(in HealthInput, now time.Time) int {
	score := 0
	score += healthWeightCoverage * clampPercent(in.CoveragePercent) / 100
	score += healthWeightQA * clampPercent(in.QAPassRate) / 100

	if in.LastSourceRefresh != nil {
		age := now.Sub(*in.LastSourceRefresh)
		if age < 0 {
			age = 0
		}
		if age < freshnessWindow {
			fraction := 1 - float64(age)/float64(freshnessWindow)
			score += int(float64(healthWeightFreshness) * fraction)
		}
	}

	if !in.Diverged {
		score += healthWeightDivergence
	}
	return score
}

// EvaluateHealth scores a pack from its latest quality report and persists
// the result. With a nil report (quality generation degraded or skipped)
// the last known score stands.
func (s *BaselineService) EvaluateHealth(ctx context.Context, packID string, report *QualityReport) (int, domain.HealthStatus, error) {
	ctx, span := telemetry.StartSpan(ctx, "BaselineService.EvaluateHealth", telemetry.SpanAttributes{
		PackID:    packID,
		Operation: "evaluate_health",
	})
	defer span.End()

	pack, err := s.packs.GetByID(ctx, packID)
	if err != nil {
		return 0, "", err
	}

	if report == nil {
		if pack.HealthScore != nil {
			return *pack.HealthScore, pack.HealthStatus, nil
		}
		return 0, domain.HealthStatusOutdated, nil
	}

	now := time.Now().UTC()
	score := ComputeHealthScore(HealthInput{
		CoveragePercent:   report.Coverage.Percent,
		QAPassRate:        report.QA.PassRate,
		LastSourceRefresh: pack.LastSourceRefresh,
		Diverged:          pack.DivergedFromBaseline,
	}, now)
	status := domain.HealthStatusForScore(score)

	if err := s.packs.UpdateHealth(ctx, packID, score, status, now); err != nil {
		return 0, "", err
	}
	return score, status, nil
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
