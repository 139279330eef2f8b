package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/evidentops/storypack/internal/domain"
)

type mockPackRepo struct {
	mock.Mock
}

func (m *mockPackRepo) GetByID(ctx context.Context, packID string) (*domain.Pack, error) {
	args := m.Called(ctx, packID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Pack), args.Error(1)
}

func (m *mockPackRepo) SetBaseline(ctx context.Context, packID, baselineID string) error {
	args := m.Called(ctx, packID, baselineID)
	return args.Error(0)
}

func (m *mockPackRepo) MarkDiverged(ctx context.Context, packID string, diverged bool) error {
	args := m.Called(ctx, packID, diverged)
	return args.Error(0)
}

func (m *mockPackRepo) UpdateHealth(ctx context.Context, packID string, score int, status domain.HealthStatus, evaluatedAt time.Time) error {
	args := m.Called(ctx, packID, score, status, evaluatedAt)
	return args.Error(0)
}

func (m *mockPackRepo) TouchSourceRefresh(ctx context.Context, packID string, refreshedAt time.Time) error {
	args := m.Called(ctx, packID, refreshedAt)
	return args.Error(0)
}

func (m *mockPackRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Pack, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Pack), args.Error(1)
}

type mockBaselineRepo struct {
	mock.Mock
}

func (m *mockBaselineRepo) Create(ctx context.Context, baseline *domain.Baseline) error {
	args := m.Called(ctx, baseline)
	return args.Error(0)
}

func (m *mockBaselineRepo) GetByID(ctx context.Context, baselineID string) (*domain.Baseline, error) {
	args := m.Called(ctx, baselineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Baseline), args.Error(1)
}

func (m *mockBaselineRepo) MaxVersionNumber(ctx context.Context, packID string) (int64, error) {
	args := m.Called(ctx, packID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBaselineRepo) ListByPack(ctx context.Context, packID string, limit int) ([]*domain.Baseline, error) {
	args := m.Called(ctx, packID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Baseline), args.Error(1)
}

// fakeTxRunner passes the same repositories through without a transaction.
type fakeTxRunner struct {
	baselines BaselineRepository
	packs     PackRepository
	versions  VersionRepository
	err       error
}

func (f *fakeTxRunner) Baselines() BaselineRepository { return f.baselines }
func (f *fakeTxRunner) Packs() PackRepository         { return f.packs }
func (f *fakeTxRunner) Versions() VersionRepository   { return f.versions }

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(f)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func baselineFixture(t *testing.T) (*BaselineService, *mockBaselineRepo, *mockPackRepo, *mockVersionRepo, *mockArchiver) {
	t.Helper()
	baselines := new(mockBaselineRepo)
	packs := new(mockPackRepo)
	versions := new(mockVersionRepo)
	archiver := new(mockArchiver)
	tx := &fakeTxRunner{baselines: baselines, packs: packs, versions: versions}
	svc := NewBaselineService(tx, baselines, packs, archiver, "")
	return svc, baselines, packs, versions, archiver
}

func TestCreateBaseline(t *testing.T) {
	pack := &domain.Pack{ID: "pack-1", WorkspaceID: "ws-1", Name: "Checkout"}
	version := &domain.PackVersion{ID: "v1", PackID: "pack-1", Approved: true}

	t.Run("first baseline is number 1 labeled Baseline v1", func(t *testing.T) {
		svc, baselines, packs, versions, archiver := baselineFixture(t)

		packs.On("GetByID", mock.Anything, "pack-1").Return(pack, nil)
		versions.On("GetApprovedVersion", mock.Anything, "pack-1").Return(version, nil)
		versions.On("ListStories", mock.Anything, "v1").Return([]*domain.Story{
			{ID: "story-a", Title: "Pay by card", Want: "charge the card"},
		}, nil)
		versions.On("ListCriteria", mock.Anything, "v1").Return([]*domain.AcceptanceCriterion{
			{ID: "ac-1", StoryID: "story-a", Text: "card is charged once"},
		}, nil)
		baselines.On("MaxVersionNumber", mock.Anything, "pack-1").Return(int64(0), nil)
		baselines.On("Create", mock.Anything, mock.Anything).Return(nil)
		packs.On("SetBaseline", mock.Anything, "pack-1", mock.Anything).Return(nil)
		archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		baseline, err := svc.Create(context.Background(), CreateBaselineInput{PackID: "pack-1", CreatedBy: "user-1"})
		require.NoError(t, err)

		assert.Equal(t, int64(1), baseline.VersionNumber)
		assert.Equal(t, "Baseline v1", baseline.VersionLabel)
		assert.Equal(t, "ws-1", baseline.WorkspaceID)
		assert.Equal(t, "v1", baseline.VersionID)
		assert.NotEmpty(t, baseline.ArchiveKey)

		var doc struct {
			VersionID string `json:"versionId"`
			Stories   []struct {
				Title    string   `json:"title"`
				Criteria []string `json:"criteria"`
			} `json:"stories"`
		}
		require.NoError(t, json.Unmarshal(baseline.Snapshot, &doc))
		assert.Equal(t, "v1", doc.VersionID)
		require.Len(t, doc.Stories, 1)
		assert.Equal(t, []string{"card is charged once"}, doc.Stories[0].Criteria)

		packs.AssertCalled(t, "SetBaseline", mock.Anything, "pack-1", baseline.ID)
	})

	t.Run("number continues from the max", func(t *testing.T) {
		svc, baselines, packs, versions, archiver := baselineFixture(t)

		packs.On("GetByID", mock.Anything, "pack-1").Return(pack, nil)
		versions.On("GetApprovedVersion", mock.Anything, "pack-1").Return(version, nil)
		versions.On("ListStories", mock.Anything, "v1").Return([]*domain.Story{}, nil)
		versions.On("ListCriteria", mock.Anything, "v1").Return([]*domain.AcceptanceCriterion{}, nil)
		baselines.On("MaxVersionNumber", mock.Anything, "pack-1").Return(int64(4), nil)
		baselines.On("Create", mock.Anything, mock.Anything).Return(nil)
		packs.On("SetBaseline", mock.Anything, "pack-1", mock.Anything).Return(nil)
		archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		baseline, err := svc.Create(context.Background(), CreateBaselineInput{PackID: "pack-1"})
		require.NoError(t, err)
		assert.Equal(t, int64(5), baseline.VersionNumber)
		assert.Equal(t, "Baseline v5", baseline.VersionLabel)
	})

	t.Run("custom label template", func(t *testing.T) {
		svc, baselines, packs, versions, archiver := baselineFixture(t)
		svc.labelTemplate = "Release {N}"

		packs.On("GetByID", mock.Anything, "pack-1").Return(pack, nil)
		versions.On("GetApprovedVersion", mock.Anything, "pack-1").Return(version, nil)
		versions.On("ListStories", mock.Anything, "v1").Return([]*domain.Story{}, nil)
		versions.On("ListCriteria", mock.Anything, "v1").Return([]*domain.AcceptanceCriterion{}, nil)
		baselines.On("MaxVersionNumber", mock.Anything, "pack-1").Return(int64(1), nil)
		baselines.On("Create", mock.Anything, mock.Anything).Return(nil)
		packs.On("SetBaseline", mock.Anything, "pack-1", mock.Anything).Return(nil)
		archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		baseline, err := svc.Create(context.Background(), CreateBaselineInput{PackID: "pack-1"})
		require.NoError(t, err)
		assert.Equal(t, "Release 2", baseline.VersionLabel)
	})

	t.Run("no approved version fails", func(t *testing.T) {
		svc, _, packs, versions, _ := baselineFixture(t)

		packs.On("GetByID", mock.Anything, "pack-1").Return(pack, nil)
		versions.On("GetApprovedVersion", mock.Anything, "pack-1").Return(nil, domain.ErrNoApprovedVersion)

		_, err := svc.Create(context.Background(), CreateBaselineInput{PackID: "pack-1"})
		assert.ErrorIs(t, err, domain.ErrNoApprovedVersion)
	})

	t.Run("archive failure does not fail the baseline", func(t *testing.T) {
		svc, baselines, packs, versions, archiver := baselineFixture(t)

		packs.On("GetByID", mock.Anything, "pack-1").Return(pack, nil)
		versions.On("GetApprovedVersion", mock.Anything, "pack-1").Return(version, nil)
		versions.On("ListStories", mock.Anything, "v1").Return([]*domain.Story{}, nil)
		versions.On("ListCriteria", mock.Anything, "v1").Return([]*domain.AcceptanceCriterion{}, nil)
		baselines.On("MaxVersionNumber", mock.Anything, "pack-1").Return(int64(0), nil)
		baselines.On("Create", mock.Anything, mock.Anything).Return(nil)
		packs.On("SetBaseline", mock.Anything, "pack-1", mock.Anything).Return(nil)
		archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

		baseline, err := svc.Create(context.Background(), CreateBaselineInput{PackID: "pack-1"})
		require.NoError(t, err)
		assert.NotNil(t, baseline)
	})
}

func TestComputeHealthScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour)
	old := now.Add(-60 * 24 * time.Hour)

	tests := []struct {
		name  string
		in    HealthInput
		score int
	}{
		{
			name:  "perfect pack",
			in:    HealthInput{CoveragePercent: 100, QAPassRate: 100, LastSourceRefresh: &fresh, Diverged: false},
			score: 99, // freshness loses a rounding point after an hour
		},
		{
			name:  "never refreshed scores no freshness",
			in:    HealthInput{CoveragePercent: 100, QAPassRate: 100, Diverged: false},
			score: 80,
		},
		{
			name:  "stale sources decay to zero",
			in:    HealthInput{CoveragePercent: 100, QAPassRate: 100, LastSourceRefresh: &old, Diverged: false},
			score: 80,
		},
		{
			name:  "divergence costs ten",
			in:    HealthInput{CoveragePercent: 100, QAPassRate: 100, Diverged: true},
			score: 70,
		},
		{
			name:  "everything bad",
			in:    HealthInput{CoveragePercent: 0, QAPassRate: 0, Diverged: true},
			score: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.score, ComputeHealthScore(tt.in, now))
		})
	}
}

func TestEvaluateHealth(t *testing.T) {
	t.Run("scores and persists from a report", func(t *testing.T) {
		svc, _, packs, _, _ := baselineFixture(t)

		refresh := time.Now().UTC().Add(-time.Hour)
		packs.On("GetByID", mock.Anything, "pack-1").Return(&domain.Pack{
			ID: "pack-1", WorkspaceID: "ws-1", Name: "Checkout",
			LastSourceRefresh: &refresh,
		}, nil)
		packs.On("UpdateHealth", mock.Anything, "pack-1", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		report := &QualityReport{
			Coverage: CoverageSection{Percent: 90},
			QA:       QASection{PassRate: 100},
		}
		score, status, err := svc.EvaluateHealth(context.Background(), "pack-1", report)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 80)
		assert.Equal(t, domain.HealthStatusHealthy, status)
		packs.AssertExpectations(t)
	})

	t.Run("nil report keeps the last known score", func(t *testing.T) {
		svc, _, packs, _, _ := baselineFixture(t)

		last := 72
		packs.On("GetByID", mock.Anything, "pack-1").Return(&domain.Pack{
			ID: "pack-1", WorkspaceID: "ws-1", Name: "Checkout",
			HealthScore: &last, HealthStatus: domain.HealthStatusStale,
		}, nil)

		score, status, err := svc.EvaluateHealth(context.Background(), "pack-1", nil)
		require.NoError(t, err)
		assert.Equal(t, 72, score)
		assert.Equal(t, domain.HealthStatusStale, status)
		packs.AssertNotCalled(t, "UpdateHealth", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMarkDiverged(t *testing.T) {
	svc, _, packs, _, _ := baselineFixture(t)
	packs.On("MarkDiverged", mock.Anything, "pack-1", true).Return(nil)

	require.NoError(t, svc.MarkDiverged(context.Background(), "pack-1"))
	packs.AssertExpectations(t)
}

func TestTouchSourceRefresh(t *testing.T) {
	svc, _, packs, _, _ := baselineFixture(t)
	packs.On("TouchSourceRefresh", mock.Anything, "pack-1", mock.AnythingOfType("time.Time")).Return(nil)

	require.NoError(t, svc.TouchSourceRefresh(context.Background(), "pack-1"))
	packs.AssertExpectations(t)
}

func TestTouchSourceRefresh_MissingPackID(t *testing.T) {
	svc, _, _, _, _ := baselineFixture(t)

	err := svc.TouchSourceRefresh(context.Background(), "")
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
}
