package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/service"
)

// AnalyticsRepository aggregates workspace-wide counts for the portfolio
// rollup. Latest approved versions only; superseded generations are ignored.
type AnalyticsRepository struct {
	db dbtx
}

func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{db: pool}
}

func NewAnalyticsRepositoryWithTx(tx pgx.Tx) *AnalyticsRepository {
	return &AnalyticsRepository{db: tx}
}

func (r *AnalyticsRepository) WorkspaceCounts(ctx context.Context, workspaceID string) (*service.WorkspaceCounts, error) {
	counts := &service.WorkspaceCounts{
		HealthBreakdown: map[domain.HealthStatus]int{},
	}

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE diverged),
		        COALESCE(SUM(health_score), 0),
		        COUNT(health_score),
		        COUNT(last_source_refresh),
		        COALESCE(SUM(EXTRACT(EPOCH FROM (NOW() - last_source_refresh)) / 86400), 0)
		 FROM packs WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&counts.Packs, &counts.DivergedPacks, &counts.HealthScoreSum,
		&counts.ScoredPacks, &counts.RefreshedPacks, &counts.RefreshAgeDaysSum)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT health_status, COUNT(*)
		 FROM packs WHERE workspace_id = $1 AND health_status IS NOT NULL
		 GROUP BY health_status`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status domain.HealthStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts.HealthBreakdown[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Story, criterion and evidence aggregates over each pack's latest
	// approved version.
	err = r.db.QueryRow(ctx,
		`WITH latest AS (
			 SELECT DISTINCT ON (pv.pack_id) pv.id
			 FROM pack_versions pv
			 JOIN packs p ON p.id = pv.pack_id
			 WHERE p.workspace_id = $1 AND pv.approved = TRUE
			 ORDER BY pv.pack_id, pv.number DESC
		 ),
		 live_stories AS (
			 SELECT st.id FROM stories st JOIN latest l ON l.id = st.version_id WHERE st.deleted = FALSE
		 ),
		 live_criteria AS (
			 SELECT ac.id, ac.story_id FROM acceptance_criteria ac
			 JOIN live_stories ls ON ls.id = ac.story_id WHERE ac.deleted = FALSE
		 ),
		 links AS (
			 SELECT el.* FROM evidence_links el JOIN latest l ON l.id = el.version_id
		 )
		 SELECT (SELECT COUNT(*) FROM live_stories),
		        (SELECT COUNT(*) FROM live_criteria),
		        (SELECT COUNT(DISTINCT lc.id) FROM live_criteria lc
		           JOIN links lk ON lk.entity_id = lc.id AND lk.tier != 'assumption'),
		        (SELECT COUNT(*) FROM links),
		        (SELECT COUNT(*) FROM links WHERE tier = 'assumption'),
		        (SELECT COUNT(*) FROM qa_flags qf JOIN latest l ON l.id = qf.version_id),
		        (SELECT COUNT(*) FROM qa_flags qf JOIN latest l ON l.id = qf.version_id
		           WHERE qf.severity = 'error')`,
		workspaceID,
	).Scan(&counts.Stories, &counts.Criteria, &counts.CoveredCriteria,
		&counts.EvidenceLinks, &counts.AssumptionLinks, &counts.TotalFlags, &counts.ErrorFlags)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM evidence_conflicts ec
		      JOIN packs p ON p.project_id = ec.project_id
		      WHERE p.workspace_id = $1),
		   (SELECT COUNT(*) FROM baselines WHERE workspace_id = $1)`,
		workspaceID,
	).Scan(&counts.Conflicts, &counts.Baselines)
	if err != nil {
		return nil, err
	}

	return counts, nil
}
