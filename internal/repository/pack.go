package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentops/storypack/internal/domain"
)

type PackRepository struct {
	db dbtx
}

func NewPackRepository(pool *pgxpool.Pool) *PackRepository {
	return &PackRepository{db: pool}
}

func NewPackRepositoryWithTx(tx pgx.Tx) *PackRepository {
	return &PackRepository{db: tx}
}

func (r *PackRepository) Create(ctx context.Context, p *domain.Pack) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO packs (id, workspace_id, project_id, name, last_baseline_id, diverged, health_score, health_status, last_source_refresh, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.WorkspaceID, nullableString(p.ProjectID), p.Name, nullableString(p.LastBaselineID),
		p.DivergedFromBaseline, p.HealthScore, nullableString(string(p.HealthStatus)), p.LastSourceRefresh,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *PackRepository) GetByID(ctx context.Context, id string) (*domain.Pack, error) {
	var p domain.Pack
	var projectID, baselineID, status *string
	err := r.db.QueryRow(ctx,
		`SELECT id, workspace_id, project_id, name, last_baseline_id, diverged, health_score, health_status, last_source_refresh, created_at, updated_at
		 FROM packs WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.WorkspaceID, &projectID, &p.Name, &baselineID, &p.DivergedFromBaseline,
		&p.HealthScore, &status, &p.LastSourceRefresh, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPackNotFound
		}
		return nil, err
	}
	if projectID != nil {
		p.ProjectID = *projectID
	}
	if baselineID != nil {
		p.LastBaselineID = *baselineID
	}
	if status != nil {
		p.HealthStatus = domain.HealthStatus(*status)
	}
	return &p, nil
}

func (r *PackRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Pack, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, workspace_id, project_id, name, last_baseline_id, diverged, health_score, health_status, last_source_refresh, created_at, updated_at
		 FROM packs WHERE workspace_id = $1 ORDER BY updated_at DESC`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Pack
	for rows.Next() {
		var p domain.Pack
		var projectID, baselineID, status *string
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &projectID, &p.Name, &baselineID, &p.DivergedFromBaseline,
			&p.HealthScore, &status, &p.LastSourceRefresh, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if projectID != nil {
			p.ProjectID = *projectID
		}
		if baselineID != nil {
			p.LastBaselineID = *baselineID
		}
		if status != nil {
			p.HealthStatus = domain.HealthStatus(*status)
		}
		results = append(results, &p)
	}
	return results, rows.Err()
}

// SetBaseline points the pack at a new baseline and clears divergence, as
// one statement so the pointer and flag cannot disagree.
func (r *PackRepository) SetBaseline(ctx context.Context, packID, baselineID string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE packs SET last_baseline_id = $1, diverged = FALSE, updated_at = $2 WHERE id = $3`,
		baselineID, time.Now().UTC(), packID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrPackNotFound
	}
	return nil
}

func (r *PackRepository) MarkDiverged(ctx context.Context, packID string, diverged bool) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE packs SET diverged = $1, updated_at = $2 WHERE id = $3`,
		diverged, time.Now().UTC(), packID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrPackNotFound
	}
	return nil
}

func (r *PackRepository) UpdateHealth(ctx context.Context, packID string, score int, status domain.HealthStatus, evaluatedAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE packs SET health_score = $1, health_status = $2, updated_at = $3 WHERE id = $4`,
		score, status, evaluatedAt, packID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrPackNotFound
	}
	return nil
}

func (r *PackRepository) TouchSourceRefresh(ctx context.Context, packID string, refreshedAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE packs SET last_source_refresh = $1, updated_at = $1 WHERE id = $2`,
		refreshedAt, packID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrPackNotFound
	}
	return nil
}
