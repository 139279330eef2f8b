package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentops/storypack/internal/domain"
)

type SourceRepository struct {
	db dbtx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: pool}
}

func NewSourceRepositoryWithTx(tx pgx.Tx) *SourceRepository {
	return &SourceRepository{db: tx}
}

func (r *SourceRepository) Create(ctx context.Context, s *domain.Source) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sources (id, project_id, title, kind, ingested_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.ProjectID, s.Title, s.Kind, s.IngestedAt,
	)
	return err
}

func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.Source, error) {
	var s domain.Source
	err := r.db.QueryRow(ctx,
		`SELECT id, project_id, title, kind, ingested_at FROM sources WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.ProjectID, &s.Title, &s.Kind, &s.IngestedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SourceRepository) GetByIDs(ctx context.Context, sourceIDs []string) ([]*domain.Source, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, title, kind, ingested_at
		 FROM sources WHERE id = ANY($1) ORDER BY ingested_at DESC, id ASC`,
		sourceIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSourceRows(rows)
}

func (r *SourceRepository) ListByProject(ctx context.Context, projectID string) ([]*domain.Source, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, title, kind, ingested_at
		 FROM sources WHERE project_id = $1 ORDER BY ingested_at DESC, id ASC`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSourceRows(rows)
}

func scanSourceRows(rows pgx.Rows) ([]*domain.Source, error) {
	var results []*domain.Source
	for rows.Next() {
		var s domain.Source
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Title, &s.Kind, &s.IngestedAt); err != nil {
			return nil, err
		}
		results = append(results, &s)
	}
	return results, rows.Err()
}
