package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentops/storypack/internal/domain"
)

type ConflictRepository struct {
	db dbtx
}

func NewConflictRepository(pool *pgxpool.Pool) *ConflictRepository {
	return &ConflictRepository{db: pool}
}

func NewConflictRepositoryWithTx(tx pgx.Tx) *ConflictRepository {
	return &ConflictRepository{db: tx}
}

// Create inserts a conflict. A duplicate canonical pair maps to
// ErrDuplicateConflictPair, which detection treats as already handled.
func (r *ConflictRepository) Create(ctx context.Context, c *domain.EvidenceConflict) error {
	if err := domain.ValidateEvidenceConflict(c); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid conflict", err)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO evidence_conflicts (id, project_id, chunk_a_id, chunk_b_id, similarity, summary, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.ProjectID, c.ChunkAID, c.ChunkBID, c.Similarity, c.Summary, c.Confidence, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateConflictPair
	}
	return err
}

func (r *ConflictRepository) ExistsForPair(ctx context.Context, projectID, chunkAID, chunkBID string) (bool, error) {
	a, b := domain.CanonicalPair(chunkAID, chunkBID)
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM evidence_conflicts
		   WHERE project_id = $1 AND chunk_a_id = $2 AND chunk_b_id = $3
		 )`,
		projectID, a, b,
	).Scan(&exists)
	return exists, err
}

func (r *ConflictRepository) ListByProject(ctx context.Context, projectID string) ([]*domain.EvidenceConflict, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, chunk_a_id, chunk_b_id, similarity, summary, confidence, created_at
		 FROM evidence_conflicts WHERE project_id = $1 ORDER BY created_at DESC, id DESC`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.EvidenceConflict
	for rows.Next() {
		var c domain.EvidenceConflict
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.ChunkAID, &c.ChunkBID, &c.Similarity, &c.Summary, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func (r *ConflictRepository) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM evidence_conflicts WHERE project_id = $1`,
		projectID,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}
