package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentops/storypack/internal/domain"
)

type BaselineRepository struct {
	db dbtx
}

func NewBaselineRepository(pool *pgxpool.Pool) *BaselineRepository {
	return &BaselineRepository{db: pool}
}

func NewBaselineRepositoryWithTx(tx pgx.Tx) *BaselineRepository {
	return &BaselineRepository{db: tx}
}

func (r *BaselineRepository) Create(ctx context.Context, b *domain.Baseline) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO baselines (id, workspace_id, pack_id, version_id, version_number, version_label, created_by, note, snapshot, archive_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.WorkspaceID, b.PackID, b.VersionID, b.VersionNumber, b.VersionLabel,
		nullableString(b.CreatedBy), nullableString(b.Note), b.Snapshot, nullableString(b.ArchiveKey), b.CreatedAt,
	)
	return err
}

func (r *BaselineRepository) GetByID(ctx context.Context, id string) (*domain.Baseline, error) {
	var b domain.Baseline
	var createdBy, note, archiveKey *string
	err := r.db.QueryRow(ctx,
		`SELECT id, workspace_id, pack_id, version_id, version_number, version_label, created_by, note, snapshot, archive_key, created_at
		 FROM baselines WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.WorkspaceID, &b.PackID, &b.VersionID, &b.VersionNumber, &b.VersionLabel,
		&createdBy, &note, &b.Snapshot, &archiveKey, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBaselineNotFound
		}
		return nil, err
	}
	if createdBy != nil {
		b.CreatedBy = *createdBy
	}
	if note != nil {
		b.Note = *note
	}
	if archiveKey != nil {
		b.ArchiveKey = *archiveKey
	}
	return &b, nil
}

// MaxVersionNumber returns the highest baseline number for a pack, 0 when
// none exist. Callers run this inside the snapshot transaction so racing
// creates serialize on the row locks.
func (r *BaselineRepository) MaxVersionNumber(ctx context.Context, packID string) (int64, error) {
	var number int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM baselines WHERE pack_id = $1`,
		packID,
	).Scan(&number)
	return number, err
}

// ListByPack returns baselines most recent first. Snapshots are omitted
// from listings; fetch a single baseline to get its snapshot.
func (r *BaselineRepository) ListByPack(ctx context.Context, packID string, limit int) ([]*domain.Baseline, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, workspace_id, pack_id, version_id, version_number, version_label, created_by, note, archive_key, created_at
		 FROM baselines WHERE pack_id = $1 ORDER BY version_number DESC LIMIT $2`,
		packID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Baseline
	for rows.Next() {
		var b domain.Baseline
		var createdBy, note, archiveKey *string
		if err := rows.Scan(&b.ID, &b.WorkspaceID, &b.PackID, &b.VersionID, &b.VersionNumber, &b.VersionLabel,
			&createdBy, &note, &archiveKey, &b.CreatedAt); err != nil {
			return nil, err
		}
		if createdBy != nil {
			b.CreatedBy = *createdBy
		}
		if note != nil {
			b.Note = *note
		}
		if archiveKey != nil {
			b.ArchiveKey = *archiveKey
		}
		results = append(results, &b)
	}
	return results, rows.Err()
}
