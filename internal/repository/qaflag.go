package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentops/storypack/internal/domain"
)

type QAFlagRepository struct {
	db dbtx
}

func NewQAFlagRepository(pool *pgxpool.Pool) *QAFlagRepository {
	return &QAFlagRepository{db: pool}
}

func NewQAFlagRepositoryWithTx(tx pgx.Tx) *QAFlagRepository {
	return &QAFlagRepository{db: tx}
}

// ReplaceForVersion swaps the version's flags for the fresh set. Stale
// findings from earlier report runs never linger.
func (r *QAFlagRepository) ReplaceForVersion(ctx context.Context, versionID string, flags []*domain.QAFlag) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM qa_flags WHERE version_id = $1`, versionID); err != nil {
		return err
	}
	for _, f := range flags {
		_, err := r.db.Exec(ctx,
			`INSERT INTO qa_flags (id, version_id, story_id, rule_id, severity, message, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			f.ID, f.VersionID, nullableString(f.StoryID), f.RuleID, f.Severity, f.Message, f.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *QAFlagRepository) ListByVersion(ctx context.Context, versionID string) ([]*domain.QAFlag, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, version_id, story_id, rule_id, severity, message, created_at
		 FROM qa_flags WHERE version_id = $1 ORDER BY created_at ASC, id ASC`,
		versionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.QAFlag
	for rows.Next() {
		var f domain.QAFlag
		var storyID *string
		if err := rows.Scan(&f.ID, &f.VersionID, &storyID, &f.RuleID, &f.Severity, &f.Message, &f.CreatedAt); err != nil {
			return nil, err
		}
		if storyID != nil {
			f.StoryID = *storyID
		}
		results = append(results, &f)
	}
	return results, rows.Err()
}
