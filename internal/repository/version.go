package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/service"
)

// VersionRepository serves the version-scoped reads behind quality reports,
// trace graphs and baseline snapshots.
type VersionRepository struct {
	db dbtx
}

func NewVersionRepository(pool *pgxpool.Pool) *VersionRepository {
	return &VersionRepository{db: pool}
}

func NewVersionRepositoryWithTx(tx pgx.Tx) *VersionRepository {
	return &VersionRepository{db: tx}
}

func (r *VersionRepository) GetVersion(ctx context.Context, versionID string) (*domain.PackVersion, error) {
	var v domain.PackVersion
	err := r.db.QueryRow(ctx,
		`SELECT id, pack_id, number, approved, created_at
		 FROM pack_versions WHERE id = $1`,
		versionID,
	).Scan(&v.ID, &v.PackID, &v.Number, &v.Approved, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, err
	}
	return &v, nil
}

// GetApprovedVersion returns the pack's most recent approved version.
func (r *VersionRepository) GetApprovedVersion(ctx context.Context, packID string) (*domain.PackVersion, error) {
	var v domain.PackVersion
	err := r.db.QueryRow(ctx,
		`SELECT id, pack_id, number, approved, created_at
		 FROM pack_versions WHERE pack_id = $1 AND approved = TRUE
		 ORDER BY number DESC LIMIT 1`,
		packID,
	).Scan(&v.ID, &v.PackID, &v.Number, &v.Approved, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoApprovedVersion
		}
		return nil, err
	}
	return &v, nil
}

// ListStories loads the version's live stories, embeddings included so
// duplicate detection can run without a second pass.
func (r *VersionRepository) ListStories(ctx context.Context, versionID string) ([]*domain.Story, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, version_id, title, want, sort_order, deleted, embedding, created_at
		 FROM stories WHERE version_id = $1 AND deleted = FALSE ORDER BY sort_order ASC, id ASC`,
		versionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Story
	for rows.Next() {
		var st domain.Story
		var embedding *pgvector.Vector
		if err := rows.Scan(&st.ID, &st.VersionID, &st.Title, &st.Want, &st.SortOrder, &st.Deleted, &embedding, &st.CreatedAt); err != nil {
			return nil, err
		}
		if embedding != nil {
			st.Embedding = embedding.Slice()
		}
		results = append(results, &st)
	}
	return results, rows.Err()
}

func (r *VersionRepository) ListCriteria(ctx context.Context, versionID string) ([]*domain.AcceptanceCriterion, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ac.id, ac.story_id, ac.text, ac.sort_order, ac.deleted, ac.created_at
		 FROM acceptance_criteria ac
		 JOIN stories st ON st.id = ac.story_id
		 WHERE st.version_id = $1 AND ac.deleted = FALSE AND st.deleted = FALSE
		 ORDER BY st.sort_order ASC, ac.sort_order ASC, ac.id ASC`,
		versionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.AcceptanceCriterion
	for rows.Next() {
		var c domain.AcceptanceCriterion
		if err := rows.Scan(&c.ID, &c.StoryID, &c.Text, &c.SortOrder, &c.Deleted, &c.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func (r *VersionRepository) ListEvidenceLinks(ctx context.Context, versionID string) ([]*domain.EvidenceLink, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, version_id, entity_id, entity_type, chunk_id, tier, evolution_status, quote
		 FROM evidence_links WHERE version_id = $1 ORDER BY id ASC`,
		versionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.EvidenceLink
	for rows.Next() {
		var l domain.EvidenceLink
		var quote *string
		if err := rows.Scan(&l.ID, &l.VersionID, &l.EntityID, &l.EntityType, &l.ChunkID, &l.Tier, &l.EvolutionStatus, &quote); err != nil {
			return nil, err
		}
		if quote != nil {
			l.Quote = *quote
		}
		results = append(results, &l)
	}
	return results, rows.Err()
}

// ListSourceTopics derives one topic per source: its title, with evidence
// depth counted as the number of distinct cited chunks.
func (r *VersionRepository) ListSourceTopics(ctx context.Context, versionID string) ([]service.SourceTopic, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.title, COUNT(DISTINCT el.chunk_id)
		 FROM evidence_links el
		 JOIN chunks c ON c.id = el.chunk_id
		 JOIN sources s ON s.id = c.source_id
		 WHERE el.version_id = $1
		 GROUP BY s.id, s.title
		 ORDER BY COUNT(DISTINCT el.chunk_id) DESC`,
		versionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []service.SourceTopic
	for rows.Next() {
		var t service.SourceTopic
		if err := rows.Scan(&t.Label, &t.EvidenceDepth); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func (r *VersionRepository) GetChunkContents(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	return (&ChunkRepository{db: r.db}).GetContents(ctx, chunkIDs)
}
