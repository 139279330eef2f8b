package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/service"
)

type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) Create(ctx context.Context, c *domain.Chunk) error {
	var embedding any
	if len(c.Embedding) > 0 {
		embedding = pgvector.NewVector(c.Embedding)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO chunks (id, source_id, project_id, ordinal, content, speaker, ts_label, tag, tag_confidence, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.SourceID, c.ProjectID, c.Ordinal, c.Content, nullableString(c.Speaker), nullableString(c.Timestamp),
		c.Tag, c.TagConfidence, embedding, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// ListBySource loads a source's chunks, embeddings included so the embedder
// can tell which chunks still need one.
func (r *ChunkRepository) ListBySource(ctx context.Context, sourceID string) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, source_id, project_id, ordinal, content, speaker, ts_label, tag, tag_confidence, embedding, created_at, updated_at
		 FROM chunks WHERE source_id = $1 ORDER BY ordinal ASC`,
		sourceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var speaker, tsLabel *string
		var embedding *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.SourceID, &c.ProjectID, &c.Ordinal, &c.Content, &speaker, &tsLabel, &c.Tag, &c.TagConfidence, &embedding, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if speaker != nil {
			c.Speaker = *speaker
		}
		if tsLabel != nil {
			c.Timestamp = *tsLabel
		}
		if embedding != nil {
			c.Embedding = embedding.Slice()
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func (r *ChunkRepository) GetByIDs(ctx context.Context, chunkIDs []string) ([]*domain.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, source_id, project_id, ordinal, content, speaker, ts_label, tag, tag_confidence, created_at, updated_at
		 FROM chunks WHERE id = ANY($1) ORDER BY source_id, ordinal`,
		chunkIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *ChunkRepository) GetContents(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	contents := make(map[string]string, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return contents, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, content FROM chunks WHERE id = ANY($1)`,
		chunkIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		contents[id] = content
	}
	return contents, rows.Err()
}

// UpdateClassification overwrites a chunk's tag and confidence. Last write wins.
func (r *ChunkRepository) UpdateClassification(ctx context.Context, chunkID string, tag domain.ClassificationTag, confidence float64, updatedAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE chunks SET tag = $1, tag_confidence = $2, updated_at = $3 WHERE id = $4`,
		tag, confidence, updatedAt, chunkID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE chunks SET embedding = $1, updated_at = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), time.Now().UTC(), chunkID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// NearestPairs self-joins a project's embedded chunks on cosine similarity.
// The a.id < b.id condition keeps every pair canonical and unique, noise
// chunks are excluded, and rows come back most similar first.
func (r *ChunkRepository) NearestPairs(ctx context.Context, projectID string, minSimilarity float64, limit int) ([]*service.CandidatePair, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx,
		`SELECT a.id, b.id, a.content, b.content, 1 - (a.embedding <=> b.embedding) AS similarity
		 FROM chunks a
		 JOIN chunks b ON a.project_id = b.project_id AND a.id < b.id
		 WHERE a.project_id = $1
		   AND a.embedding IS NOT NULL AND b.embedding IS NOT NULL
		   AND (a.tag IS NULL OR a.tag != 'noise')
		   AND (b.tag IS NULL OR b.tag != 'noise')
		   AND 1 - (a.embedding <=> b.embedding) >= $2
		 ORDER BY similarity DESC
		 LIMIT $3`,
		projectID, minSimilarity, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*service.CandidatePair
	for rows.Next() {
		var p service.CandidatePair
		if err := rows.Scan(&p.ChunkAID, &p.ChunkBID, &p.ContentA, &p.ContentB, &p.Similarity); err != nil {
			return nil, err
		}
		pairs = append(pairs, &p)
	}
	return pairs, rows.Err()
}

func scanChunkRows(rows pgx.Rows) ([]*domain.Chunk, error) {
	var results []*domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var speaker, tsLabel *string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.ProjectID, &c.Ordinal, &c.Content, &speaker, &tsLabel, &c.Tag, &c.TagConfidence, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if speaker != nil {
			c.Speaker = *speaker
		}
		if tsLabel != nil {
			c.Timestamp = *tsLabel
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	var c domain.Chunk
	var speaker, tsLabel *string
	err := r.db.QueryRow(ctx,
		`SELECT id, source_id, project_id, ordinal, content, speaker, ts_label, tag, tag_confidence, created_at, updated_at
		 FROM chunks WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.SourceID, &c.ProjectID, &c.Ordinal, &c.Content, &speaker, &tsLabel, &c.Tag, &c.TagConfidence, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	if speaker != nil {
		c.Speaker = *speaker
	}
	if tsLabel != nil {
		c.Timestamp = *tsLabel
	}
	return &c, nil
}
