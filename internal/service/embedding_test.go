package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/evidentops/storypack/internal/domain"
)

type mockEmbeddingChunkRepo struct {
	mock.Mock
}

func (m *mockEmbeddingChunkRepo) ListBySource(ctx context.Context, sourceID string) ([]*domain.Chunk, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

func (m *mockEmbeddingChunkRepo) UpdateEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	args := m.Called(ctx, chunkID, embedding)
	return args.Error(0)
}

type mockEmbeddingClient struct {
	mock.Mock
}

func (m *mockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func TestEmbedSource(t *testing.T) {
	t.Run("embeds every chunk without an embedding", func(t *testing.T) {
		repo := new(mockEmbeddingChunkRepo)
		client := new(mockEmbeddingClient)
		svc := NewEmbeddingService(repo, client)

		chunks := testChunks("src-1", "needs offline mode", "export must be CSV")
		repo.On("ListBySource", mock.Anything, "src-1").Return(chunks, nil)
		client.On("GenerateEmbedding", mock.Anything, "needs offline mode").Return([]float32{0.1, 0.2}, nil)
		client.On("GenerateEmbedding", mock.Anything, "export must be CSV").Return([]float32{0.3, 0.4}, nil)
		repo.On("UpdateEmbedding", mock.Anything, "chunk-a", []float32{0.1, 0.2}).Return(nil)
		repo.On("UpdateEmbedding", mock.Anything, "chunk-b", []float32{0.3, 0.4}).Return(nil)

		outcome, err := svc.EmbedSource(context.Background(), "src-1")
		require.NoError(t, err)
		assert.Equal(t, 2, outcome.Total)
		assert.Equal(t, 2, outcome.Embedded)
		assert.Equal(t, 0, outcome.Skipped)
		assert.Equal(t, 0, outcome.Failed)
		repo.AssertExpectations(t)
	})

	t.Run("already-embedded and empty chunks are skipped", func(t *testing.T) {
		repo := new(mockEmbeddingChunkRepo)
		client := new(mockEmbeddingClient)
		svc := NewEmbeddingService(repo, client)

		chunks := testChunks("src-1", "fresh content", "")
		chunks = append(chunks, &domain.Chunk{
			ID:        "chunk-c",
			SourceID:  "src-1",
			Content:   "already done",
			Embedding: []float32{0.9},
		})
		repo.On("ListBySource", mock.Anything, "src-1").Return(chunks, nil)
		client.On("GenerateEmbedding", mock.Anything, "fresh content").Return([]float32{0.5}, nil)
		repo.On("UpdateEmbedding", mock.Anything, "chunk-a", []float32{0.5}).Return(nil)

		outcome, err := svc.EmbedSource(context.Background(), "src-1")
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.Embedded)
		assert.Equal(t, 2, outcome.Skipped)
		client.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, "already done")
	})

	t.Run("a failed chunk is counted and the run continues", func(t *testing.T) {
		repo := new(mockEmbeddingChunkRepo)
		client := new(mockEmbeddingClient)
		svc := NewEmbeddingService(repo, client)

		chunks := testChunks("src-1", "first", "second")
		repo.On("ListBySource", mock.Anything, "src-1").Return(chunks, nil)
		client.On("GenerateEmbedding", mock.Anything, "first").Return(nil, errors.New("rate limited"))
		client.On("GenerateEmbedding", mock.Anything, "second").Return([]float32{0.7}, nil)
		repo.On("UpdateEmbedding", mock.Anything, "chunk-b", []float32{0.7}).Return(nil)

		outcome, err := svc.EmbedSource(context.Background(), "src-1")
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.Embedded)
		assert.Equal(t, 1, outcome.Failed)
	})

	t.Run("run fails when nothing could be embedded", func(t *testing.T) {
		repo := new(mockEmbeddingChunkRepo)
		client := new(mockEmbeddingClient)
		svc := NewEmbeddingService(repo, client)

		chunks := testChunks("src-1", "only chunk")
		repo.On("ListBySource", mock.Anything, "src-1").Return(chunks, nil)
		client.On("GenerateEmbedding", mock.Anything, "only chunk").Return(nil, errors.New("rate limited"))

		outcome, err := svc.EmbedSource(context.Background(), "src-1")
		var domainErr *domain.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, domain.ErrCodeJudgeFailure, domainErr.Code)
		assert.Equal(t, 1, outcome.Failed)
	})

	t.Run("empty source fails", func(t *testing.T) {
		repo := new(mockEmbeddingChunkRepo)
		svc := NewEmbeddingService(repo, new(mockEmbeddingClient))

		repo.On("ListBySource", mock.Anything, "src-1").Return([]*domain.Chunk{}, nil)

		_, err := svc.EmbedSource(context.Background(), "src-1")
		assert.ErrorIs(t, err, domain.ErrEmptyChunkBatch)
	})

	t.Run("missing source ID fails validation", func(t *testing.T) {
		svc := NewEmbeddingService(new(mockEmbeddingChunkRepo), new(mockEmbeddingClient))
		_, err := svc.EmbedSource(context.Background(), "")
		var domainErr *domain.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
	})
}
