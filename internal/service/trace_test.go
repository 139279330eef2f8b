package service

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/evidentops/storypack/internal/domain"
)

type mockTraceChunkRepo struct {
	mock.Mock
}

func (m *mockTraceChunkRepo) GetByIDs(ctx context.Context, chunkIDs []string) ([]*domain.Chunk, error) {
	args := m.Called(ctx, chunkIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

type mockTraceSourceRepo struct {
	mock.Mock
}

func (m *mockTraceSourceRepo) GetByIDs(ctx context.Context, sourceIDs []string) ([]*domain.Source, error) {
	args := m.Called(ctx, sourceIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Source), args.Error(1)
}

func TestTraceBuild(t *testing.T) {
	t.Run("builds all node and edge kinds", func(t *testing.T) {
		versions := new(mockVersionRepo)
		chunks := new(mockTraceChunkRepo)
		sources := new(mockTraceSourceRepo)
		svc := NewTraceService(versions, chunks, sources)

		stories := []*domain.Story{{ID: "story-a", VersionID: "v1", Title: "Login"}}
		criteria := []*domain.AcceptanceCriterion{{ID: "ac-1", StoryID: "story-a", Text: "user can log in"}}
		links := []*domain.EvidenceLink{
			{ID: "link-1", VersionID: "v1", EntityID: "story-a", EntityType: domain.EntityTypeStory,
				ChunkID: "chunk-1", Tier: domain.ConfidenceTierInferred, Quote: "we need login"},
			{ID: "link-2", VersionID: "v1", EntityID: "ac-1", EntityType: domain.EntityTypeAcceptanceCriterion,
				ChunkID: "chunk-1", Tier: domain.ConfidenceTierDirect, Quote: "SSO required"},
		}

		versions.On("GetVersion", mock.Anything, "v1").Return(&domain.PackVersion{ID: "v1"}, nil)
		versions.On("ListStories", mock.Anything, "v1").Return(stories, nil)
		versions.On("ListCriteria", mock.Anything, "v1").Return(criteria, nil)
		versions.On("ListEvidenceLinks", mock.Anything, "v1").Return(links, nil)
		chunks.On("GetByIDs", mock.Anything, []string{"chunk-1"}).
			Return([]*domain.Chunk{{ID: "chunk-1", SourceID: "src-1", Content: "we need login with SSO"}}, nil)
		sources.On("GetByIDs", mock.Anything, []string{"src-1"}).
			Return([]*domain.Source{{ID: "src-1", Title: "Kickoff call", Kind: "transcript"}}, nil)

		graph, err := svc.Build(context.Background(), "v1")
		require.NoError(t, err)

		assert.Equal(t, 1, graph.Stats.NodeCounts[NodeKindSource])
		assert.Equal(t, 1, graph.Stats.NodeCounts[NodeKindChunk])
		assert.Equal(t, 1, graph.Stats.NodeCounts[NodeKindStory])
		assert.Equal(t, 1, graph.Stats.NodeCounts[NodeKindCriterion])
		assert.Equal(t, 2, graph.Stats.NodeCounts[NodeKindEvidence])

		assert.Equal(t, 1, graph.Stats.EdgeCounts[EdgeSourceToStory])
		assert.Equal(t, 1, graph.Stats.EdgeCounts[EdgeStoryToCriterion])
		assert.Equal(t, 1, graph.Stats.EdgeCounts[EdgeCriterionToEvidence])
		assert.Equal(t, 2, graph.Stats.EdgeCounts[EdgeEvidenceToChunk])

		assert.Equal(t, 100, graph.Stats.StoryCoverage)
		assert.Equal(t, 100, graph.Stats.CriterionCoverage)
		assert.Equal(t, 1, graph.Stats.TierCounts[domain.ConfidenceTierDirect])
		assert.Equal(t, 1, graph.Stats.TierCounts[domain.ConfidenceTierInferred])

		// Tagged variants: exactly the payload named by Kind is set.
		for _, n := range graph.Nodes {
			switch n.Kind {
			case NodeKindStory:
				require.NotNil(t, n.Story)
				assert.Nil(t, n.Chunk)
				// Criterion's direct tier rolls up through the story.
				assert.Equal(t, domain.ConfidenceTierDirect, n.Story.StrongestTier)
			case NodeKindCriterion:
				require.NotNil(t, n.Criterion)
				assert.Equal(t, domain.ConfidenceTierDirect, n.Criterion.StrongestTier)
				assert.Equal(t, 1, n.Criterion.EvidenceCount)
			case NodeKindEvidence:
				require.NotNil(t, n.Evidence)
			case NodeKindChunk:
				require.NotNil(t, n.Chunk)
				assert.Equal(t, "src-1", n.Chunk.SourceID)
			case NodeKindSource:
				require.NotNil(t, n.Source)
			}
		}
	})

	t.Run("version with no evidence still builds", func(t *testing.T) {
		versions := new(mockVersionRepo)
		chunks := new(mockTraceChunkRepo)
		sources := new(mockTraceSourceRepo)
		svc := NewTraceService(versions, chunks, sources)

		stories := []*domain.Story{
			{ID: "story-a", VersionID: "v1", Title: "Login"},
			{ID: "story-b", VersionID: "v1", Title: "Logout"},
		}
		versions.On("GetVersion", mock.Anything, "v1").Return(&domain.PackVersion{ID: "v1"}, nil)
		versions.On("ListStories", mock.Anything, "v1").Return(stories, nil)
		versions.On("ListCriteria", mock.Anything, "v1").Return([]*domain.AcceptanceCriterion{}, nil)
		versions.On("ListEvidenceLinks", mock.Anything, "v1").Return([]*domain.EvidenceLink{}, nil)

		graph, err := svc.Build(context.Background(), "v1")
		require.NoError(t, err)

		assert.Equal(t, 0, graph.Stats.StoryCoverage)
		assert.Equal(t, 0, graph.Stats.CriterionCoverage)
		assert.Equal(t, 2, graph.Stats.NodeCounts[NodeKindStory])
		assert.Empty(t, graph.Edges)
		chunks.AssertNotCalled(t, "GetByIDs", mock.Anything, mock.Anything)

		for _, n := range graph.Nodes {
			assert.Equal(t, domain.ConfidenceTierNone, n.Story.StrongestTier)
		}
	})

	t.Run("partial coverage rounds", func(t *testing.T) {
		versions := new(mockVersionRepo)
		chunks := new(mockTraceChunkRepo)
		sources := new(mockTraceSourceRepo)
		svc := NewTraceService(versions, chunks, sources)

		stories := []*domain.Story{
			{ID: "story-a", VersionID: "v1", Title: "A"},
			{ID: "story-b", VersionID: "v1", Title: "B"},
			{ID: "story-c", VersionID: "v1", Title: "C"},
		}
		links := []*domain.EvidenceLink{
			{ID: "link-1", EntityID: "story-a", EntityType: domain.EntityTypeStory,
				ChunkID: "chunk-1", Tier: domain.ConfidenceTierAssumption},
		}
		versions.On("GetVersion", mock.Anything, "v1").Return(&domain.PackVersion{ID: "v1"}, nil)
		versions.On("ListStories", mock.Anything, "v1").Return(stories, nil)
		versions.On("ListCriteria", mock.Anything, "v1").Return([]*domain.AcceptanceCriterion{}, nil)
		versions.On("ListEvidenceLinks", mock.Anything, "v1").Return(links, nil)
		chunks.On("GetByIDs", mock.Anything, []string{"chunk-1"}).
			Return([]*domain.Chunk{{ID: "chunk-1", SourceID: "src-1"}}, nil)
		sources.On("GetByIDs", mock.Anything, []string{"src-1"}).
			Return([]*domain.Source{{ID: "src-1"}}, nil)

		graph, err := svc.Build(context.Background(), "v1")
		require.NoError(t, err)
		assert.Equal(t, 33, graph.Stats.StoryCoverage) // 1/3
	})

	t.Run("assumption-only criteria don't count toward coverage", func(t *testing.T) {
		versions := new(mockVersionRepo)
		chunks := new(mockTraceChunkRepo)
		sources := new(mockTraceSourceRepo)
		svc := NewTraceService(versions, chunks, sources)

		stories := []*domain.Story{{ID: "story-a", VersionID: "v1", Title: "A"}}
		criteria := []*domain.AcceptanceCriterion{
			{ID: "ac-1", StoryID: "story-a", Text: "one"},
			{ID: "ac-2", StoryID: "story-a", Text: "two"},
		}
		links := []*domain.EvidenceLink{
			{ID: "link-1", EntityID: "ac-1", EntityType: domain.EntityTypeAcceptanceCriterion,
				ChunkID: "chunk-1", Tier: domain.ConfidenceTierDirect},
			{ID: "link-2", EntityID: "ac-2", EntityType: domain.EntityTypeAcceptanceCriterion,
				ChunkID: "chunk-1", Tier: domain.ConfidenceTierAssumption},
		}
		versions.On("GetVersion", mock.Anything, "v1").Return(&domain.PackVersion{ID: "v1"}, nil)
		versions.On("ListStories", mock.Anything, "v1").Return(stories, nil)
		versions.On("ListCriteria", mock.Anything, "v1").Return(criteria, nil)
		versions.On("ListEvidenceLinks", mock.Anything, "v1").Return(links, nil)
		chunks.On("GetByIDs", mock.Anything, []string{"chunk-1"}).
			Return([]*domain.Chunk{{ID: "chunk-1", SourceID: "src-1"}}, nil)
		sources.On("GetByIDs", mock.Anything, []string{"src-1"}).
			Return([]*domain.Source{{ID: "src-1"}}, nil)

		graph, err := svc.Build(context.Background(), "v1")
		require.NoError(t, err)
		assert.Equal(t, 50, graph.Stats.CriterionCoverage)
	})
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "fits as is", excerpt("fits as is"))

	// 100 three-byte runes put the byte limit mid-rune; the cut must back up
	// to a boundary instead of emitting a broken sequence.
	long := strings.Repeat("世", 100)
	out := excerpt(long)
	assert.LessOrEqual(t, len(out), chunkExcerptLength)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("世", 66), out)
}
