package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmbeddingAPI struct {
	embedding []float32
	err       error
}

func (m *mockEmbeddingAPI) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	return m.embedding, m.err
}

type mockChatAPI struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (m *mockChatAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func newTestClient(chat ChatAPI, embed EmbeddingAPI) *Client {
	return &Client{
		api:        embed,
		chat:       chat,
		judgeModel: DefaultJudgeModel,
		dimensions: 3,
		timeout:    time.Second,
	}
}

func TestGenerateEmbedding(t *testing.T) {
	t.Run("returns embedding", func(t *testing.T) {
		client := newTestClient(nil, &mockEmbeddingAPI{embedding: []float32{0.1, 0.2, 0.3}})
		got, err := client.GenerateEmbedding(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, got)
	})

	t.Run("empty text fails", func(t *testing.T) {
		client := newTestClient(nil, &mockEmbeddingAPI{})
		_, err := client.GenerateEmbedding(context.Background(), "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("wrong dimensions fails", func(t *testing.T) {
		client := newTestClient(nil, &mockEmbeddingAPI{embedding: []float32{0.1}})
		_, err := client.GenerateEmbedding(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrWrongDimensions)
	})
}

func TestClassifyChunks(t *testing.T) {
	t.Run("parses verdicts", func(t *testing.T) {
		chat := &mockChatAPI{content: `{"classifications":[{"index":0,"tag":"requirement","confidence":0.92},{"index":2,"tag":"noise","confidence":0.7}]}`}
		client := newTestClient(chat, nil)

		verdicts, err := client.ClassifyChunks(context.Background(), []ChunkInput{
			{Index: 0, Content: "must support SSO"},
			{Index: 1, Content: "uh let me share my screen"},
			{Index: 2, Content: "anyway"},
		})
		require.NoError(t, err)
		require.Len(t, verdicts, 2)
		assert.Equal(t, "requirement", verdicts[0].Tag)
		assert.Equal(t, 0.92, verdicts[0].Confidence)
		assert.Equal(t, 2, verdicts[1].Index)
	})

	t.Run("requests strict JSON replies", func(t *testing.T) {
		chat := &mockChatAPI{content: `{"classifications":[]}`}
		client := newTestClient(chat, nil)

		_, err := client.ClassifyChunks(context.Background(), []ChunkInput{{Index: 0, Content: "x"}})
		require.NoError(t, err)
		require.NotNil(t, chat.lastReq.ResponseFormat)
		assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, chat.lastReq.ResponseFormat.Type)
	})

	t.Run("empty batch fails", func(t *testing.T) {
		client := newTestClient(&mockChatAPI{}, nil)
		_, err := client.ClassifyChunks(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("unparseable reply fails", func(t *testing.T) {
		chat := &mockChatAPI{content: `not json`}
		client := newTestClient(chat, nil)
		_, err := client.ClassifyChunks(context.Background(), []ChunkInput{{Index: 0, Content: "x"}})
		assert.ErrorIs(t, err, ErrUnparseable)
	})
}

func TestJudgeContradictions(t *testing.T) {
	t.Run("parses pair verdicts by index", func(t *testing.T) {
		chat := &mockChatAPI{content: `{"verdicts":[{"index":0,"contradicts":true,"summary":"Different dates","confidence":0.9}]}`}
		client := newTestClient(chat, nil)

		verdicts, err := client.JudgeContradictions(context.Background(), "scheduling project", []PairInput{
			{Index: 0, ContentA: "deadline is Monday", ContentB: "deadline is Friday"},
		})
		require.NoError(t, err)
		require.Len(t, verdicts, 1)
		assert.True(t, verdicts[0].Contradicts)
		assert.Equal(t, "Different dates", verdicts[0].Summary)
		assert.Equal(t, 0.9, verdicts[0].Confidence)
	})

	t.Run("call error surfaces", func(t *testing.T) {
		chat := &mockChatAPI{err: errors.New("rate limited")}
		client := newTestClient(chat, nil)
		_, err := client.JudgeContradictions(context.Background(), "", []PairInput{{Index: 0}})
		assert.Error(t, err)
	})
}

func TestSelfReview(t *testing.T) {
	chat := &mockChatAPI{content: `{"confidence_score":82,"overall_assessment":"solid",
		"issues":[{"story_index":1,"kind":"weak_evidence","severity":"warning","detail":"single citation"}],
		"missed_requirements":["audit log retention"]}`}
	client := newTestClient(chat, nil)

	verdict, err := client.SelfReview(context.Background(), []ReviewStory{{Index: 0, Title: "Login"}})
	require.NoError(t, err)
	assert.Equal(t, 82, verdict.ConfidenceScore)
	assert.Equal(t, "solid", verdict.OverallAssessment)
	require.Len(t, verdict.Issues, 1)
	assert.Equal(t, "weak_evidence", verdict.Issues[0].Kind)
	assert.Equal(t, []string{"audit log retention"}, verdict.MissedRequirements)
}

func TestJudgeCoherence(t *testing.T) {
	chat := &mockChatAPI{content: `{"off_topic_stories":[2]}`}
	client := newTestClient(chat, nil)

	verdict, err := client.JudgeCoherence(context.Background(),
		[]TopicInput{{Label: "billing", EvidenceDepth: 4}},
		[]string{"Invoices", "Refunds", "Dark mode"},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, verdict.OffTopicStories)
}
