package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from ada-002
	DefaultEmbeddingDimensions = 1536
	// DefaultJudgeModel is the chat model used for the judge roles
	DefaultJudgeModel = openai.GPT4oMini
	// DefaultJudgeTimeout bounds every judge call; a timeout is a call
	// failure, never a crash.
	DefaultJudgeTimeout = 60 * time.Second
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions, expected 1536")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
	// ErrUnparseable is returned when a judge reply is not the expected JSON
	ErrUnparseable = errors.New("judge returned unparseable output")
	// ErrEmptyReply is returned when the judge returns no choices
	ErrEmptyReply = errors.New("judge returned no choices")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// ChatAPI defines the interface for judge chat completions
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the OpenAI API for embeddings and the three judge roles:
// chunk classification, contradiction arbitration, and self-review/coherence.
// Construct once per process and share by reference.
type Client struct {
	api        EmbeddingAPI
	chat       ChatAPI
	judgeModel string
	dimensions int
	timeout    time.Duration
}

type OpenAIAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIAdapter(apiKey string, model openai.EmbeddingModel) *OpenAIAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIAdapter{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	JudgeModel          string
	JudgeTimeout        time.Duration
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	judgeModel := cfg.JudgeModel
	if judgeModel == "" {
		judgeModel = DefaultJudgeModel
	}
	timeout := cfg.JudgeTimeout
	if timeout <= 0 {
		timeout = DefaultJudgeTimeout
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg.APIKey, cfg.EmbeddingModel),
		chat:       openai.NewClient(cfg.APIKey),
		judgeModel: judgeModel,
		dimensions: dimensions,
		timeout:    timeout,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	expected := c.dimensions
	if expected <= 0 {
		expected = DefaultEmbeddingDimensions
	}
	if len(embedding) != expected {
		return nil, ErrWrongDimensions
	}

	return embedding, nil
}

// ChunkInput is one chunk presented to the classification judge.
type ChunkInput struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// ChunkVerdict is the classification returned for one chunk. Chunks absent
// from the reply simply stay unclassified.
type ChunkVerdict struct {
	Index      int     `json:"index"`
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

const classifySystemPrompt = `You classify transcript/document chunks for a requirements tool.
For each chunk return its semantic category from exactly this set:
requirement, constraint, context, noise.
Reply with JSON: {"classifications":[{"index":0,"tag":"requirement","confidence":0.9}]}.`

// ClassifyChunks asks the classification judge to tag a batch of chunks.
// The caller is responsible for keeping the batch under the token budget.
func (c *Client) ClassifyChunks(ctx context.Context, chunks []ChunkInput) ([]ChunkVerdict, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyText
	}

	var out struct {
		Classifications []ChunkVerdict `json:"classifications"`
	}
	if err := c.judge(ctx, classifySystemPrompt, chunks, &out); err != nil {
		return nil, err
	}
	return out.Classifications, nil
}

// PairInput is one candidate chunk pair presented to the contradiction judge.
type PairInput struct {
	Index    int    `json:"index"`
	ContentA string `json:"content_a"`
	ContentB string `json:"content_b"`
}

// PairVerdict is the contradiction judge's answer for one pair, by index.
type PairVerdict struct {
	Index       int     `json:"index"`
	Contradicts bool    `json:"contradicts"`
	Summary     string  `json:"summary"`
	Confidence  float64 `json:"confidence"`
}

const contradictionSystemPrompt = `You arbitrate whether two chunks of source material contradict each other.
Both chunks come from the same project and are topically close.
Reply with JSON: {"verdicts":[{"index":0,"contradicts":true,"summary":"...","confidence":0.9}]}.
Only report a contradiction when the chunks make incompatible factual claims.`

// JudgeContradictions arbitrates a batch of candidate pairs.
func (c *Client) JudgeContradictions(ctx context.Context, projectContext string, pairs []PairInput) ([]PairVerdict, error) {
	if len(pairs) == 0 {
		return nil, ErrEmptyText
	}

	payload := struct {
		ProjectContext string      `json:"project_context,omitempty"`
		Pairs          []PairInput `json:"pairs"`
	}{ProjectContext: projectContext, Pairs: pairs}

	var out struct {
		Verdicts []PairVerdict `json:"verdicts"`
	}
	if err := c.judge(ctx, contradictionSystemPrompt, payload, &out); err != nil {
		return nil, err
	}
	return out.Verdicts, nil
}

// ReviewStory is one story plus its cited evidence, as the self-review judge sees it.
type ReviewStory struct {
	Index      int      `json:"index"`
	Title      string   `json:"title"`
	Criteria   []string `json:"criteria"`
	ChunkTexts []string `json:"chunk_texts"`
}

// ReviewIssue is one issue raised by the self-review judge.
type ReviewIssue struct {
	StoryIndex int    `json:"story_index"`
	Kind       string `json:"kind"` // hallucination | weak_evidence | untestable | overloaded
	Severity   string `json:"severity"`
	Detail     string `json:"detail"`
}

// ReviewVerdict is the self-review judge's holistic assessment.
type ReviewVerdict struct {
	ConfidenceScore    int           `json:"confidence_score"`
	OverallAssessment  string        `json:"overall_assessment"`
	Issues             []ReviewIssue `json:"issues"`
	MissedRequirements []string      `json:"missed_requirements"`
}

const selfReviewSystemPrompt = `You review generated user stories against their cited source evidence.
Tag issues as hallucination, weak_evidence, untestable or overloaded, with severity error or warning.
Estimate an overall confidence score from 0 to 100.
Reply with JSON: {"confidence_score":85,"overall_assessment":"...",
"issues":[{"story_index":0,"kind":"weak_evidence","severity":"warning","detail":"..."}],
"missed_requirements":["..."]}.`

// SelfReview asks the review judge to assess a version's stories.
func (c *Client) SelfReview(ctx context.Context, stories []ReviewStory) (*ReviewVerdict, error) {
	if len(stories) == 0 {
		return nil, ErrEmptyText
	}

	var out ReviewVerdict
	if err := c.judge(ctx, selfReviewSystemPrompt, stories, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TopicInput is one source topic with its evidence depth.
type TopicInput struct {
	Label         string `json:"label"`
	EvidenceDepth int    `json:"evidence_depth"`
}

// CoherenceVerdict lists the indexes of stories that map to no source topic.
type CoherenceVerdict struct {
	OffTopicStories []int `json:"off_topic_stories"`
}

const coherenceSystemPrompt = `You check whether generated stories stay on topic.
Given source topics and story titles, flag the index of any story whose want-statement
maps to none of the topics.
Reply with JSON: {"off_topic_stories":[2]}.`

// JudgeCoherence flags stories that drift from the source topics.
func (c *Client) JudgeCoherence(ctx context.Context, topics []TopicInput, storyTitles []string) (*CoherenceVerdict, error) {
	payload := struct {
		Topics  []TopicInput `json:"topics"`
		Stories []string     `json:"stories"`
	}{Topics: topics, Stories: storyTitles}

	var out CoherenceVerdict
	if err := c.judge(ctx, coherenceSystemPrompt, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// judge runs one structured-JSON chat completion with the configured timeout.
func (c *Client) judge(ctx context.Context, systemPrompt string, payload interface{}, out interface{}) error {
	if c.chat == nil {
		return errors.New("chat client not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode judge payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.judgeModel,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
	})
	if err != nil {
		return fmt.Errorf("judge call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return ErrEmptyReply
	}

	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	return nil
}
