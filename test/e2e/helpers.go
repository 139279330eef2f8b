//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentops/storypack/internal/api/handlers"
	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/repository"
	"github.com/evidentops/storypack/internal/server"
	"github.com/evidentops/storypack/internal/service"
	"github.com/evidentops/storypack/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	WorkspaceID  string
	APIKeyToken  string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with a database container
// and an in-process server wired to deterministic judges.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// Bootstrap creates a workspace and API key for testing
func (e *E2ETestEnv) Bootstrap() {
	wsResp, err := e.Post("/workspaces", map[string]string{"name": "E2E Test Workspace"}, "")
	if err != nil {
		e.T.Fatalf("failed to create workspace: %v", err)
	}

	var wsData struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(wsResp.Data, &wsData); err != nil {
		e.T.Fatalf("failed to parse workspace response: %v", err)
	}
	e.WorkspaceID = wsData.ID

	keyResp, err := e.Post("/apikeys", map[string]string{
		"workspace_id": e.WorkspaceID,
		"name":         "e2e-test-key",
	}, "")
	if err != nil {
		e.T.Fatalf("failed to create API key: %v", err)
	}

	var keyData struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(keyResp.Data, &keyData); err != nil {
		e.T.Fatalf("failed to parse key response: %v", err)
	}
	e.APIKeyToken = keyData.Token
}

// ProjectFixture is the seeded graph one project-level test works against.
type ProjectFixture struct {
	ProjectID   string
	SourceID    string
	PackID      string
	VersionID   string
	ChunkIDs    []string
	StoryIDs    []string
	CriterionID string
}

// SeedProject inserts a source with embedded chunks, a pack with an approved
// version, two stories, one criterion and evidence links. The first two
// chunks share an embedding axis so conflict detection finds exactly one
// candidate pair; the third sits on its own axis.
func (e *E2ETestEnv) SeedProject() *ProjectFixture {
	now := time.Now().UTC()
	f := &ProjectFixture{
		ProjectID: uuid.NewString(),
		SourceID:  uuid.NewString(),
		PackID:    uuid.NewString(),
		VersionID: uuid.NewString(),
	}

	_, err := e.Pool.Exec(e.Ctx,
		`INSERT INTO sources (id, project_id, title, kind, ingested_at) VALUES ($1, $2, $3, $4, $5)`,
		f.SourceID, f.ProjectID, "Kickoff Call", "transcript", now)
	if err != nil {
		e.T.Fatalf("failed to seed source: %v", err)
	}

	chunkRepo := repository.NewChunkRepository(e.Pool)
	contents := []string{
		"Exports must be available in CSV format.",
		"Exports must never be available in CSV format.",
		"The dashboard loads in under two seconds.",
	}
	axes := []int{0, 0, 1}
	for i, content := range contents {
		chunk := &domain.Chunk{
			ID:        uuid.NewString(),
			SourceID:  f.SourceID,
			ProjectID: f.ProjectID,
			Ordinal:   i,
			Content:   content,
			Embedding: unitVector(axes[i]),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := chunkRepo.Create(e.Ctx, chunk); err != nil {
			e.T.Fatalf("failed to seed chunk: %v", err)
		}
		f.ChunkIDs = append(f.ChunkIDs, chunk.ID)
	}

	_, err = e.Pool.Exec(e.Ctx,
		`INSERT INTO packs (id, workspace_id, project_id, name, diverged, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $5)`,
		f.PackID, e.WorkspaceID, f.ProjectID, "E2E Pack", now)
	if err != nil {
		e.T.Fatalf("failed to seed pack: %v", err)
	}

	_, err = e.Pool.Exec(e.Ctx,
		`INSERT INTO pack_versions (id, pack_id, number, approved, created_at) VALUES ($1, $2, 1, TRUE, $3)`,
		f.VersionID, f.PackID, now)
	if err != nil {
		e.T.Fatalf("failed to seed version: %v", err)
	}

	stories := []struct{ title, want string }{
		{"Export data as CSV", "I want to export my data as CSV so that I can analyze it elsewhere"},
		{"Fast dashboard", "I want the dashboard to load quickly so that I can check status at a glance"},
	}
	for i, st := range stories {
		id := uuid.NewString()
		_, err = e.Pool.Exec(e.Ctx,
			`INSERT INTO stories (id, version_id, title, want, sort_order, deleted, created_at)
			 VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
			id, f.VersionID, st.title, st.want, i, now)
		if err != nil {
			e.T.Fatalf("failed to seed story: %v", err)
		}
		f.StoryIDs = append(f.StoryIDs, id)
	}

	f.CriterionID = uuid.NewString()
	_, err = e.Pool.Exec(e.Ctx,
		`INSERT INTO acceptance_criteria (id, story_id, text, sort_order, deleted, created_at)
		 VALUES ($1, $2, $3, 0, FALSE, $4)`,
		f.CriterionID, f.StoryIDs[0], "Given data exists, exporting produces a valid CSV file", now)
	if err != nil {
		e.T.Fatalf("failed to seed criterion: %v", err)
	}

	links := []struct {
		entityID   string
		entityType string
		chunkID    string
		tier       string
	}{
		{f.StoryIDs[0], "story", f.ChunkIDs[0], "direct"},
		{f.CriterionID, "acceptance_criterion", f.ChunkIDs[0], "inferred"},
		{f.StoryIDs[1], "story", f.ChunkIDs[2], "assumption"},
	}
	for _, l := range links {
		_, err = e.Pool.Exec(e.Ctx,
			`INSERT INTO evidence_links (id, version_id, entity_id, entity_type, chunk_id, tier, evolution_status, quote)
			 VALUES ($1, $2, $3, $4, $5, $6, 'new', $7)`,
			uuid.NewString(), f.VersionID, l.entityID, l.entityType, l.chunkID, l.tier, "quoted span")
		if err != nil {
			e.T.Fatalf("failed to seed evidence link: %v", err)
		}
	}

	return f
}

// unitVector returns a 1536-dim unit vector along the given axis. Chunks on
// the same axis have cosine similarity 1, orthogonal axes 0.
func unitVector(axis int) []float32 {
	v := make([]float32, 1536)
	v[axis] = 1
	return v
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, authToken)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, authToken)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// startServer starts the HTTP server with all handlers
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	chunkRepo := repository.NewChunkRepository(pool)
	conflictRepo := repository.NewConflictRepository(pool)
	packRepo := repository.NewPackRepository(pool)
	versionRepo := repository.NewVersionRepository(pool)
	baselineRepo := repository.NewBaselineRepository(pool)
	qaFlagRepo := repository.NewQAFlagRepository(pool)
	sourceRepo := repository.NewSourceRepository(pool)
	workspaceRepo := repository.NewWorkspaceRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	analyticsRepo := repository.NewAnalyticsRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	judges := stubJudges{}
	authSvc := service.NewAuthService(workspaceRepo, apiKeyRepo)
	classifierSvc := service.NewClassifierService(chunkRepo, judges)
	conflictSvc := service.NewConflictService(conflictRepo, chunkRepo, judges)
	qaCheckSvc := service.NewQACheckService(versionRepo, qaFlagRepo)
	qualitySvc := service.NewQualityService(versionRepo, qaFlagRepo, judges, judges)
	traceSvc := service.NewTraceService(versionRepo, chunkRepo, sourceRepo)
	baselineSvc := service.NewBaselineService(txRunner, baselineRepo, packRepo, nil, "")
	analyticsSvc := service.NewAnalyticsService(analyticsRepo, workspaceRepo)

	cfg := server.RouterConfig{
		AuthValidator:    authSvc,
		AnalysisHandler:  handlers.NewAnalysisHandler(classifierSvc, conflictSvc),
		QACheckHandler:   handlers.NewQACheckHandler(qaCheckSvc),
		QualityHandler:   handlers.NewQualityHandler(qualitySvc, traceSvc),
		BaselineHandler:  handlers.NewBaselineHandler(baselineSvc, versionRepo, qualitySvc),
		AnalyticsHandler: handlers.NewAnalyticsHandler(analyticsSvc),
		AuthHandler:      handlers.NewAuthHandler(authSvc),
	}

	router := server.NewRouter(cfg)
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// stubJudges answers every judge role deterministically so the pipeline can
// run end to end without a live model.
type stubJudges struct{}

func (stubJudges) ClassifyChunks(ctx context.Context, contents []string) ([]service.ChunkClassification, error) {
	out := make([]service.ChunkClassification, len(contents))
	for i := range contents {
		out[i] = service.ChunkClassification{Index: i, Tag: domain.ClassificationTagRequirement, Confidence: 0.9}
	}
	return out, nil
}

func (stubJudges) JudgeContradictions(ctx context.Context, projectContext string, pairs []*service.CandidatePair) ([]service.PairJudgement, error) {
	out := make([]service.PairJudgement, len(pairs))
	for i := range pairs {
		out[i] = service.PairJudgement{Index: i, Contradicts: true, Summary: "statements disagree", Confidence: 0.9}
	}
	return out, nil
}

func (stubJudges) SelfReview(ctx context.Context, stories []service.ReviewStoryInput) (*service.ReviewOutcome, error) {
	return &service.ReviewOutcome{
		ConfidenceScore:   88,
		OverallAssessment: "stories track the evidence",
	}, nil
}

func (stubJudges) JudgeCoherence(ctx context.Context, topics []service.SourceTopic, storyTitles []string) ([]int, error) {
	return nil, nil
}
