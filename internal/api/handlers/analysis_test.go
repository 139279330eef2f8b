package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/service"
)

type MockClassifierService struct {
	mock.Mock
}

func (m *MockClassifierService) ClassifySource(ctx context.Context, sourceID string) (*service.ClassifyOutcome, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ClassifyOutcome), args.Error(1)
}

type MockConflictService struct {
	mock.Mock
}

func (m *MockConflictService) DetectProject(ctx context.Context, projectID, projectContext string) (*service.DetectOutcome, error) {
	args := m.Called(ctx, projectID, projectContext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DetectOutcome), args.Error(1)
}

func (m *MockConflictService) ListProject(ctx context.Context, projectID string) ([]*domain.EvidenceConflict, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EvidenceConflict), args.Error(1)
}

func (m *MockConflictService) PurgeProject(ctx context.Context, projectID string) (int64, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(int64), args.Error(1)
}

func requestWithID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAnalysisHandler_Classify_Success(t *testing.T) {
	mockClassifier := new(MockClassifierService)
	mockConflicts := new(MockConflictService)
	handler := NewAnalysisHandler(mockClassifier, mockConflicts)

	mockClassifier.On("ClassifySource", mock.Anything, "src-1").Return(&service.ClassifyOutcome{
		Total:        4,
		Classified:   3,
		Unclassified: 1,
	}, nil)

	req := requestWithID(httptest.NewRequest(http.MethodPost, "/sources/src-1/classify", nil), "src-1")
	w := httptest.NewRecorder()

	handler.Classify(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(4), data["total"])
	assert.Equal(t, float64(3), data["classified"])
	assert.Equal(t, float64(1), data["unclassified"])
	mockClassifier.AssertExpectations(t)
}

func TestAnalysisHandler_Classify_EmptySource(t *testing.T) {
	mockClassifier := new(MockClassifierService)
	handler := NewAnalysisHandler(mockClassifier, new(MockConflictService))

	mockClassifier.On("ClassifySource", mock.Anything, "src-empty").Return(nil, domain.ErrEmptyChunkBatch)

	req := requestWithID(httptest.NewRequest(http.MethodPost, "/sources/src-empty/classify", nil), "src-empty")
	w := httptest.NewRecorder()

	handler.Classify(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalysisHandler_DetectConflicts_Success(t *testing.T) {
	mockConflicts := new(MockConflictService)
	handler := NewAnalysisHandler(new(MockClassifierService), mockConflicts)

	mockConflicts.On("DetectProject", mock.Anything, "proj-1", "scheduling assistant").Return(&service.DetectOutcome{
		CandidatePairs: 5,
		Judged:         5,
		Recorded:       2,
	}, nil)

	body := `{"context":"scheduling assistant"}`
	req := requestWithID(httptest.NewRequest(http.MethodPost, "/projects/proj-1/conflicts/detect", bytes.NewReader([]byte(body))), "proj-1")
	w := httptest.NewRecorder()

	handler.DetectConflicts(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(5), data["candidate_pairs"])
	assert.Equal(t, float64(2), data["recorded"])
	mockConflicts.AssertExpectations(t)
}

func TestAnalysisHandler_DetectConflicts_SearchUnavailable(t *testing.T) {
	mockConflicts := new(MockConflictService)
	handler := NewAnalysisHandler(new(MockClassifierService), mockConflicts)

	mockConflicts.On("DetectProject", mock.Anything, "proj-1", "").Return(nil, domain.ErrSimilaritySearchUnavailable)

	req := requestWithID(httptest.NewRequest(http.MethodPost, "/projects/proj-1/conflicts/detect", nil), "proj-1")
	w := httptest.NewRecorder()

	handler.DetectConflicts(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAnalysisHandler_ListConflicts_Success(t *testing.T) {
	mockConflicts := new(MockConflictService)
	handler := NewAnalysisHandler(new(MockClassifierService), mockConflicts)

	conflicts := []*domain.EvidenceConflict{
		{
			ID:         "conf-1",
			ProjectID:  "proj-1",
			ChunkAID:   "chunk-a",
			ChunkBID:   "chunk-b",
			Similarity: 0.91,
			Summary:    "deadline stated as both Monday and Friday",
			Confidence: 0.85,
			CreatedAt:  time.Now().UTC(),
		},
	}
	mockConflicts.On("ListProject", mock.Anything, "proj-1").Return(conflicts, nil)

	req := requestWithID(httptest.NewRequest(http.MethodGet, "/projects/proj-1/conflicts", nil), "proj-1")
	w := httptest.NewRecorder()

	handler.ListConflicts(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, "conf-1", item["id"])
	assert.Equal(t, "chunk-a", item["chunk_a_id"])
}

func TestAnalysisHandler_PurgeConflicts_Success(t *testing.T) {
	mockConflicts := new(MockConflictService)
	handler := NewAnalysisHandler(new(MockClassifierService), mockConflicts)

	mockConflicts.On("PurgeProject", mock.Anything, "proj-1").Return(int64(3), nil)

	req := requestWithID(httptest.NewRequest(http.MethodDelete, "/projects/proj-1/conflicts", nil), "proj-1")
	w := httptest.NewRecorder()

	handler.PurgeConflicts(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["deleted"])
	mockConflicts.AssertExpectations(t)
}

func TestAnalysisHandler_Classify_MissingID(t *testing.T) {
	handler := NewAnalysisHandler(new(MockClassifierService), new(MockConflictService))

	req := requestWithID(httptest.NewRequest(http.MethodPost, "/sources//classify", nil), "")
	w := httptest.NewRecorder()

	handler.Classify(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "id is required")
}
