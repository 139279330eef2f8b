package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evidentops/storypack/internal/api"
	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/service"
)

type ClassifierService interface {
	ClassifySource(ctx context.Context, sourceID string) (*service.ClassifyOutcome, error)
}

type ConflictService interface {
	DetectProject(ctx context.Context, projectID, projectContext string) (*service.DetectOutcome, error)
	ListProject(ctx context.Context, projectID string) ([]*domain.EvidenceConflict, error)
	PurgeProject(ctx context.Context, projectID string) (int64, error)
}

// AnalysisHandler exposes the synchronous analysis triggers. Long-running
// passes normally go through the job queue; these endpoints run them inline.
type AnalysisHandler struct {
	classifier ClassifierService
	conflicts  ConflictService
}

func NewAnalysisHandler(classifier ClassifierService, conflicts ConflictService) *AnalysisHandler {
	return &AnalysisHandler{classifier: classifier, conflicts: conflicts}
}

type ClassifyResponse struct {
	Total         int `json:"total"`
	Classified    int `json:"classified"`
	Unclassified  int `json:"unclassified"`
	FailedBatches int `json:"failed_batches"`
}

func (h *AnalysisHandler) Classify(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	if sourceID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	outcome, err := h.classifier.ClassifySource(r.Context(), sourceID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ClassifyResponse{
		Total:         outcome.Total,
		Classified:    outcome.Classified,
		Unclassified:  outcome.Unclassified,
		FailedBatches: outcome.FailedBatches,
	})
}

type DetectConflictsRequest struct {
	Context string `json:"context"`
}

type DetectConflictsResponse struct {
	CandidatePairs  int `json:"candidate_pairs"`
	AlreadyRecorded int `json:"already_recorded"`
	Judged          int `json:"judged"`
	Recorded        int `json:"recorded"`
	FailedBatches   int `json:"failed_batches"`
}

func (h *AnalysisHandler) DetectConflicts(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if projectID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req DetectConflictsRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	outcome, err := h.conflicts.DetectProject(r.Context(), projectID, req.Context)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DetectConflictsResponse{
		CandidatePairs:  outcome.CandidatePairs,
		AlreadyRecorded: outcome.AlreadyRecorded,
		Judged:          outcome.Judged,
		Recorded:        outcome.Recorded,
		FailedBatches:   outcome.FailedBatches,
	})
}

type ConflictResponse struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	ChunkAID   string  `json:"chunk_a_id"`
	ChunkBID   string  `json:"chunk_b_id"`
	Similarity float64 `json:"similarity"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

type ConflictListResponse struct {
	Items []*ConflictResponse `json:"items"`
}

func (h *AnalysisHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if projectID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	conflicts, err := h.conflicts.ListProject(r.Context(), projectID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*ConflictResponse, len(conflicts))
	for i, c := range conflicts {
		items[i] = &ConflictResponse{
			ID:         c.ID,
			ProjectID:  c.ProjectID,
			ChunkAID:   c.ChunkAID,
			ChunkBID:   c.ChunkBID,
			Similarity: c.Similarity,
			Summary:    c.Summary,
			Confidence: c.Confidence,
			CreatedAt:  c.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	api.Success(w, http.StatusOK, ConflictListResponse{Items: items})
}

type PurgeConflictsResponse struct {
	Deleted int64 `json:"deleted"`
}

func (h *AnalysisHandler) PurgeConflicts(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if projectID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	deleted, err := h.conflicts.PurgeProject(r.Context(), projectID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, PurgeConflictsResponse{Deleted: deleted})
}
