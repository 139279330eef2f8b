package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/evidentops/storypack/internal/api"
	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/service"
)

type BaselineService interface {
	Create(ctx context.Context, input service.CreateBaselineInput) (*domain.Baseline, error)
	Get(ctx context.Context, baselineID string) (*domain.Baseline, error)
	List(ctx context.Context, packID string, limit int) ([]*domain.Baseline, error)
	MarkDiverged(ctx context.Context, packID string) error
	TouchSourceRefresh(ctx context.Context, packID string) error
	EvaluateHealth(ctx context.Context, packID string, report *service.QualityReport) (int, domain.HealthStatus, error)
}

type ApprovedVersionFinder interface {
	GetApprovedVersion(ctx context.Context, packID string) (*domain.PackVersion, error)
}

type BaselineHandler struct {
	svc      BaselineService
	versions ApprovedVersionFinder
	quality  QualityService
}

func NewBaselineHandler(svc BaselineService, versions ApprovedVersionFinder, quality QualityService) *BaselineHandler {
	return &BaselineHandler{svc: svc, versions: versions, quality: quality}
}

type CreateBaselineRequest struct {
	CreatedBy string `json:"created_by"`
	Note      string `json:"note"`
}

type BaselineResponse struct {
	ID            string `json:"id"`
	WorkspaceID   string `json:"workspace_id"`
	PackID        string `json:"pack_id"`
	VersionID     string `json:"version_id"`
	VersionNumber int64  `json:"version_number"`
	VersionLabel  string `json:"version_label"`
	CreatedBy     string `json:"created_by"`
	Note          string `json:"note,omitempty"`
	ArchiveKey    string `json:"archive_key,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func baselineToResponse(b *domain.Baseline) *BaselineResponse {
	return &BaselineResponse{
		ID:            b.ID,
		WorkspaceID:   b.WorkspaceID,
		PackID:        b.PackID,
		VersionID:     b.VersionID,
		VersionNumber: b.VersionNumber,
		VersionLabel:  b.VersionLabel,
		CreatedBy:     b.CreatedBy,
		Note:          b.Note,
		ArchiveKey:    b.ArchiveKey,
		CreatedAt:     b.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *BaselineHandler) Create(w http.ResponseWriter, r *http.Request) {
	packID := chi.URLParam(r, "id")
	if packID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req CreateBaselineRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	baseline, err := h.svc.Create(r.Context(), service.CreateBaselineInput{
		PackID:    packID,
		CreatedBy: req.CreatedBy,
		Note:      req.Note,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, baselineToResponse(baseline))
}

func (h *BaselineHandler) Get(w http.ResponseWriter, r *http.Request) {
	baselineID := chi.URLParam(r, "id")
	if baselineID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	baseline, err := h.svc.Get(r.Context(), baselineID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, baselineToResponse(baseline))
}

type BaselineListResponse struct {
	Items []*BaselineResponse `json:"items"`
}

func (h *BaselineHandler) List(w http.ResponseWriter, r *http.Request) {
	packID := chi.URLParam(r, "id")
	if packID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	baselines, err := h.svc.List(r.Context(), packID, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*BaselineResponse, len(baselines))
	for i, b := range baselines {
		items[i] = baselineToResponse(b)
	}

	api.Success(w, http.StatusOK, BaselineListResponse{Items: items})
}

func (h *BaselineHandler) MarkDiverged(w http.ResponseWriter, r *http.Request) {
	packID := chi.URLParam(r, "id")
	if packID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.MarkDiverged(r.Context(), packID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

// Refreshed records a source re-ingestion for the pack's freshness signal.
func (h *BaselineHandler) Refreshed(w http.ResponseWriter, r *http.Request) {
	packID := chi.URLParam(r, "id")
	if packID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.TouchSourceRefresh(r.Context(), packID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

type HealthResponse struct {
	Score  int    `json:"score"`
	Status string `json:"status"`
}

// EvaluateHealth re-scores a pack. When the pack has an approved version, a
// fresh quality report feeds the score; otherwise the last known score is
// kept and only the status band is re-evaluated.
func (h *BaselineHandler) EvaluateHealth(w http.ResponseWriter, r *http.Request) {
	packID := chi.URLParam(r, "id")
	if packID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var report *service.QualityReport
	version, err := h.versions.GetApprovedVersion(r.Context(), packID)
	switch {
	case err == nil:
		report, err = h.quality.Report(r.Context(), version.ID)
		if err != nil {
			api.HandleError(w, err)
			return
		}
	case errors.Is(err, domain.ErrNoApprovedVersion):
		// Fall through with a nil report.
	default:
		api.HandleError(w, err)
		return
	}

	score, status, err := h.svc.EvaluateHealth(r.Context(), packID, report)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, HealthResponse{
		Score:  score,
		Status: string(status),
	})
}
