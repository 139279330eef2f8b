package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evidentops/storypack/internal/api"
	"github.com/evidentops/storypack/internal/service"
)

type QualityService interface {
	Report(ctx context.Context, versionID string) (*service.QualityReport, error)
}

type TraceService interface {
	Build(ctx context.Context, versionID string) (*service.TraceGraph, error)
}

type QualityHandler struct {
	quality QualityService
	trace   TraceService
}

func NewQualityHandler(quality QualityService, trace TraceService) *QualityHandler {
	return &QualityHandler{quality: quality, trace: trace}
}

// Report generates the full quality report for a pack version. The report
// structs carry their own JSON shape, so no translation layer is needed.
func (h *QualityHandler) Report(w http.ResponseWriter, r *http.Request) {
	versionID := chi.URLParam(r, "id")
	if versionID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	report, err := h.quality.Report(r.Context(), versionID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, report)
}

// Trace builds the traceability graph for a pack version.
func (h *QualityHandler) Trace(w http.ResponseWriter, r *http.Request) {
	versionID := chi.URLParam(r, "id")
	if versionID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	graph, err := h.trace.Build(r.Context(), versionID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, graph)
}
