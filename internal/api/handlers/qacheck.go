package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evidentops/storypack/internal/api"
	"github.com/evidentops/storypack/internal/service"
)

type QACheckService interface {
	Run(ctx context.Context, versionID string) (*service.QACheckOutcome, error)
}

// QACheckHandler triggers the deterministic rule checker for a version.
type QACheckHandler struct {
	checker QACheckService
}

func NewQACheckHandler(checker QACheckService) *QACheckHandler {
	return &QACheckHandler{checker: checker}
}

// Run re-checks a version's stories and replaces its persisted QA flags.
func (h *QACheckHandler) Run(w http.ResponseWriter, r *http.Request) {
	versionID := chi.URLParam(r, "id")
	if versionID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	outcome, err := h.checker.Run(r.Context(), versionID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, outcome)
}
