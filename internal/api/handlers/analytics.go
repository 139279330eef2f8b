package handlers

import (
	"context"
	"net/http"

	"github.com/evidentops/storypack/internal/api"
	"github.com/evidentops/storypack/internal/api/middleware"
	"github.com/evidentops/storypack/internal/service"
)

type AnalyticsService interface {
	Workspace(ctx context.Context, workspaceID string) (*service.WorkspaceAnalytics, error)
}

type AnalyticsHandler struct {
	svc AnalyticsService
}

func NewAnalyticsHandler(svc AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

// Workspace returns the portfolio rollup for the authenticated workspace.
func (h *AnalyticsHandler) Workspace(w http.ResponseWriter, r *http.Request) {
	workspaceID := middleware.GetWorkspaceID(r.Context())
	if workspaceID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	analytics, err := h.svc.Workspace(r.Context(), workspaceID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, analytics)
}
