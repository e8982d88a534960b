package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Raymond9734/congregation-console/internal/service"
)

// CampaignHandler handles campaign list HTTP requests
type CampaignHandler struct {
	campaigns service.CampaignListService
	logger    *slog.Logger
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaigns service.CampaignListService, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		logger:    logger,
	}
}

// ListCampaigns handles GET /api/console/campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))

	result, err := h.campaigns.List(r.Context(), page, pageSize)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, result)
}
