package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cognidex/portal-backend/internal/response"
	"github.com/cognidex/portal-backend/internal/service"
)

// SeriesHandler serves the demo series catalog.
type SeriesHandler struct {
	seriesService *service.SeriesService
}

// NewSeriesHandler creates a new SeriesHandler.
func NewSeriesHandler(seriesService *service.SeriesService) *SeriesHandler {
	return &SeriesHandler{seriesService: seriesService}
}

// ListSeries godoc
// GET /api/v1/series
// Returns the demo series catalog for the listing page.
func (h *SeriesHandler) ListSeries(c *gin.Context) {
	series, err := h.seriesService.List(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusBadGateway, response.ErrUpstreamUnavailable)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"series": series})
}
