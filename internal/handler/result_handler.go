package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cognidex/portal-backend/internal/evalapi"
	"github.com/cognidex/portal-backend/internal/middleware"
	"github.com/cognidex/portal-backend/internal/response"
)

// ResultHandler passes analysis results through from the evaluation
// service. The result document's shape is owned upstream; the portal
// relays it untouched so result schema changes need no portal release.
type ResultHandler struct {
	eval *evalapi.Client
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(eval *evalapi.Client) *ResultHandler {
	return &ResultHandler{eval: eval}
}

// GetResult godoc
// GET /api/v1/results/:test_id
// The completion view polls this until the analysis lands. 404 is the
// expected answer while the upstream is still working.
func (h *ResultHandler) GetResult(c *gin.Context) {
	token := middleware.GetUpstreamToken(c)

	testID, err := strconv.Atoi(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.eval.GetResult(c.Request.Context(), token, testID)
	if err != nil {
		if errors.Is(err, evalapi.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusBadGateway, response.ErrUpstreamUnavailable)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}
