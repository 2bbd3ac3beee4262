package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/pkg/response"
)

type capacityService interface {
	Snapshot(ctx context.Context, teacherID string, actor *models.JWTClaims) (*models.CapacitySnapshot, error)
}

// CapacityHandler reports a teacher's student quota.
type CapacityHandler struct {
	capacity capacityService
}

// NewCapacityHandler constructs CapacityHandler.
func NewCapacityHandler(capacity capacityService) *CapacityHandler {
	return &CapacityHandler{capacity: capacity}
}

// Get godoc
// @Summary Get a teacher's subscription usage
// @Tags Capacity
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/capacity [get]
func (h *CapacityHandler) Get(c *gin.Context) {
	snapshot, err := h.capacity.Snapshot(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
