package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/pkg/response"
)

type expirySweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type overdueSweeper interface {
	Sweep(ctx context.Context) (*models.SweepResult, error)
}

// SweepHandler lets operators trigger the periodic sweeps on demand.
type SweepHandler struct {
	requests    expirySweeper
	enrollments expirySweeper
	overdue     overdueSweeper
}

// NewSweepHandler constructs SweepHandler.
func NewSweepHandler(requests, enrollments expirySweeper, overdue overdueSweeper) *SweepHandler {
	return &SweepHandler{requests: requests, enrollments: enrollments, overdue: overdue}
}

// ExpireRequests godoc
// @Summary Expire pending requests past their deadline
// @Tags Sweeps
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sweeps/enrollment-requests [post]
func (h *SweepHandler) ExpireRequests(c *gin.Context) {
	count, err := h.requests.SweepExpired(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.SweepResult{Sweep: "enrollment_requests", Requests: count, RanAt: time.Now().UTC()}, nil)
}

// ExpireEnrollments godoc
// @Summary Expire active enrollments whose course has ended
// @Tags Sweeps
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sweeps/enrollments [post]
func (h *SweepHandler) ExpireEnrollments(c *gin.Context) {
	count, err := h.enrollments.SweepExpired(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.SweepResult{Sweep: "enrollments", Enrollments: count, RanAt: time.Now().UTC()}, nil)
}

// MarkOverdue godoc
// @Summary Mark pending invoices and installments past due as overdue
// @Tags Sweeps
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sweeps/overdue [post]
func (h *SweepHandler) MarkOverdue(c *gin.Context) {
	result, err := h.overdue.Sweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
