package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/pkg/response"
)

type enrollmentRequestService interface {
	Create(ctx context.Context, req dto.CreateEnrollmentRequest, actor *models.JWTClaims) (*models.EnrollmentRequest, error)
	Approve(ctx context.Context, id string, req dto.ApproveEnrollmentRequest, actor *models.JWTClaims) (*dto.ApprovalResult, error)
	Reject(ctx context.Context, id string, req dto.RejectEnrollmentRequest, actor *models.JWTClaims) (*models.EnrollmentRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.EnrollmentRequest, error)
	List(ctx context.Context, filter models.EnrollmentRequestFilter, actor *models.JWTClaims) ([]models.EnrollmentRequest, *models.Pagination, error)
}

// EnrollmentRequestHandler exposes the request review workflow.
type EnrollmentRequestHandler struct {
	service enrollmentRequestService
}

// NewEnrollmentRequestHandler builds a new handler.
func NewEnrollmentRequestHandler(service enrollmentRequestService) *EnrollmentRequestHandler {
	return &EnrollmentRequestHandler{service: service}
}

// Create godoc
// @Summary Submit an enrollment request
// @Tags EnrollmentRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateEnrollmentRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-requests [post]
func (h *EnrollmentRequestHandler) Create(c *gin.Context) {
	var req dto.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid enrollment request payload"))
		return
	}
	created, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Approve godoc
// @Summary Approve a pending request
// @Description Reserves a capacity slot, creates the enrollment and issues its invoices in one transaction.
// @Tags EnrollmentRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ApproveEnrollmentRequest true "Enrollment terms"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-requests/{id}/approve [post]
func (h *EnrollmentRequestHandler) Approve(c *gin.Context) {
	var req dto.ApproveEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid approval payload"))
		return
	}
	result, err := h.service.Approve(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Reject godoc
// @Summary Reject a pending request
// @Tags EnrollmentRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RejectEnrollmentRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /enrollment-requests/{id}/reject [post]
func (h *EnrollmentRequestHandler) Reject(c *gin.Context) {
	var req dto.RejectEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid rejection payload"))
		return
	}
	rejected, err := h.service.Reject(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rejected, nil)
}

// Get godoc
// @Summary Get an enrollment request
// @Tags EnrollmentRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /enrollment-requests/{id} [get]
func (h *EnrollmentRequestHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// List godoc
// @Summary List enrollment requests visible to the caller
// @Tags EnrollmentRequests
// @Produce json
// @Param status query string false "pending, approved, rejected or expired"
// @Param courseId query string false "Course filter"
// @Param studyYear query string false "Study year filter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollment-requests [get]
func (h *EnrollmentRequestHandler) List(c *gin.Context) {
	filter := models.EnrollmentRequestFilter{
		StudentID: c.Query("studentId"),
		TeacherID: c.Query("teacherId"),
		CourseID:  c.Query("courseId"),
		StudyYear: c.Query("studyYear"),
		Status:    models.EnrollmentRequestStatus(c.Query("status")),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "limit", 20),
	}
	items, pagination, err := h.service.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}
