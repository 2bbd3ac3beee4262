package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/internal/service"
	"github.com/noah-isme/tutor-billing-api/pkg/response"
)

type invoiceService interface {
	Create(ctx context.Context, req dto.CreateInvoiceRequest, actor *models.JWTClaims) (*models.Invoice, error)
	CreateBulk(ctx context.Context, req dto.BulkCreateInvoiceRequest, actor *models.JWTClaims) (*dto.BulkInvoiceResult, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Invoice, error)
	List(ctx context.Context, filter models.InvoiceFilter, actor *models.JWTClaims) ([]models.Invoice, *models.Pagination, *models.InvoiceSummary, error)
	Update(ctx context.Context, id string, req dto.UpdateInvoiceRequest, actor *models.JWTClaims) (*models.Invoice, error)
	Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.Invoice, error)
	SoftDelete(ctx context.Context, id string, actor *models.JWTClaims) error
	Restore(ctx context.Context, id string, actor *models.JWTClaims) (*models.Invoice, error)
	Export(ctx context.Context, filter models.InvoiceFilter, format string, actor *models.JWTClaims) (*service.ExportFile, error)
}

// InvoiceHandler exposes invoice endpoints.
type InvoiceHandler struct {
	invoices invoiceService
}

// NewInvoiceHandler constructs InvoiceHandler.
func NewInvoiceHandler(invoices invoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

func parseInvoiceFilter(c *gin.Context) (models.InvoiceFilter, error) {
	filter := models.InvoiceFilter{
		TeacherID:      c.Query("teacherId"),
		StudentID:      c.Query("studentId"),
		EnrollmentID:   c.Query("enrollmentId"),
		CourseID:       c.Query("courseId"),
		Status:         models.InvoiceStatus(c.Query("status")),
		Type:           models.InvoiceType(c.Query("type")),
		IncludeDeleted: c.Query("includeDeleted") == "true",
		Page:           parseQueryInt(c, "page", 1),
		PageSize:       parseQueryInt(c, "limit", 20),
	}
	var err error
	if filter.DueFrom, err = parseDateParam(c.Query("dueFrom")); err != nil {
		return filter, err
	}
	if filter.DueTo, err = parseDateParam(c.Query("dueTo")); err != nil {
		return filter, err
	}
	return filter, nil
}

// Create godoc
// @Summary Issue an invoice for an enrollment
// @Tags Invoices
// @Accept json
// @Produce json
// @Param payload body dto.CreateInvoiceRequest true "Invoice payload"
// @Success 201 {object} response.Envelope
// @Router /invoices [post]
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req dto.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid invoice payload"))
		return
	}
	invoice, err := h.invoices.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invoice)
}

// CreateBulk godoc
// @Summary Issue the same invoice for many enrollments
// @Description Each enrollment is processed independently; failures are reported per item.
// @Tags Invoices
// @Accept json
// @Produce json
// @Param payload body dto.BulkCreateInvoiceRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Router /invoices/bulk [post]
func (h *InvoiceHandler) CreateBulk(c *gin.Context) {
	var req dto.BulkCreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid bulk invoice payload"))
		return
	}
	result, err := h.invoices.CreateBulk(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List invoices visible to the caller
// @Tags Invoices
// @Produce json
// @Param status query string false "Invoice status"
// @Param type query string false "Invoice type"
// @Param enrollmentId query string false "Enrollment filter"
// @Param dueFrom query string false "Due on or after (YYYY-MM-DD)"
// @Param dueTo query string false "Due on or before (YYYY-MM-DD)"
// @Param includeDeleted query bool false "Admins only"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /invoices [get]
func (h *InvoiceHandler) List(c *gin.Context) {
	filter, err := parseInvoiceFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, summary, err := h.invoices.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, map[string]interface{}{"summary": summary})
}

// Export godoc
// @Summary Download invoices as CSV or PDF
// @Tags Invoices
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /invoices/export [get]
func (h *InvoiceHandler) Export(c *gin.Context) {
	filter, err := parseInvoiceFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.invoices.Export(c.Request.Context(), filter, c.Query("format"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}

// Get godoc
// @Summary Get an invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoice, err := h.invoices.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// Update godoc
// @Summary Update due date, notes or paid amount
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body dto.UpdateInvoiceRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id} [patch]
func (h *InvoiceHandler) Update(c *gin.Context) {
	var req dto.UpdateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid invoice payload"))
		return
	}
	invoice, err := h.invoices.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// Cancel godoc
// @Summary Cancel an unpaid invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/cancel [post]
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	invoice, err := h.invoices.Cancel(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// SoftDelete godoc
// @Summary Soft delete an invoice
// @Tags Invoices
// @Param id path string true "Invoice ID"
// @Success 204
// @Router /invoices/{id} [delete]
func (h *InvoiceHandler) SoftDelete(c *gin.Context) {
	if err := h.invoices.SoftDelete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Restore godoc
// @Summary Restore a soft deleted invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/restore [post]
func (h *InvoiceHandler) Restore(c *gin.Context) {
	invoice, err := h.invoices.Restore(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}
