package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/pkg/response"
)

type installmentService interface {
	CreateMany(ctx context.Context, invoiceID string, req dto.CreateInstallmentsRequest, actor *models.JWTClaims) ([]models.Installment, error)
	ListByInvoice(ctx context.Context, invoiceID string, actor *models.JWTClaims) ([]models.Installment, error)
	Update(ctx context.Context, id string, req dto.UpdateInstallmentRequest, actor *models.JWTClaims) (*models.Installment, error)
}

// InstallmentHandler exposes installment plans of invoices.
type InstallmentHandler struct {
	installments installmentService
}

// NewInstallmentHandler constructs InstallmentHandler.
func NewInstallmentHandler(installments installmentService) *InstallmentHandler {
	return &InstallmentHandler{installments: installments}
}

// Create godoc
// @Summary Schedule installments for an invoice
// @Tags Installments
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body dto.CreateInstallmentsRequest true "Installment plan"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /invoices/{id}/installments [post]
func (h *InstallmentHandler) Create(c *gin.Context) {
	var req dto.CreateInstallmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid installment payload"))
		return
	}
	items, err := h.installments.CreateMany(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, items)
}

// List godoc
// @Summary List an invoice's installments
// @Tags Installments
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/installments [get]
func (h *InstallmentHandler) List(c *gin.Context) {
	items, err := h.installments.ListByInvoice(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Update godoc
// @Summary Update an installment
// @Tags Installments
// @Accept json
// @Produce json
// @Param id path string true "Installment ID"
// @Param payload body dto.UpdateInstallmentRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /installments/{id} [patch]
func (h *InstallmentHandler) Update(c *gin.Context) {
	var req dto.UpdateInstallmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid installment payload"))
		return
	}
	item, err := h.installments.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
