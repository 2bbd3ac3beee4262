package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-billing-api/internal/dto"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/pkg/response"
)

type paymentService interface {
	ApplyPayment(ctx context.Context, invoiceID string, req dto.ApplyPaymentRequest, actor *models.JWTClaims) (*models.PaymentResult, error)
	ApplyDiscount(ctx context.Context, invoiceID string, req dto.ApplyDiscountRequest, actor *models.JWTClaims) (*models.PaymentResult, error)
	ListPayments(ctx context.Context, invoiceID string, actor *models.JWTClaims) ([]models.PaymentEntry, error)
}

// PaymentHandler exposes the payment ledger of invoices.
type PaymentHandler struct {
	payments paymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// ApplyPayment godoc
// @Summary Record a payment against an invoice
// @Description When installmentId is set the installment and invoice are updated together.
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body dto.ApplyPaymentRequest true "Payment"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /invoices/{id}/payments [post]
func (h *PaymentHandler) ApplyPayment(c *gin.Context) {
	var req dto.ApplyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid payment payload"))
		return
	}
	result, err := h.payments.ApplyPayment(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ApplyDiscount godoc
// @Summary Apply a discount to an invoice
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body dto.ApplyDiscountRequest true "Discount"
// @Success 201 {object} response.Envelope
// @Router /invoices/{id}/discounts [post]
func (h *PaymentHandler) ApplyDiscount(c *gin.Context) {
	var req dto.ApplyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err, "invalid discount payload"))
		return
	}
	result, err := h.payments.ApplyDiscount(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List payments and discounts of an invoice
// @Tags Payments
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	entries, err := h.payments.ListPayments(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
