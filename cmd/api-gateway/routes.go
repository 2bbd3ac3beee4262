package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/tutor-billing-api/internal/handler"
	internalmiddleware "github.com/noah-isme/tutor-billing-api/internal/middleware"
	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/internal/service"
	"github.com/noah-isme/tutor-billing-api/pkg/config"
)

type routeDeps struct {
	auth         *service.AuthService
	db           handler.Pinger
	metrics      *service.MetricsService
	capacity     *service.CapacityService
	requests     *service.EnrollmentRequestService
	enrollments  *service.EnrollmentService
	invoices     *service.InvoiceService
	installments *service.InstallmentService
	payments     *service.PaymentService
	overdue      *service.OverdueService
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	metricsHandler := handler.NewMetricsHandler(deps.metrics, deps.db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requestHandler := handler.NewEnrollmentRequestHandler(deps.requests)
	enrollmentHandler := handler.NewEnrollmentHandler(deps.enrollments)
	capacityHandler := handler.NewCapacityHandler(deps.capacity)
	invoiceHandler := handler.NewInvoiceHandler(deps.invoices)
	installmentHandler := handler.NewInstallmentHandler(deps.installments)
	paymentHandler := handler.NewPaymentHandler(deps.payments)
	sweepHandler := handler.NewSweepHandler(deps.requests, deps.enrollments, deps.overdue)

	staff := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	admin := internalmiddleware.RequireRoles(models.RoleAdmin)

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(deps.auth))

	requests := api.Group("/enrollment-requests")
	requests.POST("", internalmiddleware.RequireRoles(models.RoleStudent, models.RoleAdmin), requestHandler.Create)
	requests.GET("", requestHandler.List)
	requests.GET("/:id", requestHandler.Get)
	requests.POST("/:id/approve", staff, requestHandler.Approve)
	requests.POST("/:id/reject", staff, requestHandler.Reject)

	enrollments := api.Group("/enrollments")
	enrollments.GET("", enrollmentHandler.List)
	enrollments.GET("/:id", enrollmentHandler.Get)
	enrollments.PATCH("/:id", staff, enrollmentHandler.Update)

	api.GET("/teachers/:id/capacity", staff, capacityHandler.Get)

	invoices := api.Group("/invoices")
	invoices.POST("", staff, invoiceHandler.Create)
	invoices.POST("/bulk", staff, invoiceHandler.CreateBulk)
	invoices.GET("", invoiceHandler.List)
	invoices.GET("/export", staff, invoiceHandler.Export)
	invoices.GET("/:id", invoiceHandler.Get)
	invoices.PATCH("/:id", staff, invoiceHandler.Update)
	invoices.POST("/:id/cancel", staff, invoiceHandler.Cancel)
	invoices.DELETE("/:id", staff, invoiceHandler.SoftDelete)
	invoices.POST("/:id/restore", staff, invoiceHandler.Restore)
	invoices.POST("/:id/payments", staff, paymentHandler.ApplyPayment)
	invoices.GET("/:id/payments", paymentHandler.List)
	invoices.POST("/:id/discounts", staff, paymentHandler.ApplyDiscount)
	invoices.POST("/:id/installments", staff, installmentHandler.Create)
	invoices.GET("/:id/installments", installmentHandler.List)

	api.PATCH("/installments/:id", staff, installmentHandler.Update)

	sweeps := api.Group("/admin/sweeps", admin)
	sweeps.POST("/enrollment-requests", sweepHandler.ExpireRequests)
	sweeps.POST("/enrollments", sweepHandler.ExpireEnrollments)
	sweeps.POST("/overdue", sweepHandler.MarkOverdue)
}
