package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/service"
	appErrors "github.com/EduOpsSolutions/EduOps-sub002/pkg/errors"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/jobs"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/response"
)

// PaymentHandler exposes payment orchestration and reconciliation endpoints.
type PaymentHandler struct {
	payments  *service.PaymentService
	reconcile *service.ReconcileService
	queue     *jobs.Queue
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService, reconcile *service.ReconcileService, queue *jobs.Queue) *PaymentHandler {
	return &PaymentHandler{payments: payments, reconcile: reconcile, queue: queue}
}

// Start godoc
// @Summary Start a payment attempt for an enrollment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.StartPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /enrollments/{id}/payments [post]
func (h *PaymentHandler) Start(c *gin.Context) {
	var req service.StartPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	handle, err := h.payments.Start(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, handle, nil)
}

// ListIntents godoc
// @Summary List payment attempts for an enrollment
// @Tags Payments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/payments [get]
func (h *PaymentHandler) ListIntents(c *gin.Context) {
	intents, err := h.payments.ListIntents(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, intents, nil)
}

// ReconcileRequest optionally pins the reconciliation to a client key.
type ReconcileRequest struct {
	ClientKey string `json:"client_key"`
}

// Reconcile godoc
// @Summary Resolve a payment intent against the gateway
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment intent ID"
// @Param payload body ReconcileRequest false "Correlation key"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/reconcile [post]
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	var req ReconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	result, err := h.reconcile.Reconcile(c.Request.Context(), c.Param("id"), req.ClientKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ReconcileAsync godoc
// @Summary Queue a background reconciliation for a payment intent
// @Tags Payments
// @Produce json
// @Param id path string true "Payment intent ID"
// @Success 202 {object} response.Envelope
// @Router /payments/{id}/reconcile/async [post]
func (h *PaymentHandler) ReconcileAsync(c *gin.Context) {
	if h.queue == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "background reconciliation unavailable"))
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    "reconcile_intent",
		Payload: c.Param("id"),
	}
	if err := h.queue.Enqueue(job); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue reconciliation"))
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"job_id": job.ID, "intent_id": c.Param("id")}, nil)
}
