package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-circulation-api/internal/dto"
	"github.com/noah-isme/lms-circulation-api/internal/models"
	"github.com/noah-isme/lms-circulation-api/internal/service"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
	"github.com/noah-isme/lms-circulation-api/pkg/response"
)

type penaltyManager interface {
	Preview(ctx context.Context, recordID string) (*dto.PenaltyQuote, error)
	Recompute(ctx context.Context, recordID string) (*models.BorrowRecord, error)
	Pay(ctx context.Context, recordID string, req dto.PayPenaltyRequest) (*models.BorrowRecord, error)
	Waive(ctx context.Context, recordID string) (*models.BorrowRecord, error)
	MarkPaid(ctx context.Context, recordID string) (*models.BorrowRecord, error)
	Reconcile(ctx context.Context) (*dto.ReconcileResult, error)
}

// PenaltyHandler exposes penalty settlement and reconciliation endpoints.
type PenaltyHandler struct {
	service penaltyManager
}

// NewPenaltyHandler constructs the handler.
func NewPenaltyHandler(svc *service.PenaltyService) *PenaltyHandler {
	return &PenaltyHandler{service: svc}
}

// Preview godoc
// @Summary Preview the penalty a loan would incur today
// @Description Read-only quote. Settled records report their stored amount.
// @Tags Penalties
// @Produce json
// @Param id path string true "Borrow record ID"
// @Success 200 {object} response.Envelope
// @Router /borrow-records/{id}/fine-preview [get]
func (h *PenaltyHandler) Preview(c *gin.Context) {
	quote, err := h.service.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quote, nil)
}

// Recompute godoc
// @Summary Recompute the stored penalty for an open loan
// @Tags Penalties
// @Produce json
// @Param id path string true "Borrow record ID"
// @Success 200 {object} response.Envelope
// @Router /borrow-records/{id}/penalty/recompute [post]
func (h *PenaltyHandler) Recompute(c *gin.Context) {
	record, err := h.service.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Pay godoc
// @Summary Record a penalty payment
// @Tags Penalties
// @Accept json
// @Produce json
// @Param id path string true "Borrow record ID"
// @Param payload body dto.PayPenaltyRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /borrow-records/{id}/penalty/pay [post]
func (h *PenaltyHandler) Pay(c *gin.Context) {
	var req dto.PayPenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	record, err := h.service.Pay(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Waive godoc
// @Summary Waive an outstanding penalty
// @Tags Penalties
// @Produce json
// @Param id path string true "Borrow record ID"
// @Success 200 {object} response.Envelope
// @Router /borrow-records/{id}/penalty/waive [post]
func (h *PenaltyHandler) Waive(c *gin.Context) {
	record, err := h.service.Waive(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// MarkPaid godoc
// @Summary Mark a penalty as settled outside the system
// @Tags Penalties
// @Produce json
// @Param id path string true "Borrow record ID"
// @Success 200 {object} response.Envelope
// @Router /borrow-records/{id}/penalty/mark-paid [post]
func (h *PenaltyHandler) MarkPaid(c *gin.Context) {
	record, err := h.service.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Reconcile godoc
// @Summary Run penalty reconciliation across all overdue open loans
// @Description Idempotent sweep. Settlements recorded mid-run always win over recomputed amounts.
// @Tags Penalties
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /penalties/reconcile [post]
func (h *PenaltyHandler) Reconcile(c *gin.Context) {
	result, err := h.service.Reconcile(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
