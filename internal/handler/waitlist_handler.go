package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-circulation-api/internal/models"
	"github.com/noah-isme/lms-circulation-api/internal/service"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
	"github.com/noah-isme/lms-circulation-api/pkg/response"
)

type waitlistManager interface {
	Join(ctx context.Context, bookID, studentID string) (*models.WaitlistEntry, error)
	Leave(ctx context.Context, bookID, studentID string) error
	GetQueue(ctx context.Context, bookID string) ([]models.WaitlistEntryDetail, error)
}

// WaitlistHandler exposes per-book waitlist endpoints.
type WaitlistHandler struct {
	service waitlistManager
}

// NewWaitlistHandler constructs the handler.
func NewWaitlistHandler(svc *service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{service: svc}
}

// Join godoc
// @Summary Join the waitlist for an unavailable book
// @Tags Waitlist
// @Produce json
// @Param id path string true "Book ID"
// @Success 201 {object} response.Envelope
// @Router /books/{id}/waitlist [post]
func (h *WaitlistHandler) Join(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entry, err := h.service.Join(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Leave godoc
// @Summary Leave the waitlist for a book
// @Tags Waitlist
// @Produce json
// @Param id path string true "Book ID"
// @Success 204 {object} nil
// @Router /books/{id}/waitlist [delete]
func (h *WaitlistHandler) Leave(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Leave(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Queue godoc
// @Summary Get the ranked waitlist for a book
// @Description Entries are ordered by priority score with FIFO tie-breaking and include estimated wait.
// @Tags Waitlist
// @Produce json
// @Param id path string true "Book ID"
// @Success 200 {object} response.Envelope
// @Router /books/{id}/waitlist [get]
func (h *WaitlistHandler) Queue(c *gin.Context) {
	entries, err := h.service.GetQueue(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
