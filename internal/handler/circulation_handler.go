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

type circulationManager interface {
	Issue(ctx context.Context, req dto.IssueBookRequest) (*models.BorrowRecord, error)
	ProcessReturn(ctx context.Context, recordID string, req dto.ReturnBookRequest) (*dto.ReturnBookResponse, error)
	Get(ctx context.Context, id string) (*models.BorrowRecord, error)
	List(ctx context.Context, req dto.ListBorrowRecordsRequest) ([]models.BorrowRecordDetail, models.Pagination, error)
}

// CirculationHandler exposes borrow-record lifecycle endpoints.
type CirculationHandler struct {
	service circulationManager
}

// NewCirculationHandler constructs the handler.
func NewCirculationHandler(svc *service.CirculationService) *CirculationHandler {
	return &CirculationHandler{service: svc}
}

// Issue godoc
// @Summary Issue a book directly to a student
// @Tags Circulation
// @Accept json
// @Produce json
// @Param payload body dto.IssueBookRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Router /borrow-records [post]
func (h *CirculationHandler) Issue(c *gin.Context) {
	var req dto.IssueBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid issue payload"))
		return
	}
	record, err := h.service.Issue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Return godoc
// @Summary Process a book return
// @Description Closes the loan, assesses any penalty, and promotes the waitlist head when a copy frees up.
// @Tags Circulation
// @Accept json
// @Produce json
// @Param id path string true "Borrow record ID"
// @Param payload body dto.ReturnBookRequest true "Return payload"
// @Success 200 {object} response.Envelope
// @Router /borrow-records/{id}/return [post]
func (h *CirculationHandler) Return(c *gin.Context) {
	var req dto.ReturnBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid return payload"))
		return
	}
	result, err := h.service.ProcessReturn(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Get godoc
// @Summary Get a borrow record by ID
// @Tags Circulation
// @Produce json
// @Param id path string true "Borrow record ID"
// @Success 200 {object} response.Envelope
// @Router /borrow-records/{id} [get]
func (h *CirculationHandler) Get(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// List godoc
// @Summary List borrow records
// @Description Students only see their own loans; staff can filter freely.
// @Tags Circulation
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param book_id query string false "Filter by book"
// @Param status query string false "Filter by loan status"
// @Param penalty_status query string false "Filter by penalty status"
// @Param overdue_only query bool false "Only overdue open loans"
// @Success 200 {object} response.Envelope
// @Router /borrow-records [get]
func (h *CirculationHandler) List(c *gin.Context) {
	var req dto.ListBorrowRecordsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}
	records, pagination, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, &pagination)
}
