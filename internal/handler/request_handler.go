package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-circulation-api/internal/dto"
	"github.com/noah-isme/lms-circulation-api/internal/models"
	"github.com/noah-isme/lms-circulation-api/internal/service"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
	"github.com/noah-isme/lms-circulation-api/pkg/response"
)

type requestManager interface {
	Create(ctx context.Context, studentID string, req dto.CreateIssueRequestRequest) (*models.IssueRequest, error)
	Get(ctx context.Context, id string) (*models.IssueRequest, error)
	List(ctx context.Context, req dto.ListRequestsRequest) ([]models.IssueRequestDetail, models.Pagination, error)
	Approve(ctx context.Context, requestID, librarianID string, dueDate *time.Time) (*models.IssueRequest, error)
	Reject(ctx context.Context, requestID, librarianID, reason string) (*models.IssueRequest, error)
	BulkApprove(ctx context.Context, librarianID string, req dto.BulkApproveRequest) (*models.BulkApproveResult, error)
}

// RequestHandler exposes issue-request endpoints.
type RequestHandler struct {
	service requestManager
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(svc *service.RequestService) *RequestHandler {
	return &RequestHandler{service: svc}
}

// Create godoc
// @Summary Submit an issue request for a book
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateIssueRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /issue-requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateIssueRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Get godoc
// @Summary Get an issue request by ID
// @Tags Requests
// @Produce json
// @Param id path string true "Issue request ID"
// @Success 200 {object} response.Envelope
// @Router /issue-requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// List godoc
// @Summary List issue requests
// @Description Students only see their own requests.
// @Tags Requests
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param book_id query string false "Filter by book"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /issue-requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	var req dto.ListRequestsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}
	requests, pagination, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, &pagination)
}

// Approve godoc
// @Summary Approve a pending issue request
// @Description Approval issues the book in the same transaction; an out-of-stock book leaves the request pending.
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Issue request ID"
// @Param payload body dto.ApproveRequestRequest false "Optional due-date override"
// @Success 200 {object} response.Envelope
// @Router /issue-requests/{id}/approve [post]
func (h *RequestHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ApproveRequestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approve payload"))
			return
		}
	}
	request, err := h.service.Approve(c.Request.Context(), c.Param("id"), claims.UserID, req.DueDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Reject godoc
// @Summary Reject a pending issue request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Issue request ID"
// @Param payload body dto.RejectRequestRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /issue-requests/{id}/reject [post]
func (h *RequestHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RejectRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reject payload"))
		return
	}
	request, err := h.service.Reject(c.Request.Context(), c.Param("id"), claims.UserID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// BulkApprove godoc
// @Summary Approve a batch of issue requests in order
// @Description Best-effort per item. The response lists approved IDs and per-item failures; a failure never aborts the batch.
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.BulkApproveRequest true "Bulk approve payload"
// @Success 200 {object} response.Envelope
// @Router /issue-requests/bulk-approve [post]
func (h *RequestHandler) BulkApprove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.BulkApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk approve payload"))
		return
	}
	result, err := h.service.BulkApprove(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
