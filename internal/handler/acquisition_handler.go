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

type acquisitionManager interface {
	Create(ctx context.Context, studentID string, req dto.CreateAcquisitionRequestRequest) (*models.AcquisitionRequest, error)
	List(ctx context.Context, filter models.AcquisitionRequestFilter) ([]models.AcquisitionRequest, models.Pagination, error)
	Review(ctx context.Context, requestID, librarianID string, req dto.ReviewAcquisitionRequestRequest) (*models.AcquisitionRequest, error)
}

// AcquisitionHandler exposes new-title acquisition request endpoints.
type AcquisitionHandler struct {
	service acquisitionManager
}

// NewAcquisitionHandler constructs the handler.
func NewAcquisitionHandler(svc *service.AcquisitionService) *AcquisitionHandler {
	return &AcquisitionHandler{service: svc}
}

// Create godoc
// @Summary Ask the library to stock a new title
// @Tags Acquisitions
// @Accept json
// @Produce json
// @Param payload body dto.CreateAcquisitionRequestRequest true "Acquisition payload"
// @Success 201 {object} response.Envelope
// @Router /acquisition-requests [post]
func (h *AcquisitionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateAcquisitionRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid acquisition payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List acquisition requests
// @Description Students only see their own requests.
// @Tags Acquisitions
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /acquisition-requests [get]
func (h *AcquisitionHandler) List(c *gin.Context) {
	filter := models.AcquisitionRequestFilter{
		StudentID: c.Query("student_id"),
		Status:    models.RequestStatus(c.Query("status")),
	}
	filter.Page, _ = parsePositiveInt(c.Query("page"))
	filter.PageSize, _ = parsePositiveInt(c.Query("page_size"))
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}
	requests, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, &pagination)
}

// Review godoc
// @Summary Approve or reject an acquisition request
// @Tags Acquisitions
// @Accept json
// @Produce json
// @Param id path string true "Acquisition request ID"
// @Param payload body dto.ReviewAcquisitionRequestRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Router /acquisition-requests/{id}/review [post]
func (h *AcquisitionHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewAcquisitionRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	request, err := h.service.Review(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
