package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-circulation-api/internal/service"
	"github.com/noah-isme/lms-circulation-api/pkg/response"
)

type reportGenerator interface {
	OverdueCSV(ctx context.Context) ([]byte, string, error)
	PendingPenaltiesCSV(ctx context.Context) ([]byte, string, error)
	PenaltyStatementPDF(ctx context.Context, recordID string) ([]byte, string, error)
}

// ReportHandler exposes CSV and PDF export endpoints.
type ReportHandler struct {
	service reportGenerator
}

// NewReportHandler constructs the handler.
func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// OverdueCSV godoc
// @Summary Export all overdue open loans as CSV
// @Tags Reports
// @Produce text/csv
// @Success 200 {file} binary
// @Router /reports/overdue.csv [get]
func (h *ReportHandler) OverdueCSV(c *gin.Context) {
	data, filename, err := h.service.OverdueCSV(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	serveAttachment(c, data, filename, "text/csv")
}

// PendingPenaltiesCSV godoc
// @Summary Export all loans with pending penalties as CSV
// @Tags Reports
// @Produce text/csv
// @Success 200 {file} binary
// @Router /reports/pending-penalties.csv [get]
func (h *ReportHandler) PendingPenaltiesCSV(c *gin.Context) {
	data, filename, err := h.service.PendingPenaltiesCSV(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	serveAttachment(c, data, filename, "text/csv")
}

// PenaltyStatementPDF godoc
// @Summary Download a penalty statement for a borrow record
// @Tags Reports
// @Produce application/pdf
// @Param id path string true "Borrow record ID"
// @Success 200 {file} binary
// @Router /borrow-records/{id}/statement.pdf [get]
func (h *ReportHandler) PenaltyStatementPDF(c *gin.Context) {
	data, filename, err := h.service.PenaltyStatementPDF(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	serveAttachment(c, data, filename, "application/pdf")
}

func serveAttachment(c *gin.Context, data []byte, filename, mimeType string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mimeType, data)
}
