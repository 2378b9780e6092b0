package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/report"
	"github.com/stemsi/exstem-assess/internal/response"
)

// ReportHandler decodes report transport tokens for the result view.
type ReportHandler struct {
	log zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(log zerolog.Logger) *ReportHandler {
	return &ReportHandler{log: log.With().Str("component", "report_handler").Logger()}
}

// GetReport godoc
// GET /api/v1/report?r=<token>
// Accepts the token as produced at submit time, or mangled by a redirect
// that escaped or unescaped it once more.
func (h *ReportHandler) GetReport(c *gin.Context) {
	token := c.Query(report.QueryParam)
	if token == "" {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			report.QueryParam: "report token is required",
		})
		return
	}

	final, err := report.Decode(token)
	if err != nil {
		h.log.Debug().Err(err).Int("token_len", len(token)).Msg("Report token rejected")
		response.Fail(c, http.StatusBadRequest, response.ErrReportUndecodable)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"report": final})
}
