package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/iris-ckd-mcp-server/internal/audit"
	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/middleware"
)

const (
	outcomeHeader   = "X-Consultation-Outcome"
	defaultPageSize = 50
	maxPageSize     = 500
)

// handleConsultation stages one submitted clinical form.
func (s *Server) handleConsultation(c *gin.Context) {
	var req domain.ConsultationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Malformed request body", err)
		return
	}

	resp, err := s.deps.Service.Consult(c.Request.Context(), req)
	if err != nil {
		var fields domain.ValidationErrors
		if errors.As(err, &fields) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  domain.NewServiceError(domain.ErrCodeInvalidInput, "Invalid consultation input", err.Error(), requestID(c)),
				"fields": fields,
			})
			return
		}
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Consultation failed", err)
		return
	}

	if code := domain.ErrorCode(resp.Result.Outcome()); code != "" {
		c.Header(outcomeHeader, code)
	}
	if c.Query("format") == "text" {
		c.String(http.StatusOK, resp.Text)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleAuditList pages through the audit journal, newest first.
func (s *Server) handleAuditList(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > maxPageSize {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			fmt.Sprintf("limit must be between 1 and %d", maxPageSize), err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil || offset < 0 {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "offset must be non-negative", err)
		return
	}

	ctx := c.Request.Context()
	records, err := s.deps.Audit.List(ctx, limit, offset)
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeDatabase, "Failed to list audit records", err)
		return
	}
	total, err := s.deps.Audit.Count(ctx)
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeDatabase, "Failed to count audit records", err)
		return
	}
	if records == nil {
		records = []*domain.AuditRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) handleAuditStats(c *gin.Context) {
	stats, err := s.deps.Audit.Stats(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeDatabase, "Failed to aggregate audit records", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleAuditSimilar finds past cases with comparable creatinine and SDMA.
func (s *Server) handleAuditSimilar(c *gin.Context) {
	creatinine, err := floatQuery(c, "creatinine")
	if err != nil || creatinine == nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "creatinine is required", err)
		return
	}
	sdma, err := floatQuery(c, "sdma")
	if err != nil || sdma == nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "sdma is required", err)
		return
	}

	tolerance := audit.DefaultSimilarityTolerance
	if t, err := floatQuery(c, "tolerance"); err != nil || (t != nil && *t < 0) {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "tolerance must be a non-negative number", err)
		return
	} else if t != nil {
		tolerance = *t
	}

	limit, err := intQuery(c, "limit", 10)
	if err != nil || limit <= 0 || limit > maxPageSize {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			fmt.Sprintf("limit must be between 1 and %d", maxPageSize), err)
		return
	}

	records, err := s.deps.Audit.Similar(c.Request.Context(), *creatinine, *sdma, tolerance, limit)
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeDatabase, "Failed to query similar cases", err)
		return
	}
	if records == nil {
		records = []*domain.AuditRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"records":   records,
		"tolerance": tolerance,
	})
}

// handleAuditExport streams the whole journal as JSON or CSV.
func (s *Server) handleAuditExport(c *gin.Context) {
	ctx := c.Request.Context()
	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", `attachment; filename="audit.json"`)
		if err := s.deps.Audit.ExportJSON(ctx, c.Writer); err != nil {
			_ = c.Error(err)
		}
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="audit.csv"`)
		if err := s.deps.Audit.ExportCSV(ctx, c.Writer); err != nil {
			_ = c.Error(err)
		}
	default:
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported export format %q", format), nil)
	}
}

func (s *Server) abortWithError(c *gin.Context, status int, code, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": domain.NewServiceError(code, message, details, requestID(c)),
	})
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.CorrelationIDKey)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// floatQuery accepts the same decimal formats as the consultation form.
func floatQuery(c *gin.Context, key string) (*float64, error) {
	f, err := domain.LabValue(c.Query(key)).Float()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
