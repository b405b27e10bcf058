package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/submission"
)

// JobHandler implements the submit/status surface of spec.md §6.
type JobHandler struct {
	submission *submission.Service
}

func NewJobHandler(s *submission.Service) *JobHandler {
	return &JobHandler{submission: s}
}

type submitRequest struct {
	JobType    string         `json:"job_type" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

// POST /jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_failed", err)
		return
	}

	result, err := h.submission.Submit(c.Request.Context(), req.JobType, domain.Params(req.Parameters))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownJobType):
			respondError(c, http.StatusBadRequest, "unknown_job_type", err)
		case errors.Is(err, domain.ErrValidationFailed):
			respondError(c, http.StatusBadRequest, "validation_failed", err)
		default:
			respondError(c, http.StatusInternalServerError, "internal", err)
		}
		return
	}

	respondOK(c, gin.H{
		"job_id":      result.JobID,
		"status":      result.Status,
		"idempotent":  result.Idempotent,
		"result_data": result.ResultData,
	})
}

// GET /jobs/:id
func (h *JobHandler) Status(c *gin.Context) {
	jobID := c.Param("id")
	job, err := h.submission.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondJobError(c, http.StatusNotFound, "job_not_found", err, jobID)
			return
		}
		respondJobError(c, http.StatusInternalServerError, "internal", err, jobID)
		return
	}
	respondOK(c, gin.H{"job": job})
}
