// Package httpapi is the thin submit/status HTTP transport (spec.md §6),
// grounded on the teacher's internal/http package: gin router +
// gin-contrib/cors + a uniform error envelope.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rob634/rmhgeoapi-sub015/internal/platform/apierr"
)

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
		JobID   string `json:"job_id,omitempty"`
	} `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	respondJobError(c, status, code, err, "")
}

// respondJobError is respondError plus a job_id the caller already has in
// scope, so a client polling job status after a submit/status error doesn't
// have to re-derive which job the error was about.
func respondJobError(c *gin.Context, status int, code string, err error, jobID string) {
	apiErr := apierr.New(status, code, err).WithJobID(jobID)
	env := errorEnvelope{}
	env.Error.Message = apiErr.Error()
	env.Error.Code = apiErr.Code
	env.Error.JobID = apiErr.JobID
	c.JSON(status, env)
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
