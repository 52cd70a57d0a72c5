package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shelfsight/shelfsight-backend/internal/types"
)

type APIError struct {
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError translates the orchestrator failure shape into an HTTP
// status: validation 400, not-found 404, retake 422, recoverable 503,
// anything else 500.
func RespondError(c *gin.Context, err error) {
	var oe *types.OrchestratorError
	if !errors.As(err, &oe) {
		c.JSON(http.StatusInternalServerError, ErrorEnvelope{
			Error: APIError{Message: err.Error()},
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case oe.Code == types.CodeValidation:
		status = http.StatusBadRequest
	case oe.Code == types.CodeNotFound || oe.Code == types.CodeNoProductsFound:
		status = http.StatusNotFound
	case oe.Code == types.CodeRetakeSuggested:
		status = http.StatusUnprocessableEntity
	case oe.Recoverable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message:     oe.Message,
			Code:        oe.Code,
			Recoverable: oe.Recoverable,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
