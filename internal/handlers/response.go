package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/planforge/planforge-backend/internal/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError maps any error onto the envelope. Non-apierr values come
// out as a generic 500 so internals never leak to clients.
func RespondError(c *gin.Context, err error) {
	e := apierr.From(err)
	msg := e.Error()
	if e.Status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.JSON(e.Status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    e.Code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
