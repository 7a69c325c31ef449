package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/planforge/planforge-backend/internal/apierr"
	"github.com/planforge/planforge-backend/internal/services"
)

type SessionHandler struct {
	sessionService services.SessionService
}

func NewSessionHandler(sessionService services.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func (sh *SessionHandler) Create(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
		Hours int    `json:"hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	session, err := sh.sessionService.Create(c.Request.Context(), req.Query, req.Hours)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, session)
}

func (sh *SessionHandler) List(c *gin.Context) {
	sessions, err := sh.sessionService.List(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, sessions)
}

func (sh *SessionHandler) Get(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.Validation("invalid session id"))
		return
	}
	session, err := sh.sessionService.Get(c.Request.Context(), sessionID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, session)
}

func (sh *SessionHandler) Deactivate(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.Validation("invalid session id"))
		return
	}
	if err := sh.sessionService.Deactivate(c.Request.Context(), sessionID); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendMessage streams the assistant reply as server-sent events, one
// "data:" frame per delta. Embedded newlines are escaped so a delta never
// splits across frames; the client restores them.
func (sh *SessionHandler) SendMessage(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.Validation("invalid session id"))
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}

	streaming := false
	onDelta := func(delta string) {
		if !streaming {
			c.Writer.Header().Set("Content-Type", "text/event-stream")
			c.Writer.Header().Set("Cache-Control", "no-cache")
			c.Writer.Header().Set("Connection", "keep-alive")
			c.Writer.WriteHeader(http.StatusOK)
			streaming = true
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", strings.ReplaceAll(delta, "\n", "\\n"))
		c.Writer.Flush()
	}

	err = sh.sessionService.SendMessage(c.Request.Context(), sessionID, req.Message, onDelta)
	if err != nil {
		// Headers already went out if anything streamed; the bare error
		// envelope only works before the first delta.
		if !streaming {
			RespondError(c, err)
		}
		return
	}
	if !streaming {
		// Model returned without producing a single delta.
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Status(http.StatusOK)
	}
}
