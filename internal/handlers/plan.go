package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/planforge/planforge-backend/internal/apierr"
	"github.com/planforge/planforge-backend/internal/services"
)

type PlanHandler struct {
	planService services.PlanService
}

func NewPlanHandler(planService services.PlanService) *PlanHandler {
	return &PlanHandler{planService: planService}
}

// Generate materializes the plan for a session, or returns the existing
// one. 201 means this request created it, 200 means it already existed.
func (ph *PlanHandler) Generate(c *gin.Context) {
	var req struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == uuid.Nil {
		RespondError(c, apierr.Validation("the session_id value is required but was not provided"))
		return
	}
	detail, createdNew, err := ph.planService.Generate(c.Request.Context(), req.SessionID)
	if err != nil {
		RespondError(c, err)
		return
	}
	if createdNew {
		RespondCreated(c, detail)
		return
	}
	RespondOK(c, detail)
}

func (ph *PlanHandler) List(c *gin.Context) {
	plans, err := ph.planService.List(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, plans)
}

func (ph *PlanHandler) Get(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.Validation("invalid plan id"))
		return
	}
	detail, err := ph.planService.Get(c.Request.Context(), planID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, detail)
}
