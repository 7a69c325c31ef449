package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/planforge/planforge-backend/internal/apierr"
	"github.com/planforge/planforge-backend/internal/services"
)

type SubtopicHandler struct {
	subtopicService services.SubtopicService
}

func NewSubtopicHandler(subtopicService services.SubtopicService) *SubtopicHandler {
	return &SubtopicHandler{subtopicService: subtopicService}
}

func subtopicID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, apierr.Validation("invalid subtopic id"))
		return uuid.Nil, false
	}
	return id, true
}

func (sh *SubtopicHandler) Get(c *gin.Context) {
	id, ok := subtopicID(c)
	if !ok {
		return
	}
	detail, err := sh.subtopicService.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, detail)
}

func (sh *SubtopicHandler) GenerateContent(c *gin.Context) {
	id, ok := subtopicID(c)
	if !ok {
		return
	}
	content, createdNew, err := sh.subtopicService.GenerateContent(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	payload := gin.H{"content": content}
	if createdNew {
		RespondCreated(c, payload)
		return
	}
	RespondOK(c, payload)
}

func (sh *SubtopicHandler) GenerateQuestions(c *gin.Context) {
	id, ok := subtopicID(c)
	if !ok {
		return
	}
	questions, err := sh.subtopicService.GenerateQuestions(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{"questions": questions})
}

func (sh *SubtopicHandler) SubmitAnswers(c *gin.Context) {
	id, ok := subtopicID(c)
	if !ok {
		return
	}
	var req struct {
		Answers []services.AnswerSubmission `json:"answers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	results, err := sh.subtopicService.SubmitAnswers(c.Request.Context(), id, req.Answers)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"results": results})
}
