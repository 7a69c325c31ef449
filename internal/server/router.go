package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/planforge/planforge-backend/internal/handlers"
	"github.com/planforge/planforge-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware  *middleware.AuthMiddleware
	SessionHandler  *handlers.SessionHandler
	PlanHandler     *handlers.PlanHandler
	SubtopicHandler *handlers.SubtopicHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	// Sessions
	api.POST("/sessions", cfg.SessionHandler.Create)
	api.GET("/sessions", cfg.SessionHandler.List)
	api.GET("/sessions/:id", cfg.SessionHandler.Get)
	api.DELETE("/sessions/:id", cfg.SessionHandler.Deactivate)
	api.POST("/sessions/:id/messages", cfg.SessionHandler.SendMessage)
	// Plans
	api.POST("/plans/generate", cfg.PlanHandler.Generate)
	api.GET("/plans", cfg.PlanHandler.List)
	api.GET("/plans/:id", cfg.PlanHandler.Get)
	// Subtopics
	api.GET("/subtopics/:id", cfg.SubtopicHandler.Get)
	api.POST("/subtopics/:id/content", cfg.SubtopicHandler.GenerateContent)
	api.POST("/subtopics/:id/questions", cfg.SubtopicHandler.GenerateQuestions)
	api.POST("/subtopics/:id/answers", cfg.SubtopicHandler.SubmitAnswers)

	return router
}
