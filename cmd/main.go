package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/planforge/planforge-backend/internal/db"
	"github.com/planforge/planforge-backend/internal/handlers"
	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/middleware"
	"github.com/planforge/planforge-backend/internal/repos"
	"github.com/planforge/planforge-backend/internal/server"
	"github.com/planforge/planforge-backend/internal/services"
	"github.com/planforge/planforge-backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	sessionRepo := repos.NewSessionRepo(thePG, log)
	sourceRepo := repos.NewSourceRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)
	planRepo := repos.NewPlanRepo(thePG, log)
	planItemRepo := repos.NewPlanItemRepo(thePG, log)
	subtopicRepo := repos.NewSubtopicRepo(thePG, log)
	questionRepo := repos.NewQuestionRepo(thePG, log)
	userAnswerRepo := repos.NewUserAnswerRepo(thePG, log)
	callLogRepo := repos.NewCompletionLogRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	completionClient, err := services.NewCompletionClient(log)
	if err != nil {
		log.Error("Could not init CompletionClient", "error", err)
		os.Exit(1)
	}
	researchService, err := services.NewResearchService(log)
	if err != nil {
		log.Error("Could not init ResearchService", "error", err)
		os.Exit(1)
	}
	var generationLock services.GenerationLock
	generationLock, err = services.NewRedisGenerationLock(log)
	if err != nil {
		log.Warn("Redis unavailable, plan generation runs without a distributed lock", "error", err)
		generationLock = services.NoopGenerationLock{}
	}
	sessionService := services.NewSessionService(thePG, log, sessionRepo, sourceRepo, messageRepo, callLogRepo, researchService, completionClient)
	planService := services.NewPlanService(thePG, log, sessionRepo, messageRepo, sourceRepo, planRepo, planItemRepo, subtopicRepo, callLogRepo, completionClient, generationLock)
	subtopicService := services.NewSubtopicService(thePG, log, subtopicRepo, questionRepo, userAnswerRepo, messageRepo, callLogRepo, completionClient)

	// Handlers
	log.Info("Setting up Handlers from main...")
	sessionHandler := handlers.NewSessionHandler(sessionService)
	planHandler := handlers.NewPlanHandler(planService)
	subtopicHandler := handlers.NewSubtopicHandler(subtopicService)
	authMiddleware := middleware.NewAuthMiddleware(log)

	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:  authMiddleware,
		SessionHandler:  sessionHandler,
		PlanHandler:     planHandler,
		SubtopicHandler: subtopicHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
